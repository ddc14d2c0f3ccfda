package flow

import "github.com/google/uuid"

// NewNodeID generates a time-sortable id for a step that was not given an
// explicit one. The engine's real execution-order tie-break is recorded
// insertion order; UUIDv7 only adds a secondary, incidental
// time-ordering property to the ids themselves.
func NewNodeID() string {
	return uuid.Must(uuid.NewV7()).String()
}
