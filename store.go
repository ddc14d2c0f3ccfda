package flow

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Store abstracts durable persistence for workflow definitions and cache
// snapshots. Implementations live in store/sqlite and store/postgres; the
// caller owns the backing connection and calls Init once before use.
type Store interface {
	// --- Workflow definitions ---
	SaveWorkflow(ctx context.Context, key string, def WorkflowDefinition) error
	LoadWorkflow(ctx context.Context, key string) (WorkflowDefinition, error)
	ListWorkflows(ctx context.Context) ([]string, error)
	DeleteWorkflow(ctx context.Context, key string) error

	// --- Cache snapshots ---
	// A snapshot records the JSON-serializable portion of a value cache
	// keyed by workflow, letting persistent steps skip recomputation on a
	// later run.
	SaveCacheSnapshot(ctx context.Context, workflowKey string, snap CacheSnapshot) error
	LoadCacheSnapshot(ctx context.Context, workflowKey string) (CacheSnapshot, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// CacheSnapshot is the serializable view of a value cache: per-key value,
// stable id, and update counter. Values that do not survive JSON encoding
// (open resources, domain handles) are omitted by Snapshot.
type CacheSnapshot map[string]CacheSnapshotEntry

// CacheSnapshotEntry is one cache entry in a snapshot.
type CacheSnapshotEntry struct {
	Value       any           `json:"value"`
	ID          int64         `json:"id"`
	UpdateCount int64         `json:"update_count"`
	Child       CacheSnapshot `json:"child,omitempty"`
}

// fileLocatorPrefix marks a resource locator that bypasses the Store and
// reads a JSON file from disk directly.
const fileLocatorPrefix = "file://"

// NewLoader builds a LoaderFunc that resolves "file://" locators from
// disk and everything else through st. A nil st restricts locators to the
// file form.
func NewLoader(ctx context.Context, st Store, reg *Registry) LoaderFunc {
	var loader LoaderFunc
	loader = func(locator string) (*Workflow, error) {
		if path, ok := strings.CutPrefix(locator, fileLocatorPrefix); ok {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("flow: load workflow %q: %w", locator, err)
			}
			defer f.Close()
			return ReadWorkflow(f, reg, loader)
		}
		if st == nil {
			return nil, fmt.Errorf("flow: no store configured for workflow locator %q", locator)
		}
		def, err := st.LoadWorkflow(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("flow: load workflow %q: %w", locator, err)
		}
		return FromDefinition(def, reg, loader)
	}
	return loader
}
