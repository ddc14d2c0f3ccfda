package flow

import "fmt"

// InvalidEncodingError reports malformed JSON, incompatible field
// combinations, or an unparseable port reference.
type InvalidEncodingError struct {
	Detail string
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid encoding: %s", e.Detail)
}

// UnknownStepKindError reports a step JSON object lacking a recognized
// discriminator field.
type UnknownStepKindError struct {
	StepID string
}

func (e *UnknownStepKindError) Error() string {
	return fmt.Sprintf("step %q: unknown step kind", e.StepID)
}

// UnknownNodeError reports a source reference naming a node that does not
// exist in the workflow tree.
type UnknownNodeError struct {
	NodeID string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("unknown node %q", e.NodeID)
}

// UnknownPortError reports a source reference naming a port that does not
// exist on an otherwise-resolved node.
type UnknownPortError struct {
	NodeID string
	Port   string
}

func (e *UnknownPortError) Error() string {
	return fmt.Sprintf("unknown port %q on node %q", e.Port, e.NodeID)
}

// UnknownPortInScopeError reports a dotted (".PORT") reference that could
// not be found on the current node or any of its ancestors.
type UnknownPortInScopeError struct {
	Port string
}

func (e *UnknownPortInScopeError) Error() string {
	return fmt.Sprintf("port %q not found in scope", e.Port)
}

// AmbiguousNodeError reports a bare node reference ("NODE") where the node
// has zero or more than one output port.
type AmbiguousNodeError struct {
	NodeID string
}

func (e *AmbiguousNodeError) Error() string {
	return fmt.Sprintf("node %q does not have exactly one output port", e.NodeID)
}

// DuplicateStepIdError reports AddStep called without allowing replacement
// for an id that already exists.
type DuplicateStepIdError struct {
	StepID string
}

func (e *DuplicateStepIdError) Error() string {
	return fmt.Sprintf("duplicate step id %q", e.StepID)
}

// MissingInputError reports a required input with no value after defaults.
type MissingInputError struct {
	StepID string
	Port   string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %q: missing required input %q", e.StepID, e.Port)
}

// TypeMismatchError reports a value whose Go type does not match the
// port's declared data_type.
type TypeMismatchError struct {
	StepID   string
	Port     string
	Want     string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("step %q: input %q: want type %s, got %s", e.StepID, e.Port, e.Want, e.Got)
}

// ValueNotInSetError reports a value outside its port's declared value_set.
type ValueNotInSetError struct {
	StepID string
	Port   string
	Value  any
}

func (e *ValueNotInSetError) Error() string {
	return fmt.Sprintf("step %q: input %q: value %v not in allowed set", e.StepID, e.Port, e.Value)
}

// ValueOutOfRangeError reports a value outside its port's declared value_range.
type ValueOutOfRangeError struct {
	StepID string
	Port   string
	Value  any
}

func (e *ValueOutOfRangeError) Error() string {
	return fmt.Sprintf("step %q: input %q: value %v out of range", e.StepID, e.Port, e.Value)
}

// SelfBindingError reports a port bound to itself.
type SelfBindingError struct {
	NodeID string
	Port   string
}

func (e *SelfBindingError) Error() string {
	return fmt.Sprintf("port %q on node %q cannot be bound to itself", e.Port, e.NodeID)
}

// SubprocessFailedError reports a non-zero exit or launch failure from a
// SubProcessStep.
type SubprocessFailedError struct {
	StepID   string
	ExitCode int
	Detail   string
}

func (e *SubprocessFailedError) Error() string {
	return fmt.Sprintf("step %q: subprocess failed (exit %d): %s", e.StepID, e.ExitCode, e.Detail)
}

// CanceledError reports monitor cancellation.
type CanceledError struct {
	StepID string
}

func (e *CanceledError) Error() string {
	if e.StepID == "" {
		return "canceled"
	}
	return fmt.Sprintf("step %q: canceled", e.StepID)
}

// Is reports any *CanceledError as matching any other, so callers can
// errors.Is against the ErrCanceled sentinel regardless of which step was
// interrupted.
func (e *CanceledError) Is(target error) bool {
	_, ok := target.(*CanceledError)
	return ok
}

// ErrCanceled is a sentinel usable with errors.Is for cancellation.
var ErrCanceled = &CanceledError{}

// OperationFailedError wraps any error raised by a user operation body,
// adding the offending step id.
type OperationFailedError struct {
	StepID string
	Err    error
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("step %q: operation failed: %v", e.StepID, e.Err)
}

func (e *OperationFailedError) Unwrap() error { return e.Err }
