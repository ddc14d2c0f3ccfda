package flow

import (
	"context"
	"log/slog"
)

// ExecContext is the execution context threaded explicitly through
// invocation calls: the monitor, the value cache, a back-reference to the
// currently executing step, and a plain context.Context for cancellation
// signals and deadlines reaching into blocking operation bodies. Nested
// contexts are created by copy-on-descend with the step/cache fields
// overridden.
type ExecContext struct {
	Ctx     context.Context
	Monitor Monitor
	Cache   *ValueCache
	Step    Step
	Logger  *slog.Logger

	registry *Registry
	observer ExecObserver

	// values carries the context-derived input scope: the set of values
	// an expression can reference when an input's "context" property is
	// an expression string rather than the literal sentinel true.
	values map[string]any
}

// newExecContext builds the root execution context for a workflow call.
func newExecContext(ctx context.Context, monitor Monitor, cache *ValueCache, logger *slog.Logger) *ExecContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if monitor == nil {
		monitor = NoopMonitor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecContext{Ctx: ctx, Monitor: monitor, Cache: cache, Logger: logger}
}

// PutValue adds an entry to the context-derived input scope. Operations
// use it to publish values that later steps' "context" expressions can
// reference.
func (ec *ExecContext) PutValue(key string, v any) {
	if ec.values == nil {
		ec.values = map[string]any{}
	}
	ec.values[key] = v
}

// scope builds the variable scope a context expression evaluates against:
// every published context value plus the identifiers of the executing
// step and its workflow.
func (ec *ExecContext) scope() map[string]any {
	vars := make(map[string]any, len(ec.values)+2)
	for k, v := range ec.values {
		vars[k] = v
	}
	if ec.Step != nil {
		vars["step_id"] = ec.Step.ID()
		if p := ec.Step.Parent(); p != nil {
			vars["workflow_id"] = p.ID()
		}
	}
	return vars
}

// descend returns a copy of ec with Step and optionally Cache overridden.
func (ec *ExecContext) descend(step Step, cache *ValueCache) *ExecContext {
	if ec.values == nil {
		// Allocate the scope before copying so that every descendant shares
		// it and a value published by one step is visible to later steps.
		ec.values = map[string]any{}
	}
	child := *ec
	child.Step = step
	if cache != nil {
		child.Cache = cache
	}
	return &child
}
