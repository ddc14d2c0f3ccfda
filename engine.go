package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExecObserver receives execution events: one WorkflowDone per top-level
// call, one StepDone per step invocation, and one CacheAccess per value
// cache consultation by a cacheable step. The observe package provides an
// OTel-backed implementation; a nil observer costs nothing.
type ExecObserver interface {
	WorkflowDone(ctx context.Context, qualifiedName, id string, d time.Duration, err error)
	StepDone(ctx context.Context, stepID, kind string, d time.Duration, err error)
	CacheAccess(ctx context.Context, key string, hit bool)
}

// Engine builds execution contexts and drives workflow invocation. It
// threads a Registry and a Logger through every call; both are set once
// at construction.
type Engine struct {
	Registry *Registry
	Logger   *slog.Logger
	Store    Store
	Observer ExecObserver
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRegistry sets the operation registry an Engine resolves OpStep
// targets against. Defaults to DefaultRegistry().
func WithRegistry(r *Registry) EngineOption {
	return func(e *Engine) { e.Registry = r }
}

// WithLogger sets the engine's structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.Logger = l }
}

// WithStore sets the durable store used to resolve workflow locators and
// persist cache snapshots. Without one, only "file://" locators resolve.
func WithStore(s Store) EngineOption {
	return func(e *Engine) { e.Store = s }
}

// WithObserver sets the execution observer notified of workflow, step,
// and cache events.
func WithObserver(o ExecObserver) EngineOption {
	return func(e *Engine) { e.Observer = o }
}

// NewEngine returns a configured Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{Registry: DefaultRegistry(), Logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute invokes w with inputValues, applying defaults and validation per
// the workflow's declared input metadata, and returns the workflow's
// output map. A nil monitor defaults to NoopMonitor.
func (e *Engine) Execute(ctx context.Context, w *Workflow, inputValues map[string]any, monitor Monitor) (map[string]any, error) {
	cache := NewValueCache(e.Logger)
	ec := newExecContext(ctx, monitor, cache, e.Logger)
	ec.registry = e.Registry
	ec.observer = e.Observer
	start := time.Now()
	out, err := w.call(ec, inputValues)
	if e.Observer != nil {
		e.Observer.WorkflowDone(ec.Ctx, w.QualifiedName, w.id, time.Since(start), err)
	}
	return out, err
}

// ExecuteStep invokes only the minimal predecessor-closure required to
// produce stepID's output, returning that step's output values.
func (e *Engine) ExecuteStep(ctx context.Context, w *Workflow, stepID string, inputValues map[string]any, monitor Monitor) (map[string]any, error) {
	cache := NewValueCache(e.Logger)
	ec := newExecContext(ctx, monitor, cache, e.Logger)
	ec.registry = e.Registry
	ec.observer = e.Observer

	if err := w.bindInputs(inputValues); err != nil {
		return nil, err
	}
	if err := w.UpdateSources(); err != nil {
		return nil, err
	}
	steps, err := w.StepsToCompute(stepID)
	if err != nil {
		return nil, err
	}
	if err := w.invokeOrdered(ec, steps); err != nil {
		return nil, err
	}
	step, _ := w.FindStep(stepID)
	out := map[string]any{}
	for _, p := range step.Outputs() {
		if v, ok := p.Value(); ok {
			out[p.name] = v
		}
	}
	return out, nil
}

// Loader returns the locator resolver backed by the engine's store and
// registry, for deserializing workflows that contain WorkflowSteps.
func (e *Engine) Loader(ctx context.Context) LoaderFunc {
	return NewLoader(ctx, e.Store, e.Registry)
}

// LoadWorkflow resolves a locator ("file://..." or a store key) to a
// built workflow.
func (e *Engine) LoadWorkflow(ctx context.Context, locator string) (*Workflow, error) {
	return e.Loader(ctx)(locator)
}

// SaveWorkflow persists w's definition under key in the engine's store.
func (e *Engine) SaveWorkflow(ctx context.Context, key string, w *Workflow) error {
	if e.Store == nil {
		return fmt.Errorf("flow: engine has no store")
	}
	return e.Store.SaveWorkflow(ctx, key, w.Definition())
}

// ExecutePersistent runs w like Execute but restores the workflow's cache
// snapshot from the store first and saves it back afterwards, so steps
// marked persistent skip recomputation across runs.
func (e *Engine) ExecutePersistent(ctx context.Context, key string, w *Workflow, inputValues map[string]any, monitor Monitor) (map[string]any, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("flow: engine has no store")
	}
	cache := NewValueCache(e.Logger)
	if snap, err := e.Store.LoadCacheSnapshot(ctx, key); err == nil && snap != nil {
		cache.Restore(snap)
	}
	ec := newExecContext(ctx, monitor, cache, e.Logger)
	ec.registry = e.Registry
	ec.observer = e.Observer
	start := time.Now()
	out, err := w.call(ec, inputValues)
	if e.Observer != nil {
		e.Observer.WorkflowDone(ec.Ctx, w.QualifiedName, w.id, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if err := e.Store.SaveCacheSnapshot(ctx, key, cache.Snapshot()); err != nil {
		e.Logger.Warn("cache snapshot save failed", "workflow", key, "error", err)
	}
	return out, nil
}

// ExecContext carries the registry so OpStep.invoke can resolve its
// target without a global lookup.
