package flow

// WorkflowStep references a sub-workflow loaded from a resource locator
//. On invoke its parent value-cache's child scope for
// this step's id (see ValueCache.Child) becomes the nested workflow's
// cache, giving it isolated memoization that cannot collide with
// identically-named outer steps.
type WorkflowStep struct {
	baseNode
	Locator string
	Inner   *Workflow
}

// NewWorkflowStep constructs a WorkflowStep wrapping inner. If
// inputProps/outputProps are nil, the step's own ports mirror inner's
// boundary ports by name, so the common case (full passthrough) needs no
// explicit port declaration.
func NewWorkflowStep(id, locator string, inner *Workflow, inputProps, outputProps []PropertySet, persistent bool) *WorkflowStep {
	if inputProps == nil {
		for _, p := range inner.inputs {
			inputProps = append(inputProps, p.meta)
		}
	}
	if outputProps == nil {
		for _, p := range inner.outputs {
			outputProps = append(outputProps, p.meta)
		}
	}
	s := &WorkflowStep{baseNode: baseNode{id: id, persistent: persistent}, Locator: locator, Inner: inner}
	s.inputs = s.buildPorts(s, inputProps, false)
	s.outputs = s.buildPorts(s, outputProps, true)
	return s
}

func (s *WorkflowStep) Kind() string { return "workflow" }

func (s *WorkflowStep) invoke(ctx *ExecContext) error {
	childCache := ctx.Cache.Child(s.id)
	innerCtx := &ExecContext{
		Ctx:      ctx.Ctx,
		Monitor:  ctx.Monitor.Child(1),
		Cache:    childCache,
		Step:     workflowSelf{s.Inner},
		Logger:   ctx.Logger,
		registry: ctx.registry,
		observer: ctx.observer,
	}

	values := map[string]any{}
	for _, p := range s.inputs {
		if v, ok := p.Value(); ok {
			values[p.name] = v
		}
	}

	out, err := s.Inner.call(innerCtx, values)
	if err != nil {
		return err
	}
	for _, p := range s.outputs {
		if v, ok := out[p.name]; ok {
			p.SetValue(v)
		}
	}
	return nil
}
