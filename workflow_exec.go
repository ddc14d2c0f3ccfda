package flow

import "time"

// workflowMeta synthesizes an OpMetaInfo view of the workflow's own
// boundary ports, reusing the shared validateInputs logic.
func (w *Workflow) workflowMeta() OpMetaInfo {
	inputs := make([]PropertySet, len(w.inputs))
	for i, p := range w.inputs {
		inputs[i] = p.meta
	}
	outputs := make([]PropertySet, len(w.outputs))
	for i, p := range w.outputs {
		outputs[i] = p.meta
	}
	return OpMetaInfo{QualifiedName: w.QualifiedName, Header: w.Header, Inputs: inputs, Outputs: outputs}
}

// bindInputs applies defaults/validation to inputValues per the
// workflow's declared input metadata and writes each resulting value into
// the corresponding boundary input port.
func (w *Workflow) bindInputs(inputValues map[string]any) error {
	meta := w.workflowMeta()
	completed, err := meta.validateInputs(w.id, inputValues)
	if err != nil {
		return err
	}
	for _, p := range w.inputs {
		if v, ok := completed[p.name]; ok {
			p.SetValue(v)
		}
	}
	return nil
}

// call is the workflow-level entry point: binds
// inputs, resolves sources, invokes steps in order, and returns the named
// output map (or {"return": v} style single value when the workflow has
// exactly one unnamed output).
func (w *Workflow) call(ec *ExecContext, inputValues map[string]any) (map[string]any, error) {
	if err := w.bindInputs(inputValues); err != nil {
		return nil, err
	}
	if err := w.UpdateSources(); err != nil {
		return nil, err
	}
	stepCtx := ec.descend(workflowSelf{w}, ec.Cache)
	if err := w.invokeSteps(stepCtx); err != nil {
		return nil, err
	}
	out := map[string]any{}
	for _, p := range w.outputs {
		if v, ok := p.Value(); ok {
			out[p.name] = v
		}
	}
	return out, nil
}

// invokeAsOp adapts call to the Callable signature so a workflow may be
// registered back into an OpRegistry.
func (w *Workflow) invokeAsOp(ec *ExecContext, values map[string]any) (map[string]any, error) {
	return w.call(ec, values)
}

// invokeSteps runs every step in execution order, sequentially, checking
// for cancellation before each. Already-produced outputs
// remain in the cache even if a later step is canceled or fails.
func (w *Workflow) invokeSteps(ec *ExecContext) error {
	return w.invokeOrdered(ec, w.SortedSteps())
}

func (w *Workflow) invokeOrdered(ec *ExecContext, steps []Step) error {
	for _, s := range steps {
		if ec.Monitor.IsCanceled() {
			err := &CanceledError{StepID: s.ID()}
			if ec.observer != nil {
				ec.observer.StepDone(ec.Ctx, s.ID(), s.Kind(), 0, err)
			}
			return err
		}
		stepCtx := ec.descend(s, ec.Cache)
		ec.Logger.Debug("step started", "step", s.ID(), "kind", s.Kind())
		start := time.Now()
		err := s.invoke(stepCtx)
		if ec.observer != nil {
			ec.observer.StepDone(ec.Ctx, s.ID(), s.Kind(), time.Since(start), err)
		}
		if err != nil {
			ec.Logger.Warn("step failed", "step", s.ID(), "error", err)
			return err
		}
		ec.Logger.Debug("step completed", "step", s.ID())
	}
	return nil
}
