package flow

import "github.com/nevindra/flowgraph/expr"

// OpStep references a registered operation by qualified name.
type OpStep struct {
	baseNode
	OpName string
	meta   OpMetaInfo
	reg    *Registry
}

// NewOpStep constructs an OpStep bound to opName, looked up in reg at
// construction time to derive its ports from the operation's declared
// metadata.
func NewOpStep(id, opName string, reg *Registry, persistent bool) (*OpStep, error) {
	meta, _, err := reg.Get(opName, true)
	if err != nil {
		return nil, err
	}
	s := &OpStep{baseNode: baseNode{id: id, persistent: persistent}, OpName: opName, meta: meta, reg: reg}
	s.inputs = s.buildPorts(s, meta.Inputs, false)
	s.outputs = s.buildPorts(s, meta.Outputs, true)
	return s, nil
}

func (s *OpStep) Kind() string { return "op" }

// invoke consults the value cache under the step's id before calling the
// operation: if a cached entry exists and the operation is cacheable, the
// cached outputs are used without invoking the callable.
func (s *OpStep) invoke(ctx *ExecContext) error {
	values, err := s.gatherInputs(ctx, s.meta)
	if err != nil {
		return err
	}

	// Persistent steps may skip recomputation given a restored cache
	// sidecar, so they participate in caching like can_cache operations.
	cacheable := s.meta.CanCache() || s.persistent
	if cacheable {
		cached, hit := ctx.Cache.Get(s.id)
		if ctx.observer != nil {
			ctx.observer.CacheAccess(ctx.Ctx, s.id, hit)
		}
		if hit {
			if out, ok := cached.(map[string]any); ok {
				s.writeOutputs(out)
				return nil
			}
		}
	}

	reg := ctx.registry
	if reg == nil {
		reg = s.reg
	}
	_, fn, err := reg.Get(s.OpName, true)
	if err != nil {
		return err
	}
	result, err := fn(ctx, values)
	if err != nil {
		return &OperationFailedError{StepID: s.id, Err: err}
	}

	if cacheable {
		ctx.Cache.Set(s.id, result)
	}
	s.writeOutputs(result)
	return nil
}

// gatherInputs reads each input port's current value, applies defaults,
// and validates per the operation's declared metadata.
func (s *OpStep) gatherInputs(ctx *ExecContext, meta OpMetaInfo) (map[string]any, error) {
	raw := map[string]any{}
	for _, p := range s.inputs {
		if v, ok := p.Value(); ok {
			raw[p.name] = v
		}
	}
	applyContextInputs(ctx, meta, raw)
	values, err := meta.validateInputs(s.id, raw)
	if err != nil {
		return nil, err
	}
	if meta.HasMonitor() {
		values[monitorInputName] = ctx.Monitor
	}
	return values, nil
}

// applyContextInputs fills context-derived inputs: a "context" property of
// true passes the whole execution context; an expression string is
// evaluated over the context scope, degrading to nil on failure so that
// contextual fields stay best-effort.
func applyContextInputs(ctx *ExecContext, meta OpMetaInfo, raw map[string]any) {
	for i := range meta.Inputs {
		prop := &meta.Inputs[i]
		switch cv := prop.Context.(type) {
		case bool:
			if cv {
				raw[prop.Name] = ctx
			}
		case string:
			if cv == "" {
				continue
			}
			v, err := expr.Eval(cv, ctx.scope())
			if err != nil {
				raw[prop.Name] = nil
				continue
			}
			raw[prop.Name] = v
		}
	}
}

// writeOutputs fills the step's output ports from a named-output result
// map, or writes the single ReturnOutput value when the operation is not
// named-output.
func (s *OpStep) writeOutputs(result map[string]any) {
	if s.meta.HasNamedOutputs() {
		for _, p := range s.outputs {
			if v, ok := result[p.name]; ok {
				p.SetValue(v)
			}
		}
		return
	}
	if len(s.outputs) == 0 {
		return
	}
	v, ok := result[ReturnOutput]
	if !ok && len(result) == 1 {
		for _, only := range result {
			v = only
			ok = true
		}
	}
	if ok {
		s.outputs[0].SetValue(v)
	}
}
