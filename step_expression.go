package flow

import "github.com/nevindra/flowgraph/expr"

// ExpressionStep evaluates a text expression in a sandbox whose variable
// scope is the step's current input values.
type ExpressionStep struct {
	baseNode
	Expression string
}

// NewExpressionStep constructs an ExpressionStep with the given declared
// inputs/outputs; its op meta-info is synthesized from them.
func NewExpressionStep(id, expression string, inputProps, outputProps []PropertySet, persistent bool) *ExpressionStep {
	s := &ExpressionStep{baseNode: baseNode{id: id, persistent: persistent}, Expression: expression}
	s.inputs = s.buildPorts(s, inputProps, false)
	if len(outputProps) == 0 {
		outputProps = []PropertySet{{Name: ReturnOutput}}
	}
	s.outputs = s.buildPorts(s, outputProps, true)
	return s
}

func (s *ExpressionStep) Kind() string { return "expression" }

func (s *ExpressionStep) invoke(ctx *ExecContext) error {
	vars := map[string]any{}
	for _, p := range s.inputs {
		if v, ok := p.Value(); ok {
			vars[p.name] = v
		}
	}
	result, err := expr.Eval(s.Expression, vars)
	if err != nil {
		return &OperationFailedError{StepID: s.id, Err: err}
	}
	if len(s.outputs) > 0 {
		s.outputs[0].SetValue(result)
	}
	return nil
}
