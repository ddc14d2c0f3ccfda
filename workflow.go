package flow

import (
	"fmt"
	"log/slog"
	"sort"
)

// Workflow is a composite node holding an ordered list of child steps
// plus a fast id-to-step lookup. It is itself targetable by source
// references (its own inputs/outputs participate in resolution), and may
// be invoked directly, wrapped by a WorkflowStep in an outer workflow, or
// registered back into a Registry via RegisterWorkflow.
type Workflow struct {
	id            string
	QualifiedName string
	Header        map[string]any

	inputs  []*Port
	outputs []*Port

	steps     []Step
	stepIndex map[string]int

	logger *slog.Logger
}

// NewWorkflow returns an empty workflow. inputProps/outputProps declare
// the workflow's own boundary ports. A nil logger defaults to slog.Default().
func NewWorkflow(id, qualifiedName string, inputProps, outputProps []PropertySet, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Workflow{
		id:            id,
		QualifiedName: qualifiedName,
		Header:        map[string]any{},
		stepIndex:     map[string]int{},
		logger:        logger,
	}
	for _, prop := range inputProps {
		w.inputs = append(w.inputs, newPort(workflowSelf{w}, false, prop))
	}
	for _, prop := range outputProps {
		w.outputs = append(w.outputs, newPort(workflowSelf{w}, true, prop))
	}
	return w
}

// workflowSelf adapts *Workflow to the Step interface's minimum surface so
// that a workflow's own boundary ports can name it as their owner without
// making Workflow itself a full Step. WorkflowStep, not Workflow, is the
// nested-composition node.
type workflowSelf struct{ w *Workflow }

func (s workflowSelf) ID() string                          { return s.w.id }
func (s workflowSelf) Kind() string                        { return "workflow" }
func (s workflowSelf) Persistent() bool                    { return false }
func (s workflowSelf) Inputs() []*Port                     { return s.w.inputs }
func (s workflowSelf) Outputs() []*Port                    { return s.w.outputs }
func (s workflowSelf) InputByName(n string) (*Port, bool)  { return s.w.InputByName(n) }
func (s workflowSelf) OutputByName(n string) (*Port, bool) { return s.w.OutputByName(n) }
func (s workflowSelf) Parent() *Workflow                   { return nil }
func (s workflowSelf) setID(id string)                     { s.w.id = id }
func (s workflowSelf) setParent(*Workflow)                 {}
func (s workflowSelf) invoke(ctx *ExecContext) error       { return s.w.invokeSteps(ctx) }

// ID returns the workflow's own identifier.
func (w *Workflow) ID() string { return w.id }

func (w *Workflow) description() string {
	s, _ := w.Header["description"].(string)
	return s
}

// Inputs/Outputs return the workflow's own boundary ports.
func (w *Workflow) Inputs() []*Port  { return w.inputs }
func (w *Workflow) Outputs() []*Port { return w.outputs }

// InputByName/OutputByName look up a boundary port by name.
func (w *Workflow) InputByName(name string) (*Port, bool) {
	for _, p := range w.inputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

func (w *Workflow) OutputByName(name string) (*Port, bool) {
	for _, p := range w.outputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

// Steps returns the steps in insertion order.
func (w *Workflow) Steps() []Step {
	out := make([]Step, len(w.steps))
	copy(out, w.steps)
	return out
}

// FindStep looks up a direct child step by id.
func (w *Workflow) FindStep(id string) (Step, bool) {
	i, ok := w.stepIndex[id]
	if !ok {
		return nil, false
	}
	return w.steps[i], true
}

// findNode resolves a node id against the workflow itself, its direct
// step children, or any descendant reachable through nested workflows.
func (w *Workflow) findNode(id string) (portHost, bool) {
	if id == w.id {
		return workflowSelf{w}, true
	}
	if s, ok := w.FindStep(id); ok {
		return s, true
	}
	for _, s := range w.steps {
		if ws, ok := s.(*WorkflowStep); ok && ws.Inner != nil {
			if h, ok := ws.Inner.findNode(id); ok {
				return h, true
			}
		}
	}
	return nil, false
}

// portHost is the minimal surface resolution needs from a tree node: a
// workflow (as itself) or a step.
type portHost interface {
	ID() string
	InputByName(name string) (*Port, bool)
	OutputByName(name string) (*Port, bool)
}

// AddStep appends or replaces a step. If id already exists, replacement
// requires canExist; after replacement, every sibling port with a resolved
// source pointing at the old step is cleared, though unresolved symbolic
// references survive.
func (w *Workflow) AddStep(s Step, canExist bool) error {
	if i, exists := w.stepIndex[s.ID()]; exists {
		if !canExist {
			return &DuplicateStepIdError{StepID: s.ID()}
		}
		old := w.steps[i]
		w.clearSiblingSourcesTo(old)
		old.setParent(nil)
		s.setParent(w)
		w.steps[i] = s
		return nil
	}
	s.setParent(w)
	w.stepIndex[s.ID()] = len(w.steps)
	w.steps = append(w.steps, s)
	return nil
}

// RemoveStep removes the step with the given id. If mustExist is true and
// no such step exists, an error is returned.
func (w *Workflow) RemoveStep(id string, mustExist bool) error {
	i, ok := w.stepIndex[id]
	if !ok {
		if mustExist {
			return fmt.Errorf("flow: step %q not found", id)
		}
		return nil
	}
	removed := w.steps[i]
	w.clearSiblingSourcesTo(removed)
	removed.setParent(nil)

	w.steps = append(w.steps[:i], w.steps[i+1:]...)
	delete(w.stepIndex, id)
	for j := i; j < len(w.steps); j++ {
		w.stepIndex[w.steps[j].ID()] = j
	}
	return nil
}

// clearSiblingSourcesTo clears any resolved source pointing at target on
// every port (inputs and outputs) of every other step and of the workflow
// boundary itself.
func (w *Workflow) clearSiblingSourcesTo(target Step) {
	for _, s := range w.steps {
		if s == target {
			continue
		}
		for _, p := range s.Inputs() {
			p.clearSourceTo(target)
		}
		for _, p := range s.Outputs() {
			p.clearSourceTo(target)
		}
	}
	for _, p := range w.outputs {
		p.clearSourceTo(target)
	}
	for _, p := range w.inputs {
		p.clearSourceTo(target)
	}
}

// RenameStep changes a step's id, cascading the rename to every
// unresolved symbolic source reference in the workflow that named the old
// id. Resolved references need no rewriting: they hold live *Port
// pointers and serialize using the referent's current id.
func (w *Workflow) RenameStep(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	if newID == "" {
		return &InvalidEncodingError{Detail: "step id cannot be empty"}
	}
	i, ok := w.stepIndex[oldID]
	if !ok {
		return fmt.Errorf("flow: step %q not found", oldID)
	}
	if _, exists := w.stepIndex[newID]; exists {
		return &DuplicateStepIdError{StepID: newID}
	}
	s := w.steps[i]
	s.setID(newID)
	delete(w.stepIndex, oldID)
	w.stepIndex[newID] = i

	rewrite := func(p *Port) {
		if p.unresolved != nil && p.unresolved.hasNode && p.unresolved.nodeID == oldID {
			p.unresolved.nodeID = newID
		}
	}
	for _, step := range w.steps {
		for _, p := range step.Inputs() {
			rewrite(p)
		}
		for _, p := range step.Outputs() {
			rewrite(p)
		}
	}
	for _, p := range w.outputs {
		rewrite(p)
	}
	for _, p := range w.inputs {
		rewrite(p)
	}
	return nil
}

// UpdateSources resolves every unresolved source reference in the
// workflow against the workflow's own tree. Must be called (or is called
// internally by loading/invocation) after any batch mutation.
func (w *Workflow) UpdateSources() error {
	resolveOne := func(owner Step, p *Port) error {
		if p.unresolved == nil {
			return nil
		}
		resolved, err := w.resolveRef(owner, *p.unresolved, p)
		if err != nil {
			return err
		}
		if resolved == p {
			return &SelfBindingError{NodeID: owner.ID(), Port: p.name}
		}
		p.source = resolved
		p.unresolved = nil
		return nil
	}
	for _, step := range w.steps {
		for _, p := range step.Inputs() {
			if err := resolveOne(step, p); err != nil {
				return err
			}
		}
		for _, p := range step.Outputs() {
			if err := resolveOne(step, p); err != nil {
				return err
			}
		}
	}
	for _, p := range w.outputs {
		if err := resolveOne(workflowSelf{w}, p); err != nil {
			return err
		}
	}
	for _, p := range w.inputs {
		if err := resolveOne(workflowSelf{w}, p); err != nil {
			return err
		}
	}
	return nil
}

// resolveRef resolves a symbolic reference: "NODE.PORT" looks the port up
// on the named node (outputs first on steps, inputs first on the workflow
// itself), "NODE" requires the node to have exactly one output, and
// ".PORT" searches the owner's scope and then the enclosing workflow.
// exclude is the port being resolved; the dotted scope search skips it so
// a step input named like a workflow input never binds to itself.
func (w *Workflow) resolveRef(owner portHost, ref sourceRef, exclude *Port) (*Port, error) {
	switch {
	case ref.hasNode && ref.hasPort:
		host, ok := w.findNode(ref.nodeID)
		if !ok {
			return nil, &UnknownNodeError{NodeID: ref.nodeID}
		}
		if _, isWorkflow := host.(workflowSelf); isWorkflow {
			if p, ok := host.InputByName(ref.portName); ok {
				return p, nil
			}
			if p, ok := host.OutputByName(ref.portName); ok {
				return p, nil
			}
		} else {
			if p, ok := host.OutputByName(ref.portName); ok {
				return p, nil
			}
			if p, ok := host.InputByName(ref.portName); ok {
				return p, nil
			}
		}
		return nil, &UnknownPortError{NodeID: ref.nodeID, Port: ref.portName}

	case ref.hasNode:
		host, ok := w.findNode(ref.nodeID)
		if !ok {
			return nil, &UnknownNodeError{NodeID: ref.nodeID}
		}
		outs := hostOutputs(host)
		if len(outs) != 1 {
			return nil, &AmbiguousNodeError{NodeID: ref.nodeID}
		}
		return outs[0], nil

	case ref.hasPort:
		if p, ok := owner.InputByName(ref.portName); ok && p != exclude {
			return p, nil
		}
		if p, ok := owner.OutputByName(ref.portName); ok && p != exclude {
			return p, nil
		}
		if p, ok := w.InputByName(ref.portName); ok && p != exclude {
			return p, nil
		}
		if p, ok := w.OutputByName(ref.portName); ok && p != exclude {
			return p, nil
		}
		return nil, &UnknownPortInScopeError{Port: ref.portName}

	default:
		return nil, &InvalidEncodingError{Detail: "empty source reference"}
	}
}

func hostOutputs(host portHost) []*Port {
	switch h := host.(type) {
	case workflowSelf:
		return h.w.outputs
	case Step:
		return h.Outputs()
	default:
		return nil
	}
}

// SortedSteps returns steps in execution order: a stable sort by max
// dependency distance, ties broken by insertion order.
func (w *Workflow) SortedSteps() []Step {
	sorted := make([]Step, len(w.steps))
	copy(sorted, w.steps)
	distances := make(map[Step]int, len(w.steps))
	for _, a := range w.steps {
		best := 0
		for _, b := range w.steps {
			if a == b {
				continue
			}
			d := maxDistanceTo(a, b)
			if d > best {
				best = d
			}
		}
		distances[a] = best
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return distances[sorted[i]] < distances[sorted[j]]
	})
	return sorted
}

// StepsToCompute returns the minimal predecessor-closure of stepID in
// execution order.
func (w *Workflow) StepsToCompute(stepID string) ([]Step, error) {
	target, ok := w.FindStep(stepID)
	if !ok {
		return nil, fmt.Errorf("flow: step %q not found", stepID)
	}
	unordered := collectPredecessors(target, nil, map[Step]bool{})
	set := map[Step]bool{}
	for _, s := range unordered {
		set[s] = true
	}
	var ordered []Step
	for _, s := range w.SortedSteps() {
		if set[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}
