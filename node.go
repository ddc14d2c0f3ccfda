package flow

// Step is the common capability set for every node in a workflow tree:
// OpStep, ExpressionStep, SubProcessStep, WorkflowStep, NoOpStep. Dispatch
// is by a type switch on the concrete kind, not inheritance.
type Step interface {
	// ID returns the step's identifier, unique among its workflow siblings.
	ID() string
	// Kind returns the step's discriminator ("op", "expression",
	// "subprocess", "workflow", "no_op").
	Kind() string
	// Persistent reports whether recomputation may be skipped given a
	// cached sidecar.
	Persistent() bool
	// Inputs returns the step's ordered input ports.
	Inputs() []*Port
	// Outputs returns the step's ordered output ports.
	Outputs() []*Port
	// InputByName looks up an input port by name.
	InputByName(name string) (*Port, bool)
	// OutputByName looks up an output port by name.
	OutputByName(name string) (*Port, bool)
	// Parent returns the owning workflow, or nil for a detached step.
	Parent() *Workflow

	setID(id string)
	setParent(w *Workflow)
	invoke(ctx *ExecContext) error
}

// baseNode implements the bookkeeping shared by every Step: id, ordered
// ports, and parent linkage. Concrete step
// types embed it and add their own invoke behavior.
type baseNode struct {
	id         string
	parent     *Workflow
	inputs     []*Port
	outputs    []*Port
	persistent bool
}

func (n *baseNode) ID() string            { return n.id }
func (n *baseNode) Persistent() bool      { return n.persistent }
func (n *baseNode) Inputs() []*Port       { return n.inputs }
func (n *baseNode) Outputs() []*Port      { return n.outputs }
func (n *baseNode) Parent() *Workflow     { return n.parent }
func (n *baseNode) setID(id string)       { n.id = id }
func (n *baseNode) setParent(w *Workflow) { n.parent = w }

func (n *baseNode) InputByName(name string) (*Port, bool) {
	for _, p := range n.inputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

func (n *baseNode) OutputByName(name string) (*Port, bool) {
	for _, p := range n.outputs {
		if p.name == name {
			return p, true
		}
	}
	return nil, false
}

func (n *baseNode) buildPorts(owner Step, props []PropertySet, isOutput bool) []*Port {
	ports := make([]*Port, 0, len(props))
	for _, prop := range props {
		p := newPort(owner, isOutput, prop)
		if prop.HasDefault && !isOutput {
			p.SetValue(prop.DefaultValue)
		}
		ports = append(ports, p)
	}
	return ports
}

// requires reports whether self depends (directly or transitively) on
// other through input sources. A step never requires itself.
func requires(self, other Step) bool {
	return maxDistanceTo(self, other) > 0
}

// maxDistanceTo returns the longest dependency path from self to other via
// input ports' sources, 0 if other == self, -1 if no path exists.
func maxDistanceTo(self, other Step) int {
	if self == other {
		return 0
	}
	best := -1
	for _, in := range self.Inputs() {
		src := in.source
		if src == nil {
			continue
		}
		d := maxDistanceTo(src.owner, other)
		if d < 0 {
			continue
		}
		if d+1 > best {
			best = d + 1
		}
	}
	return best
}

// collectPredecessors appends self to acc, then recurses through each
// input port's source's owning step, used by
// Workflow.StepsToCompute to find the minimal subgraph needed to produce
// one step's output.
func collectPredecessors(self Step, acc []Step, seen map[Step]bool) []Step {
	if seen[self] {
		return acc
	}
	seen[self] = true
	acc = append(acc, self)
	for _, in := range self.Inputs() {
		if in.source == nil {
			continue
		}
		acc = collectPredecessors(in.source.owner, acc, seen)
	}
	return acc
}
