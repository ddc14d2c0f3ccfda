package flow

import "fmt"

// sourceRef is a parsed, possibly-unresolved symbolic pointer: an
// optional node id plus an optional port name.
type sourceRef struct {
	nodeID   string
	hasNode  bool
	portName string
	hasPort  bool
}

func (r sourceRef) String() string {
	switch {
	case r.hasNode && r.hasPort:
		return r.nodeID + "." + r.portName
	case r.hasNode:
		return r.nodeID
	case r.hasPort:
		return "." + r.portName
	default:
		return ""
	}
}

// Port is a named slot on a Step carrying either a literal value or a
// bound source reference to another port.
type Port struct {
	owner    Step
	name     string
	isOutput bool
	meta     PropertySet

	hasLiteral bool
	literal    any

	source     *Port
	unresolved *sourceRef
}

func newPort(owner Step, isOutput bool, meta PropertySet) *Port {
	return &Port{owner: owner, name: meta.Name, isOutput: isOutput, meta: meta}
}

// Name returns the port's name.
func (p *Port) Name() string { return p.name }

// Owner returns the step the port belongs to.
func (p *Port) Owner() Step { return p.owner }

// IsOutput reports whether this is an output port.
func (p *Port) IsOutput() bool { return p.isOutput }

// QualifiedName returns "<node_id>.<port_name>".
func (p *Port) QualifiedName() string {
	return fmt.Sprintf("%s.%s", p.owner.ID(), p.name)
}

// SetValue stores a literal, clearing any source.
func (p *Port) SetValue(v any) {
	p.source = nil
	p.unresolved = nil
	p.literal = v
	p.hasLiteral = true
}

// SetSource binds p to src, clearing any literal. Rejects self-binding.
func (p *Port) SetSource(src *Port) error {
	if src == p {
		return &SelfBindingError{NodeID: p.owner.ID(), Port: p.name}
	}
	p.hasLiteral = false
	p.literal = nil
	p.unresolved = nil
	p.source = src
	return nil
}

// SetSourceRef stores an unresolved symbolic reference ("NODE.PORT",
// "NODE", or ".PORT"), clearing any literal or resolved source. The
// reference binds to a live port on the next UpdateSources.
func (p *Port) SetSourceRef(ref string) error {
	parsed, err := parseSourceRef(ref)
	if err != nil {
		return err
	}
	p.hasLiteral = false
	p.literal = nil
	p.source = nil
	p.unresolved = &parsed
	return nil
}

// SourceRef returns the port's symbolic source in textual form: the
// pending unresolved reference if one exists, the resolved source's
// current address otherwise, or "" for an unbound port.
func (p *Port) SourceRef() string {
	if p.unresolved != nil {
		return p.unresolved.String()
	}
	if p.source != nil {
		return sourceString(p.source)
	}
	return ""
}

// HasValue reports whether reading p would yield a defined value.
func (p *Port) HasValue() bool {
	_, ok := p.Value()
	return ok
}

// Value reads through the source chain (transitively) or returns the
// literal. Returns (nil, false) when undefined.
func (p *Port) Value() (any, bool) {
	seen := make(map[*Port]bool)
	cur := p
	for {
		if seen[cur] {
			return nil, false // defensive: cyclic binding should never occur
		}
		seen[cur] = true
		if cur.source != nil {
			cur = cur.source
			continue
		}
		if cur.hasLiteral {
			return cur.literal, true
		}
		return nil, false
	}
}

// IsBound reports whether the port currently holds a resolved source.
func (p *Port) IsBound() bool { return p.source != nil }

// IsLiteral reports whether the port currently holds a literal.
func (p *Port) IsLiteral() bool { return p.hasLiteral }

// clearSourceTo clears the port's resolved source if it points at target,
// used when a sibling step is replaced/removed.
func (p *Port) clearSourceTo(target Step) {
	if p.source != nil && p.source.owner == target {
		p.source = nil
	}
}
