package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// SchemaVersion is the workflow serialization format version tag recorded
// in every stored definition.
const SchemaVersion = 1

// LoaderFunc resolves a WorkflowStep's resource locator to its nested
// workflow. The engine wires a Store-backed loader by default; tests and
// embedders can substitute their own.
type LoaderFunc func(locator string) (*Workflow, error)

// WorkflowDefinition is the serialized form of a workflow. It is the
// stable external surface: every field round-trips.
type WorkflowDefinition struct {
	SchemaVersion int            `json:"schema_version"`
	QualifiedName string         `json:"qualified_name"`
	Header        map[string]any `json:"header,omitempty"`
	Inputs        PortDefs       `json:"inputs,omitempty"`
	Outputs       PortDefs       `json:"outputs,omitempty"`
	Steps         []StepDef      `json:"steps,omitempty"`
}

// StepDef is the serialized form of a single step. Exactly one
// discriminator field (Op, Workflow, Expression, Command, NoOp) is set.
type StepDef struct {
	ID         string            `json:"id"`
	Persistent bool              `json:"persistent,omitempty"`
	Op         string            `json:"op,omitempty"`
	Workflow   string            `json:"workflow,omitempty"`
	Expression string            `json:"expression,omitempty"`
	Command    string            `json:"command,omitempty"`
	RunPython  bool              `json:"run_python,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Shell      bool              `json:"shell,omitempty"`
	StartedRe  string            `json:"started_re,omitempty"`
	ProgressRe string            `json:"progress_re,omitempty"`
	DoneRe     string            `json:"done_re,omitempty"`
	NoOp       bool              `json:"no_op,omitempty"`
	Inputs     PortDefs          `json:"inputs,omitempty"`
	Outputs    PortDefs          `json:"outputs,omitempty"`
}

// PortDef is the serialized form of one port: an optional symbolic source
// reference or literal value, plus optional metadata. Source and Value are
// mutually exclusive.
type PortDef struct {
	Name      string
	Source    string
	HasSource bool
	Value     any
	HasValue  bool
	Meta      PropertySet
	HasMeta   bool
}

// PortDefs is an ordered name->port mapping. JSON objects do not guarantee
// key order, so (un)marshalling goes through a token stream to keep the
// declaration order steps and workflows rely on.
type PortDefs []PortDef

// nameMeta copies each entry's name into its metadata record, covering
// definitions assembled in code rather than parsed from JSON.
func (pd PortDefs) nameMeta() {
	for i := range pd {
		if pd[i].Meta.Name == "" {
			pd[i].Meta.Name = pd[i].Name
		}
	}
}

// metadata keys recognized inside a port's JSON object.
const (
	keySource       = "source"
	keyValue        = "value"
	keyDataType     = "data_type"
	keyDefaultValue = "default_value"
	keyRequired     = "required"
	keyValueSet     = "value_set"
	keyValueRange   = "value_range"
	keyContext      = "context"
	keyWriteTo      = "write_to"
	keyReadFrom     = "read_from"
)

// UnmarshalJSON decodes an ordered port map. Each entry is either a bare
// reference string or an object combining metadata with a source or a
// value (never both).
func (pd *PortDefs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &InvalidEncodingError{Detail: "ports must be a JSON object"}
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		def, err := parsePortDef(name, raw)
		if err != nil {
			return err
		}
		*pd = append(*pd, def)
	}
	_, err = dec.Token() // consume closing brace
	return err
}

// MarshalJSON encodes the ordered port map back to a JSON object.
func (pd PortDefs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, def := range pd {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(def.Name)
		buf.Write(k)
		buf.WriteByte(':')
		v, err := def.encode()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func parsePortDef(name string, raw json.RawMessage) (PortDef, error) {
	def := PortDef{Name: name}
	def.Meta.Name = name

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: empty encoding", name)}
	}
	if trimmed[0] == '"' {
		var ref string
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: %v", name, err)}
		}
		def.Source = ref
		def.HasSource = true
		return def, nil
	}
	if trimmed[0] != '{' {
		return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: expected string or object", name)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: %v", name, err)}
	}
	if _, hasSrc := obj[keySource]; hasSrc {
		if _, hasVal := obj[keyValue]; hasVal {
			return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: source and value are exclusive", name)}
		}
	}
	for k, v := range obj {
		switch k {
		case keySource:
			if err := json.Unmarshal(v, &def.Source); err != nil {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: source must be text", name)}
			}
			def.HasSource = true
		case keyValue:
			val, err := decodeValue(v)
			if err != nil {
				return def, err
			}
			def.Value = val
			def.HasValue = true
		case keyDataType:
			if err := json.Unmarshal(v, &def.Meta.DataType); err != nil {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: data_type must be text", name)}
			}
			def.HasMeta = true
		case keyDefaultValue:
			val, err := decodeValue(v)
			if err != nil {
				return def, err
			}
			def.Meta.DefaultValue = val
			def.Meta.HasDefault = true
			def.HasMeta = true
		case keyRequired:
			if err := json.Unmarshal(v, &def.Meta.Required); err != nil {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: required must be boolean", name)}
			}
			def.HasMeta = true
		case keyValueSet:
			val, err := decodeValue(v)
			if err != nil {
				return def, err
			}
			set, ok := val.([]any)
			if !ok {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: value_set must be a list", name)}
			}
			def.Meta.ValueSet = set
			def.HasMeta = true
		case keyValueRange:
			var r []float64
			if err := json.Unmarshal(v, &r); err != nil || len(r) != 2 {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: value_range must be [lo, hi]", name)}
			}
			def.Meta.ValueRangeLo, def.Meta.ValueRangeHi = r[0], r[1]
			def.Meta.HasRange = true
			def.HasMeta = true
		case keyContext:
			if err := json.Unmarshal(v, &def.Meta.Context); err != nil {
				return def, err
			}
			def.HasMeta = true
		case keyWriteTo:
			if err := json.Unmarshal(v, &def.Meta.WriteTo); err != nil {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: write_to must be text", name)}
			}
			def.HasMeta = true
		case keyReadFrom:
			if err := json.Unmarshal(v, &def.Meta.ReadFrom); err != nil {
				return def, &InvalidEncodingError{Detail: fmt.Sprintf("port %q: read_from must be text", name)}
			}
			def.HasMeta = true
		default:
			extra, err := decodeValue(v)
			if err != nil {
				return def, err
			}
			if def.Meta.Extra == nil {
				def.Meta.Extra = map[string]any{}
			}
			def.Meta.Extra[k] = extra
			def.HasMeta = true
		}
	}
	return def, nil
}

// decodeValue decodes an arbitrary JSON value, mapping whole-number
// literals to int rather than float64 so that declared "int" data types
// validate against deserialized literals.
func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeValue(v), nil
}

func (def PortDef) encode() ([]byte, error) {
	obj := map[string]any{}
	if def.HasSource {
		obj[keySource] = def.Source
	}
	if def.HasValue {
		obj[keyValue] = def.Value
	}
	if def.HasMeta {
		m := def.Meta
		if m.DataType != "" {
			obj[keyDataType] = m.DataType
		}
		if m.HasDefault {
			obj[keyDefaultValue] = m.DefaultValue
		}
		if m.Required {
			obj[keyRequired] = m.Required
		}
		if len(m.ValueSet) > 0 {
			obj[keyValueSet] = m.ValueSet
		}
		if m.HasRange {
			obj[keyValueRange] = []float64{m.ValueRangeLo, m.ValueRangeHi}
		}
		if m.Context != nil {
			obj[keyContext] = m.Context
		}
		if m.WriteTo != "" {
			obj[keyWriteTo] = m.WriteTo
		}
		if m.ReadFrom != "" {
			obj[keyReadFrom] = m.ReadFrom
		}
		for k, v := range m.Extra {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// parseSourceRef parses "NODE.PORT", "NODE", or ".PORT".
func parseSourceRef(s string) (sourceRef, error) {
	if s == "" {
		return sourceRef{}, &InvalidEncodingError{Detail: "empty source reference"}
	}
	if strings.HasPrefix(s, ".") {
		port := s[1:]
		if port == "" || strings.Contains(port, ".") {
			return sourceRef{}, &InvalidEncodingError{Detail: fmt.Sprintf("unparseable source reference %q", s)}
		}
		return sourceRef{portName: port, hasPort: true}, nil
	}
	node, port, found := strings.Cut(s, ".")
	if !found {
		return sourceRef{nodeID: node, hasNode: true}, nil
	}
	if node == "" || port == "" || strings.Contains(port, ".") {
		return sourceRef{}, &InvalidEncodingError{Detail: fmt.Sprintf("unparseable source reference %q", s)}
	}
	return sourceRef{nodeID: node, hasNode: true, portName: port, hasPort: true}, nil
}

// FromDefinition builds an executable *Workflow from its serialized form.
// OpStep targets are resolved against reg; WorkflowStep locators are
// resolved through load. The returned workflow has every symbolic source
// reference resolved.
func FromDefinition(def WorkflowDefinition, reg *Registry, load LoaderFunc) (*Workflow, error) {
	if def.QualifiedName == "" {
		return nil, &InvalidEncodingError{Detail: "workflow is missing qualified_name"}
	}
	def.Inputs.nameMeta()
	def.Outputs.nameMeta()
	inputProps := make([]PropertySet, len(def.Inputs))
	for i, p := range def.Inputs {
		inputProps[i] = p.Meta
	}
	outputProps := make([]PropertySet, len(def.Outputs))
	for i, p := range def.Outputs {
		outputProps[i] = p.Meta
	}
	id := def.QualifiedName
	if dot := strings.LastIndex(id, "."); dot >= 0 {
		id = id[dot+1:]
	}
	w := NewWorkflow(id, def.QualifiedName, inputProps, outputProps, nil)
	for k, v := range def.Header {
		w.Header[k] = v
	}

	for _, sd := range def.Steps {
		step, err := buildStep(sd, reg, load)
		if err != nil {
			return nil, err
		}
		if err := w.AddStep(step, false); err != nil {
			return nil, err
		}
	}

	// Bindings are applied after every step exists so that forward
	// references resolve in one UpdateSources pass.
	for i, p := range def.Inputs {
		if err := applyBinding(w.inputs[i], p); err != nil {
			return nil, err
		}
	}
	for i, p := range def.Outputs {
		if err := applyBinding(w.outputs[i], p); err != nil {
			return nil, err
		}
	}
	if err := w.UpdateSources(); err != nil {
		return nil, err
	}
	return w, nil
}

// buildStep dispatches on the step's discriminator field.
func buildStep(sd StepDef, reg *Registry, load LoaderFunc) (Step, error) {
	if sd.ID == "" {
		return nil, &InvalidEncodingError{Detail: "step is missing id"}
	}
	sd.Inputs.nameMeta()
	sd.Outputs.nameMeta()
	inputProps := make([]PropertySet, len(sd.Inputs))
	for i, p := range sd.Inputs {
		inputProps[i] = p.Meta
	}
	outputProps := make([]PropertySet, len(sd.Outputs))
	for i, p := range sd.Outputs {
		outputProps[i] = p.Meta
	}

	var step Step
	switch {
	case sd.Op != "":
		s, err := NewOpStep(sd.ID, sd.Op, reg, sd.Persistent)
		if err != nil {
			return nil, err
		}
		step = s
	case sd.Workflow != "":
		if load == nil {
			return nil, &InvalidEncodingError{Detail: fmt.Sprintf("step %q: no loader for workflow locator %q", sd.ID, sd.Workflow)}
		}
		inner, err := load(sd.Workflow)
		if err != nil {
			return nil, err
		}
		var in, out []PropertySet
		if len(inputProps) > 0 {
			in = inputProps
		}
		if len(outputProps) > 0 {
			out = outputProps
		}
		step = NewWorkflowStep(sd.ID, sd.Workflow, inner, in, out, sd.Persistent)
	case sd.Expression != "":
		step = NewExpressionStep(sd.ID, sd.Expression, inputProps, outputProps, sd.Persistent)
	case sd.Command != "":
		s := NewSubProcessStep(sd.ID, sd.Command, inputProps, outputProps, sd.Persistent)
		s.RunPython = sd.RunPython
		s.Cwd = sd.Cwd
		s.Env = sd.Env
		s.Shell = sd.Shell
		for _, c := range []struct {
			expr string
			dst  **regexp.Regexp
		}{{sd.StartedRe, &s.StartedRe}, {sd.ProgressRe, &s.ProgressRe}, {sd.DoneRe, &s.DoneRe}} {
			if c.expr == "" {
				continue
			}
			re, err := regexp.Compile(c.expr)
			if err != nil {
				return nil, &InvalidEncodingError{Detail: fmt.Sprintf("step %q: bad pattern %q: %v", sd.ID, c.expr, err)}
			}
			*c.dst = re
		}
		step = s
	case sd.NoOp:
		step = NewNoOpStep(sd.ID, inputProps, outputProps, sd.Persistent)
	default:
		return nil, &UnknownStepKindError{StepID: sd.ID}
	}

	for _, p := range sd.Inputs {
		port, ok := step.InputByName(p.Name)
		if !ok {
			// Operation-specific extension input not present in the
			// registered metadata.
			port = newPort(step, false, p.Meta)
			appendInput(step, port)
		}
		if err := applyBinding(port, p); err != nil {
			return nil, err
		}
	}
	for _, p := range sd.Outputs {
		port, ok := step.OutputByName(p.Name)
		if !ok {
			port = newPort(step, true, p.Meta)
			appendOutput(step, port)
		}
		if err := applyBinding(port, p); err != nil {
			return nil, err
		}
	}
	return step, nil
}

func appendInput(step Step, p *Port) {
	switch s := step.(type) {
	case *OpStep:
		s.inputs = append(s.inputs, p)
	case *ExpressionStep:
		s.inputs = append(s.inputs, p)
	case *SubProcessStep:
		s.inputs = append(s.inputs, p)
	case *WorkflowStep:
		s.inputs = append(s.inputs, p)
	case *NoOpStep:
		s.inputs = append(s.inputs, p)
	}
}

func appendOutput(step Step, p *Port) {
	switch s := step.(type) {
	case *OpStep:
		s.outputs = append(s.outputs, p)
	case *ExpressionStep:
		s.outputs = append(s.outputs, p)
	case *SubProcessStep:
		s.outputs = append(s.outputs, p)
	case *WorkflowStep:
		s.outputs = append(s.outputs, p)
	case *NoOpStep:
		s.outputs = append(s.outputs, p)
	}
}

// applyBinding installs a parsed port definition's source or literal onto
// the live port.
func applyBinding(port *Port, def PortDef) error {
	if def.HasSource {
		ref, err := parseSourceRef(def.Source)
		if err != nil {
			return err
		}
		port.hasLiteral = false
		port.literal = nil
		port.source = nil
		port.unresolved = &ref
		return nil
	}
	if def.HasValue {
		port.SetValue(def.Value)
	}
	return nil
}

// Definition converts the live workflow back into its serialized form.
func (w *Workflow) Definition() WorkflowDefinition {
	def := WorkflowDefinition{
		SchemaVersion: SchemaVersion,
		QualifiedName: w.QualifiedName,
		Header:        w.Header,
	}
	for _, p := range w.inputs {
		def.Inputs = append(def.Inputs, portToDef(p, true))
	}
	for _, p := range w.outputs {
		def.Outputs = append(def.Outputs, portToDef(p, true))
	}
	for _, s := range w.steps {
		def.Steps = append(def.Steps, stepToDef(s))
	}
	return def
}

func stepToDef(s Step) StepDef {
	sd := StepDef{ID: s.ID(), Persistent: s.Persistent()}
	switch t := s.(type) {
	case *OpStep:
		sd.Op = t.OpName
		for _, p := range t.inputs {
			if p.hasLiteral && p.meta.HasDefault && sameValue(p.literal, p.meta.DefaultValue) {
				continue // default values are recreated from the op metadata
			}
			d := portToDef(p, false)
			if !d.HasSource && !d.HasValue {
				continue
			}
			sd.Inputs = append(sd.Inputs, d)
		}
		for _, p := range t.outputs {
			d := portToDef(p, false)
			if d.HasSource {
				sd.Outputs = append(sd.Outputs, d)
			}
		}
	case *WorkflowStep:
		sd.Workflow = t.Locator
		sd.Inputs = portsToDefs(t.inputs, true)
		sd.Outputs = portsToDefs(t.outputs, true)
	case *ExpressionStep:
		sd.Expression = t.Expression
		sd.Inputs = portsToDefs(t.inputs, true)
		sd.Outputs = portsToDefs(t.outputs, true)
	case *SubProcessStep:
		sd.Command = t.CommandTemplate
		sd.RunPython = t.RunPython
		sd.Cwd = t.Cwd
		sd.Env = t.Env
		sd.Shell = t.Shell
		if t.StartedRe != nil {
			sd.StartedRe = t.StartedRe.String()
		}
		if t.ProgressRe != nil {
			sd.ProgressRe = t.ProgressRe.String()
		}
		if t.DoneRe != nil {
			sd.DoneRe = t.DoneRe.String()
		}
		sd.Inputs = portsToDefs(t.inputs, true)
		sd.Outputs = portsToDefs(t.outputs, true)
	case *NoOpStep:
		sd.NoOp = true
		sd.Inputs = portsToDefs(t.inputs, true)
		sd.Outputs = portsToDefs(t.outputs, true)
	}
	return sd
}

func portsToDefs(ports []*Port, withMeta bool) PortDefs {
	defs := make(PortDefs, 0, len(ports))
	for _, p := range ports {
		defs = append(defs, portToDef(p, withMeta))
	}
	if len(defs) == 0 {
		return nil
	}
	return defs
}

// portToDef serializes one port: a bound port emits its source reference,
// a literal input emits its value, and output ports never serialize their
// runtime literal (they are recomputed on execution).
func portToDef(p *Port, withMeta bool) PortDef {
	def := PortDef{Name: p.name}
	if withMeta && hasMeta(p.meta) {
		def.Meta = p.meta
		def.HasMeta = true
	} else {
		def.Meta.Name = p.name
	}
	switch {
	case p.source != nil:
		def.Source = sourceString(p.source)
		if ws, ok := p.source.owner.(workflowSelf); ok {
			// A workflow's id is not serialized: on load it becomes the last
			// dot-segment of the qualified name, so a source on a workflow
			// boundary port is written under that id.
			qn := ws.w.QualifiedName
			def.Source = qn[strings.LastIndex(qn, ".")+1:] + "." + p.source.name
		}
		def.HasSource = true
	case p.unresolved != nil:
		def.Source = p.unresolved.String()
		def.HasSource = true
	case p.hasLiteral && !p.isOutput:
		def.Value = p.literal
		def.HasValue = true
	}
	return def
}

func hasMeta(m PropertySet) bool {
	return m.DataType != "" || m.HasDefault || m.Required || len(m.ValueSet) > 0 ||
		m.HasRange || m.Context != nil || m.WriteTo != "" || m.ReadFrom != "" || len(m.Extra) > 0
}

// sourceString renders a resolved source pointer using the referent's
// current node id, so renames are reflected on the next store. The bare
// "NODE" shorthand is accepted on load but always written back in the
// explicit "NODE.PORT" form.
func sourceString(src *Port) string {
	return src.owner.ID() + "." + src.name
}

// WriteJSON stores the workflow's definition as indented JSON.
func (w *Workflow) WriteJSON(out io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(w.Definition())
}

// ReadWorkflow loads a workflow definition from JSON and builds it.
func ReadWorkflow(in io.Reader, reg *Registry, load LoaderFunc) (*Workflow, error) {
	var def WorkflowDefinition
	if err := json.NewDecoder(in).Decode(&def); err != nil {
		return nil, &InvalidEncodingError{Detail: err.Error()}
	}
	return FromDefinition(def, reg, load)
}

// normalizeValue maps json.Number to int when the literal is whole,
// float64 otherwise, recursing through lists and objects.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		f, _ := n.Float64()
		return f
	case []any:
		for i := range n {
			n[i] = normalizeValue(n[i])
		}
		return n
	case map[string]any:
		for k := range n {
			n[k] = normalizeValue(n[k])
		}
		return n
	default:
		return v
	}
}
