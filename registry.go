package flow

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Callable is a registered operation's implementation. ctx carries the
// execution context (monitor, value cache, current step); values holds the
// validated, defaulted input map. A single-output operation returns its
// result under ReturnOutput; a named-output operation returns one entry
// per declared output.
type Callable func(ctx *ExecContext, values map[string]any) (map[string]any, error)

// opRegistration pairs a callable with its metadata, keeping definition
// and execution separate.
type opRegistration struct {
	meta OpMetaInfo
	fn   Callable
}

// Registry maps qualified operation names to (callable, metadata) pairs.
// A registry is read-mostly: registrations are expected at startup, not
// concurrently with invocation.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]*opRegistration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]*opRegistration)}
}

// defaultRegistry is the single process-wide default registry. Callers may
// always pass an explicit Registry instead; no other hidden globals exist.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide default operation registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Add registers op under meta.QualifiedName. If failIfExists is true and
// the name is already registered, an error is returned.
func (r *Registry) Add(meta OpMetaInfo, fn Callable, failIfExists bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[meta.QualifiedName]; exists && failIfExists {
		return fmt.Errorf("flow: operation %q already registered", meta.QualifiedName)
	}
	r.ops[meta.QualifiedName] = &opRegistration{meta: meta, fn: fn}
	return nil
}

// Get looks up a registered operation by qualified name.
func (r *Registry) Get(name string, failIfNotExists bool) (OpMetaInfo, Callable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.ops[name]
	if !ok {
		if failIfNotExists {
			return OpMetaInfo{}, nil, fmt.Errorf("flow: operation %q not registered", name)
		}
		return OpMetaInfo{}, nil, nil
	}
	return reg.meta, reg.fn, nil
}

// Remove unregisters name. If failIfNotExists is true and name is absent,
// an error is returned.
func (r *Registry) Remove(name string, failIfNotExists bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[name]; !ok {
		if failIfNotExists {
			return fmt.Errorf("flow: operation %q not registered", name)
		}
		return nil
	}
	delete(r.ops, name)
	return nil
}

// Names returns every registered qualified name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterFunc registers fn under name, deriving OpMetaInfo from its
// signature via reflection, supplementing the explicit-metadata Add path.
// Two signature families are accepted.
//
// Map-based signatures register untyped, with the single unnamed
// "return" output and no declared inputs:
//
//	func(map[string]any) (map[string]any, error)
//	func(*ExecContext, map[string]any) (map[string]any, error)
//
// Struct-based signatures are introspected: func(In) (Out, error),
// optionally with a leading *ExecContext parameter, where In is a struct.
// Each exported field of In becomes a declared input — the port name
// comes from the field's `flow:"name"` tag (or the lowercased field
// name), the data_type from the field's Go type, and the `required` tag
// option marks it required. Out is either a struct, whose fields become
// named outputs under the same rules, or any other type, which becomes
// the single "return" output. Go carries no per-parameter defaults, so
// default_value always comes from an explicit Add.
func RegisterFunc(r *Registry, name string, fn any) error {
	untypedMeta := func() OpMetaInfo {
		return OpMetaInfo{
			QualifiedName: name,
			Header:        map[string]any{"description": fmt.Sprintf("introspected operation %s", name)},
			Outputs:       []PropertySet{{Name: ReturnOutput}},
		}
	}
	switch f := fn.(type) {
	case func(map[string]any) (map[string]any, error):
		return r.Add(untypedMeta(), func(_ *ExecContext, values map[string]any) (map[string]any, error) {
			return f(values)
		}, false)
	case func(*ExecContext, map[string]any) (map[string]any, error):
		return r.Add(untypedMeta(), f, false)
	}

	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("flow: RegisterFunc: %q is not a function", name)
	}
	wantsCtx := t.NumIn() == 2 && t.In(0) == reflect.TypeOf((*ExecContext)(nil))
	var inT reflect.Type
	switch {
	case t.NumIn() == 1:
		inT = t.In(0)
	case wantsCtx:
		inT = t.In(1)
	default:
		return fmt.Errorf("flow: RegisterFunc: unsupported signature for %q", name)
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if inT.Kind() != reflect.Struct || t.NumOut() != 2 || t.Out(1) != errType {
		return fmt.Errorf("flow: RegisterFunc: unsupported signature for %q", name)
	}
	outT := t.Out(0)

	meta := OpMetaInfo{
		QualifiedName: name,
		Header:        map[string]any{"description": fmt.Sprintf("introspected operation %s", name)},
		Inputs:        introspectStruct(inT),
	}
	if outT.Kind() == reflect.Struct {
		meta.Outputs = introspectStruct(outT)
	} else {
		meta.Outputs = []PropertySet{{Name: ReturnOutput, DataType: dataTypeName(outT)}}
	}

	v := reflect.ValueOf(fn)
	callable := func(ctx *ExecContext, values map[string]any) (map[string]any, error) {
		inVal := reflect.New(inT).Elem()
		for i := 0; i < inT.NumField(); i++ {
			field := inT.Field(i)
			if !field.IsExported() {
				continue
			}
			portName, _ := fieldPort(field)
			raw, ok := values[portName]
			if !ok || raw == nil {
				continue
			}
			rv := reflect.ValueOf(raw)
			fv := inVal.Field(i)
			switch {
			case rv.Type().AssignableTo(fv.Type()):
				fv.Set(rv)
			case rv.Type().ConvertibleTo(fv.Type()):
				fv.Set(rv.Convert(fv.Type()))
			default:
				return nil, fmt.Errorf("flow: op %s: input %q: cannot use %T as %s", name, portName, raw, fv.Type())
			}
		}
		args := make([]reflect.Value, 0, 2)
		if wantsCtx {
			args = append(args, reflect.ValueOf(ctx))
		}
		args = append(args, inVal)
		res := v.Call(args)
		if !res[1].IsNil() {
			return nil, res[1].Interface().(error)
		}
		if outT.Kind() == reflect.Struct {
			out := map[string]any{}
			for i := 0; i < outT.NumField(); i++ {
				field := outT.Field(i)
				if !field.IsExported() {
					continue
				}
				portName, _ := fieldPort(field)
				out[portName] = res[0].Field(i).Interface()
			}
			return out, nil
		}
		return map[string]any{ReturnOutput: res[0].Interface()}, nil
	}
	return r.Add(meta, callable, false)
}

// fieldPort reads a struct field's port name and required option from its
// `flow` tag, defaulting the name to the lowercased field name.
func fieldPort(f reflect.StructField) (string, bool) {
	name := strings.ToLower(f.Name)
	required := false
	if tag := f.Tag.Get("flow"); tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "required" {
				required = true
			}
		}
	}
	return name, required
}

// introspectStruct derives one PropertySet per exported field.
func introspectStruct(t reflect.Type) []PropertySet {
	var props []PropertySet
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, required := fieldPort(f)
		props = append(props, PropertySet{Name: name, DataType: dataTypeName(f.Type), Required: required})
	}
	return props
}

// dataTypeName maps a Go type to the engine's data_type vocabulary; an
// unrecognized kind stays untyped.
func dataTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "float"
	case reflect.String:
		return "text"
	case reflect.Slice, reflect.Array:
		return "list"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return ""
	}
}

// RegisterWorkflow registers w back into r as a callable operation, so an
// outer workflow can target it via OpStep instead of wrapping it in a
// WorkflowStep.
func RegisterWorkflow(r *Registry, w *Workflow) error {
	meta := OpMetaInfo{
		QualifiedName: w.QualifiedName,
		Header:        map[string]any{"description": w.description()},
	}
	for _, p := range w.inputs {
		meta.Inputs = append(meta.Inputs, p.meta)
	}
	for _, p := range w.outputs {
		meta.Outputs = append(meta.Outputs, p.meta)
	}
	callable := func(ctx *ExecContext, values map[string]any) (map[string]any, error) {
		return w.invokeAsOp(ctx, values)
	}
	return r.Add(meta, callable, false)
}
