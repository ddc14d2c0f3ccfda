package flow

import (
	"context"
	"fmt"
	"sync"
)

// newTestRegistry returns a registry preloaded with the small arithmetic
// operations most tests build workflows from. counters records how many
// times each operation body ran.
func newTestRegistry(counters map[string]*int) *Registry {
	reg := NewRegistry()
	count := func(name string) {
		if counters == nil {
			return
		}
		if c, ok := counters[name]; ok {
			*c++
		}
	}

	mustAdd := func(meta OpMetaInfo, fn Callable) {
		if err := reg.Add(meta, fn, true); err != nil {
			panic(err)
		}
	}

	mustAdd(OpMetaInfo{
		QualifiedName: "test.double",
		Header:        map[string]any{"description": "x -> 2*x"},
		Inputs:        []PropertySet{{Name: "x"}},
		Outputs:       []PropertySet{{Name: ReturnOutput}},
	}, func(_ *ExecContext, values map[string]any) (map[string]any, error) {
		count("test.double")
		return map[string]any{ReturnOutput: asInt(values["x"]) * 2}, nil
	})

	mustAdd(OpMetaInfo{
		QualifiedName: "test.inc",
		Header:        map[string]any{"description": "x -> x+1"},
		Inputs:        []PropertySet{{Name: "x"}},
		Outputs:       []PropertySet{{Name: ReturnOutput}},
	}, func(_ *ExecContext, values map[string]any) (map[string]any, error) {
		count("test.inc")
		return map[string]any{ReturnOutput: asInt(values["x"]) + 1}, nil
	})

	mustAdd(OpMetaInfo{
		QualifiedName: "test.add",
		Header:        map[string]any{"description": "x, y -> x+y"},
		Inputs:        []PropertySet{{Name: "x"}, {Name: "y"}},
		Outputs:       []PropertySet{{Name: ReturnOutput}},
	}, func(_ *ExecContext, values map[string]any) (map[string]any, error) {
		count("test.add")
		return map[string]any{ReturnOutput: asInt(values["x"]) + asInt(values["y"])}, nil
	})

	mustAdd(OpMetaInfo{
		QualifiedName: "test.cached_double",
		Header:        map[string]any{"description": "cacheable x -> 2*x", "can_cache": true},
		Inputs:        []PropertySet{{Name: "x"}},
		Outputs:       []PropertySet{{Name: ReturnOutput}},
	}, func(_ *ExecContext, values map[string]any) (map[string]any, error) {
		count("test.cached_double")
		return map[string]any{ReturnOutput: asInt(values["x"]) * 2}, nil
	})

	return reg
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		panic(fmt.Sprintf("test op: unexpected value %v (%T)", v, v))
	}
}

// mustOpStep builds an OpStep or panics, keeping table setups compact.
func mustOpStep(id, op string, reg *Registry) *OpStep {
	s, err := NewOpStep(id, op, reg, false)
	if err != nil {
		panic(err)
	}
	return s
}

// mustBindRef sets a symbolic source reference or panics.
func mustBindRef(p *Port, ref string) {
	if err := p.SetSourceRef(ref); err != nil {
		panic(err)
	}
}

// testContext builds a root execution context with a fresh cache, for
// tests that drive steps directly.
func testContext(reg *Registry) *ExecContext {
	ec := newExecContext(context.Background(), nil, NewValueCache(nil), nil)
	ec.registry = reg
	return ec
}

// closeRecorder is a cache value carrying a close capability; it records
// how often it was closed and can be made to fail.
type closeRecorder struct {
	mu     sync.Mutex
	closed int
	fail   bool
}

func (c *closeRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	if c.fail {
		return fmt.Errorf("close failed")
	}
	return nil
}

func (c *closeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// recordingMonitor captures the monitor protocol for assertions.
type recordingMonitor struct {
	label    string
	total    float64
	worked   float64
	messages []string
	started  bool
	done     bool
	canceled bool
}

func (m *recordingMonitor) Start(label string, totalWork float64) {
	m.started = true
	m.label = label
	m.total = totalWork
}
func (m *recordingMonitor) Worked(amount float64)  { m.worked += amount }
func (m *recordingMonitor) SetMessage(msg string)  { m.messages = append(m.messages, msg) }
func (m *recordingMonitor) Done()                  { m.done = true }
func (m *recordingMonitor) IsCanceled() bool       { return m.canceled }
func (m *recordingMonitor) Child(_ float64) Monitor { return m }
