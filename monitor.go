package flow

import "sync/atomic"

// Monitor is the cooperative progress and cancellation capability threaded
// through invocations. Implementations may apportion work
// units to children; cancellation is cooperative — the engine checks
// between steps, and step bodies (operations, subprocess drivers,
// expression evaluators) should check during their own loops.
type Monitor interface {
	Start(label string, totalWork float64)
	Worked(amount float64)
	SetMessage(msg string)
	Done()
	IsCanceled() bool
	Child(totalWork float64) Monitor
}

// NoopMonitor is a Monitor that does nothing and is never canceled. It is
// the default when a caller does not supply one.
type NoopMonitor struct{}

func (NoopMonitor) Start(string, float64) {}
func (NoopMonitor) Worked(float64)        {}
func (NoopMonitor) SetMessage(string)     {}
func (NoopMonitor) Done()                 {}
func (NoopMonitor) IsCanceled() bool      { return false }
func (NoopMonitor) Child(float64) Monitor { return NoopMonitor{} }

// CancelableMonitor is a simple Monitor supporting external cancellation
// via Cancel(), used by tests and by callers without an observability
// backend. Children share the same cancellation flag as their parent.
type CancelableMonitor struct {
	canceled *atomic.Bool
	label    string
}

// NewCancelableMonitor returns a monitor that is canceled once Cancel is
// called on it or on any of its ancestors/descendants.
func NewCancelableMonitor() *CancelableMonitor {
	return &CancelableMonitor{canceled: &atomic.Bool{}}
}

func (m *CancelableMonitor) Start(label string, _ float64) { m.label = label }
func (m *CancelableMonitor) Worked(float64)                {}
func (m *CancelableMonitor) SetMessage(string)             {}
func (m *CancelableMonitor) Done()                         {}
func (m *CancelableMonitor) IsCanceled() bool              { return m.canceled.Load() }
func (m *CancelableMonitor) Cancel()                       { m.canceled.Store(true) }
func (m *CancelableMonitor) Child(_ float64) Monitor {
	return &CancelableMonitor{canceled: m.canceled}
}
