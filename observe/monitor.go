package observe

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/flowgraph"
)

// Monitor implements flow.Monitor on top of an OTEL span: Start opens a
// span, Worked and SetMessage become span events, Done ends the span.
// Cancellation is driven by the construction context, so cancelling that
// context cooperatively aborts the workflow between steps.
type Monitor struct {
	inst     *Instruments
	ctx      context.Context
	span     trace.Span
	canceled *atomic.Bool
}

var _ flow.Monitor = (*Monitor)(nil)

// NewMonitor returns a Monitor whose IsCanceled follows ctx. Cancel the
// context to abort the running workflow.
func NewMonitor(ctx context.Context, inst *Instruments) *Monitor {
	return &Monitor{inst: inst, ctx: ctx, canceled: &atomic.Bool{}}
}

// Cancel marks the monitor (and every child sharing its flag) canceled.
func (m *Monitor) Cancel() { m.canceled.Store(true) }

func (m *Monitor) Start(label string, totalWork float64) {
	_, span := m.inst.Tracer.Start(m.ctx, "progress",
		trace.WithAttributes(
			AttrProgressLabel.String(label),
			AttrProgressTotal.Float64(totalWork),
		))
	m.span = span
}

func (m *Monitor) Worked(amount float64) {
	if m.span == nil {
		return
	}
	m.span.AddEvent("worked", trace.WithAttributes(AttrProgressWork.Float64(amount)))
}

func (m *Monitor) SetMessage(msg string) {
	if m.span == nil {
		return
	}
	m.span.AddEvent("message", trace.WithAttributes(AttrProgressMsg.String(msg)))
}

func (m *Monitor) Done() {
	if m.span == nil {
		return
	}
	m.span.End()
	m.span = nil
}

func (m *Monitor) IsCanceled() bool {
	if m.canceled.Load() {
		return true
	}
	return m.ctx.Err() != nil
}

// Child returns a monitor sharing the parent's cancellation flag and
// context; each child opens its own progress span.
func (m *Monitor) Child(_ float64) flow.Monitor {
	return &Monitor{inst: m.inst, ctx: m.ctx, canceled: m.canceled}
}
