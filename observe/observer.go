package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/nevindra/flowgraph"
)

// Observer implements flow.ExecObserver on the OTel instruments: one
// counter increment and one duration sample per workflow and per step,
// and a hit/miss counter per cacheable-step cache consultation. Wire it
// with flow.WithObserver(observe.NewObserver(inst)).
type Observer struct {
	inst *Instruments
}

var _ flow.ExecObserver = (*Observer)(nil)

// NewObserver returns an Observer recording onto inst.
func NewObserver(inst *Instruments) *Observer {
	return &Observer{inst: inst}
}

func (o *Observer) WorkflowDone(ctx context.Context, qualifiedName, id string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		AttrWorkflowName.String(qualifiedName),
		AttrWorkflowID.String(id),
		AttrCanceled.Bool(errors.Is(err, flow.ErrCanceled)),
	)
	o.inst.WorkflowExecutions.Add(ctx, 1, attrs)
	o.inst.WorkflowDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

func (o *Observer) StepDone(ctx context.Context, stepID, kind string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		AttrStepID.String(stepID),
		AttrStepKind.String(kind),
		AttrCanceled.Bool(errors.Is(err, flow.ErrCanceled)),
	)
	o.inst.StepExecutions.Add(ctx, 1, attrs)
	o.inst.StepDuration.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
}

func (o *Observer) CacheAccess(ctx context.Context, key string, hit bool) {
	attrs := metric.WithAttributes(AttrCacheKey.String(key))
	if hit {
		o.inst.CacheHits.Add(ctx, 1, attrs)
		return
	}
	o.inst.CacheMisses.Add(ctx, 1, attrs)
}
