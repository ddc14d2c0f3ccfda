// Package observe provides OTEL-based observability for workflow
// execution.
//
// It wires trace, metric, and log providers with OTLP HTTP exporters and
// exposes a flow.Monitor implementation that reports step progress as
// span events. Users export to any OTEL-compatible backend by setting
// standard OTEL env vars.
package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/flowgraph/observe"

// Instruments holds all OTEL instruments used during workflow execution.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Counters
	WorkflowExecutions metric.Int64Counter
	StepExecutions     metric.Int64Counter
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter

	// Histograms
	WorkflowDuration metric.Float64Histogram
	StepDuration     metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that
// must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("flowgraph")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	workflowExecutions, err := meter.Int64Counter("workflow.executions",
		metric.WithDescription("Workflow execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	stepExecutions, err := meter.Int64Counter("workflow.step.executions",
		metric.WithDescription("Step execution count"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter("workflow.cache.hits",
		metric.WithDescription("Value cache hits"),
		metric.WithUnit("{hit}"))
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter("workflow.cache.misses",
		metric.WithDescription("Value cache misses"),
		metric.WithUnit("{miss}"))
	if err != nil {
		return nil, err
	}

	workflowDuration, err := meter.Float64Histogram("workflow.duration",
		metric.WithDescription("Workflow execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("workflow.step.duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:             tracer,
		Meter:              meter,
		Logger:             logger,
		WorkflowExecutions: workflowExecutions,
		StepExecutions:     stepExecutions,
		CacheHits:          cacheHits,
		CacheMisses:        cacheMisses,
		WorkflowDuration:   workflowDuration,
		StepDuration:       stepDuration,
	}, nil
}
