// Package telemetry wires optional OpenTelemetry tracing and metrics
// around orchestrator runs, step execution, and approval waits. Every
// function is nil-safe: before Init is called (or when it is never
// called at all, the common case for a short-lived CLI invocation),
// the global tracer and meter are OpenTelemetry's no-op
// implementations, so instrumented code pays no cost and needs no
// guard clauses.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ExporterKind selects where spans are sent.
type ExporterKind string

const (
	// ExporterNone disables span export; StartSpan still returns a
	// valid no-op span so callers never need a nil check.
	ExporterNone ExporterKind = "none"
	// ExporterStdout writes spans as JSON to stdout, useful in local
	// development and tests.
	ExporterStdout ExporterKind = "stdout"
	// ExporterOTLPGRPC ships spans to a collector over OTLP/gRPC.
	ExporterOTLPGRPC ExporterKind = "otlp-grpc"
)

// Config configures Init.
type Config struct {
	ServiceName string
	Exporter    ExporterKind
	Endpoint    string // host:port, only used by ExporterOTLPGRPC
}

const instrumentationName = "github.com/detectforge/runbookcore"

var (
	tracerProvider atomic.Value // trace.TracerProvider
	tracer         atomic.Value // trace.Tracer
	meter          atomic.Value // metric.Meter

	counters   sync.Map // name -> metric.Int64Counter
	histograms sync.Map // name -> metric.Float64Histogram
)

func init() {
	tracerProvider.Store(otel.GetTracerProvider())
	tracer.Store(otel.Tracer(instrumentationName))
	meter.Store(otel.GetMeterProvider().Meter(instrumentationName))
}

// Init starts span export per cfg and installs the global tracer used
// by StartSpan. It returns a shutdown function that flushes and closes
// the exporter; callers should defer it from main. Metrics use
// whichever MeterProvider the process has configured (or the API's
// default no-op provider, if none).
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "runbookcore"
	}
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("telemetry: unknown exporter kind %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: build %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	tracerProvider.Store(tp)
	tracer.Store(tp.Tracer(instrumentationName))
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func currentTracer() trace.Tracer {
	return tracer.Load().(trace.Tracer)
}

// StartSpan opens a span named name, returning the derived context to
// thread through the call it wraps and the span to End when done.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return currentTracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanEvent records a named point-in-time event on ctx's span, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordSpanError marks ctx's span as failed and attaches err, if any.
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanAttributes attaches attrs to ctx's span, if any.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

func currentMeter() metric.Meter {
	return meter.Load().(metric.Meter)
}

// Counter increments name by 1, tagged with attrs. The instrument is
// created on first use and cached; a failure to create it (only
// possible with a misbehaving custom MeterProvider) is silently
// swallowed and the sample dropped, since metrics are never allowed to
// break the call they instrument.
func Counter(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	c, ok := counters.Load(name)
	if !ok {
		inst, err := currentMeter().Int64Counter(name)
		if err != nil {
			return
		}
		c, _ = counters.LoadOrStore(name, inst)
	}
	c.(metric.Int64Counter).Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram records value under name, tagged with attrs. Use for
// latencies, queue depths, and similar distributions.
func Histogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, ok := histograms.Load(name)
	if !ok {
		inst, err := currentMeter().Float64Histogram(name)
		if err != nil {
			return
		}
		h, _ = histograms.LoadOrStore(name, inst)
	}
	h.(metric.Float64Histogram).Record(ctx, value, metric.WithAttributes(attrs...))
}

// Duration records elapsed time since started, in milliseconds, under
// name. Typical use: `defer telemetry.Duration(ctx, "step.duration_ms", time.Now())`.
func Duration(ctx context.Context, name string, started time.Time, attrs ...attribute.KeyValue) {
	Histogram(ctx, name, float64(time.Since(started).Milliseconds()), attrs...)
}
