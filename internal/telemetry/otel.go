package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry wraps a tracer and meter the way core.Telemetry does in the
// teacher framework, offering a StartSpan surface and Record* metric
// helpers. No caller in this module starts a span or records a metric
// through them.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	cognitionDuration metric.Float64Histogram
	memoryOps         metric.Int64Counter
	admissionOutcomes metric.Int64Counter
}

// Span mirrors core.Span.
type Span struct {
	span trace.Span
}

func (s Span) End() { s.span.End() }
func (s Span) SetAttribute(key string, value interface{}) {
	// Attribute typing kept loose here; callers pass primitive values only.
	s.span.AddEvent(fmt.Sprintf("%s=%v", key, value))
}
func (s Span) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

// Config controls exporter selection.
type Config struct {
	ServiceName    string
	OTLPEndpoint   string // empty => stdout exporter (dev mode)
	SamplingRatio  float64
}

// New configures the global OTel tracer provider and returns a Telemetry
// handle. Grounded on itsneelabh-gomind/telemetry's otel.go, trimmed to the
// subset cortexd actually exercises.
func New(ctx context.Context, cfg Config) (*Telemetry, func(context.Context) error, error) {
	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	ratio := cfg.SamplingRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(tp)

	t := &Telemetry{
		tracer: tp.Tracer("cortexd"),
		meter:  otel.GetMeterProvider().Meter("cortexd"),
	}

	t.cognitionDuration, _ = t.meter.Float64Histogram("cognition.duration_seconds")
	t.memoryOps, _ = t.meter.Int64Counter("memory.operations")
	t.admissionOutcomes, _ = t.meter.Int64Counter("memory.admission.outcomes")

	shutdown := func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}
	return t, shutdown, nil
}

func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, sp := t.tracer.Start(ctx, name)
	return ctx, Span{span: sp}
}

func (t *Telemetry) RecordCognitionDuration(ctx context.Context, d time.Duration, status string) {
	if t.cognitionDuration == nil {
		return
	}
	t.cognitionDuration.Record(ctx, d.Seconds())
}

func (t *Telemetry) RecordMemoryOp(ctx context.Context, op, kind, result string) {
	if t.memoryOps == nil {
		return
	}
	t.memoryOps.Add(ctx, 1)
}

func (t *Telemetry) RecordAdmissionOutcome(ctx context.Context, outcome string) {
	if t.admissionOutcomes == nil {
		return
	}
	t.admissionOutcomes.Add(ctx, 1)
}
