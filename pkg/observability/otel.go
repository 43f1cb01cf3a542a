package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryOptions configures the OTLP pipeline. An empty Endpoint
// disables export entirely; the process then runs on no-op providers.
type TelemetryOptions struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // host:port of an OTLP gRPC collector
}

// Telemetry holds the configured providers and the instruments the
// worker records into.
type Telemetry struct {
	enabled        bool
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	runsCounter     metric.Int64Counter
	incidentCounter metric.Int64Counter
	purgedCounter   metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// NewTelemetry initializes tracing and metrics. The collector is
// assumed to sit next to the worker, so the gRPC link is plaintext.
func NewTelemetry(ctx context.Context, opts TelemetryOptions) (*Telemetry, error) {
	t := &Telemetry{
		tracer: otel.Tracer(opts.ServiceName),
		meter:  otel.Meter(opts.ServiceName),
	}
	if opts.Endpoint == "" {
		return t, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	t.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(opts.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(t.meterProvider)

	t.tracer = otel.Tracer(opts.ServiceName, trace.WithInstrumentationVersion(opts.ServiceVersion))
	t.meter = otel.Meter(opts.ServiceName, metric.WithInstrumentationVersion(opts.ServiceVersion))
	if err := t.initInstruments(); err != nil {
		return nil, err
	}
	t.enabled = true
	return t, nil
}

func (t *Telemetry) initInstruments() error {
	var err error
	t.runsCounter, err = t.meter.Int64Counter("incidentflow.runs.total",
		metric.WithDescription("Completed worker runs by status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("failed to init runs counter: %w", err)
	}
	t.incidentCounter, err = t.meter.Int64Counter("incidentflow.incidents.total",
		metric.WithDescription("Incidents detected across hosts"),
		metric.WithUnit("{incident}"),
	)
	if err != nil {
		return fmt.Errorf("failed to init incident counter: %w", err)
	}
	t.purgedCounter, err = t.meter.Int64Counter("incidentflow.purged_runs.total",
		metric.WithDescription("Runs removed by retention"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return fmt.Errorf("failed to init purged counter: %w", err)
	}
	t.runDuration, err = t.meter.Float64Histogram("incidentflow.run.duration",
		metric.WithDescription("Wall-clock duration of a worker run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to init duration histogram: %w", err)
	}
	return nil
}

// StartSpan opens a span on the configured tracer.
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordRun counts one finished run with its final status.
func (t *Telemetry) RecordRun(ctx context.Context, status string, elapsed time.Duration) {
	if !t.enabled {
		return
	}
	t.runsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	t.runDuration.Record(ctx, elapsed.Seconds())
}

// RecordIncidents counts detected incidents.
func (t *Telemetry) RecordIncidents(ctx context.Context, n int) {
	if !t.enabled || n == 0 {
		return
	}
	t.incidentCounter.Add(ctx, int64(n))
}

// RecordPurged counts runs removed by retention.
func (t *Telemetry) RecordPurged(ctx context.Context, n int) {
	if !t.enabled || n == 0 {
		return
	}
	t.purgedCounter.Add(ctx, int64(n))
}

// Shutdown flushes exporters. Safe on a disabled Telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown trace provider: %w", err)
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metric provider: %w", err)
		}
	}
	return nil
}
