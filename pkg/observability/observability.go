// Package observability provides the OpenTelemetry provider for the run
// loop around the kernel: per-batch spans and counters for outputs,
// refusals, fatals, and epoch boundaries. The kernel itself performs no I/O
// and takes no dependency on this package.
package observability

import (
	"context"
	"fmt"
	"log/slog"
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

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	SampleRate     float64       // 0.0 to 1.0, default 1.0 (sample all)
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool          // enable/disable telemetry
	Insecure       bool          // use insecure connection (dev only)
}

// DefaultConfig returns offline-friendly defaults: telemetry stays off until
// a collector endpoint is deliberately configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "axio-kernel",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages OpenTelemetry trace and metric providers.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	batchCounter   metric.Int64Counter
	outputCounter  metric.Int64Counter
	refusalCounter metric.Int64Counter
	fatalCounter   metric.Int64Counter
	epochGauge     metric.Int64Gauge
	batchDuration  metric.Float64Histogram
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("axio.component", "kernel"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("axio.kernel",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = otel.Meter("axio.kernel",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)

	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)

	otel.SetMeterProvider(p.meterProvider)

	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.batchCounter, err = p.meter.Int64Counter("axio.batches.total",
		metric.WithDescription("Total number of batches processed"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return err
	}

	p.outputCounter, err = p.meter.Int64Counter("axio.outputs.total",
		metric.WithDescription("Total number of outputs emitted, by output type"),
		metric.WithUnit("{output}"),
	)
	if err != nil {
		return err
	}

	p.refusalCounter, err = p.meter.Int64Counter("axio.refusals.total",
		metric.WithDescription("Total number of refused operations, by reason code"),
		metric.WithUnit("{refusal}"),
	)
	if err != nil {
		return err
	}

	p.fatalCounter, err = p.meter.Int64Counter("axio.fatals.total",
		metric.WithDescription("Total number of fatal batch failures, by code"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	p.epochGauge, err = p.meter.Int64Gauge("axio.epoch.current",
		metric.WithDescription("Current epoch of the run"),
		metric.WithUnit("{epoch}"),
	)
	if err != nil {
		return err
	}

	p.batchDuration, err = p.meter.Float64Histogram("axio.batch.duration",
		metric.WithDescription("Batch processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("axio.kernel")
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter("axio.kernel")
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordOutput counts one emitted output.
func (p *Provider) RecordOutput(ctx context.Context, outputType string) {
	if p.outputCounter != nil {
		p.outputCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("output_type", outputType),
		))
	}
}

// RecordRefusal counts one refused operation.
func (p *Provider) RecordRefusal(ctx context.Context, reasonCode string) {
	if p.refusalCounter != nil {
		p.refusalCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason_code", reasonCode),
		))
	}
}

// RecordFatal counts one fatal batch failure.
func (p *Provider) RecordFatal(ctx context.Context, code string) {
	if p.fatalCounter != nil {
		p.fatalCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("fatal_code", code),
		))
	}
}

// RecordEpoch reports the current epoch after a boundary.
func (p *Provider) RecordEpoch(ctx context.Context, epoch uint64) {
	if p.epochGauge != nil {
		p.epochGauge.Record(ctx, int64(epoch))
	}
}

// TrackBatch opens a span for one batch and returns the completion hook.
func (p *Provider) TrackBatch(ctx context.Context, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, "kernel.process_batch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	if p.batchCounter != nil {
		p.batchCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p.batchDuration != nil {
			p.batchDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
