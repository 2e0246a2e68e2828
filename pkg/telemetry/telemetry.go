// Package telemetry provides OpenTelemetry distributed tracing for
// Tierstore. It instruments store operations and the degradation
// ladder with spans, supports W3C Trace Context propagation, and
// exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tierstore/tierstore"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "tierstore",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes Tierstore-specific helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Noop returns a provider whose spans are discarded. Useful as the
// default for callers that do not configure tracing.
func Noop() *Provider {
	return &Provider{
		tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
	}
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return Noop(), nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the Tierstore tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for store operations ---

// StartSetItem creates a span for a partition write.
func (p *Provider) StartSetItem(ctx context.Context, feature, tenant string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tierstore.store.set",
		trace.WithAttributes(
			attribute.String("tierstore.feature", feature),
			attribute.String("tierstore.tenant", tenant),
		),
	)
}

// StartGetItem creates a span for a partition read.
func (p *Provider) StartGetItem(ctx context.Context, feature, tenant string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tierstore.store.get",
		trace.WithAttributes(
			attribute.String("tierstore.feature", feature),
			attribute.String("tierstore.tenant", tenant),
		),
	)
}

// StartDegradation creates a span for one tier of the degradation ladder.
func (p *Provider) StartDegradation(ctx context.Context, tier string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tierstore.store.degrade",
		trace.WithAttributes(attribute.String("tierstore.degrade.tier", tier)),
	)
}

// StartMigration creates a span for a legacy-data migration.
func (p *Provider) StartMigration(ctx context.Context, feature string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tierstore.store.migrate",
		trace.WithAttributes(attribute.String("tierstore.feature", feature)),
	)
}

// StartCacheLookup creates a span for a cache lookup.
func (p *Provider) StartCacheLookup(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "tierstore.cache.lookup",
		trace.WithAttributes(
			attribute.String("tierstore.cache.name", name),
			attribute.String("tierstore.cache.key", key),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
