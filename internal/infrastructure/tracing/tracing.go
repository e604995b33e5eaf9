// Package tracing provides OpenTelemetry tracing for a run's walk across the
// execution graph, so a single Advance call's node-by-node activations can
// be followed as spans. Trace context is not injected into outbound worker
// webhook requests. Grounded on the OpenTelemetry SDK wiring idiom used by other
// workflow engines in this space (OTLP/HTTP exporter, resource, sampler,
// batched TracerProvider).
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls whether tracing is enabled and where spans are exported.
type Config struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Insecure    bool
	SampleRate  float64
}

// LoadConfig reads OTEL_* environment variables, following the same
// getEnv/getEnvInt idiom as cmd/server/config.Load.
func LoadConfig() Config {
	return Config{
		Enabled:     os.Getenv("OTEL_ENABLED") == "true",
		ServiceName: getEnv("OTEL_SERVICE_NAME", "stitch"),
		Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false",
		SampleRate:  getEnvFloat("OTEL_SAMPLE_RATE", 1.0),
	}
}

// Provider wraps the OpenTelemetry TracerProvider for lifecycle management.
// A nil *Provider is valid and returns a no-op tracer, matching the
// Engine's nil-safe Events/Metrics collaborator pattern.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider builds a Provider, or returns (nil, nil) when tracing is
// disabled.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Tracer returns the underlying tracer, or a no-op tracer for a nil
// Provider (tracing disabled).
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Shutdown flushes and stops the TracerProvider. Safe to call on a nil
// Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartNodeSpan starts a span for one activate() call, named after the
// node kind so traces read as a walk across the graph: advance -> worker ->
// collector -> ...
func (p *Provider) StartNodeSpan(ctx context.Context, runID, nodeID, kind string) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "stitch.activate."+kind, trace.WithAttributes(
		attribute.String("stitch.run_id", runID),
		attribute.String("stitch.node_id", nodeID),
	))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
