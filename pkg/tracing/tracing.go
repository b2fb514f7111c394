package tracing

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/m-mizutani/pika"

// Config holds tracing configuration
type Config struct {
	// Endpoint is the OTLP gRPC endpoint such as "localhost:4317". Empty disables export.
	Endpoint string
	Insecure bool
	Version  string
}

// Provider owns the SDK tracer provider installed as the global one
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Tracer returns the tracer used across pika. Without Setup it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Setup installs a global tracer provider exporting to cfg.Endpoint. With an empty
// endpoint it returns a Provider whose Shutdown does nothing.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return &Provider{}, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create OTLP exporter", goerr.V("endpoint", cfg.Endpoint))
	}

	res, err := resource.New(dialCtx,
		resource.WithAttributes(
			semconv.ServiceName("pika"),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logging.From(ctx).Info("tracing enabled", "endpoint", cfg.Endpoint)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes remaining spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return goerr.Wrap(err, "failed to shutdown tracer provider")
	}
	return nil
}
