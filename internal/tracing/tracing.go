// ABOUTME: OpenTelemetry tracer provider for the registry server
// ABOUTME: Disabled tracing yields a no-op provider; "stdout" pretty-prints finished spans

package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "model-registry"

// Config configures tracing
type Config struct {
	// Enabled controls whether spans are recorded at all
	Enabled bool `mapstructure:"enabled"`

	// Exporter is "none" or "stdout"
	Exporter string `mapstructure:"exporter"`

	// SampleRate is the fraction of root traces sampled. Zero means 1.
	SampleRate float64 `mapstructure:"sample_rate"`

	ServiceName string `mapstructure:"service_name"`

	// Writer receives stdout exporter output; os.Stdout when nil
	Writer io.Writer `mapstructure:"-"`
}

// Provider owns the tracer provider and its exporter
type Provider struct {
	provider *sdktrace.TracerProvider
	tp       trace.TracerProvider
	enabled  bool
}

// NewProvider builds the provider described by cfg and installs it as the
// global provider when tracing is enabled
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tp: noop.NewTracerProvider()}, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "stdout":
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		var err error
		exporter, err = stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case "none", "":
		// spans are still created for log correlation
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider, tp: provider, enabled: true}, nil
}

// TracerProvider is the provider to create tracers from. It is safe to use
// when tracing is disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
