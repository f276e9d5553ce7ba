// Package tracing installs the OpenTelemetry tracer used for inbound bus
// messages.
package tracing

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the appbridge tracer
const InstrumentationName = "github.com/fluxorio/appbridge"

// Config holds tracing configuration
type Config struct {
	Enabled     bool      // Whether tracing is enabled
	ServiceName string    // Reported as service.name
	Pretty      bool      // Indent exported spans
	Writer      io.Writer // Span output. Default: os.Stdout
}

// DefaultConfig returns a default tracing configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "appbridge",
	}
}

// Setup builds a tracer that writes spans to cfg.Writer. If cfg.Enabled is
// false it returns a no-op tracer. The returned shutdown flushes pending
// spans.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.Enabled {
		tracer := noop.NewTracerProvider().Tracer(InstrumentationName)
		return tracer, func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultConfig().ServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer(InstrumentationName), tp.Shutdown, nil
}
