package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Trace exporters understood by SetupTracing.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter       string
	ServiceName    string
	ServiceVersion string
	// Writer receives stdout-exporter output; defaults to stderr so spans
	// never mix with the stdio transport.
	Writer io.Writer
}

// SetupTracing builds a tracer provider for cfg. The returned shutdown
// function flushes pending spans.
func SetupTracing(cfg TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	switch cfg.Exporter {
	case "", TraceExporterNone:
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	case TraceExporterStdout:
	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}
