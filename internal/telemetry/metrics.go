// Package telemetry provides tool-call metrics and tracing.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const namespace = "graph_mcp"

// Outcome label values of the tool call counter.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeFailure = "failure"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	ToolCalls         *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	ToolsInFlight     prometheus.Gauge
	MigrationsApplied prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (ok, error result, protocol failure).",
		}, []string{"tool", "outcome"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool"}),
		ToolsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tools_in_flight",
			Help:      "Tool calls currently executing.",
		}),
		MigrationsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_applied_total",
			Help:      "Migrations applied successfully.",
		}),
	}
}

// Instrumenter wraps tool handlers with a span, metrics and a debug log line.
type Instrumenter struct {
	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewInstrumenter returns an Instrumenter. A nil provider disables tracing.
func NewInstrumenter(m *Metrics, tp trace.TracerProvider, logger *slog.Logger) *Instrumenter {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumenter{
		metrics: m,
		tracer:  tp.Tracer("graph-mcp/tools"),
		logger:  logger.With("component", "tools"),
	}
}

// Metrics returns the collectors, which may be nil.
func (i *Instrumenter) Metrics() *Metrics { return i.metrics }

// Wrap instruments h under the given tool name.
func Wrap[In any](i *Instrumenter, tool string, h mcp.ToolHandlerFor[In, any]) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		ctx, span := i.tracer.Start(ctx, "tool "+tool,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", tool)),
		)
		defer span.End()

		if i.metrics != nil {
			i.metrics.ToolsInFlight.Inc()
			defer i.metrics.ToolsInFlight.Dec()
		}

		start := time.Now()
		res, out, err := h(ctx, req, in)
		elapsed := time.Since(start)

		outcome := OutcomeOK
		switch {
		case err != nil:
			outcome = OutcomeFailure
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res != nil && res.IsError:
			outcome = OutcomeError
			span.SetStatus(codes.Error, "tool returned an error result")
		}
		span.SetAttributes(attribute.String("mcp.outcome", outcome))

		if i.metrics != nil {
			i.metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
			i.metrics.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
		}
		i.logger.Debug("tool call", "tool", tool, "outcome", outcome, "duration_ms", elapsed.Milliseconds())
		return res, out, err
	}
}
