package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type echoInput struct {
	Value string `json:"value"`
}

func handler(res *mcp.CallToolResult, err error) mcp.ToolHandlerFor[echoInput, any] {
	return func(context.Context, *mcp.CallToolRequest, echoInput) (*mcp.CallToolResult, any, error) {
		return res, nil, err
	}
}

func TestWrapRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	inst := NewInstrumenter(m, tp, nil)

	ok := Wrap(inst, "get_entity", handler(&mcp.CallToolResult{}, nil))
	toolErr := Wrap(inst, "get_entity", handler(&mcp.CallToolResult{IsError: true}, nil))
	failure := Wrap(inst, "run_cypher", handler(nil, errors.New("bad params")))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, _, err := ok(ctx, nil, echoInput{})
		require.NoError(t, err)
	}
	_, _, err := toolErr(ctx, nil, echoInput{})
	require.NoError(t, err)
	_, _, err = failure(ctx, nil, echoInput{})
	require.Error(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("get_entity", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("get_entity", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("run_cypher", OutcomeFailure)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ToolsInFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ToolDuration))

	spans := recorder.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, "tool get_entity", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, codes.Error, spans[3].Status().Code)
	assert.Equal(t, "bad params", spans[3].Status().Description)
}

func TestWrapWithoutMetrics(t *testing.T) {
	inst := NewInstrumenter(nil, nil, nil)
	h := Wrap(inst, "list_projects", handler(&mcp.CallToolResult{}, nil))
	res, _, err := h(context.Background(), nil, echoInput{})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Nil(t, inst.Metrics())
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.MigrationsApplied.Inc()

	expected := `
# HELP graph_mcp_migrations_applied_total Migrations applied successfully.
# TYPE graph_mcp_migrations_applied_total counter
graph_mcp_migrations_applied_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "graph_mcp_migrations_applied_total"))
}

func TestSetupTracing(t *testing.T) {
	tp, shutdown, err := SetupTracing(TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, shutdown(context.Background()))

	_, _, err = SetupTracing(TracingConfig{Exporter: "zipkin"})
	assert.Error(t, err)

	var out bytes.Buffer
	tp, shutdown, err = SetupTracing(TracingConfig{
		Exporter:    TraceExporterStdout,
		ServiceName: "graph-mcp",
		Writer:      &out,
	})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "export-check")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), `"Name":"export-check"`)
}
