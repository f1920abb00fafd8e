package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func testMetrics(t *testing.T, staged func() int) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{meter: mp.Meter(instrumentationName), logger: zap.NewNop()}
	m.init(staged)
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected an int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_RecordCall(t *testing.T) {
	m, reader := testMetrics(t, nil)
	ctx := context.Background()

	m.RecordCall(ctx, "read_file", 10*time.Millisecond, nil)
	m.RecordCall(ctx, "read_file", 5*time.Millisecond, errors.New("Error: File 'x' does not exist"))

	got := collect(t, reader)
	require.Contains(t, got, "koda.mcp.tool.calls_total")
	require.Contains(t, got, "koda.mcp.tool.duration_seconds")
	require.Contains(t, got, "koda.mcp.tool.failures_total")
	assert.Equal(t, int64(2), sumInt(t, got["koda.mcp.tool.calls_total"]))
	assert.Equal(t, int64(1), sumInt(t, got["koda.mcp.tool.failures_total"]))

	calls := got["koda.mcp.tool.calls_total"].(metricdata.Sum[int64])
	outcomes := map[string]int64{}
	for _, dp := range calls.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		outcomes[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"ok": 1, "error": 1}, outcomes)
}

func TestMetrics_Ledger(t *testing.T) {
	staged := 3
	m, reader := testMetrics(t, func() int { return staged })
	ctx := context.Background()

	m.RecordLedger(ctx, actionApplied, 2)
	m.RecordLedger(ctx, actionDiscarded, 0)
	m.RecordLedger(ctx, actionDiscarded, 1)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sumInt(t, got["koda.mcp.ledger.changes_total"]))

	gauge, ok := got["koda.mcp.ledger.staged"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value)

	staged = 0
	gauge = collect(t, reader)["koda.mcp.ledger.staged"].(metricdata.Gauge[int64])
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("missing required argument: path"), "bad_input"},
		{errors.New("invalid arguments: unexpected EOF"), "bad_input"},
		{errors.New("Error: File 'a.go' does not exist"), "not_found"},
		{errors.New("command timed out after 30s"), "timeout"},
		{errors.New("command rejected: rm is denied"), "policy"},
		{errors.New("Tool 'write_file' is not available in read-only mode"), "policy"},
		{errors.New("apply staged changes: disk full"), "apply"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, failureReason(tt.err), "%v", tt.err)
	}
}
