package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keyur7523/koda/internal/metrics"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/tools"
	"github.com/keyur7523/koda/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	ws, err := workspace.New(root)
	require.NoError(t, err)
	return ws
}

func TestExecute(t *testing.T) {
	ws := newWorkspace(t)
	d := New(tools.NewDefaultRegistry(tools.DefaultConfig()))
	ctx := context.Background()

	tests := []struct {
		name     string
		call     orchestrator.ToolCall
		readOnly bool
		want     string
	}{
		{
			name: "success",
			call: orchestrator.ToolCall{ID: "1", Name: "read_file", Input: map[string]any{"path": "a.txt"}},
			want: "alpha",
		},
		{
			name: "unknown tool",
			call: orchestrator.ToolCall{ID: "2", Name: "launch_rockets"},
			want: "Error: Unknown tool 'launch_rockets'",
		},
		{
			name: "tool error becomes text",
			call: orchestrator.ToolCall{ID: "3", Name: "read_file", Input: map[string]any{}},
			want: "Error executing read_file: missing required argument: path",
		},
		{
			name: "nil input",
			call: orchestrator.ToolCall{ID: "4", Name: "read_file"},
			want: "Error executing read_file: missing required argument: path",
		},
		{
			name:     "mutating tool in read-only mode",
			call:     orchestrator.ToolCall{ID: "5", Name: "write_file", Input: map[string]any{"path": "b.txt", "content": "x"}},
			readOnly: true,
			want:     "Error: Tool 'write_file' is not available in read-only mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Execute(ctx, ws, tt.call, tt.readOnly))
		})
	}

	assert.Equal(t, 0, ws.Ledger().Len(), "read-only denial must not stage anything")
}

func TestExecute_RecoversPanic(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Spec{
		Name:     "explode",
		ReadOnly: true,
		Handler: func(context.Context, *workspace.Workspace, tools.Args) (string, error) {
			panic("boom")
		},
	}))
	require.NoError(t, reg.Register(&tools.Spec{
		Name:     "fail",
		ReadOnly: true,
		Handler: func(context.Context, *workspace.Workspace, tools.Args) (string, error) {
			return "", errors.New("disk on fire")
		},
	}))

	m := metrics.New(prometheus.NewRegistry())
	d := New(reg, WithMetrics(m))
	ws := newWorkspace(t)

	got := d.Execute(context.Background(), ws, orchestrator.ToolCall{Name: "explode"}, false)
	assert.Equal(t, "Error executing explode: panic: boom", got)

	got = d.Execute(context.Background(), ws, orchestrator.ToolCall{Name: "fail"}, false)
	assert.Equal(t, "Error executing fail: disk on fire", got)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("explode", metrics.StatusPanicked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("fail", metrics.StatusError)))
}

func TestExecute_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	d := New(tools.NewDefaultRegistry(tools.DefaultConfig()), WithTracer(tp.Tracer("test")))

	d.Execute(context.Background(), newWorkspace(t), orchestrator.ToolCall{Name: "list_directory", Input: map[string]any{"path": "."}}, true)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool.list_directory", spans[0].Name())
}

func TestSchemas(t *testing.T) {
	d := New(tools.NewDefaultRegistry(tools.DefaultConfig()))

	all := d.Schemas(false)
	readOnly := d.Schemas(true)
	assert.Len(t, all, 8)
	assert.Len(t, readOnly, 6)

	names := make([]string, 0, len(readOnly))
	for _, s := range readOnly {
		names = append(names, s.Name)
		assert.Equal(t, "object", s.InputSchema["type"])
	}
	assert.NotContains(t, names, "write_file")
	assert.NotContains(t, names, "delete_file")
	assert.Contains(t, names, "run_command")
}
