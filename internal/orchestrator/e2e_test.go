package orchestrator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/keyur7523/koda/internal/dispatch"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/tools"
)

type scriptedClient struct {
	mock.Mock
}

func (c *scriptedClient) Chat(ctx context.Context, prompt string, phase orchestrator.Phase) (*orchestrator.Response, error) {
	args := c.Called(ctx, prompt, phase)
	return args.Get(0).(*orchestrator.Response), args.Error(1)
}

func (c *scriptedClient) ChatWithTools(ctx context.Context, msgs []orchestrator.Message, tools []orchestrator.Tool, phase orchestrator.Phase) (*orchestrator.Response, error) {
	args := c.Called(ctx, msgs, tools, phase)
	return args.Get(0).(*orchestrator.Response), args.Error(1)
}

func text(s string) *orchestrator.Response {
	return &orchestrator.Response{
		Content:    []orchestrator.ContentBlock{{Type: orchestrator.BlockText, Text: s}},
		StopReason: orchestrator.StopEndTurn,
	}
}

func calls(c ...orchestrator.ToolCall) *orchestrator.Response {
	return &orchestrator.Response{ToolCalls: c, StopReason: orchestrator.StopToolUse}
}

// TestEndToEnd drives a full run through the real tool registry: the model
// lists the root while understanding, tries to write while read-only, then
// stages hello.txt during execution.
func TestEndToEnd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("# demo\n"), 0o644))

	client := new(scriptedClient)
	client.On("ChatWithTools", mock.Anything, mock.Anything, mock.Anything, orchestrator.PhaseUnderstanding).
		Return(calls(
			orchestrator.ToolCall{ID: "u1", Name: "list_directory", Input: map[string]any{"path": "."}},
			orchestrator.ToolCall{ID: "u2", Name: "write_file", Input: map[string]any{"path": "x.txt", "content": "no"}},
		), nil).Once()
	client.On("ChatWithTools", mock.Anything, mock.Anything, mock.Anything, orchestrator.PhaseUnderstanding).
		Return(text("A demo repository with a README."), nil).Once()
	client.On("Chat", mock.Anything, mock.Anything, orchestrator.PhasePlanning).
		Return(text(`[{"description":"create hello.txt","tool":"write_file"}]`), nil).Once()
	client.On("ChatWithTools", mock.Anything, mock.Anything, mock.Anything, orchestrator.PhaseExecuting).
		Return(calls(orchestrator.ToolCall{ID: "e1", Name: "write_file", Input: map[string]any{"path": "hello.txt", "content": "hi"}}), nil).Once()
	client.On("ChatWithTools", mock.Anything, mock.Anything, mock.Anything, orchestrator.PhaseExecuting).
		Return(text("Created hello.txt"), nil).Once()

	results := map[string]string{}
	sink := &resultSink{results: results}

	d := dispatch.New(tools.NewDefaultRegistry(tools.DefaultConfig()))
	o := orchestrator.New(client, d, orchestrator.WithRoot(root), orchestrator.WithSink(sink))

	state, err := o.Run(context.Background(), "create hello.txt with 'hi'")
	require.NoError(t, err)
	require.Equal(t, orchestrator.PhaseAwaitingApproval, state.Phase)

	assert.Equal(t, "Error: Tool 'write_file' is not available in read-only mode", sink.first["write_file"])
	assert.Contains(t, results["list_directory"], "README.md")
	assert.NoFileExists(t, filepath.Join(root, "x.txt"))
	assert.Equal(t, "--- /dev/null\n+++ hello.txt\n@@ -0,0 +1 @@\n+hi\n", o.Workspace().Ledger().Diff())

	out, err := o.Approve(context.Background(), orchestrator.Decision{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, "Applied 1 change(s):\nCreated: hello.txt", out.Message)

	got, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
	assert.Equal(t, 0, o.Workspace().Ledger().Len())
	client.AssertExpectations(t)
}

type resultSink struct {
	orchestrator.NopSink
	results map[string]string
	first   map[string]string
}

func (s *resultSink) OnToolResult(_ context.Context, name, result string) {
	if s.first == nil {
		s.first = map[string]string{}
	}
	if _, ok := s.first[name]; !ok {
		s.first[name] = result
	}
	s.results[name] = result
}
