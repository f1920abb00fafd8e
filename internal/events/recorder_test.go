package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/secrets"
)

// collector records published events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Publish(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

// maskScrubber replaces "hunter2" with a marker.
type maskScrubber struct{}

func (maskScrubber) Scrub(content string) *secrets.Result {
	return &secrets.Result{Scrubbed: strings.ReplaceAll(content, "hunter2", "[REDACTED:test]")}
}
func (maskScrubber) Check(content string) *secrets.Result { return &secrets.Result{Scrubbed: content} }
func (maskScrubber) CheckFile(_, content string) *secrets.Result {
	return &secrets.Result{Scrubbed: content}
}
func (maskScrubber) IsEnabled() bool { return true }

func TestRecorder_Sequence(t *testing.T) {
	ctx := context.Background()
	c := &collector{}
	r := NewRecorder("run-1", WithPublishers(c))

	r.OnPhaseChange(ctx, orchestrator.PhaseUnderstanding)
	r.OnToolCall(ctx, "read_file", map[string]any{"path": "a.go"})
	r.OnToolResult(ctx, "read_file", "package a")
	r.OnSummary(ctx, "a tiny repo")
	r.OnPlan(ctx, []orchestrator.PlanStep{{Description: "write"}})
	r.OnApprovalRequired(ctx, orchestrator.ApprovalRequest{
		Diff:    "--- /dev/null\n+++ a.txt\n",
		Summary: "Staged: 1 file(s) to create",
		Changes: []ledger.Change{{Path: "a.txt", Kind: ledger.KindCreate, NewContent: "x"}},
	})
	r.OnComplete(ctx, orchestrator.Outcome{Approved: true, Applied: 1, Message: "Applied 1 change(s):\nCreated: a.txt"})

	assert.Equal(t, []Type{TypePhase, TypeToolCall, TypeToolResult, TypeSummary, TypePlan, TypeApproval, TypeComplete}, c.types())
	for i, ev := range c.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
		assert.False(t, ev.Time.IsZero())
	}
	assert.Equal(t, "understanding", c.events[0].Data["phase"])
	assert.Equal(t, []map[string]any{{"path": "a.txt", "kind": "create"}}, c.events[5].Data["changes"])
	assert.Equal(t, 1, c.events[6].Data["applied"])
	assert.Len(t, r.History(), 7)
	assert.True(t, TypeComplete.Terminal())
	assert.False(t, TypeApproval.Terminal())
}

func TestRecorder_TruncatesToolResults(t *testing.T) {
	c := &collector{}
	r := NewRecorder("run-1", WithPublishers(c))

	r.OnToolResult(context.Background(), "read_file", strings.Repeat("é", 600))

	got := c.events[0].Data["result"].(string)
	assert.Equal(t, ResultPreviewLen, len([]rune(got)))
}

func TestRecorder_Scrubs(t *testing.T) {
	ctx := context.Background()
	c := &collector{}
	r := NewRecorder("run-1", WithPublishers(c), WithScrubber(maskScrubber{}))

	r.OnToolCall(ctx, "write_file", map[string]any{"path": "x", "content": "pw=hunter2", "n": 3})
	r.OnToolResult(ctx, "read_file", "pw=hunter2")
	r.OnError(ctx, "failed near hunter2")

	args := c.events[0].Data["args"].(map[string]any)
	assert.Equal(t, "pw=[REDACTED:test]", args["content"])
	assert.Equal(t, 3, args["n"])
	assert.Equal(t, "pw=[REDACTED:test]", c.events[1].Data["result"])
	assert.Equal(t, "failed near [REDACTED:test]", c.events[2].Data["message"])
}

func TestRecorder_AttachReplaysHistory(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder("run-1", WithHistory(2))
	r.OnPhaseChange(ctx, orchestrator.PhaseUnderstanding)
	r.OnPhaseChange(ctx, orchestrator.PhasePlanning)
	r.OnPhaseChange(ctx, orchestrator.PhaseExecuting)

	c := &collector{}
	replay, detach := r.Attach(c)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(2), replay[0].Seq)

	r.OnError(ctx, "boom")
	detach()
	r.OnError(ctx, "after detach")

	assert.Equal(t, []Type{TypeError}, c.types())
}

func TestRecorder_PublisherErrorIsLogged(t *testing.T) {
	logger := logging.NewTestLogger()
	c := &collector{}
	failing := PublisherFunc(func(context.Context, Event) error { return errors.New("down") })
	r := NewRecorder("run-1", WithRecorderLogger(logger.Logger), WithPublishers(failing, c))

	r.OnPhaseChange(context.Background(), orchestrator.PhaseUnderstanding)

	logger.AssertLogged(t, zapcore.WarnLevel, "event publish failed")
	assert.Len(t, c.events, 1, "later publishers still receive the event")
}
