package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/secrets"
)

const (
	// ResultPreviewLen caps tool results sent to remote consumers.
	ResultPreviewLen = 500

	defaultHistory = 1000
)

// Recorder is the orchestrator.Sink of one run.
type Recorder struct {
	runID      string
	scrubber   secrets.Scrubber
	logger     *logging.Logger
	historyCap int

	mu         sync.Mutex
	seq        uint64
	history    []Event
	publishers []Publisher
	attached   []subscriber
	nextID     int
}

type subscriber struct {
	id int
	p  Publisher
}

var _ orchestrator.Sink = (*Recorder)(nil)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithScrubber redacts secrets from tool traffic, diffs and messages.
func WithScrubber(s secrets.Scrubber) RecorderOption {
	return func(r *Recorder) { r.scrubber = s }
}

// WithRecorderLogger sets the logger used for publisher failures.
func WithRecorderLogger(l *logging.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithHistory bounds the number of retained events.
func WithHistory(n int) RecorderOption {
	return func(r *Recorder) { r.historyCap = n }
}

// WithPublishers adds publishers.
func WithPublishers(p ...Publisher) RecorderOption {
	return func(r *Recorder) { r.publishers = append(r.publishers, p...) }
}

// NewRecorder creates a recorder for runID.
func NewRecorder(runID string, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		runID:      runID,
		logger:     logging.Nop(),
		historyCap: defaultHistory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the run the recorder belongs to.
func (r *Recorder) RunID() string {
	return r.runID
}

// Attach adds a publisher and returns the events recorded so far, so the
// caller can replay them without missing or duplicating any. The returned
// func removes the publisher again.
func (r *Recorder) Attach(p Publisher) (replay []Event, detach func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.attached = append(r.attached, subscriber{id: id, p: p})
	replay = append([]Event(nil), r.history...)

	return replay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, a := range r.attached {
			if a.id == id {
				r.attached = append(r.attached[:i], r.attached[i+1:]...)
				return
			}
		}
	}
}

// History returns a copy of the retained events.
func (r *Recorder) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.history...)
}

// Emit records an event and publishes it.
func (r *Recorder) Emit(ctx context.Context, typ Type, data map[string]any) Event {
	r.mu.Lock()
	r.seq++
	ev := Event{Seq: r.seq, RunID: r.runID, Type: typ, Data: data, Time: time.Now()}
	r.history = append(r.history, ev)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
	pubs := append([]Publisher(nil), r.publishers...)
	for _, a := range r.attached {
		pubs = append(pubs, a.p)
	}
	r.mu.Unlock()

	for _, p := range pubs {
		if err := p.Publish(ctx, ev); err != nil {
			r.logger.Warn(ctx, "event publish failed",
				zap.String("type", string(typ)),
				zap.Uint64("seq", ev.Seq),
				zap.Error(err))
		}
	}
	return ev
}

func (r *Recorder) scrub(s string) string {
	if r.scrubber == nil || !r.scrubber.IsEnabled() {
		return s
	}
	return r.scrubber.Scrub(s).Scrubbed
}

func (r *Recorder) scrubArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			v = r.scrub(s)
		}
		out[k] = v
	}
	return out
}

// OnPhaseChange implements orchestrator.Sink.
func (r *Recorder) OnPhaseChange(ctx context.Context, phase orchestrator.Phase) {
	r.Emit(ctx, TypePhase, PhaseData(phase))
}

// OnToolCall implements orchestrator.Sink.
func (r *Recorder) OnToolCall(ctx context.Context, name string, args map[string]any) {
	r.Emit(ctx, TypeToolCall, map[string]any{"name": name, "args": r.scrubArgs(args)})
}

// OnToolResult implements orchestrator.Sink. Results are truncated to
// ResultPreviewLen runes.
func (r *Recorder) OnToolResult(ctx context.Context, name, result string) {
	r.Emit(ctx, TypeToolResult, map[string]any{"name": name, "result": preview(r.scrub(result), ResultPreviewLen)})
}

// OnSummary implements orchestrator.Sink.
func (r *Recorder) OnSummary(ctx context.Context, summary string) {
	r.Emit(ctx, TypeSummary, map[string]any{"summary": r.scrub(summary)})
}

// OnPlan implements orchestrator.Sink.
func (r *Recorder) OnPlan(ctx context.Context, plan []orchestrator.PlanStep) {
	r.Emit(ctx, TypePlan, map[string]any{"plan": plan})
}

// OnApprovalRequired implements orchestrator.Sink. Change contents are
// left out; the diff carries them.
func (r *Recorder) OnApprovalRequired(ctx context.Context, req orchestrator.ApprovalRequest) {
	changes := make([]map[string]any, 0, len(req.Changes))
	for _, c := range req.Changes {
		changes = append(changes, map[string]any{"path": c.Path, "kind": string(c.Kind)})
	}
	r.Emit(ctx, TypeApproval, map[string]any{
		"diff":     r.scrub(req.Diff),
		"summary":  req.Summary,
		"changes":  changes,
		"warnings": req.Warnings,
	})
}

// OnComplete implements orchestrator.Sink.
func (r *Recorder) OnComplete(ctx context.Context, out orchestrator.Outcome) {
	r.Emit(ctx, TypeComplete, map[string]any{
		"approved": out.Approved,
		"applied":  out.Applied,
		"rejected": out.Rejected,
		"message":  out.Message,
	})
}

// OnError implements orchestrator.Sink.
func (r *Recorder) OnError(ctx context.Context, message string) {
	r.Emit(ctx, TypeError, ErrorData(r.scrub(message)))
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
