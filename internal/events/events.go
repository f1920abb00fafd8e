// Package events turns orchestrator callbacks into numbered, serializable
// run events and fans them out to publishers.
//
// A Recorder is the orchestrator.Sink of one run. Publishers deliver its
// events to the log, NATS, a WebSocket stream or Prometheus. A failing
// publisher is logged and never affects the run.
package events

import (
	"context"
	"time"

	"github.com/keyur7523/koda/internal/orchestrator"
)

// Type names the kind of event. The values double as the "type" field of
// the WebSocket protocol.
type Type string

const (
	TypePhase      Type = "phase"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeSummary    Type = "summary"
	TypePlan       Type = "plan"
	TypeApproval   Type = "approval"
	TypeComplete   Type = "complete"
	TypeError      Type = "error"
)

// Terminal reports whether no further events follow t.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one run event.
type Event struct {
	Seq   uint64         `json:"seq"`
	RunID string         `json:"run_id"`
	Type  Type           `json:"type"`
	Data  map[string]any `json:"data"`
	Time  time.Time      `json:"time"`
}

// Publisher delivers events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// PhaseData returns the payload of a phase event.
func PhaseData(phase orchestrator.Phase) map[string]any {
	return map[string]any{"phase": string(phase)}
}

// ErrorData returns the payload of an error event.
func ErrorData(message string) map[string]any {
	return map[string]any{"message": message}
}
