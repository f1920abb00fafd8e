package orchestrator

import "context"

// Sink receives lifecycle events from a run, in the order the run produces
// them. Implementations must return promptly; a slow consumer stalls the run.
type Sink interface {
	OnPhaseChange(ctx context.Context, phase Phase)
	OnToolCall(ctx context.Context, name string, args map[string]any)
	OnToolResult(ctx context.Context, name, result string)
	OnSummary(ctx context.Context, summary string)
	OnPlan(ctx context.Context, plan []PlanStep)
	OnApprovalRequired(ctx context.Context, req ApprovalRequest)
	OnComplete(ctx context.Context, outcome Outcome)
	OnError(ctx context.Context, message string)
}

// NopSink ignores every event. Embed it to implement only some methods.
type NopSink struct{}

func (NopSink) OnPhaseChange(context.Context, Phase) {}
func (NopSink) OnToolCall(context.Context, string, map[string]any) {}
func (NopSink) OnToolResult(context.Context, string, string) {}
func (NopSink) OnSummary(context.Context, string) {}
func (NopSink) OnPlan(context.Context, []PlanStep) {}
func (NopSink) OnApprovalRequired(context.Context, ApprovalRequest) {}
func (NopSink) OnComplete(context.Context, Outcome) {}
func (NopSink) OnError(context.Context, string) {}

// MultiSink fans each event out to every sink in registration order.
type MultiSink []Sink

func (m MultiSink) OnPhaseChange(ctx context.Context, phase Phase) {
	for _, s := range m {
		s.OnPhaseChange(ctx, phase)
	}
}

func (m MultiSink) OnToolCall(ctx context.Context, name string, args map[string]any) {
	for _, s := range m {
		s.OnToolCall(ctx, name, args)
	}
}

func (m MultiSink) OnToolResult(ctx context.Context, name, result string) {
	for _, s := range m {
		s.OnToolResult(ctx, name, result)
	}
}

func (m MultiSink) OnSummary(ctx context.Context, summary string) {
	for _, s := range m {
		s.OnSummary(ctx, summary)
	}
}

func (m MultiSink) OnPlan(ctx context.Context, plan []PlanStep) {
	for _, s := range m {
		s.OnPlan(ctx, plan)
	}
}

func (m MultiSink) OnApprovalRequired(ctx context.Context, req ApprovalRequest) {
	for _, s := range m {
		s.OnApprovalRequired(ctx, req)
	}
}

func (m MultiSink) OnComplete(ctx context.Context, outcome Outcome) {
	for _, s := range m {
		s.OnComplete(ctx, outcome)
	}
}

func (m MultiSink) OnError(ctx context.Context, message string) {
	for _, s := range m {
		s.OnError(ctx, message)
	}
}
