package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/workspace"
)

var (
	// ErrInvalidTransition is returned for a phase change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPlanParse is returned when the planning response is not a valid plan.
	ErrPlanParse = errors.New("plan parse error")

	// ErrIterationLimit is returned when a tool-call loop exceeds its turn cap.
	ErrIterationLimit = errors.New("tool-call loop iteration limit reached")

	// ErrTokenLimit is returned when a run exceeds its own token cap.
	ErrTokenLimit = errors.New("run token limit reached")

	// ErrNotAwaitingApproval is returned by Approve outside AwaitingApproval.
	ErrNotAwaitingApproval = errors.New("run is not awaiting approval")

	// ErrAlreadyStarted is returned when Run is called twice.
	ErrAlreadyStarted = errors.New("run already started")
)

// Phase is one state of the task state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseUnderstanding    Phase = "understanding"
	PhasePlanning         Phase = "planning"
	PhaseExecuting        Phase = "executing"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseComplete         Phase = "complete"

	// PhaseError is absorbing and reachable from every other phase.
	PhaseError Phase = "error"
)

// AllPhases returns the non-error phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseIdle, PhaseUnderstanding, PhasePlanning, PhaseExecuting, PhaseAwaitingApproval, PhaseComplete}
}

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseUnderstanding},
	PhaseUnderstanding:    {PhasePlanning},
	PhasePlanning:         {PhaseExecuting},
	PhaseExecuting:        {PhaseAwaitingApproval, PhaseComplete},
	PhaseAwaitingApproval: {PhaseComplete},
}

// CanTransition checks that moving from one phase to the next is allowed.
// Transitions only move forward; Error can be entered from any
// non-terminal phase and never left.
func CanTransition(from, to Phase) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == PhaseError {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// PlanStep is one step of the plan produced during Planning.
type PlanStep struct {
	Description string `json:"description"`

	// Tool is a hint, nil when the model gave none.
	Tool *string `json:"tool"`
}

// TaskState is the externally visible state of a run.
type TaskState struct {
	Phase     Phase      `json:"phase"`
	Task      string     `json:"task"`
	Plan      []PlanStep `json:"plan"`
	Error     string     `json:"error,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Result    string     `json:"result,omitempty"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the state.
func (s TaskState) Clone() TaskState {
	out := s
	if s.Plan != nil {
		out.Plan = make([]PlanStep, len(s.Plan))
		for i, step := range s.Plan {
			out.Plan[i] = step
			if step.Tool != nil {
				tool := *step.Tool
				out.Plan[i].Tool = &tool
			}
		}
	}
	return out
}

// Role is the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a message.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Message is one transcript entry.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// ToolResult builds the block answering a tool invocation.
func ToolResult(callID, result string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: callID, Content: result}
}

// Tool is the schema of a tool offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// StopReason is the model's completion signal.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage counts tokens consumed by one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is one model turn.
type Response struct {
	Content    []ContentBlock `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Text joins the text blocks of the response.
func (r *Response) Text() string {
	var parts []string
	for _, b := range r.Content {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ModelClient is the language model provider. The phase lets the provider
// pick a cheaper model while understanding the codebase.
type ModelClient interface {
	// Chat sends a single prompt without tools.
	Chat(ctx context.Context, prompt string, phase Phase) (*Response, error)

	// ChatWithTools sends the transcript with the given tool schemas.
	ChatWithTools(ctx context.Context, messages []Message, tools []Tool, phase Phase) (*Response, error)
}

// ToolExecutor runs tool calls against a workspace. Execute never fails:
// errors come back as text for the model.
type ToolExecutor interface {
	Schemas(readOnly bool) []Tool
	Execute(ctx context.Context, ws *workspace.Workspace, call ToolCall, readOnly bool) string
}

// SummaryCache stores codebase summaries per repository revision. Errors
// are treated as misses.
type SummaryCache interface {
	Get(ctx context.Context, repoPath string) (string, bool, error)
	Set(ctx context.Context, repoPath, summary string) error
}

// UsageTracker accounts model usage against an owner's budget. Any error
// it returns aborts the run.
type UsageTracker interface {
	Record(ctx context.Context, owner string, usage Usage) error
}

// Decision is the approval verdict for staged changes.
type Decision struct {
	Approved bool `json:"approved"`

	// Repo and Branch optionally name where approved changes are published.
	Repo   string `json:"repo,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// ApprovalRequest describes the staged changes awaiting a decision.
type ApprovalRequest struct {
	Diff     string          `json:"diff"`
	Summary  string          `json:"summary"`
	Changes  []ledger.Change `json:"changes"`
	Warnings []Violation     `json:"warnings,omitempty"`
}

// Approver decides interactively. Without one, runs park in
// AwaitingApproval until Approve is called.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// Outcome is the terminal result of a run that reached Complete.
type Outcome struct {
	Approved bool     `json:"approved"`
	Applied  int      `json:"applied"`
	Rejected int      `json:"rejected"`
	Message  string   `json:"message"`
	Decision Decision `json:"decision"`
}
