package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/workspace"
)

const instrumentationName = "github.com/keyur7523/koda/internal/orchestrator"

// Defaults for the run limits.
const (
	DefaultMaxIterations   = 25
	DefaultContextTruncate = 200
)

// Orchestrator drives one task run through the phase state machine. It owns
// the run's workspace and ledger exclusively; create one Orchestrator per
// run.
type Orchestrator struct {
	client ModelClient
	tools  ToolExecutor

	root      string
	wsOpts    []workspace.Option
	sink      Sink
	cache     SummaryCache
	usage     UsageTracker
	owner     string
	gates     []Gate
	approver  Approver
	logger    *logging.Logger
	tracer    trace.Tracer
	maxIter   int
	maxTokens int
	truncate  int
	maxSteps  int

	mu       sync.Mutex
	state    TaskState
	ws       *workspace.Workspace
	tokens   int
	deciding bool
	outcome  *Outcome

	// parked is closed once the approval request has reached every sink,
	// or once the run can no longer park.
	parked   chan struct{}
	parkOnce sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRoot sets the working root of the run. Defaults to ".".
func WithRoot(root string, opts ...workspace.Option) Option {
	return func(o *Orchestrator) {
		o.root = root
		o.wsOpts = opts
	}
}

// WithSink registers event sinks. Multiple sinks receive events in order.
func WithSink(sinks ...Sink) Option {
	return func(o *Orchestrator) {
		if len(sinks) == 1 {
			o.sink = sinks[0]
			return
		}
		o.sink = MultiSink(sinks)
	}
}

// WithSummaryCache lets Understanding reuse a summary for the same revision.
func WithSummaryCache(c SummaryCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithUsageTracker records model usage against owner's budget.
func WithUsageTracker(t UsageTracker, owner string) Option {
	return func(o *Orchestrator) {
		o.usage = t
		o.owner = owner
	}
}

// WithGates registers gates checked before approval.
func WithGates(gates ...Gate) Option {
	return func(o *Orchestrator) { o.gates = append(o.gates, gates...) }
}

// WithApprover makes Run ask for a decision synchronously. Without an
// approver the run parks in AwaitingApproval.
func WithApprover(a Approver) Option {
	return func(o *Orchestrator) { o.approver = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMaxIterations caps model turns per tool-call loop.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIter = n
		}
	}
}

// WithMaxRunTokens caps tokens consumed by the whole run. Zero disables it.
func WithMaxRunTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithContextTruncate bounds each prior step result fed into later steps.
func WithContextTruncate(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.truncate = n
		}
	}
}

// WithMaxPlanSteps drops plan steps beyond n. Zero keeps them all.
func WithMaxPlanSteps(n int) Option {
	return func(o *Orchestrator) { o.maxSteps = n }
}

// New creates an orchestrator in the Idle phase.
func New(client ModelClient, tools ToolExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:   client,
		tools:    tools,
		root:     ".",
		sink:     NopSink{},
		logger:   logging.Nop(),
		tracer:   otel.Tracer(instrumentationName),
		maxIter:  DefaultMaxIterations,
		truncate: DefaultContextTruncate,
		state:    TaskState{Phase: PhaseIdle},
		parked:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns a copy of the current state.
func (o *Orchestrator) State() TaskState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// Workspace returns the run's workspace, nil before Run.
func (o *Orchestrator) Workspace() *workspace.Workspace {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ws
}

// Outcome returns the final outcome once the run reached Complete.
func (o *Orchestrator) Outcome() (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcome == nil {
		return Outcome{}, false
	}
	return *o.outcome, true
}

// TokensUsed returns the tokens consumed so far.
func (o *Orchestrator) TokensUsed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens
}

// Run executes task. It returns once the run reaches Complete or Error, or
// parks in AwaitingApproval when no Approver is configured. A failed run
// returns its final state together with the error; staged changes are left
// in the ledger for inspection.
func (o *Orchestrator) Run(ctx context.Context, task string) (TaskState, error) {
	o.mu.Lock()
	if o.state.Phase != PhaseIdle {
		state := o.state.Clone()
		o.mu.Unlock()
		return state, ErrAlreadyStarted
	}
	now := time.Now()
	o.state.Task = task
	o.state.StartedAt = now
	o.state.UpdatedAt = now
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	if err := o.run(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.fail(ctx, err)
	}

	state := o.State()
	span.SetAttributes(attribute.String("phase", string(state.Phase)))
	return state, nil
}

func (o *Orchestrator) run(ctx context.Context, task string) error {
	ws, err := workspace.New(o.root, o.wsOpts...)
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	o.mu.Lock()
	o.ws = ws
	o.mu.Unlock()

	o.logger.Info(ctx, "run started", zap.String("root", ws.Root()), zap.Int("task_length", len(task)))

	if err := o.transition(ctx, PhaseUnderstanding); err != nil {
		return err
	}
	summary, err := o.understand(ctx, ws, task)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.state.Summary = summary
	o.mu.Unlock()
	o.sink.OnSummary(ctx, summary)

	if err := o.transition(ctx, PhasePlanning); err != nil {
		return err
	}
	plan, err := o.plan(ctx, task, summary)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.state.Plan = plan
	o.mu.Unlock()
	o.sink.OnPlan(ctx, clonePlan(plan))

	if err := o.transition(ctx, PhaseExecuting); err != nil {
		return err
	}
	result, err := o.execute(ctx, ws, task, plan)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.state.Result = result
	o.mu.Unlock()

	l := ws.Ledger()
	if l.Len() == 0 {
		if err := o.transition(ctx, PhaseComplete); err != nil {
			return err
		}
		o.finish(ctx, Outcome{Message: "No changes to apply."})
		return nil
	}

	violations, err := o.checkGates(ctx, ws)
	if err != nil {
		return err
	}
	if hasCriticalViolation(violations) {
		return fmt.Errorf("critical violation before approval: %s", describeViolations(violations))
	}

	if err := o.transition(ctx, PhaseAwaitingApproval); err != nil {
		return err
	}
	req := ApprovalRequest{
		Diff:     l.Diff(),
		Summary:  l.Summary(),
		Changes:  l.List(),
		Warnings: violations,
	}
	o.sink.OnApprovalRequired(ctx, req)
	o.park()

	if o.approver == nil {
		o.logger.Info(ctx, "run awaiting approval", zap.Int("staged_changes", len(req.Changes)))
		return nil
	}

	decision, err := o.approver.Approve(ctx, req)
	if err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	_, err = o.decide(ctx, decision)
	return err
}

// Approve delivers the decision for a run parked in AwaitingApproval.
// Approval applies every staged change; rejection discards them. A failed
// apply moves the run to Error with the ledger left intact.
func (o *Orchestrator) Approve(ctx context.Context, d Decision) (Outcome, error) {
	out, err := o.decide(ctx, d)
	if err != nil && !errors.Is(err, ErrNotAwaitingApproval) && ctx.Err() == nil {
		_, err = o.fail(ctx, err)
	}
	return out, err
}

// decide waits for the approval request to be delivered before acting, so
// observers never see Complete ahead of the approval event.
func (o *Orchestrator) decide(ctx context.Context, d Decision) (Outcome, error) {
	o.mu.Lock()
	phase := o.state.Phase
	o.mu.Unlock()
	if phase != PhaseAwaitingApproval {
		return Outcome{}, fmt.Errorf("%w: phase is %s", ErrNotAwaitingApproval, phase)
	}

	select {
	case <-o.parked:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	o.mu.Lock()
	if o.state.Phase != PhaseAwaitingApproval || o.deciding {
		phase = o.state.Phase
		o.mu.Unlock()
		return Outcome{}, fmt.Errorf("%w: phase is %s", ErrNotAwaitingApproval, phase)
	}
	o.deciding = true
	ws := o.ws
	o.mu.Unlock()

	l := ws.Ledger()
	n := l.Len()
	out := Outcome{Approved: d.Approved, Decision: d}
	if d.Approved {
		msg, err := l.ApplyAll()
		if err != nil {
			return Outcome{}, err
		}
		out.Applied = n
		out.Message = msg
	} else {
		out.Rejected = n
		out.Message = l.DiscardAll()
	}

	o.logger.Info(ctx, "approval decided",
		zap.Bool("approved", d.Approved),
		zap.Int("applied", out.Applied),
		zap.Int("rejected", out.Rejected),
	)

	if err := o.transition(ctx, PhaseComplete); err != nil {
		return out, err
	}
	o.finish(ctx, out)
	return out, nil
}

func (o *Orchestrator) understand(ctx context.Context, ws *workspace.Workspace, task string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.phase.understanding")
	defer span.End()

	if o.cache != nil {
		summary, ok, err := o.cache.Get(ctx, ws.Root())
		switch {
		case err != nil:
			o.logger.Warn(ctx, "summary cache lookup failed", zap.Error(err))
		case ok && summary != "":
			span.SetAttributes(attribute.Bool("cache.hit", true))
			o.logger.Debug(ctx, "using cached codebase summary")
			return summary, nil
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	summary, err := o.toolLoop(ctx, ws, understandingPrompt(task), PhaseUnderstanding, true)
	if err != nil {
		return "", err
	}

	if o.cache != nil {
		if err := o.cache.Set(ctx, ws.Root(), summary); err != nil {
			o.logger.Warn(ctx, "summary cache store failed", zap.Error(err))
		}
	}
	return summary, nil
}

func (o *Orchestrator) plan(ctx context.Context, task, summary string) ([]PlanStep, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.phase.planning")
	defer span.End()

	resp, err := o.client.Chat(ctx, planningPrompt(task, summary), PhasePlanning)
	if err != nil {
		return nil, fmt.Errorf("planning call: %w", err)
	}
	if err := o.account(ctx, resp.Usage); err != nil {
		return nil, err
	}

	steps, err := ParsePlan(resp.Text())
	if err != nil {
		return nil, err
	}
	if o.maxSteps > 0 && len(steps) > o.maxSteps {
		o.logger.Warn(ctx, "plan truncated", zap.Int("steps", len(steps)), zap.Int("max_steps", o.maxSteps))
		steps = steps[:o.maxSteps]
	}
	span.SetAttributes(attribute.Int("plan.steps", len(steps)))
	return steps, nil
}

// execute runs the plan steps strictly in order. Each step sees a
// truncated log of the earlier results.
func (o *Orchestrator) execute(ctx context.Context, ws *workspace.Workspace, task string, plan []PlanStep) (string, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.phase.executing")
	defer span.End()

	var (
		history []string
		last    string
	)
	for i, step := range plan {
		prompt := stepPrompt(task, step, i, len(plan), history)
		result, err := o.toolLoop(ctx, ws, prompt, PhaseExecuting, false)
		if err != nil {
			return "", fmt.Errorf("step %d: %w", i+1, err)
		}
		o.logger.Debug(ctx, "step complete", zap.Int("step", i+1), zap.Int("staged_changes", ws.Ledger().Len()))

		history = append(history, fmt.Sprintf("Step %d (%s): %s", i+1, step.Description, truncateRunes(condense(result), o.truncate)))
		last = result
	}
	return last, nil
}

func (o *Orchestrator) checkGates(ctx context.Context, ws *workspace.Workspace) ([]Violation, error) {
	if len(o.gates) == 0 {
		return nil, nil
	}
	state := o.State()
	changes := ws.Ledger().List()

	var all []Violation
	for _, g := range o.gates {
		v, err := g.Check(ctx, state, changes)
		if err != nil {
			return nil, fmt.Errorf("gate %s check failed: %w", g.Name(), err)
		}
		all = append(all, v...)
	}
	for _, v := range all {
		o.logger.Warn(ctx, "gate violation",
			zap.String("type", string(v.Type)),
			zap.String("severity", string(v.Severity)),
			zap.String("path", v.Path),
		)
	}
	return all, nil
}

// account adds usage to the run total, reports it to the tracker and
// enforces the run's own token cap.
func (o *Orchestrator) account(ctx context.Context, usage Usage) error {
	o.mu.Lock()
	o.tokens += usage.Total()
	used := o.tokens
	o.mu.Unlock()

	if o.usage != nil {
		if err := o.usage.Record(ctx, o.owner, usage); err != nil {
			return fmt.Errorf("usage tracking: %w", err)
		}
	}
	if o.maxTokens > 0 && used > o.maxTokens {
		return fmt.Errorf("%w: used %d of %d tokens", ErrTokenLimit, used, o.maxTokens)
	}
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, to Phase) error {
	o.mu.Lock()
	from := o.state.Phase
	if err := CanTransition(from, to); err != nil {
		o.mu.Unlock()
		return err
	}
	o.state.Phase = to
	o.state.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.logger.Info(ctx, "phase change", zap.String("from", string(from)), zap.String("to", string(to)))
	o.sink.OnPhaseChange(ctx, to)
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, out Outcome) {
	o.mu.Lock()
	o.outcome = &out
	o.mu.Unlock()
	o.logger.Info(ctx, "run complete", zap.Bool("approved", out.Approved), zap.Int("applied", out.Applied))
	o.sink.OnComplete(ctx, out)
}

// fail moves the run to Error. Staged changes stay in the ledger.
func (o *Orchestrator) fail(ctx context.Context, err error) (TaskState, error) {
	o.mu.Lock()
	o.state.Phase = PhaseError
	o.state.Error = err.Error()
	o.state.UpdatedAt = time.Now()
	state := o.state.Clone()
	staged := 0
	if o.ws != nil {
		staged = o.ws.Ledger().Len()
	}
	o.mu.Unlock()

	o.park()

	o.logger.Error(ctx, "run failed", zap.Error(err), zap.Int("staged_changes", staged))
	o.sink.OnPhaseChange(ctx, PhaseError)
	o.sink.OnError(ctx, err.Error())
	return state, err
}

func (o *Orchestrator) park() {
	o.parkOnce.Do(func() { close(o.parked) })
}

func clonePlan(plan []PlanStep) []PlanStep {
	return TaskState{Plan: plan}.Clone().Plan
}
