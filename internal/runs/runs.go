// Package runs hosts headless task runs for the API surfaces.
//
// Each run gets a uuid, its own orchestrator and event recorder, and a
// goroutine owned by the manager. A run without an approver parks in
// AwaitingApproval until Approve delivers the decision, possibly from a
// different request.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/events"
	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/publish"
)

var (
	// ErrRunNotFound is returned for an unknown run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrEmptyTask is returned when a run is started without a task.
	ErrEmptyTask = errors.New("no task provided")

	// ErrShuttingDown is returned by Start after Close.
	ErrShuttingDown = errors.New("run manager is shutting down")
)

// Request starts a run.
type Request struct {
	Task     string `json:"task"`
	RepoPath string `json:"repo_path,omitempty"`
	Owner    string `json:"-"`
}

// Factory builds the orchestrator of a run. The sink must be registered
// with it.
type Factory func(ctx context.Context, runID string, req Request, sink orchestrator.Sink) (*orchestrator.Orchestrator, error)

// BudgetChecker rejects runs for owners over their limit.
type BudgetChecker interface {
	Check(ctx context.Context, owner string) error
}

// Publisher publishes approved changes.
type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (*publish.Result, error)
}

// Snapshot is the externally visible view of a run.
type Snapshot struct {
	ID        string                  `json:"id"`
	Phase     orchestrator.Phase      `json:"phase"`
	Task      string                  `json:"task"`
	Plan      []orchestrator.PlanStep `json:"plan"`
	Error     string                  `json:"error,omitempty"`
	Summary   string                  `json:"summary,omitempty"`
	Changes   []ledger.Change         `json:"changes"`
	Counts    ledger.Counts           `json:"counts"`
	Diff      string                  `json:"diff,omitempty"`
	Outcome   *orchestrator.Outcome   `json:"outcome,omitempty"`
	Tokens    int                     `json:"tokens_used"`
	CreatedAt time.Time               `json:"created_at"`
}

// ApproveResult is the outcome of an approval plus any publication.
type ApproveResult struct {
	orchestrator.Outcome
	Publish *publish.Result `json:"publish,omitempty"`
}

type run struct {
	id        string
	req       Request
	orch      *orchestrator.Orchestrator
	recorder  *events.Recorder
	createdAt time.Time
	cancel    context.CancelFunc

	// parked is closed once Run returns, parked or terminal.
	parked chan struct{}
}

// Manager owns the runs of one process.
type Manager struct {
	factory    Factory
	budget     BudgetChecker
	publisher  Publisher
	publishers []events.Publisher
	recOpts    []events.RecorderOption
	logger     *logging.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      *conc.WaitGroup

	mu     sync.RWMutex
	runs   map[string]*run
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBudget checks the owner's budget before each run.
func WithBudget(b BudgetChecker) Option {
	return func(m *Manager) { m.budget = b }
}

// WithPublisher publishes approved changes that name a branch.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithEventPublishers adds publishers to every run's recorder.
func WithEventPublishers(p ...events.Publisher) Option {
	return func(m *Manager) { m.publishers = append(m.publishers, p...) }
}

// WithRecorderOptions passes options to every run's recorder.
func WithRecorderOptions(opts ...events.RecorderOption) Option {
	return func(m *Manager) { m.recOpts = append(m.recOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager.
func NewManager(factory Factory, opts ...Option) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		factory: factory,
		logger:  logging.Nop(),
		baseCtx: ctx,
		stop:    stop,
		wg:      conc.NewWaitGroup(),
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches a run and returns its id without waiting for it.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if req.Task == "" {
		return "", ErrEmptyTask
	}
	if m.budget != nil && req.Owner != "" {
		if err := m.budget.Check(ctx, req.Owner); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	recOpts := append([]events.RecorderOption{events.WithPublishers(m.publishers...)}, m.recOpts...)
	rec := events.NewRecorder(id, recOpts...)

	runCtx, cancel := context.WithCancel(m.baseCtx)
	runCtx = logging.WithRunID(runCtx, id)
	if logging.ValidID(req.Owner) {
		runCtx = logging.WithOwner(runCtx, req.Owner)
	}
	runCtx = logging.WithLogger(runCtx, m.logger)

	orch, err := m.factory(runCtx, id, req, rec)
	if err != nil {
		cancel()
		return "", fmt.Errorf("creating run: %w", err)
	}

	r := &run{
		id:        id,
		req:       req,
		orch:      orch,
		recorder:  rec,
		createdAt: time.Now(),
		cancel:    cancel,
		parked:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	m.runs[id] = r
	m.mu.Unlock()

	m.wg.Go(func() {
		defer close(r.parked)
		if _, err := orch.Run(runCtx, req.Task); err != nil {
			m.logger.Warn(runCtx, "run failed", zap.Error(err))
		}
	})

	m.logger.Info(ctx, "run started", zap.String("run.id", id))
	return id, nil
}

func (m *Manager) get(id string) (*run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, nil
}

// Get returns a snapshot of the run.
func (m *Manager) Get(id string) (Snapshot, error) {
	r, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(), nil
}

func (r *run) snapshot() Snapshot {
	state := r.orch.State()
	s := Snapshot{
		ID:        r.id,
		Phase:     state.Phase,
		Task:      state.Task,
		Plan:      state.Plan,
		Error:     state.Error,
		Summary:   state.Summary,
		Changes:   []ledger.Change{},
		Tokens:    r.orch.TokensUsed(),
		CreatedAt: r.createdAt,
	}
	if s.Task == "" {
		s.Task = r.req.Task
	}
	if s.Plan == nil {
		s.Plan = []orchestrator.PlanStep{}
	}
	if ws := r.orch.Workspace(); ws != nil {
		l := ws.Ledger()
		s.Changes = l.List()
		s.Counts = l.Counts()
		if len(s.Changes) > 0 {
			s.Diff = l.Diff()
		}
	}
	if out, ok := r.orch.Outcome(); ok {
		s.Outcome = &out
	}
	return s
}

// List returns snapshots of every run, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	rs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		rs = append(rs, r)
	}
	m.mu.RUnlock()

	sort.Slice(rs, func(i, j int) bool { return rs[i].createdAt.Before(rs[j].createdAt) })
	out := make([]Snapshot, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.snapshot())
	}
	return out
}

// Wait blocks until the run finishes or parks for approval.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	r, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-r.parked:
		return r.snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Approve delivers the decision for a parked run. An approved decision
// that names a branch is published afterwards; a publication failure is
// returned alongside the applied outcome.
func (m *Manager) Approve(ctx context.Context, id string, d orchestrator.Decision) (ApproveResult, error) {
	r, err := m.get(id)
	if err != nil {
		return ApproveResult{}, err
	}

	var paths []string
	var summary string
	if ws := r.orch.Workspace(); ws != nil {
		for _, c := range ws.Ledger().List() {
			paths = append(paths, c.Path)
		}
		summary = ws.Ledger().Summary()
	}

	out, err := r.orch.Approve(ctx, d)
	if err != nil {
		return ApproveResult{}, err
	}
	res := ApproveResult{Outcome: out}

	if !d.Approved || d.Branch == "" || m.publisher == nil || len(paths) == 0 {
		return res, nil
	}
	pub, err := m.publisher.Publish(ctx, publish.Request{
		RepoPath: r.orch.Workspace().Root(),
		Repo:     d.Repo,
		Branch:   d.Branch,
		Title:    r.req.Task,
		Body:     summary,
		Paths:    paths,
	})
	res.Publish = pub
	if err != nil {
		return res, fmt.Errorf("publishing changes: %w", err)
	}
	return res, nil
}

// Subscribe attaches a stream to the run. The replay holds the events
// emitted before the call; the stream carries the rest. Call cancel when
// done reading.
func (m *Manager) Subscribe(id string) (replay []events.Event, stream *events.Stream, cancel func(), err error) {
	r, err := m.get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	stream = events.NewStream(0, 0)
	replay, detach := r.recorder.Attach(stream)
	return replay, stream, func() {
		detach()
		stream.Close()
	}, nil
}

// Cancel stops a running run. Its orchestrator fails with the context
// error.
func (m *Manager) Cancel(id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// Close cancels every run and waits for their goroutines.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
}
