// Package budget tracks model token usage against per-owner limits.
//
// Owners that bring their own API key are recorded but never limited.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/metrics"
	"github.com/keyur7523/koda/internal/orchestrator"
)

// ErrBudgetExceeded is returned once an owner has used up their limit.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// lowWatermark triggers a warning when fewer tokens remain.
const lowWatermark = 1000

// Account is one owner's usage.
type Account struct {
	Owner  string `json:"owner"`
	Used   int64  `json:"tokens_used"`
	Limit  int64  `json:"tokens_limit"`
	OwnKey bool   `json:"own_key"`
}

// Remaining returns the tokens left before the limit, never negative.
func (a Account) Remaining() int64 {
	if a.Used >= a.Limit {
		return 0
	}
	return a.Limit - a.Used
}

// limited reports whether the limit applies to the account.
func (a Account) limited() bool {
	return !a.OwnKey && a.Limit > 0
}

// Tracker is an in-memory usage ledger keyed by owner. It satisfies
// orchestrator.UsageTracker.
type Tracker struct {
	mu           sync.Mutex
	accounts     map[string]*Account
	defaultLimit int64
	logger       *logging.Logger
	metrics      *metrics.Metrics
}

var _ orchestrator.UsageTracker = (*Tracker)(nil)

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithMetrics counts recorded tokens.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a tracker. A zero default limit means unlimited.
func New(defaultLimit int64, opts ...Option) *Tracker {
	t := &Tracker{
		accounts:     make(map[string]*Account),
		defaultLimit: defaultLimit,
		logger:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) account(owner string) *Account {
	a, ok := t.accounts[owner]
	if !ok {
		a = &Account{Owner: owner, Limit: t.defaultLimit}
		t.accounts[owner] = a
	}
	return a
}

// SetLimit overrides the limit for owner.
func (t *Tracker) SetLimit(owner string, limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.account(owner).Limit = limit
}

// SetOwnKey marks owner as using their own provider key.
func (t *Tracker) SetOwnKey(owner string, own bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.account(owner).OwnKey = own
}

// Get returns a copy of owner's account.
func (t *Tracker) Get(owner string) Account {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.account(owner)
}

// Check reports whether owner may start a run.
func (t *Tracker) Check(ctx context.Context, owner string) error {
	t.mu.Lock()
	a := *t.account(owner)
	t.mu.Unlock()

	if !a.limited() {
		return nil
	}
	if a.Used >= a.Limit {
		return exceeded(a.Limit)
	}
	if a.Remaining() < lowWatermark {
		t.logger.Warn(ctx, "owner is close to the token limit",
			zap.String("owner", owner),
			zap.Int64("remaining", a.Remaining()))
	}
	return nil
}

// Record adds usage to owner's total. The tokens are always counted; an
// error is returned when the total has reached the limit.
func (t *Tracker) Record(ctx context.Context, owner string, usage orchestrator.Usage) error {
	total := int64(usage.Total())

	t.mu.Lock()
	a := t.account(owner)
	a.Used += total
	snapshot := *a
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.TokensTotal.WithLabelValues("input").Add(float64(usage.InputTokens))
		t.metrics.TokensTotal.WithLabelValues("output").Add(float64(usage.OutputTokens))
	}
	t.logger.Debug(ctx, "token usage recorded",
		zap.String("owner", owner),
		zap.Int("input", usage.InputTokens),
		zap.Int("output", usage.OutputTokens),
		zap.Int64("total", snapshot.Used))

	if snapshot.limited() && snapshot.Used >= snapshot.Limit {
		return exceeded(snapshot.Limit)
	}
	return nil
}

func exceeded(limit int64) error {
	return fmt.Errorf("%w: free tier limit reached (%d tokens), add your API key to continue", ErrBudgetExceeded, limit)
}
