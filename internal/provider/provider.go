// Package provider implements the model clients used by the orchestrator.
//
// Both clients speak their vendor's HTTP API directly. Requests go through a
// token-bucket limiter and are retried with exponential backoff on rate
// limits, server errors and transport failures. The phase hint selects the
// fast model while understanding the codebase.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
)

const instrumentationName = "github.com/keyur7523/koda/internal/provider"

// Provider names.
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicFast    = "claude-3-5-haiku-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o"
	defaultOpenAIFast       = "gpt-4o-mini"
	defaultMaxTokens        = 4096
	defaultTimeout          = 120 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("provider API key required")

// Config configures a model client.
type Config struct {
	Name       string        `koanf:"name"`
	APIKey     string        `koanf:"api_key" json:"-"`
	BaseURL    string        `koanf:"base_url"`
	Model      string        `koanf:"model"`
	FastModel  string        `koanf:"fast_model"`
	MaxTokens  int           `koanf:"max_tokens"`
	Timeout    time.Duration `koanf:"timeout"`
	RateLimit  float64       `koanf:"rate_limit"` // requests per second
	Burst      int           `koanf:"burst"`
	MaxRetries int           `koanf:"max_retries"`

	// RetryBackoff is the first retry delay; it doubles per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// New returns the client for cfg.Name. An empty name selects Anthropic.
func New(cfg Config, logger *logging.Logger) (orchestrator.ModelClient, error) {
	switch cfg.Name {
	case "", Anthropic:
		return NewAnthropic(cfg, logger)
	case OpenAI:
		return NewOpenAI(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: %s, %s)", cfg.Name, Anthropic, OpenAI)
	}
}

// base holds what both clients share.
type base struct {
	apiKey      string
	baseURL     string
	model       string
	fastModel   string
	maxTokens   int
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	logger      *logging.Logger
	tracer      trace.Tracer
}

func newBase(cfg Config, logger *logging.Logger, defaultURL, defaultModel, defaultFast string) (base, error) {
	if cfg.APIKey == "" {
		return base{}, ErrMissingAPIKey
	}
	b := base{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		fastModel:   cfg.FastModel,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.RetryBackoff,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
	}
	if b.baseURL == "" {
		b.baseURL = defaultURL
	}
	if b.model == "" {
		b.model = defaultModel
	}
	if b.fastModel == "" {
		b.fastModel = defaultFast
	}
	if b.maxTokens <= 0 {
		b.maxTokens = defaultMaxTokens
	}
	if b.maxRetries < 0 {
		b.maxRetries = 0
	} else if cfg.MaxRetries == 0 {
		b.maxRetries = defaultMaxRetries
	}
	if b.baseBackoff <= 0 {
		b.baseBackoff = defaultBaseBackoff
	}
	if b.logger == nil {
		b.logger = logging.Nop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	b.httpClient = &http.Client{Timeout: timeout}

	limit, burst := cfg.RateLimit, cfg.Burst
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	b.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	return b, nil
}

// modelFor picks the fast model while understanding the codebase.
func (b *base) modelFor(phase orchestrator.Phase) string {
	if phase == orchestrator.PhaseUnderstanding {
		return b.fastModel
	}
	return b.model
}

// withRetry calls do until it succeeds, fails permanently or runs out of
// attempts.
func (b *base) withRetry(ctx context.Context, do func() (*orchestrator.Response, error)) (*orchestrator.Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := b.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := do()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
