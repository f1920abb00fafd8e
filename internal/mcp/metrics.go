package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/keyur7523/koda/internal/mcp"

// Ledger actions recorded by RecordLedger.
const (
	actionApplied   = "applied"
	actionDiscarded = "discarded"
)

// Metrics records tool calls and ledger activity of one MCP session.
type Metrics struct {
	meter  metric.Meter
	logger *zap.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	changes  metric.Int64Counter
	staged   metric.Int64ObservableGauge
}

// NewMetrics creates the instruments on the global meter. staged reports
// the current ledger size and is polled at collection time; it may be nil.
func NewMetrics(logger *zap.Logger, staged func() int) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init(staged)
	return m
}

func (m *Metrics) init(staged func() int) {
	var errs []error
	var err error

	m.calls, err = m.meter.Int64Counter("koda.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)

	m.duration, err = m.meter.Float64Histogram("koda.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30))
	errs = append(errs, err)

	m.failures, err = m.meter.Int64Counter("koda.mcp.tool.failures_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{call}"))
	errs = append(errs, err)

	m.changes, err = m.meter.Int64Counter("koda.mcp.ledger.changes_total",
		metric.WithDescription("Staged changes applied to disk or discarded"),
		metric.WithUnit("{change}"))
	errs = append(errs, err)

	if staged != nil {
		m.staged, err = m.meter.Int64ObservableGauge("koda.mcp.ledger.staged",
			metric.WithDescription("Changes currently staged in the session ledger"),
			metric.WithUnit("{change}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(staged()))
				return nil
			}))
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("creating mcp instruments", zap.Error(err))
	}
}

// RecordCall records one tool call. A non-nil err counts as a failure.
func (m *Metrics) RecordCall(ctx context.Context, tool string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if m.calls != nil {
		m.calls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("outcome", outcome),
		))
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("reason", failureReason(err)),
		))
	}
}

// RecordLedger counts n changes leaving the ledger through action.
func (m *Metrics) RecordLedger(ctx context.Context, action string, n int) {
	if m.changes == nil || n == 0 {
		return
	}
	m.changes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("action", action)))
}

// failureReason buckets the tool error text the dispatcher produces.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missing") || strings.Contains(msg, "invalid"):
		return "bad_input"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"):
		return "not_found"
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "rejected") || strings.Contains(msg, "read-only"):
		return "policy"
	case strings.Contains(msg, "apply"):
		return "apply"
	default:
		return "internal"
	}
}
