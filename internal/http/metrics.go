package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/keyur7523/koda/internal/http"

// Transports an approval can arrive over.
const (
	transportREST = "rest"
	transportWS   = "websocket"
)

// HTTPMetrics records request traffic, WebSocket sessions and approval
// decisions.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	sessions  metric.Int64UpDownCounter
	decisions metric.Int64Counter
}

// NewHTTPMetrics creates the instruments on the global meter.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var errs []error
	var err error

	m.requests, err = m.meter.Int64Counter("koda.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status class"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	// POST /task blocks for a whole run, hence the long tail buckets.
	m.latency, err = m.meter.Float64Histogram("koda.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method and route"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 600))
	errs = append(errs, err)

	m.sessions, err = m.meter.Int64UpDownCounter("koda.http.websocket_sessions",
		metric.WithDescription("Open /ws/task sessions"),
		metric.WithUnit("{session}"))
	errs = append(errs, err)

	m.decisions, err = m.meter.Int64Counter("koda.http.approvals_total",
		metric.WithDescription("Approval decisions by outcome and transport"),
		metric.WithUnit("{decision}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("creating http instruments", zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records each request.
// Routes are echo patterns such as /api/v1/tasks/:id, so run ids never
// become label values.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			ctx := c.Request().Context()
			route := attribute.String("route", normalizePath(c.Path()))
			method := attribute.String("method", c.Request().Method)

			if m.requests != nil {
				m.requests.Add(ctx, 1, metric.WithAttributes(method, route, attribute.String("status", statusClass(status))))
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(method, route))
			}
			return err
		}
	}
}

// SessionOpened and SessionClosed bracket a WebSocket session.
func (m *HTTPMetrics) SessionOpened(ctx context.Context) {
	if m.sessions != nil {
		m.sessions.Add(ctx, 1)
	}
}

func (m *HTTPMetrics) SessionClosed(ctx context.Context) {
	if m.sessions != nil {
		m.sessions.Add(ctx, -1)
	}
}

// RecordDecision counts one delivered approval decision.
func (m *HTTPMetrics) RecordDecision(ctx context.Context, approved bool, transport string) {
	if m.decisions == nil {
		return
	}
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("transport", transport),
	))
}

// normalizePath maps an unmatched route to "/".
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}

// statusClass buckets a status code as 2xx, 4xx and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
