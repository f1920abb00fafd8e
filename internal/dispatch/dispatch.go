// Package dispatch executes model tool calls against a workspace.
//
// The Dispatcher never fails: unknown tools, tool errors and panics all come
// back as text so the tool-call loop can feed them to the model.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/metrics"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/tools"
	"github.com/keyur7523/koda/internal/workspace"
)

const instrumentationName = "github.com/keyur7523/koda/internal/dispatch"

// Dispatcher runs tool calls from the registry.
type Dispatcher struct {
	registry *tools.Registry
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *metrics.Metrics
}

var _ orchestrator.ToolExecutor = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithMetrics records call counts and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher over registry.
func New(registry *tools.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   logging.Nop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schemas returns the tool schemas offered to the model.
func (d *Dispatcher) Schemas(readOnly bool) []orchestrator.Tool {
	specs := d.registry.List(readOnly)
	out := make([]orchestrator.Tool, 0, len(specs))
	for _, s := range specs {
		out = append(out, orchestrator.Tool{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema(),
		})
	}
	return out
}

// Execute runs one call and returns its textual result.
func (d *Dispatcher) Execute(ctx context.Context, ws *workspace.Workspace, call orchestrator.ToolCall, readOnly bool) string {
	ctx, span := d.tracer.Start(ctx, "tool."+call.Name,
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.Bool("tool.read_only_mode", readOnly),
		),
	)
	defer span.End()

	spec, ok := d.registry.Get(call.Name)
	if !ok {
		d.record(call.Name, metrics.StatusUnknown, 0)
		d.logger.Warn(ctx, "unknown tool requested", zap.String("tool", call.Name))
		span.SetStatus(codes.Error, "unknown tool")
		return fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
	}
	if readOnly && !spec.ReadOnly {
		d.record(call.Name, metrics.StatusDenied, 0)
		d.logger.Warn(ctx, "mutating tool requested in read-only mode", zap.String("tool", call.Name))
		span.SetStatus(codes.Error, "denied in read-only mode")
		return fmt.Sprintf("Error: Tool '%s' is not available in read-only mode", call.Name)
	}

	start := time.Now()
	result, status, err := invoke(ctx, spec, ws, tools.Args(call.Input))
	elapsed := time.Since(start)
	d.record(call.Name, status, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Debug(ctx, "tool failed",
			zap.String("tool", call.Name),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return fmt.Sprintf("Error executing %s: %v", call.Name, err)
	}

	span.SetAttributes(attribute.Int("tool.result_length", len(result)))
	d.logger.Debug(ctx, "tool executed",
		zap.String("tool", call.Name),
		zap.Duration("duration", elapsed),
		zap.Int("result_length", len(result)),
	)
	return result
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, spec *tools.Spec, ws *workspace.Workspace, args tools.Args) (result, status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, status, err = "", metrics.StatusPanicked, fmt.Errorf("panic: %v", r)
		}
	}()
	if args == nil {
		args = tools.Args{}
	}
	result, err = spec.Handler(ctx, ws, args)
	if err != nil {
		return "", metrics.StatusError, err
	}
	return result, metrics.StatusOK, nil
}

func (d *Dispatcher) record(tool, status string, elapsed time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	if elapsed > 0 {
		d.metrics.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}
