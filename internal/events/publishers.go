package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/metrics"
)

// LogPublisher writes every event as a structured log line.
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("run.id", ev.RunID),
		zap.Uint64("seq", ev.Seq),
		zap.String("type", string(ev.Type)),
	}
	switch ev.Type {
	case TypePhase:
		fields = append(fields, zap.Any("phase", ev.Data["phase"]))
	case TypeToolCall, TypeToolResult:
		fields = append(fields, zap.Any("tool", ev.Data["name"]))
	case TypeError:
		fields = append(fields, zap.Any("message", ev.Data["message"]))
	}
	if ev.Type == TypeError {
		p.logger.Warn(ctx, "run event", fields...)
		return nil
	}
	p.logger.Debug(ctx, "run event", fields...)
	return nil
}

// DefaultSubjectPrefix is the NATS subject root for run events.
const DefaultSubjectPrefix = "koda.runs"

// NATSPublisher publishes events as JSON to <prefix>.<run_id>.<type>.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher creates a NATSPublisher. An empty prefix selects
// DefaultSubjectPrefix.
func NewNATSPublisher(nc *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(ev Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, ev.RunID, ev.Type)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

var (
	// ErrStreamClosed is returned when publishing to a closed Stream.
	ErrStreamClosed = errors.New("event stream closed")

	// ErrSlowConsumer is returned when a Stream reader falls behind.
	ErrSlowConsumer = errors.New("event stream consumer too slow")
)

const (
	defaultStreamBuffer  = 256
	defaultStreamTimeout = 5 * time.Second
)

// Stream is an in-process publisher backed by a bounded channel. A send
// that cannot complete within the timeout drops the event.
type Stream struct {
	ch      chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewStream creates a Stream. Zero values select the defaults.
func NewStream(buffer int, timeout time.Duration) *Stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	if timeout <= 0 {
		timeout = defaultStreamTimeout
	}
	return &Stream{ch: make(chan Event, buffer), timeout: timeout}
}

// C returns the receive side of the stream.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Publish implements Publisher.
func (s *Stream) Publish(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case s.ch <- ev:
		return nil
	case <-timer.C:
		return ErrSlowConsumer
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. It is safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MetricsPublisher maintains the run lifecycle collectors.
type MetricsPublisher struct {
	m *metrics.Metrics

	mu      sync.Mutex
	pending map[string][]string // run id -> staged change kinds
	active  map[string]bool
}

// NewMetricsPublisher creates a MetricsPublisher.
func NewMetricsPublisher(m *metrics.Metrics) *MetricsPublisher {
	return &MetricsPublisher{
		m:       m,
		pending: make(map[string][]string),
		active:  make(map[string]bool),
	}
}

// Publish implements Publisher.
func (p *MetricsPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case TypePhase:
		phase, _ := ev.Data["phase"].(string)
		p.m.PhaseTransitionsTotal.WithLabelValues(phase).Inc()
		if !p.active[ev.RunID] {
			p.active[ev.RunID] = true
			p.m.ActiveRuns.Inc()
		}
	case TypeApproval:
		changes, _ := ev.Data["changes"].([]map[string]any)
		kinds := make([]string, 0, len(changes))
		for _, c := range changes {
			kind, _ := c["kind"].(string)
			kinds = append(kinds, kind)
		}
		p.pending[ev.RunID] = kinds
	case TypeComplete:
		approved, _ := ev.Data["approved"].(bool)
		decision := "rejected"
		if approved {
			decision = "approved"
		}
		for _, kind := range p.pending[ev.RunID] {
			p.m.StagedChangesTotal.WithLabelValues(kind, decision).Inc()
		}
		p.m.RunsFinishedTotal.WithLabelValues(outcomeLabel(ev)).Inc()
		p.finish(ev.RunID)
	case TypeError:
		p.m.RunsFinishedTotal.WithLabelValues("error").Inc()
		p.finish(ev.RunID)
	}
	return nil
}

func (p *MetricsPublisher) finish(runID string) {
	delete(p.pending, runID)
	if p.active[runID] {
		delete(p.active, runID)
		p.m.ActiveRuns.Dec()
	}
}

func outcomeLabel(ev Event) string {
	applied, _ := ev.Data["applied"].(int)
	rejected, _ := ev.Data["rejected"].(int)
	switch {
	case applied > 0:
		return "applied"
	case rejected > 0:
		return "rejected"
	default:
		return "no_changes"
	}
}
