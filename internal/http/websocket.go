package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/events"
	"github.com/keyur7523/koda/internal/runs"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsMessage is the frame format sent to clients.
type wsMessage struct {
	Type events.Type    `json:"type"`
	Data map[string]any `json:"data"`
}

// safeConn serializes writes; gorilla allows one concurrent writer.
type safeConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sc *safeConn) WriteJSON(v any) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return sc.conn.WriteJSON(v)
}

func (sc *safeConn) sendError(message string) error {
	return sc.WriteJSON(wsMessage{Type: events.TypeError, Data: events.ErrorData(message)})
}

// handleWebSocket runs one task per connection. The client sends
// {"task": "..."}; the server streams {type, data} frames; after an
// "approval" frame the client answers {"approved": bool}; the connection
// closes after "complete" or "error".
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()
	sc := &safeConn{conn: conn}
	s.metrics.SessionOpened(c.Request().Context())
	defer s.metrics.SessionClosed(context.WithoutCancel(c.Request().Context()))

	var req TaskRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = sc.sendError("invalid request")
		return nil
	}
	if req.Task == "" {
		_ = sc.sendError("No task provided")
		return nil
	}

	// The run outlives the HTTP request context once upgraded.
	ctx := context.WithoutCancel(c.Request().Context())
	id, err := s.runs.Start(ctx, runs.Request{Task: req.Task, RepoPath: req.RepoPath})
	if err != nil {
		_ = sc.sendError(err.Error())
		return nil
	}
	s.mu.Lock()
	s.lastRun = id
	s.mu.Unlock()

	replay, stream, cancel, err := s.runs.Subscribe(id)
	if err != nil {
		_ = sc.sendError(err.Error())
		return nil
	}
	defer cancel()

	approvals := make(chan ApproveRequest, 1)
	readErr := make(chan error, 1)
	go func() {
		for {
			var a ApproveRequest
			if err := conn.ReadJSON(&a); err != nil {
				readErr <- err
				return
			}
			select {
			case approvals <- a:
			default:
			}
		}
	}()

	send := func(ev events.Event) (done bool, err error) {
		if err := sc.WriteJSON(wsMessage{Type: ev.Type, Data: ev.Data}); err != nil {
			return true, err
		}
		return ev.Type.Terminal(), nil
	}

	for _, ev := range replay {
		if done, err := send(ev); done || err != nil {
			return nil
		}
	}

	for {
		select {
		case ev, ok := <-stream.C():
			if !ok {
				return nil
			}
			if done, err := send(ev); done || err != nil {
				return nil
			}
		case a := <-approvals:
			if _, err := s.runs.Approve(ctx, id, a.decision()); err != nil {
				s.logger.Warn("websocket approval failed", zap.String("run.id", id), zap.Error(err))
				_ = sc.sendError(err.Error())
				return nil
			}
			s.metrics.RecordDecision(ctx, a.Approved, transportWS)
		case err := <-readErr:
			s.logger.Debug("websocket client gone", zap.String("run.id", id), zap.Error(err))
			return nil
		}
	}
}
