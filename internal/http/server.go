// Package http serves the koda REST and WebSocket API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/budget"
	"github.com/keyur7523/koda/internal/orchestrator"
	"github.com/keyur7523/koda/internal/runs"
	"github.com/keyur7523/koda/internal/secrets"
)

// OwnerHeader carries the caller identity used for budgets.
const OwnerHeader = "X-Koda-Owner"

var ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Server provides HTTP endpoints for koda.
type Server struct {
	echo     *echo.Echo
	runs     *runs.Manager
	scrubber secrets.Scrubber
	logger   *zap.Logger
	config   *Config
	metrics  *HTTPMetrics

	// wait bounds how long POST /task blocks for a run to park.
	wait time.Duration

	mu      sync.Mutex
	lastRun string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// SyncTimeout bounds POST /task. Zero means ten minutes.
	SyncTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(manager *runs.Manager, scrubber secrets.Scrubber, logger *zap.Logger, cfg *Config) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("run manager cannot be nil")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	wait := cfg.SyncTimeout
	if wait <= 0 {
		wait = 10 * time.Minute
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	httpMetrics := NewHTTPMetrics(logger)
	e.Use(httpMetrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		runs:     manager,
		scrubber: scrubber,
		logger:   logger,
		config:   cfg,
		metrics:  httpMetrics,
		wait:     wait,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Single-run shapes used by the web client.
	s.echo.POST("/task", s.handleRunTask)
	s.echo.POST("/approve", s.handleApproveLast)
	s.echo.GET("/ws/task", s.handleWebSocket)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/:id", s.handleGetTask)
	v1.GET("/tasks/:id/diff", s.handleGetDiff)
	v1.POST("/tasks/:id/approve", s.handleApprove)
	v1.POST("/scrub", s.handleScrub)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) bindTask(c echo.Context) (runs.Request, error) {
	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid task request", zap.Error(err))
		return runs.Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Task == "" {
		return runs.Request{}, echo.NewHTTPError(http.StatusBadRequest, "No task provided")
	}

	owner := c.Request().Header.Get(OwnerHeader)
	if owner != "" && !ownerPattern.MatchString(owner) {
		return runs.Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid owner header")
	}
	return runs.Request{Task: req.Task, RepoPath: req.RepoPath, Owner: owner}, nil
}

func (s *Server) start(c echo.Context, req runs.Request) (string, error) {
	id, err := s.runs.Start(c.Request().Context(), req)
	if err != nil {
		return "", s.httpError(err)
	}
	s.mu.Lock()
	s.lastRun = id
	s.mu.Unlock()
	return id, nil
}

// handleCreateTask starts a headless run and returns immediately.
func (s *Server) handleCreateTask(c echo.Context) error {
	req, err := s.bindTask(c)
	if err != nil {
		return err
	}
	id, err := s.start(c, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, TaskCreatedResponse{ID: id, Phase: orchestrator.PhaseIdle})
}

// handleRunTask starts a headless run and waits until it parks or ends.
func (s *Server) handleRunTask(c echo.Context) error {
	req, err := s.bindTask(c)
	if err != nil {
		return err
	}
	id, err := s.start(c, req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.wait)
	defer cancel()
	snap, err := s.runs.Wait(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusGatewayTimeout, fmt.Sprintf("run %s still in progress", id))
	}
	return c.JSON(http.StatusOK, taskResponse(snap))
}

func (s *Server) handleListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runs.List())
}

func (s *Server) handleGetTask(c echo.Context) error {
	snap, err := s.runs.Get(c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

// handleGetDiff returns the staged changes as a unified diff.
func (s *Server) handleGetDiff(c echo.Context) error {
	snap, err := s.runs.Get(c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	diff := snap.Diff
	if diff == "" {
		diff = "No staged changes."
	}
	return c.Blob(http.StatusOK, "text/x-diff; charset=utf-8", []byte(diff))
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.approve(c, c.Param("id"))
}

// handleApproveLast decides the most recently started run.
func (s *Server) handleApproveLast(c echo.Context) error {
	s.mu.Lock()
	id := s.lastRun
	s.mu.Unlock()
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No pending changes")
	}
	return s.approve(c, id)
}

func (s *Server) approve(c echo.Context, id string) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.runs.Approve(c.Request().Context(), id, req.decision())
	if err == nil || res.Applied > 0 || res.Publish != nil {
		s.metrics.RecordDecision(c.Request().Context(), req.Approved, transportREST)
	}
	if err != nil {
		if res.Publish != nil || res.Applied > 0 {
			// Applied locally; only publication failed.
			out := approveResponse(res)
			out.Success = false
			out.Message = fmt.Sprintf("%s\n%s", res.Message, err.Error())
			return c.JSON(http.StatusBadGateway, out)
		}
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, approveResponse(res))
}

// handleScrub redacts secrets from the provided content.
func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result := s.scrubber.Scrub(req.Content)

	s.logger.Debug("scrubbed content", zap.Int("findings", len(result.Findings)))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       result.Scrubbed,
		FindingsCount: len(result.Findings),
		Rules:         result.RuleIDs(),
	})
}

// httpError maps domain errors to status codes.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, runs.ErrEmptyTask):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrNotAwaitingApproval):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, budget.ErrBudgetExceeded):
		return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, runs.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
