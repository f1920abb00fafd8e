package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/dispatch"
	"github.com/keyur7523/koda/internal/secrets"
	"github.com/keyur7523/koda/internal/workspace"
)

// Server is an MCP server bound to one workspace.
type Server struct {
	mcp        *mcp.Server
	dispatcher *dispatch.Dispatcher
	ws         *workspace.Workspace
	scrubber   secrets.Scrubber
	metrics    *Metrics
	readOnly   bool
	logger     *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "koda")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// ReadOnly hides the mutating tools and the ledger_apply tool.
	ReadOnly bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "koda",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server over ws.
func NewServer(cfg *Config, dispatcher *dispatch.Dispatcher, ws *workspace.Workspace, scrubber secrets.Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:        mcpServer,
		dispatcher: dispatcher,
		ws:         ws,
		scrubber:   scrubber,
		metrics:    NewMetrics(cfg.Logger, ws.Ledger().Len),
		readOnly:   cfg.ReadOnly,
		logger:     cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.String("root", s.ws.Root()))
	return s.Serve(ctx, &mcp.StdioTransport{})
}

// Serve runs the server on transport until the client disconnects or ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, transport mcp.Transport) error {
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect attaches a single session on transport and returns immediately.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// Close reports staged changes that were never applied.
func (s *Server) Close() error {
	if n := s.ws.Ledger().Len(); n > 0 {
		s.logger.Warn("closing MCP server with unapplied staged changes", zap.Int("staged_changes", n))
	}
	return nil
}
