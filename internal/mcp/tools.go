package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/ledger"
	"github.com/keyur7523/koda/internal/orchestrator"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	for _, t := range s.dispatcher.Schemas(s.readOnly) {
		if err := s.registerAgentTool(t); err != nil {
			return err
		}
	}
	s.registerLedgerTools()
	return nil
}

// ===== AGENT TOOLS =====

func (s *Server) registerAgentTool(t orchestrator.Tool) error {
	if t.InputSchema == nil {
		return fmt.Errorf("tool %s has no input schema", t.Name)
	}
	name := t.Name
	s.mcp.AddTool(&mcp.Tool{
		Name:        name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		var toolErr error
		defer func() { s.metrics.RecordCall(ctx, name, time.Since(start), toolErr) }()

		input := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &input); err != nil {
				toolErr = fmt.Errorf("invalid arguments: %w", err)
				return nil, toolErr
			}
		}
		if input == nil {
			input = map[string]any{}
		}

		result := s.dispatcher.Execute(ctx, s.ws, orchestrator.ToolCall{
			ID:    uuid.NewString(),
			Name:  name,
			Input: input,
		}, s.readOnly)

		isError := strings.HasPrefix(result, "Error")
		if isError {
			toolErr = errors.New(result)
		}

		// Scrub response
		result = s.scrubber.Scrub(result).Scrubbed

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: result}},
			IsError: isError,
		}, nil
	})
	return nil
}

// ===== LEDGER TOOLS =====

type ledgerInput struct{}

type ledgerDiffOutput struct {
	Diff    string        `json:"diff" jsonschema:"Unified diff of every staged change"`
	Summary string        `json:"summary" jsonschema:"One-line summary of staged changes"`
	Counts  ledger.Counts `json:"counts" jsonschema:"Staged changes by kind"`
}

type ledgerApplyOutput struct {
	Message string `json:"message" jsonschema:"Per-file apply report"`
	Applied int    `json:"applied" jsonschema:"Number of changes written to disk"`
}

type ledgerDiscardOutput struct {
	Message   string `json:"message" jsonschema:"Discard report"`
	Discarded int    `json:"discarded" jsonschema:"Number of staged changes dropped"`
}

func (s *Server) registerLedgerTools() {
	// ledger_diff
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ledger_diff",
		Description: "Show staged changes as a unified diff without applying them",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ ledgerInput) (*mcp.CallToolResult, ledgerDiffOutput, error) {
		start := time.Now()
		defer func() { s.metrics.RecordCall(ctx, "ledger_diff", time.Since(start), nil) }()

		l := s.ws.Ledger()
		out := ledgerDiffOutput{
			Diff:    s.scrubber.Scrub(l.Diff()).Scrubbed,
			Summary: l.Summary(),
			Counts:  l.Counts(),
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Diff}},
		}, out, nil
	})

	if !s.readOnly {
		// ledger_apply
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "ledger_apply",
			Description: "Write every staged change to disk; all or nothing",
		}, func(ctx context.Context, req *mcp.CallToolRequest, _ ledgerInput) (*mcp.CallToolResult, ledgerApplyOutput, error) {
			start := time.Now()
			var toolErr error
			defer func() { s.metrics.RecordCall(ctx, "ledger_apply", time.Since(start), toolErr) }()

			l := s.ws.Ledger()
			n := l.Len()
			if n == 0 {
				out := ledgerApplyOutput{Message: "No staged changes."}
				return &mcp.CallToolResult{
					Content: []mcp.Content{&mcp.TextContent{Text: out.Message}},
				}, out, nil
			}

			msg, err := l.ApplyAll()
			if err != nil {
				toolErr = fmt.Errorf("apply staged changes: %w", err)
				s.logger.Warn("ledger apply failed", zap.Error(err))
				return nil, ledgerApplyOutput{}, toolErr
			}
			s.ws.InvalidateSymbols()
			s.metrics.RecordLedger(ctx, actionApplied, n)
			s.logger.Info("applied staged changes", zap.Int("applied", n))

			out := ledgerApplyOutput{Message: msg, Applied: n}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: msg}},
			}, out, nil
		})
	}

	// ledger_discard
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ledger_discard",
		Description: "Drop every staged change without touching disk",
	}, func(ctx context.Context, req *mcp.CallToolRequest, _ ledgerInput) (*mcp.CallToolResult, ledgerDiscardOutput, error) {
		start := time.Now()
		defer func() { s.metrics.RecordCall(ctx, "ledger_discard", time.Since(start), nil) }()

		l := s.ws.Ledger()
		n := l.Len()
		out := ledgerDiscardOutput{Message: l.DiscardAll(), Discarded: n}
		s.metrics.RecordLedger(ctx, actionDiscarded, n)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Message}},
		}, out, nil
	})
}
