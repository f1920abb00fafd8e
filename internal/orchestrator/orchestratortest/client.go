// Package orchestratortest provides a scripted model client for tests of
// packages built on the orchestrator.
package orchestratortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/keyur7523/koda/internal/orchestrator"
)

// Client replays canned responses per phase. When a phase's queue runs
// dry the last response is repeated.
type Client struct {
	mu      sync.Mutex
	scripts map[orchestrator.Phase][]*orchestrator.Response
	calls   map[orchestrator.Phase]int

	// Block, when set, is waited on before each reply.
	Block <-chan struct{}
}

var _ orchestrator.ModelClient = (*Client)(nil)

// NewClient creates an empty client.
func NewClient() *Client {
	return &Client{
		scripts: make(map[orchestrator.Phase][]*orchestrator.Response),
		calls:   make(map[orchestrator.Phase]int),
	}
}

// On appends responses for phase.
func (c *Client) On(phase orchestrator.Phase, resp ...*orchestrator.Response) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[phase] = append(c.scripts[phase], resp...)
	return c
}

// Calls returns how many times phase was queried.
func (c *Client) Calls(phase orchestrator.Phase) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[phase]
}

func (c *Client) next(ctx context.Context, phase orchestrator.Phase) (*orchestrator.Response, error) {
	if c.Block != nil {
		select {
		case <-c.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	script := c.scripts[phase]
	if len(script) == 0 {
		return nil, fmt.Errorf("no scripted response for phase %s", phase)
	}
	i := c.calls[phase]
	c.calls[phase]++
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], nil
}

// Chat implements orchestrator.ModelClient.
func (c *Client) Chat(ctx context.Context, _ string, phase orchestrator.Phase) (*orchestrator.Response, error) {
	return c.next(ctx, phase)
}

// ChatWithTools implements orchestrator.ModelClient.
func (c *Client) ChatWithTools(ctx context.Context, _ []orchestrator.Message, _ []orchestrator.Tool, phase orchestrator.Phase) (*orchestrator.Response, error) {
	return c.next(ctx, phase)
}

// Text builds an end_turn response.
func Text(s string) *orchestrator.Response {
	return &orchestrator.Response{
		Content:    []orchestrator.ContentBlock{{Type: orchestrator.BlockText, Text: s}},
		StopReason: orchestrator.StopEndTurn,
		Usage:      orchestrator.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// ToolUse builds a tool_use response.
func ToolUse(calls ...orchestrator.ToolCall) *orchestrator.Response {
	return &orchestrator.Response{
		ToolCalls:  calls,
		StopReason: orchestrator.StopToolUse,
		Usage:      orchestrator.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// WriteFile builds a write_file call.
func WriteFile(id, path, content string) orchestrator.ToolCall {
	return orchestrator.ToolCall{ID: id, Name: "write_file", Input: map[string]any{"path": path, "content": content}}
}

// HelloWorld returns a client that stages hello.txt containing "hi".
func HelloWorld() *Client {
	return NewClient().
		On(orchestrator.PhaseUnderstanding, Text("An empty repository.")).
		On(orchestrator.PhasePlanning, Text(`[{"description": "create hello.txt", "tool": "write_file"}]`)).
		On(orchestrator.PhaseExecuting, ToolUse(WriteFile("w1", "hello.txt", "hi")), Text("Created hello.txt"))
}
