package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
)

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	base
}

var _ orchestrator.ModelClient = (*AnthropicClient)(nil)

// NewAnthropic creates an Anthropic client.
func NewAnthropic(cfg Config, logger *logging.Logger) (*AnthropicClient, error) {
	b, err := newBase(cfg, logger, defaultAnthropicBaseURL, defaultAnthropicModel, defaultAnthropicFast)
	if err != nil {
		return nil, err
	}
	return &AnthropicClient{base: b}, nil
}

// Chat sends a single prompt without tools.
func (c *AnthropicClient) Chat(ctx context.Context, prompt string, phase orchestrator.Phase) (*orchestrator.Response, error) {
	return c.ChatWithTools(ctx, []orchestrator.Message{orchestrator.UserText(prompt)}, nil, phase)
}

// ChatWithTools sends the transcript with tool schemas.
func (c *AnthropicClient) ChatWithTools(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.Tool, phase orchestrator.Phase) (*orchestrator.Response, error) {
	model := c.modelFor(phase)
	ctx, span := c.tracer.Start(ctx, "provider.messages")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", Anthropic),
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
		attribute.Int("tools", len(tools)),
	)

	req, err := c.buildRequest(model, messages, tools)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"X-API-Key":         c.apiKey,
		"Anthropic-Version": anthropicVersion,
	}

	resp, err := c.withRetry(ctx, func() (*orchestrator.Response, error) {
		var out anthropicResponse
		if err := postJSON(ctx, c.httpClient, c.baseURL+"/v1/messages", headers, req, &out); err != nil {
			return nil, err
		}
		return fromAnthropic(out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("stop_reason", string(resp.StopReason)),
		attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
	)
	c.logger.Debug(ctx, "model response",
		zap.String("model", model),
		zap.String("stop_reason", string(resp.StopReason)),
		zap.Int("tool_calls", len(resp.ToolCalls)),
	)
	return resp, nil
}

func (c *AnthropicClient) buildRequest(model string, messages []orchestrator.Message, tools []orchestrator.Tool) (anthropicRequest, error) {
	req := anthropicRequest{Model: model, MaxTokens: c.maxTokens}
	for _, m := range messages {
		am := anthropicMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case orchestrator.BlockText:
				if b.Text == "" {
					continue
				}
				am.Content = append(am.Content, anthropicBlock{Type: b.Type, Text: b.Text})
			case orchestrator.BlockToolUse:
				input, err := marshalInput(b.Input)
				if err != nil {
					return req, err
				}
				am.Content = append(am.Content, anthropicBlock{Type: b.Type, ID: b.ID, Name: b.Name, Input: input})
			case orchestrator.BlockToolResult:
				am.Content = append(am.Content, anthropicBlock{Type: b.Type, ToolUseID: b.ToolUseID, Content: b.Content})
			default:
				return req, fmt.Errorf("unsupported content block %q", b.Type)
			}
		}
		if len(am.Content) > 0 {
			req.Messages = append(req.Messages, am)
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return req, nil
}

func fromAnthropic(out anthropicResponse) (*orchestrator.Response, error) {
	resp := &orchestrator.Response{
		StopReason: orchestrator.StopReason(out.StopReason),
		Usage: orchestrator.Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		},
	}
	for _, b := range out.Content {
		switch b.Type {
		case orchestrator.BlockText:
			resp.Content = append(resp.Content, orchestrator.ContentBlock{Type: b.Type, Text: b.Text})
		case orchestrator.BlockToolUse:
			input, err := unmarshalInput(b.Input)
			if err != nil {
				return nil, err
			}
			resp.Content = append(resp.Content, orchestrator.ContentBlock{Type: b.Type, ID: b.ID, Name: b.Name, Input: input})
			resp.ToolCalls = append(resp.ToolCalls, orchestrator.ToolCall{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	return resp, nil
}
