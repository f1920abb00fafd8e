package provider

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/logging"
	"github.com/keyur7523/koda/internal/orchestrator"
)

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openaiMessage `json:"messages"`
	Tools     []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAIClient talks to the OpenAI Chat Completions API.
type OpenAIClient struct {
	base
}

var _ orchestrator.ModelClient = (*OpenAIClient)(nil)

// NewOpenAI creates an OpenAI client.
func NewOpenAI(cfg Config, logger *logging.Logger) (*OpenAIClient, error) {
	b, err := newBase(cfg, logger, defaultOpenAIBaseURL, defaultOpenAIModel, defaultOpenAIFast)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{base: b}, nil
}

// Chat sends a single prompt without tools.
func (c *OpenAIClient) Chat(ctx context.Context, prompt string, phase orchestrator.Phase) (*orchestrator.Response, error) {
	return c.ChatWithTools(ctx, []orchestrator.Message{orchestrator.UserText(prompt)}, nil, phase)
}

// ChatWithTools sends the transcript with tool schemas as functions.
func (c *OpenAIClient) ChatWithTools(ctx context.Context, messages []orchestrator.Message, tools []orchestrator.Tool, phase orchestrator.Phase) (*orchestrator.Response, error) {
	model := c.modelFor(phase)
	ctx, span := c.tracer.Start(ctx, "provider.messages")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", OpenAI),
		attribute.String("model", model),
		attribute.Int("messages", len(messages)),
		attribute.Int("tools", len(tools)),
	)

	req, err := c.buildRequest(model, messages, tools)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	resp, err := c.withRetry(ctx, func() (*orchestrator.Response, error) {
		var out openaiResponse
		if err := postJSON(ctx, c.httpClient, c.baseURL+"/v1/chat/completions", headers, req, &out); err != nil {
			return nil, err
		}
		return fromOpenAI(out)
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

// buildRequest flattens the block transcript. Tool results become "tool"
// role messages; tool_use blocks ride on the assistant message.
func (c *OpenAIClient) buildRequest(model string, messages []orchestrator.Message, tools []orchestrator.Tool) (openaiRequest, error) {
	req := openaiRequest{Model: model, MaxTokens: c.maxTokens}
	for _, m := range messages {
		var text string
		var calls []openaiToolCall
		for _, b := range m.Content {
			switch b.Type {
			case orchestrator.BlockText:
				if text != "" && b.Text != "" {
					text += "\n"
				}
				text += b.Text
			case orchestrator.BlockToolUse:
				args, err := marshalInput(b.Input)
				if err != nil {
					return req, err
				}
				var call openaiToolCall
				call.ID = b.ID
				call.Type = "function"
				call.Function.Name = b.Name
				call.Function.Arguments = string(args)
				calls = append(calls, call)
			case orchestrator.BlockToolResult:
				content := b.Content
				req.Messages = append(req.Messages, openaiMessage{Role: "tool", Content: &content, ToolCallID: b.ToolUseID})
			default:
				return req, fmt.Errorf("unsupported content block %q", b.Type)
			}
		}
		if text == "" && len(calls) == 0 {
			continue
		}
		msg := openaiMessage{Role: string(m.Role), ToolCalls: calls}
		if text != "" {
			msg.Content = &text
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openaiTool{
			Type:     "function",
			Function: openaiFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}
	return req, nil
}

func fromOpenAI(out openaiResponse) (*orchestrator.Response, error) {
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty response from API")
	}
	choice := out.Choices[0]
	resp := &orchestrator.Response{
		StopReason: openaiStopReason(choice.FinishReason),
		Usage: orchestrator.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != nil && *choice.Message.Content != "" {
		resp.Content = append(resp.Content, orchestrator.ContentBlock{Type: orchestrator.BlockText, Text: *choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input, err := unmarshalInput([]byte(tc.Function.Arguments))
		if err != nil {
			return nil, err
		}
		resp.Content = append(resp.Content, orchestrator.ContentBlock{
			Type: orchestrator.BlockToolUse, ID: tc.ID, Name: tc.Function.Name, Input: input,
		})
		resp.ToolCalls = append(resp.ToolCalls, orchestrator.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	return resp, nil
}

func openaiStopReason(reason string) orchestrator.StopReason {
	switch reason {
	case "stop":
		return orchestrator.StopEndTurn
	case "tool_calls", "function_call":
		return orchestrator.StopToolUse
	case "length":
		return orchestrator.StopMaxTokens
	default:
		return orchestrator.StopReason(reason)
	}
}
