package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/keyur7523/koda/internal/workspace"
)

// toolLoop exchanges model turns and tool calls until the model ends its
// turn. Tool calls within one turn run in the order the model returned
// them, and their results go back in a single user message. Any stop reason
// other than end_turn or tool_use ends the loop with a descriptive result.
func (o *Orchestrator) toolLoop(ctx context.Context, ws *workspace.Workspace, prompt string, phase Phase, readOnly bool) (string, error) {
	messages := []Message{UserText(prompt)}
	tools := o.tools.Schemas(readOnly)

	for turn := 0; turn < o.maxIter; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := o.client.ChatWithTools(ctx, messages, tools, phase)
		if err != nil {
			return "", fmt.Errorf("model call: %w", err)
		}
		if err := o.account(ctx, resp.Usage); err != nil {
			return "", err
		}

		switch resp.StopReason {
		case StopEndTurn:
			return resp.Text(), nil

		case StopToolUse:
			if len(resp.ToolCalls) == 0 {
				return fmt.Sprintf("Unexpected stop reason: %s", resp.StopReason), nil
			}
			messages = append(messages, Message{Role: RoleAssistant, Content: assistantContent(resp)})

			results := make([]ContentBlock, 0, len(resp.ToolCalls))
			for _, call := range resp.ToolCalls {
				o.sink.OnToolCall(ctx, call.Name, call.Input)
				result := o.tools.Execute(ctx, ws, call, readOnly)
				o.sink.OnToolResult(ctx, call.Name, result)
				results = append(results, ToolResult(call.ID, result))
			}
			messages = append(messages, Message{Role: RoleUser, Content: results})

			o.logger.Debug(ctx, "tool turn complete",
				zap.String("phase", string(phase)),
				zap.Int("turn", turn+1),
				zap.Int("tool_calls", len(resp.ToolCalls)),
			)

		default:
			o.logger.Warn(ctx, "unexpected stop reason", zap.String("stop_reason", string(resp.StopReason)))
			return fmt.Sprintf("Unexpected stop reason: %s", resp.StopReason), nil
		}
	}

	return "", fmt.Errorf("%w: %d turns in %s", ErrIterationLimit, o.maxIter, phase)
}

// assistantContent echoes the model's turn back into the transcript. Every
// tool call needs a matching tool_use block for its result to refer to.
func assistantContent(resp *Response) []ContentBlock {
	content := make([]ContentBlock, 0, len(resp.Content)+len(resp.ToolCalls))
	seen := make(map[string]bool)
	for _, b := range resp.Content {
		if b.Type == BlockToolUse {
			seen[b.ID] = true
		}
		content = append(content, b)
	}
	for _, call := range resp.ToolCalls {
		if seen[call.ID] {
			continue
		}
		content = append(content, ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Name, Input: call.Input})
	}
	return content
}
