package oracle

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/adapter"
	"github.com/m-mizutani/pika/pkg/utils/logging"
)

// Claude decides actions with Claude tool use
type Claude struct {
	client adapter.Claude
}

// NewClaude creates a Claude backed oracle
func NewClaude(client adapter.Claude) *Claude {
	return &Claude{client: client}
}

func (c *Claude) Decide(ctx context.Context, req *Request) (Action, error) {
	params := anthropic.MessageNewParams{
		Messages: buildClaudeMessages(req),
		Tools:    claudeTools(req),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := c.client.Messages(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to ask claude for next action", goerr.V("domain", req.Domain))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == FinalAnswerTool {
				answer, err := decodeFinalAnswer(block.Input)
				if err != nil {
					return nil, goerr.Wrap(err, "claude sent an unusable final answer", goerr.V("domain", req.Domain))
				}
				return answer, nil
			}
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, goerr.Wrap(ErrMalformedAction, "tool input is not an object",
						goerr.V("tool", block.Name),
						goerr.V("input", string(block.Input)))
				}
			}
			logging.From(ctx).Debug("claude requested tool",
				"domain", req.Domain,
				"tool", block.Name)
			return CallTool{Name: block.Name, Args: args}, nil

		case "text":
			text.WriteString(block.Text)
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, goerr.Wrap(ErrMalformedAction, "claude returned neither a tool call nor text",
			goerr.V("domain", req.Domain),
			goerr.V("stop_reason", msg.StopReason))
	}
	return textAnswer(text.String()), nil
}

// claudeTools declares the gateway tools plus final_answer
func claudeTools(req *Request) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools)+1)
	for _, t := range req.Tools {
		if t.Name == FinalAnswerTool {
			continue
		}
		tools = append(tools, claudeTool(t.Name, t.Description, t.InputSchema))
	}
	return append(tools, claudeTool(FinalAnswerTool, finalAnswerDescription, finalAnswerSchema))
}

func claudeTool(name, description string, input *jsonschema.Schema) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{}
	if input != nil {
		if len(input.Properties) > 0 {
			schema.Properties = input.Properties
		}
		schema.Required = input.Required
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(description),
			InputSchema: schema,
		},
	}
}

func buildClaudeMessages(req *Request) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req))),
	}

	for i, ev := range req.Evidence {
		id := callID(i)
		args := ev.Args
		if args == nil {
			args = map[string]any{}
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(id, args, ev.Tool)))

		content, isError := ev.Result, false
		if ev.Failed() {
			content, isError = ev.Error, true
		}
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, content, isError)))
	}

	return messages
}
