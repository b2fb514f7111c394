package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/adapter"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"google.golang.org/genai"
)

// Gemini decides actions with Gemini function calling
type Gemini struct {
	client adapter.Gemini
}

// NewGemini creates a Gemini backed oracle
func NewGemini(client adapter.Gemini) *Gemini {
	return &Gemini{client: client}
}

func (g *Gemini) Decide(ctx context.Context, req *Request) (Action, error) {
	tools, err := g.toolSpec(req)
	if err != nil {
		return nil, err
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, ""),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		Tools: []*genai.Tool{tools},
	}

	resp, err := g.client.GenerateContent(ctx, buildGeminiContents(req), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to ask gemini for next action", goerr.V("domain", req.Domain))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.Wrap(ErrMalformedAction, "empty response from Gemini", goerr.V("domain", req.Domain))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if call := part.FunctionCall; call != nil && call.Name == FinalAnswerTool {
			answer, err := decodeFinalAnswerArgs(call.Args)
			if err != nil {
				return nil, goerr.Wrap(err, "gemini sent an unusable final answer", goerr.V("domain", req.Domain))
			}
			return answer, nil
		}
		if part.FunctionCall != nil {
			logging.From(ctx).Debug("gemini requested tool",
				"domain", req.Domain,
				"tool", part.FunctionCall.Name)
			return CallTool{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args}, nil
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return nil, goerr.Wrap(ErrMalformedAction, "gemini returned neither a tool call nor text", goerr.V("domain", req.Domain))
	}
	return textAnswer(text.String()), nil
}

// toolSpec declares the gateway tools plus final_answer
func (g *Gemini) toolSpec(req *Request) (*genai.Tool, error) {
	answerParams, err := convertJSONSchemaToGenai(finalAnswerSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert final answer schema")
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools)+1)
	for _, t := range req.Tools {
		if t.Name == FinalAnswerTool {
			continue
		}
		params, err := convertJSONSchemaToGenai(t.InputSchema)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert tool schema", goerr.V("tool", t.Name))
		}
		if params == nil {
			params = &genai.Schema{Type: genai.TypeObject}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	declarations = append(declarations, &genai.FunctionDeclaration{
		Name:        FinalAnswerTool,
		Description: finalAnswerDescription,
		Parameters:  answerParams,
	})
	return &genai.Tool{FunctionDeclarations: declarations}, nil
}

func buildGeminiContents(req *Request) []*genai.Content {
	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt(req), genai.RoleUser),
	}

	for i, ev := range req.Evidence {
		id := callID(i)
		contents = append(contents, &genai.Content{
			Role: genai.RoleModel,
			Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{ID: id, Name: ev.Tool, Args: ev.Args}},
			},
		})

		response := map[string]any{"result": ev.Result}
		if ev.Failed() {
			response = map[string]any{"error": ev.Error}
		}
		contents = append(contents, &genai.Content{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{FunctionResponse: &genai.FunctionResponse{ID: id, Name: ev.Tool, Response: response}},
			},
		})
	}

	return contents
}

func userPrompt(req *Request) string {
	return fmt.Sprintf("%s\n\nYou may call at most %d more tool(s) before you must answer.", req.Question, req.Remaining)
}

func callID(i int) string {
	return fmt.Sprintf("call_%d", i+1)
}
