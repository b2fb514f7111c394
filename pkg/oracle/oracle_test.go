package oracle_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/oracle"
	"google.golang.org/genai"
)

func TestScripted(t *testing.T) {
	o := oracle.NewScripted(
		oracle.CallTool{Name: "get_pod_status", Args: map[string]any{"namespace": "prod"}},
		oracle.FinalAnswer{Text: "done"},
	)
	ctx := context.Background()
	req := &oracle.Request{Domain: model.DomainKubernetes}

	a, err := o.Decide(ctx, req)
	gt.NoError(t, err)
	call, ok := a.(oracle.CallTool)
	gt.True(t, ok)
	gt.Equal(t, call.Name, "get_pod_status")

	a, err = o.Decide(ctx, req)
	gt.NoError(t, err)
	_, ok = a.(oracle.FinalAnswer)
	gt.True(t, ok)

	_, err = o.Decide(ctx, req)
	gt.True(t, errors.Is(err, oracle.ErrMalformedAction))
	gt.Equal(t, o.Calls(), 2)
}

type mockGemini struct {
	generate func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generate(ctx, contents, config)
}

func (m *mockGemini) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func geminiResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}},
		},
	}
}

func metricsRequest() *oracle.Request {
	return &oracle.Request{
		Domain:       model.DomainMetrics,
		SystemPrompt: "You are a metrics specialist.",
		Question:     "Why are API response times degraded?",
		Tools: []*model.ToolDescriptor{
			{
				Name:        "get_response_times",
				Description: "Response time percentiles",
				Domain:      model.DomainMetrics,
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"service": {Type: "string"},
						"window":  {Type: "integer"},
					},
					Required: []string{"service"},
				},
			},
		},
		Evidence: []oracle.Evidence{
			{Tool: "get_response_times", Args: map[string]any{"service": "api"}, Result: "p99 5000ms"},
			{Tool: "get_cpu_metrics", Error: "timeout"},
		},
		Remaining: 6,
	}
}

func TestGeminiOracle(t *testing.T) {
	var seen []*genai.Content
	var seenConfig *genai.GenerateContentConfig
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			seen = contents
			seenConfig = config
			return geminiResponse(&genai.Part{
				FunctionCall: &genai.FunctionCall{Name: "get_response_times", Args: map[string]any{"service": "db"}},
			}), nil
		},
	}

	a, err := oracle.NewGemini(client).Decide(context.Background(), metricsRequest())
	gt.NoError(t, err)
	call, ok := a.(oracle.CallTool)
	gt.True(t, ok)
	gt.Equal(t, call.Name, "get_response_times")
	gt.Equal(t, call.Args["service"], any("db"))

	// question + (call, response) per evidence
	gt.A(t, seen).Length(5)
	gt.Equal(t, seen[1].Parts[0].FunctionCall.Name, "get_response_times")
	gt.Equal(t, seen[4].Parts[0].FunctionResponse.Response["error"], any("timeout"))

	decls := seenConfig.Tools[0].FunctionDeclarations
	gt.A(t, decls).Length(2)
	decl := decls[0]
	gt.Equal(t, decl.Parameters.Type, genai.TypeObject)
	gt.Equal(t, decl.Parameters.Properties["window"].Type, genai.TypeInteger)
	gt.Equal(t, decl.Parameters.Required, []string{"service"})

	answer := decls[1]
	gt.Equal(t, answer.Name, oracle.FinalAnswerTool)
	gt.Equal(t, answer.Parameters.Properties["citations"].Type, genai.TypeArray)
	gt.Equal(t, answer.Parameters.Properties["citations"].Items.Properties["fact"].Type, genai.TypeString)
	gt.Equal(t, answer.Parameters.Properties["assessment"].Enum, []string{"healthy", "degraded", "unknown"})
	gt.Equal(t, answer.Parameters.Required, []string{"narrative", "assessment"})
}

func TestGeminiOracleFinalAnswer(t *testing.T) {
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return geminiResponse(&genai.Part{
				FunctionCall: &genai.FunctionCall{Name: oracle.FinalAnswerTool, Args: map[string]any{
					"narrative": "Latency is up.",
					"citations": []any{
						map[string]any{"tool": "get_response_times", "fact": "150ms -> 5000ms"},
						map[string]any{"tool": "get_response_times"},
					},
					"learned":    []any{"api-gateway depends on payment-db", " "},
					"assessment": "Degraded",
				}},
			}), nil
		},
	}

	a, err := oracle.NewGemini(client).Decide(context.Background(), metricsRequest())
	gt.NoError(t, err)
	answer, ok := a.(oracle.FinalAnswer)
	gt.True(t, ok)
	gt.Equal(t, answer.Text, "Latency is up.")
	gt.Equal(t, answer.Assessment, model.AssessmentDegraded)
	gt.Equal(t, answer.Citations, []model.Citation{{Tool: "get_response_times", Fact: "150ms -> 5000ms"}})
	gt.Equal(t, answer.Learned, []string{"api-gateway depends on payment-db"})
}

func TestGeminiOracleFinalAnswerWithoutNarrative(t *testing.T) {
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return geminiResponse(&genai.Part{
				FunctionCall: &genai.FunctionCall{Name: oracle.FinalAnswerTool, Args: map[string]any{"assessment": "healthy"}},
			}), nil
		},
	}

	_, err := oracle.NewGemini(client).Decide(context.Background(), metricsRequest())
	gt.True(t, errors.Is(err, oracle.ErrMalformedAction))
}

func TestGeminiOraclePlainTextAnswer(t *testing.T) {
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return geminiResponse(&genai.Part{Text: "  Latency is up.\n"}), nil
		},
	}

	a, err := oracle.NewGemini(client).Decide(context.Background(), metricsRequest())
	gt.NoError(t, err)
	answer, ok := a.(oracle.FinalAnswer)
	gt.True(t, ok)
	gt.Equal(t, answer.Text, "Latency is up.")
	gt.Equal(t, answer.Assessment, model.AssessmentUnknown)
	gt.A(t, answer.Citations).Length(0)
}

func TestGeminiOracleHidesConflictingTool(t *testing.T) {
	var seenConfig *genai.GenerateContentConfig
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			seenConfig = config
			return geminiResponse(&genai.Part{Text: "done"}), nil
		},
	}

	req := metricsRequest()
	req.Tools = append(req.Tools, &model.ToolDescriptor{Name: oracle.FinalAnswerTool, Domain: model.DomainMetrics})
	_, err := oracle.NewGemini(client).Decide(context.Background(), req)
	gt.NoError(t, err)

	decls := seenConfig.Tools[0].FunctionDeclarations
	gt.A(t, decls).Length(2)
	gt.Equal(t, decls[1].Description, "Submit the answer to the question once the evidence is sufficient. "+
		"Every citation must quote a fact from the result of a tool you called.")
}

func TestGeminiOracleMalformed(t *testing.T) {
	client := &mockGemini{
		generate: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{}, nil
		},
	}

	_, err := oracle.NewGemini(client).Decide(context.Background(), metricsRequest())
	gt.True(t, errors.Is(err, oracle.ErrMalformedAction))
}

type mockClaude struct {
	messages func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

func (m *mockClaude) Messages(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return m.messages(ctx, params)
}

func TestClaudeOracle(t *testing.T) {
	var seen anthropic.MessageNewParams
	client := &mockClaude{
		messages: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			seen = params
			return &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{
					{Type: "text", Text: "Checking error logs."},
					{Type: "tool_use", ID: "toolu_1", Name: "get_error_logs", Input: json.RawMessage(`{"service":"payment"}`)},
				},
			}, nil
		},
	}

	a, err := oracle.NewClaude(client).Decide(context.Background(), metricsRequest())
	gt.NoError(t, err)
	call, ok := a.(oracle.CallTool)
	gt.True(t, ok)
	gt.Equal(t, call.Name, "get_error_logs")
	gt.Equal(t, call.Args["service"], any("payment"))

	gt.A(t, seen.Messages).Length(5)
	gt.A(t, seen.Tools).Length(2)
	gt.Equal(t, seen.Tools[1].OfTool.Name, oracle.FinalAnswerTool)
	gt.A(t, seen.System).Length(1)
}

func TestClaudeOracleFinalAnswer(t *testing.T) {
	client := &mockClaude{
		messages: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{
					{Type: "text", Text: "Summarizing."},
					{Type: "tool_use", ID: "toolu_2", Name: oracle.FinalAnswerTool, Input: json.RawMessage(
						`{"narrative":"No errors found.","citations":[{"tool":"get_error_logs","fact":"0 errors in 1h"}],"assessment":"healthy"}`)},
				},
			}, nil
		},
	}

	a, err := oracle.NewClaude(client).Decide(context.Background(), metricsRequest())
	gt.NoError(t, err)
	answer, ok := a.(oracle.FinalAnswer)
	gt.True(t, ok)
	gt.Equal(t, answer.Assessment, model.AssessmentHealthy)
	gt.Equal(t, answer.Text, "No errors found.")
	gt.Equal(t, answer.Citations, []model.Citation{{Tool: "get_error_logs", Fact: "0 errors in 1h"}})
}

func TestClaudeOracleMalformedFinalAnswer(t *testing.T) {
	client := &mockClaude{
		messages: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return &anthropic.Message{
				Content: []anthropic.ContentBlockUnion{
					{Type: "tool_use", ID: "toolu_3", Name: oracle.FinalAnswerTool, Input: json.RawMessage(`{"citations":"none"}`)},
				},
			}, nil
		},
	}

	_, err := oracle.NewClaude(client).Decide(context.Background(), metricsRequest())
	gt.True(t, errors.Is(err, oracle.ErrMalformedAction))
}

func TestClaudeOracleError(t *testing.T) {
	client := &mockClaude{
		messages: func(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
			return nil, errors.New("overloaded")
		},
	}

	_, err := oracle.NewClaude(client).Decide(context.Background(), metricsRequest())
	gt.Error(t, err)
}
