package adapter

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultClaudeModel     = "claude-sonnet-4-5"
	DefaultClaudeMaxTokens = 4096
)

// Claude is the interface for Claude API client
type Claude interface {
	// Messages sends one request to the Messages API. Model and MaxTokens are filled
	// with the client defaults when empty.
	Messages(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// ClaudeClient implements Claude interface
type ClaudeClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

type ClaudeOption func(*ClaudeClient)

func WithClaudeModel(model string) ClaudeOption {
	return func(c *ClaudeClient) {
		c.model = model
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(c *ClaudeClient) {
		c.maxTokens = n
	}
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string, opts ...ClaudeOption) (*ClaudeClient, error) {
	if apiKey == "" {
		return nil, goerr.New("claude api key is required")
	}

	c := &ClaudeClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     DefaultClaudeModel,
		maxTokens: DefaultClaudeMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name
func (c *ClaudeClient) Model() string {
	return c.model
}

func (c *ClaudeClient) Messages(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	if params.Model == "" {
		params.Model = anthropic.Model(c.model)
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = c.maxTokens
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call claude messages api", goerr.V("model", params.Model))
	}
	return msg, nil
}
