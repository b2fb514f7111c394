package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/pika/pkg/adapter"
	"google.golang.org/genai"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateContent(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	contents := []*genai.Content{
		genai.NewContentFromText("Which Kubernetes pod phase means the container keeps restarting?", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	gt.NoError(t, err)

	if resp == nil ||
		len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		t.Fatal("unexpected response")
	}

	t.Log("response:", resp.Candidates[0].Content.Parts[0].Text)
}

func TestEmbed(t *testing.T) {
	client := newTestGemini(t)

	vector, err := client.Embed(context.Background(), "payment-service crash loop after deploy")
	gt.NoError(t, err)
	gt.True(t, len(vector) > 0)
}

func TestNewGeminiRequiresProject(t *testing.T) {
	_, err := adapter.NewGemini(context.Background(), "", "us-central1")
	gt.Error(t, err)
}

func TestNewClaudeRequiresKey(t *testing.T) {
	_, err := adapter.NewClaude("")
	gt.Error(t, err)

	c, err := adapter.NewClaude("sk-test", adapter.WithClaudeModel("claude-haiku-4-5"))
	gt.NoError(t, err)
	gt.Equal(t, c.Model(), "claude-haiku-4-5")
}
