package tool

import (
	"context"

	"github.com/m-mizutani/pika/pkg/model"
)

// Gateway is the tool discovery and invocation surface used by agents
type Gateway interface {
	// ListTools returns every tool currently exposed by the backend
	ListTools(ctx context.Context) ([]*model.ToolDescriptor, error)

	// InvokeTool calls one tool. Failures are returned as *model.ToolError.
	InvokeTool(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error)
}
