package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type podStatusParams struct {
	Namespace string `json:"namespace" jsonschema:"Kubernetes namespace"`
}

func getPodStatus(ctx context.Context, req *mcp.CallToolRequest, params *podStatusParams) (*mcp.CallToolResult, any, error) {
	text := fmt.Sprintf("namespace %s: payment-service-7d9f CrashLoopBackOff (restarts: 12)", params.Namespace)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// crash terminates the server mid-call, as a backend process dying would
func crash(ctx context.Context, req *mcp.CallToolRequest, params *struct{}) (*mcp.CallToolResult, any, error) {
	os.Exit(1)
	return nil, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-k8s-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_pod_status",
		Description: "Get status of pods in a namespace",
	}, getPodStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_node_status",
		Description: "Get status of cluster nodes",
	}, crash)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
