package llm

import (
	"context"
	"strings"

	"sourcer/internal/domain/agent/ports"
)

// mockClient is the offline backend selected by provider "mock". It answers
// every JSON step with a minimal document so the heuristic path runs on its
// local fallbacks.
type mockClient struct {
	model string
}

// NewMockClient returns a native-only scripted client.
func NewMockClient(model string) ports.LLMClient {
	if model == "" {
		model = "mock"
	}
	return &mockClient{model: model}
}

func (c *mockClient) Model() string { return c.model }

func (c *mockClient) SupportsToolCalling() bool { return false }

func (c *mockClient) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	node, _ := req.Metadata["node"].(string)
	var content string
	switch node {
	case "plan":
		content = `{"reply": "", "should_search": true, "search_queries": []}`
	case "refine":
		content = `{"refine": false, "queries": []}`
	default:
		content = "OK: " + lastUserText(req.Messages)
	}
	return &ports.CompletionResponse{Content: content, StopReason: "stop"}, nil
}

func lastUserText(msgs []ports.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == ports.RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}
