package mocks

import (
	"context"

	"sourcer/internal/domain/agent/ports"
)

type MockToolExecutor struct {
	Name        string
	ExecuteFunc func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error)
}

func (m *MockToolExecutor) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, call)
	}
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: "Mock tool result",
	}, nil
}

func (m *MockToolExecutor) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: m.toolName()}
}

func (m *MockToolExecutor) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: m.toolName()}
}

func (m *MockToolExecutor) toolName() string {
	if m.Name == "" {
		return "mock_tool"
	}
	return m.Name
}
