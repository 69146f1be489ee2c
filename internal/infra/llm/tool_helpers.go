package llm

import (
	"regexp"
	"strings"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/shared/jsonx"
)

var validToolNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

func isValidToolName(name string) bool {
	return validToolNamePattern.MatchString(strings.TrimSpace(name))
}

func normalizeToolSchema(schema ports.ParameterSchema) ports.ParameterSchema {
	normalized := schema
	if strings.TrimSpace(normalized.Type) == "" {
		normalized.Type = "object"
	}
	if normalized.Properties == nil {
		normalized.Properties = map[string]ports.Property{}
	}
	return normalized
}

func buildToolCallHistory(calls []ports.ToolCall) []map[string]any {
	result := make([]map[string]any, 0, len(calls))
	for _, call := range calls {
		if !isValidToolName(call.Name) {
			continue
		}
		args := "{}"
		if len(call.Arguments) > 0 {
			if data, err := jsonx.Marshal(call.Arguments); err == nil {
				args = string(data)
			}
		}
		result = append(result, map[string]any{
			"id":   call.ID,
			"type": "function",
			"function": map[string]any{
				"name":      call.Name,
				"arguments": args,
			},
		})
	}
	return result
}

func convertTools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		if !isValidToolName(tool.Name) {
			continue
		}
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  normalizeToolSchema(tool.Parameters),
			},
		})
	}
	return result
}

// convertMessages renders the chat history in the OpenAI wire shape. Tool
// results must follow the assistant message that requested them, so orphan
// tool messages are dropped.
func convertMessages(msgs []ports.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	open := map[string]bool{}
	for _, m := range msgs {
		switch m.Role {
		case ports.RoleTool:
			if !open[m.ToolCallID] {
				continue
			}
			out = append(out, map[string]any{"role": "tool", "tool_call_id": m.ToolCallID, "content": m.Content})
		case ports.RoleAssistant:
			entry := map[string]any{"role": "assistant", "content": m.Content}
			if calls := buildToolCallHistory(m.ToolCalls); len(calls) > 0 {
				entry["tool_calls"] = calls
				for _, c := range m.ToolCalls {
					open[c.ID] = true
				}
			}
			out = append(out, entry)
		default:
			out = append(out, map[string]any{"role": m.Role, "content": m.Content})
		}
	}
	return out
}
