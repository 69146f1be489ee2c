package ports

import (
	"context"

	"sourcer/internal/shared/jsonx"
)

// ToolCall represents a request to execute a tool
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the execution result. Failures are carried in Error so a
// failing call never aborts its siblings.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Error    error          `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON encodes Error as its message.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	type alias struct {
		CallID   string         `json:"call_id"`
		Content  string         `json:"content"`
		Error    string         `json:"error,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	out := alias{CallID: r.CallID, Content: r.Content, Metadata: r.Metadata}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return jsonx.Marshal(out)
}

// Metadata keys set by tools.
const (
	MetaNeedsConsent = "needs_consent"
	MetaCandidateIDs = "candidate_ids"
	MetaProvider     = "provider"
)

// NeedsConsent reports whether a tool result signals missing authorization.
func (r *ToolResult) NeedsConsent() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	v, _ := r.Metadata[MetaNeedsConsent].(bool)
	return v
}

// ToolDefinition describes a tool for the LLM
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ToolMetadata contains tool information
type ToolMetadata struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
	// Network marks tools that reach external providers and so sit behind
	// the consent gate.
	Network bool `json:"network"`
}

// ParameterSchema defines tool parameters (JSON Schema format)
type ParameterSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a single parameter
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Enum        []any     `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Minimum     *int      `json:"minimum,omitempty"`
	Maximum     *int      `json:"maximum,omitempty"`
}

// ToolExecutor is one LLM-callable tool.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (*ToolResult, error)
	Definition() ToolDefinition
	Metadata() ToolMetadata
}
