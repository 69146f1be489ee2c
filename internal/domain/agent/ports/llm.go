package ports

import "context"

// ToolChoice constrains whether the model may emit tool calls.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// CompletionRequest contains all parameters for LLM completion
type CompletionRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  ToolChoice       `json:"tool_choice,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	// JSONMode asks the backend for a bare JSON object when it supports it.
	JSONMode bool           `json:"json_mode,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CompletionResponse is the LLM's response
type CompletionResponse struct {
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// MessageSource records which node produced a message, for trace snapshots.
type MessageSource string

const (
	MessageSourceUnknown      MessageSource = ""
	MessageSourceSystemPrompt MessageSource = "system_prompt"
	MessageSourceUserInput    MessageSource = "user_input"
	MessageSourceUserHistory  MessageSource = "user_history"
	MessageSourcePlanNote     MessageSource = "plan_note"
	MessageSourceToolResult   MessageSource = "tool_result"
	MessageSourceReviewNote   MessageSource = "review_note"
)

// Message represents a conversation message
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Source     MessageSource `json:"source,omitempty"`
}

// LLMClient is the black-box completion contract.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// ToolCallingClient is implemented by clients that can report whether the
// backend honours tools and tool_choice.
type ToolCallingClient interface {
	SupportsToolCalling() bool
}

// SupportsToolCalling reports whether client can drive the tool-agent path.
// Clients that do not implement ToolCallingClient are assumed native-only.
func SupportsToolCalling(client LLMClient) bool {
	if client == nil {
		return false
	}
	if tc, ok := client.(ToolCallingClient); ok {
		return tc.SupportsToolCalling()
	}
	return false
}
