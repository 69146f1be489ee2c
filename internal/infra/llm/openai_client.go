package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonextract"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// openaiClient speaks the OpenAI-compatible chat completions API, including
// tools and tool_choice.
type openaiClient struct {
	model   string
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logging.Logger
}

// NewOpenAIClient constructs a tool-calling client.
func NewOpenAIClient(model string, cfg Config) ports.LLMClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &openaiClient{
		model:   model,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		http:    cfg.httpClient(),
		logger:  logging.OrNop(cfg.Logger),
	}
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) SupportsToolCalling() bool { return true }

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	prefix := logPrefix(req.Metadata)
	oaiReq := map[string]any{
		"model":       c.model,
		"messages":    convertMessages(req.Messages),
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		oaiReq["tools"] = tools
		choice := req.ToolChoice
		if choice == "" {
			choice = ports.ToolChoiceAuto
		}
		oaiReq["tool_choice"] = string(choice)
	} else if req.JSONMode {
		oaiReq["response_format"] = map[string]any{"type": "json_object"}
	}

	body, err := jsonx.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("%sPOST %s (%d messages, %d tools)", prefix, endpoint, len(req.Messages), len(req.Tools))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("%sHTTP request failed: %v", prefix, err)
		return nil, wrapRequestError(err)
	}
	if err := httpclient.CheckStatus("openai", resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var oaiResp openaiResponse
	if err := jsonx.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil {
		return nil, sharederrors.NewPermanentError(fmt.Errorf("openai %s: %s", oaiResp.Error.Type, oaiResp.Error.Message), "")
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	choice := oaiResp.Choices[0]
	out := &ports.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		if !isValidToolName(tc.Function.Name) {
			c.logger.Warn("%sdropping tool call with invalid name %q", prefix, tc.Function.Name)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: jsonextract.Arguments(tc.Function.Arguments),
		})
	}
	c.logger.Debug("%sstop=%s tokens=%d tool_calls=%d", prefix, out.StopReason, out.Usage.TotalTokens, len(out.ToolCalls))
	return out, nil
}
