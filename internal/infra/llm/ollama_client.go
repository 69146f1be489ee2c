package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/infra/httpclient"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// ollamaClient uses the native /api/chat endpoint. It does not implement
// tool calling, so turns served by it take the heuristic path.
type ollamaClient struct {
	model   string
	baseURL string
	http    *http.Client
	logger  logging.Logger
}

// NewOllamaClient constructs a native-only client.
func NewOllamaClient(model string, cfg Config) ports.LLMClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &ollamaClient{model: model, baseURL: baseURL, http: cfg.httpClient(), logger: logging.OrNop(cfg.Logger)}
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) SupportsToolCalling() bool { return false }

func (c *ollamaClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	prefix := logPrefix(req.Metadata)
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == ports.RoleTool {
			continue
		}
		msgs = append(msgs, map[string]any{"role": m.Role, "content": m.Content})
	}
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	payload := map[string]any{
		"model":    c.model,
		"messages": msgs,
		"stream":   false,
		"options":  options,
	}
	if req.JSONMode {
		payload["format"] = "json"
	}
	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.logger.Debug("%sPOST %s", prefix, endpoint)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, wrapRequestError(err)
	}
	if err := httpclient.CheckStatus("ollama", resp); err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
		Error           string `json:"error"`
	}
	data, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultBodyLimit)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := jsonx.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama: %s", out.Error)
	}
	return &ports.CompletionResponse{
		Content:    out.Message.Content,
		StopReason: out.DoneReason,
		Usage: ports.TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}
