package llm

import (
	"fmt"
	"strings"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/shared/config"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// NewClient builds the configured backend, wrapped with retry and a circuit
// breaker. The mock backend is returned bare.
func NewClient(cfg config.LLMConfig, logger logging.Logger) (ports.LLMClient, error) {
	logger = logging.OrNop(logger)
	base := Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: cfg.Timeout, Logger: logger}

	var client ports.LLMClient
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "mock":
		return NewMockClient(cfg.Model), nil
	case "openai", "openai-compatible", "deepseek", "openrouter", "":
		if cfg.Model == "" {
			return nil, fmt.Errorf("llm.model is required for provider %q", cfg.Provider)
		}
		client = NewOpenAIClient(cfg.Model, base)
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = config.DefaultOllamaModel
		}
		if base.BaseURL == "" {
			base.BaseURL = config.DefaultOllamaURL
		}
		client = NewOllamaClient(model, base)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	retry := sharederrors.DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	breaker := sharederrors.NewCircuitBreaker("llm-"+client.Model(), sharederrors.DefaultCircuitBreakerConfig(), logger)
	return NewRetryClient(client, retry, breaker, logger), nil
}
