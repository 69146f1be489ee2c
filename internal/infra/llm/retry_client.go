package llm

import (
	"context"
	"fmt"
	"time"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// retryClient wraps a client with retry on transient errors and a circuit
// breaker shared across turns.
type retryClient struct {
	underlying     ports.LLMClient
	retryConfig    sharederrors.RetryConfig
	circuitBreaker *sharederrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps client. Tool-calling support is passed through.
func NewRetryClient(client ports.LLMClient, retryConfig sharederrors.RetryConfig, circuitBreaker *sharederrors.CircuitBreaker, logger logging.Logger) ports.LLMClient {
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.OrNop(logger),
	}
}

func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	started := time.Now()
	resp, err := sharederrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*ports.CompletionResponse, error) {
		if c.circuitBreaker == nil {
			return c.underlying.Complete(ctx, req)
		}
		return sharederrors.ExecuteFunc(c.circuitBreaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)
	if err != nil {
		c.logger.Warn("LLM request failed after retries (took %v): %v", time.Since(started), err)
		return nil, fmt.Errorf("%s completion: %w", c.underlying.Model(), err)
	}
	if d := time.Since(started); d > 5*time.Second {
		c.logger.Debug("LLM request succeeded after %v", d)
	}
	return resp, nil
}

func (c *retryClient) Model() string { return c.underlying.Model() }

func (c *retryClient) SupportsToolCalling() bool {
	return ports.SupportsToolCalling(c.underlying)
}
