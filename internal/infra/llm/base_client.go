// Package llm implements the completion port over OpenAI-compatible and
// Ollama backends, plus a scripted offline client.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// Config is shared by every client constructor.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default outbound client, mainly for tests.
	HTTPClient *http.Client
	Logger     logging.Logger
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return httpclient.New(c.Timeout, c.Logger)
}

func logPrefix(metadata map[string]any) string {
	node, _ := metadata["node"].(string)
	if node == "" {
		return ""
	}
	return fmt.Sprintf("[node:%s] ", node)
}

// wrapRequestError classifies transport failures. Timeouts and refused
// connections are transient; caller cancellation is returned unchanged.
func wrapRequestError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return sharederrors.NewTransientError(err, "模型服务响应超时，请稍后重试。")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return sharederrors.NewTransientError(err, "无法连接模型服务，请检查网络或本地服务是否启动。")
	}
	return fmt.Errorf("llm request: %w", err)
}
