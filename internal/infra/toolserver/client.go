// Package toolserver is the REST client for the local toolserver that owns
// projects, consent, chat history, artifacts and the profile memory.
package toolserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/profile"
	"sourcer/internal/infra/httpclient"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// ErrNotFound reports a 404 from the toolserver (unknown project or chat).
var ErrNotFound = errors.New("toolserver: not found")

// Client implements the collaborator ports against the toolserver API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   sharederrors.RetryConfig
	logger  logging.Logger
}

var (
	_ ports.ConsentStore         = (*Client)(nil)
	_ ports.ProjectSettingsStore = (*Client)(nil)
	_ ports.ChatLog              = (*Client)(nil)
	_ ports.ArtifactSink         = (*Client)(nil)
	_ ports.FeedbackMemory       = (*Client)(nil)
	_ ports.ProjectAdmin         = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithRetry(cfg sharederrors.RetryConfig) Option {
	return func(cl *Client) { cl.retry = cfg }
}

func New(baseURL string, timeout time.Duration, logger logging.Logger, opts ...Option) *Client {
	logger = logging.OrNop(logger)
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpclient.New(timeout, logger),
		retry:   sharederrors.DefaultRetryConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func projectPath(projectID string, rest ...string) string {
	parts := append([]string{"projects", url.PathEscape(projectID)}, rest...)
	return "/" + strings.Join(parts, "/")
}

func (c *Client) GetConsent(ctx context.Context, projectID string) (ports.Consent, error) {
	var out ports.Consent
	err := c.get(ctx, projectPath(projectID, "consent"), &out)
	return out, err
}

func (c *Client) SetConsent(ctx context.Context, projectID string, consented, autoConfirm bool) (ports.Consent, error) {
	body := map[string]bool{"consented": consented, "auto_confirm": autoConfirm}
	var out ports.Consent
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "consent"), body, &out)
	return out, err
}

func (c *Client) GetSettings(ctx context.Context, projectID string) (ports.ProjectSettings, error) {
	var out ports.ProjectSettings
	err := c.get(ctx, projectPath(projectID, "settings"), &out)
	return out, err
}

func (c *Client) SetSettings(ctx context.Context, projectID string, thinkEnabled bool) (ports.ProjectSettings, error) {
	var out ports.ProjectSettings
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "settings"), map[string]bool{"think_enabled": thinkEnabled}, &out)
	return out, err
}

func (c *Client) CreateProject(ctx context.Context, title string) (ports.Project, error) {
	var out ports.Project
	err := c.do(ctx, http.MethodPost, "/projects", map[string]string{"title": title}, &out)
	return out, err
}

func (c *Client) CreateChat(ctx context.Context, projectID, title string) (ports.ChatThread, error) {
	var out ports.ChatThread
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "chats"), map[string]string{"title": title}, &out)
	return out, err
}

func (c *Client) CreateMessage(ctx context.Context, projectID, chatID string, msg ports.NewChatMessage) (ports.ChatMessage, error) {
	var out ports.ChatMessage
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "chats", url.PathEscape(chatID), "messages"), msg, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, projectID, chatID string) ([]ports.ChatMessage, error) {
	var out []ports.ChatMessage
	err := c.get(ctx, projectPath(projectID, "chats", url.PathEscape(chatID), "messages"), &out)
	return out, err
}

func (c *Client) StoreText(ctx context.Context, projectID, kind, path, content string) error {
	body := map[string]string{"kind": kind, "out_path": path, "content": content}
	return c.do(ctx, http.MethodPost, projectPath(projectID, "artifacts", "text"), body, nil)
}

// Summary returns the profile prompt used as feedback memory.
func (c *Client) Summary(ctx context.Context) (string, error) {
	var out struct {
		Profile profile.Memory `json:"profile"`
	}
	if err := c.get(ctx, "/profile", &out); err != nil {
		return "", err
	}
	return out.Profile.PromptText(), nil
}

// Health pings /health.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// get retries transient failures; writes are never retried because the
// toolserver does not dedupe them.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return sharederrors.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, path, nil, out)
	}, c.logger)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("toolserver: %w", sharederrors.ErrNoProvider)
	}
	var reader io.Reader
	if body != nil {
		payload, err := jsonx.Marshal(body)
		if err != nil {
			return fmt.Errorf("toolserver: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("toolserver: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("toolserver %s %s: %w", method, path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if err := httpclient.CheckStatus("toolserver", resp); err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if out == nil {
		return nil
	}
	data, err := httpclient.ReadAllWithLimit(resp.Body, httpclient.DefaultBodyLimit)
	if err != nil {
		return fmt.Errorf("toolserver: read %s: %w", path, err)
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return fmt.Errorf("toolserver: decode %s: %w", path, err)
	}
	return nil
}
