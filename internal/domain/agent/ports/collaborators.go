package ports

import "context"

// Consent is the per-project authorization for external content access.
type Consent struct {
	ProjectID   string `json:"project_id"`
	Consented   bool   `json:"consented"`
	AutoConfirm bool   `json:"auto_confirm"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// ConsentStore reads consent state. Implementations must not cache.
type ConsentStore interface {
	GetConsent(ctx context.Context, projectID string) (Consent, error)
}

// ProjectSettings holds per-project agent switches.
type ProjectSettings struct {
	ProjectID    string `json:"project_id"`
	ThinkEnabled bool   `json:"think_enabled"`
	UpdatedAtMs  int64  `json:"updated_at_ms"`
}

// ProjectSettingsStore reads per-project settings.
type ProjectSettingsStore interface {
	GetSettings(ctx context.Context, projectID string) (ProjectSettings, error)
}

// Chat roles accepted by the chat log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ChatMessage is a persisted chat entry. Data carries opaque structured
// payload such as presentation blocks.
type ChatMessage struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	ChatID      string         `json:"chat_id"`
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAtMs int64          `json:"created_at_ms"`
}

// NewChatMessage is the payload for appending to the chat log.
type NewChatMessage struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

// ChatLog appends and lists chat messages, oldest first.
type ChatLog interface {
	CreateMessage(ctx context.Context, projectID, chatID string, msg NewChatMessage) (ChatMessage, error)
	ListMessages(ctx context.Context, projectID, chatID string) ([]ChatMessage, error)
}

// SearchRequest is one provider query.
type SearchRequest struct {
	Query        string
	NumResults   int
	ProviderHint string
}

// SearchResult is one provider hit.
type SearchResult struct {
	Title           string `json:"title"`
	URL             string `json:"url"`
	Snippet         string `json:"snippet,omitempty"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Source          string `json:"source,omitempty"`
}

// SearchProvider is a generic search(query) backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

// ResolvedMedia is authoritative metadata for a URL.
type ResolvedMedia struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Thumbnail       string `json:"thumbnail,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Extractor       string `json:"extractor"`
	CanonicalURL    string `json:"canonical_url"`
}

// Resolver fetches metadata for a single URL.
type Resolver interface {
	Resolve(ctx context.Context, url, cookiesHint string) (*ResolvedMedia, error)
}

// ArtifactSink stores best-effort text artifacts such as turn traces.
type ArtifactSink interface {
	StoreText(ctx context.Context, projectID, kind, path, content string) error
}

// FeedbackMemory summarizes prior liked and disliked sources.
type FeedbackMemory interface {
	Summary(ctx context.Context) (string, error)
}

// Project is a workspace that owns chats, consent and artifacts.
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// ChatThread is one conversation inside a project.
type ChatThread struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// ProjectAdmin covers the write side used by the CLI: creating projects
// and chats and changing consent or settings.
type ProjectAdmin interface {
	CreateProject(ctx context.Context, title string) (Project, error)
	CreateChat(ctx context.Context, projectID, title string) (ChatThread, error)
	SetConsent(ctx context.Context, projectID string, consented, autoConfirm bool) (Consent, error)
	SetSettings(ctx context.Context, projectID string, thinkEnabled bool) (ProjectSettings, error)
}
