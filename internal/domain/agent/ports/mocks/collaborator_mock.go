package mocks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"sourcer/internal/domain/agent/ports"
)

type MockConsentStore struct {
	GetConsentFunc func(ctx context.Context, projectID string) (ports.Consent, error)
	Consented      bool
	calls          atomic.Int64
}

func (m *MockConsentStore) GetConsent(ctx context.Context, projectID string) (ports.Consent, error) {
	m.calls.Add(1)
	if m.GetConsentFunc != nil {
		return m.GetConsentFunc(ctx, projectID)
	}
	return ports.Consent{ProjectID: projectID, Consented: m.Consented}, nil
}

func (m *MockConsentStore) Calls() int { return int(m.calls.Load()) }

type MockSettingsStore struct {
	Settings ports.ProjectSettings
	Err      error
}

func (m *MockSettingsStore) GetSettings(_ context.Context, projectID string) (ports.ProjectSettings, error) {
	if m.Err != nil {
		return ports.ProjectSettings{}, m.Err
	}
	s := m.Settings
	s.ProjectID = projectID
	return s, nil
}

// MockChatLog is an in-memory chat log keyed by project and chat.
type MockChatLog struct {
	CreateErr error
	ListErr   error

	mu       sync.Mutex
	messages map[string][]ports.ChatMessage
	seq      int
}

func (m *MockChatLog) CreateMessage(_ context.Context, projectID, chatID string, msg ports.NewChatMessage) (ports.ChatMessage, error) {
	if m.CreateErr != nil {
		return ports.ChatMessage{}, m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = map[string][]ports.ChatMessage{}
	}
	m.seq++
	out := ports.ChatMessage{
		ID:          fmt.Sprintf("m%d", m.seq),
		ProjectID:   projectID,
		ChatID:      chatID,
		Role:        msg.Role,
		Content:     msg.Content,
		Data:        msg.Data,
		CreatedAtMs: int64(m.seq),
	}
	key := projectID + "/" + chatID
	m.messages[key] = append(m.messages[key], out)
	return out, nil
}

func (m *MockChatLog) ListMessages(_ context.Context, projectID, chatID string) ([]ports.ChatMessage, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.ChatMessage(nil), m.messages[projectID+"/"+chatID]...), nil
}

// Seed appends a message without going through CreateMessage's error path.
func (m *MockChatLog) Seed(projectID, chatID, role, content string, data map[string]any) {
	saved := m.CreateErr
	m.CreateErr = nil
	_, _ = m.CreateMessage(context.Background(), projectID, chatID, ports.NewChatMessage{Role: role, Content: content, Data: data})
	m.CreateErr = saved
}

// Messages returns every message for a chat.
func (m *MockChatLog) Messages(projectID, chatID string) []ports.ChatMessage {
	msgs, _ := m.ListMessages(context.Background(), projectID, chatID)
	return msgs
}

type MockSearchProvider struct {
	NameValue  string
	SearchFunc func(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error)

	mu      sync.Mutex
	Queries []ports.SearchRequest
}

func (m *MockSearchProvider) Name() string {
	if m.NameValue == "" {
		return "mock"
	}
	return m.NameValue
}

func (m *MockSearchProvider) Search(ctx context.Context, req ports.SearchRequest) ([]ports.SearchResult, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, req)
	m.mu.Unlock()
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, req)
	}
	return nil, nil
}

func (m *MockSearchProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

type MockResolver struct {
	ResolveFunc func(ctx context.Context, url, cookiesHint string) (*ports.ResolvedMedia, error)

	mu   sync.Mutex
	URLs []string
}

func (m *MockResolver) Resolve(ctx context.Context, url, cookiesHint string) (*ports.ResolvedMedia, error) {
	m.mu.Lock()
	m.URLs = append(m.URLs, url)
	m.mu.Unlock()
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, url, cookiesHint)
	}
	return &ports.ResolvedMedia{Title: "Resolved " + url, Extractor: "mock", CanonicalURL: url}, nil
}

func (m *MockResolver) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.URLs)
}

type StoredArtifact struct {
	ProjectID, Kind, Path, Content string
}

type MockArtifactSink struct {
	Err error

	mu        sync.Mutex
	Artifacts []StoredArtifact
}

func (m *MockArtifactSink) StoreText(_ context.Context, projectID, kind, path, content string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Artifacts = append(m.Artifacts, StoredArtifact{ProjectID: projectID, Kind: kind, Path: path, Content: content})
	return nil
}

type MockFeedbackMemory struct {
	Text string
	Err  error
}

func (m *MockFeedbackMemory) Summary(context.Context) (string, error) {
	return m.Text, m.Err
}
