package toolserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
)

type fakeServer struct {
	mu        sync.Mutex
	consented bool
	messages  []ports.ChatMessage
	artifacts []map[string]string
	flaky     int
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/{id}/consent", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.flaky > 0 {
			f.flaky--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, ports.Consent{ProjectID: r.PathValue("id"), Consented: f.consented})
	})
	mux.HandleFunc("POST /projects/{id}/consent", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Consented   bool `json:"consented"`
			AutoConfirm bool `json:"auto_confirm"`
		}
		decode(t, r, &body)
		f.mu.Lock()
		f.consented = body.Consented
		f.mu.Unlock()
		writeJSON(w, ports.Consent{ProjectID: r.PathValue("id"), Consented: body.Consented, AutoConfirm: body.AutoConfirm, UpdatedAtMs: 1})
	})
	mux.HandleFunc("GET /projects/{id}/settings", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ports.ProjectSettings{ProjectID: r.PathValue("id"), ThinkEnabled: false})
	})
	mux.HandleFunc("POST /projects/{id}/chats/{chat}/messages", func(w http.ResponseWriter, r *http.Request) {
		var msg ports.NewChatMessage
		decode(t, r, &msg)
		f.mu.Lock()
		defer f.mu.Unlock()
		out := ports.ChatMessage{ID: "m", ProjectID: r.PathValue("id"), ChatID: r.PathValue("chat"), Role: msg.Role, Content: msg.Content, Data: msg.Data}
		f.messages = append(f.messages, out)
		writeJSON(w, out)
	})
	mux.HandleFunc("GET /projects/{id}/chats/{chat}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("chat") == "missing" {
			http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, f.messages)
	})
	mux.HandleFunc("POST /projects/{id}/artifacts/text", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		decode(t, r, &body)
		f.mu.Lock()
		f.artifacts = append(f.artifacts, body)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": "a1", "kind": body["kind"], "path": "projects/p/out/" + body["out_path"]})
	})
	mux.HandleFunc("GET /profile", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"profile":{"version":1,"kind_counts":[{"key":"video","count":3}],"source_domain_counts":[],"prompt":"","last_session_summary":""},"profile_rel_path":"profile.json"}`)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, _ := jsonx.Marshal(v)
	_, _ = w.Write(data)
}

func decode(t *testing.T, r *http.Request, v any) {
	body, _ := io.ReadAll(r.Body)
	assert.NoError(t, jsonx.Unmarshal(body, v))
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, nil,
		WithHTTPClient(srv.Client()),
		WithRetry(sharederrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}))
}

func TestConsentRoundTrip(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	ctx := context.Background()

	got, err := c.GetConsent(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.Consented)

	set, err := c.SetConsent(ctx, "p1", true, true)
	require.NoError(t, err)
	assert.True(t, set.AutoConfirm)

	got, err = c.GetConsent(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Consented)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestGetRetriesTransientFailure(t *testing.T) {
	f := &fakeServer{consented: true, flaky: 1}
	c := newTestClient(t, f)

	got, err := c.GetConsent(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, got.Consented)
}

func TestChatMessagesAndNotFound(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.CreateMessage(ctx, "p1", "c1", ports.NewChatMessage{
		Role: ports.RoleAssistant, Content: "hi", Data: map[string]any{"turn_id": "t1"},
	})
	require.NoError(t, err)

	msgs, err := c.ListMessages(ctx, "p1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "t1", msgs[0].Data["turn_id"])

	_, err = c.ListMessages(ctx, "p1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTextAndProfileSummary(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	ctx := context.Background()

	require.NoError(t, c.StoreText(ctx, "p1", "agent_trace", "agent_traces/c1/t1.json", "{}"))
	require.Len(t, f.artifacts, 1)
	assert.Equal(t, "agent_traces/c1/t1.json", f.artifacts[0]["out_path"])

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Common selected asset kinds: video(3)", summary)

	settings, err := c.GetSettings(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, settings.ThinkEnabled)
}

func TestUnconfiguredClient(t *testing.T) {
	_, err := New("", time.Second, nil).GetConsent(context.Background(), "p")
	assert.ErrorIs(t, err, sharederrors.ErrNoProvider)
}
