package di

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/turn"
	"sourcer/internal/infra/toolserver"
	"sourcer/internal/shared/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Store.Path = filepath.Join(t.TempDir(), "sourcer.db")
	cfg.Search.BilibiliEnabled = false
	cfg.Search.DuckDuckGoEnabled = false
	cfg.Search.TavilyAPIKey = ""
	cfg.Log.Level = "error"
	return cfg
}

func TestBuildWithEmbeddedStoreRunsTurn(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	require.NotNil(t, c.Store)
	assert.False(t, ports.SupportsToolCalling(c.LLM))

	p, err := c.Backend.CreateProject(ctx, "demo")
	require.NoError(t, err)
	chat, err := c.Backend.CreateChat(ctx, p.ID, "first")
	require.NoError(t, err)

	res := c.Controller.RunTurn(ctx, turn.Input{
		ProjectID:          p.ID,
		ChatID:             chat.ID,
		Text:               "帮我找一些城市夜景视频",
		PersistUserMessage: true,
	})
	assert.True(t, res.NeedsConsent, "a fresh project has not consented to network access")
	assert.Equal(t, turn.StrategyNone, res.Strategy)
	assert.NotEmpty(t, res.MessageID)

	msgs, err := c.Backend.ListMessages(ctx, p.ID, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ports.RoleUser, msgs[0].Role)
	assert.Equal(t, ports.RoleAssistant, msgs[1].Role)
	assert.Equal(t, res.Reply, msgs[1].Content)
}

func TestBuildPrefersToolserverWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Toolserver.BaseURL = "http://127.0.0.1:1"

	c, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	assert.Nil(t, c.Store)
	_, ok := c.Backend.(*toolserver.Client)
	assert.True(t, ok)
}

func TestProvidersAreNilWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	assert.Nil(t, webSearch(cfg.Search, nil, nil))
	assert.Nil(t, videoSearch(cfg.Search, nil, nil))

	cfg.Search.DuckDuckGoEnabled = true
	web := webSearch(cfg.Search, nil, nil)
	require.NotNil(t, web)
	assert.Equal(t, "web", web.Name())
}

func TestTurnConfigCopiesAgentKnobs(t *testing.T) {
	cfg := config.Default()
	cfg.Agent.MaxPasses = 4
	cfg.Resolve.CookiesHint = "chrome"

	tc := TurnConfig(cfg)
	assert.Equal(t, 4, tc.MaxPasses)
	assert.Equal(t, "chrome", tc.CookiesHint)
	assert.Equal(t, cfg.Search.VideoSites, tc.VideoSites)
	assert.Equal(t, cfg.Resolve.Timeout, tc.ToolTimeout)
}
