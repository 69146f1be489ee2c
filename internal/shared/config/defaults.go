package config

import "time"

const (
	DefaultLLMTimeout     = 20 * time.Second
	DefaultSearchTimeout  = 15 * time.Second
	DefaultResolveTimeout = 12 * time.Second
	DefaultMaxPasses      = 5
	DefaultHeuristicPass  = 2
	DefaultHistoryWindow  = 12

	DefaultOllamaURL   = "http://127.0.0.1:11434"
	DefaultOllamaModel = "qwen2.5:7b"
)

// DefaultVideoSites is the allow-list used by search_video_sites when the
// config does not name one.
var DefaultVideoSites = []string{
	"bilibili.com",
	"youtube.com",
	"vimeo.com",
	"douyin.com",
	"xiaohongshu.com",
	"pexels.com",
	"pixabay.com",
}

// Default returns a config with every field populated.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Timeout:     DefaultLLMTimeout,
			MaxRetries:  1,
			Temperature: 0.3,
			MaxTokens:   1200,
		},
		Search: SearchConfig{
			TavilyBaseURL:     "https://api.tavily.com",
			BilibiliEnabled:   true,
			DuckDuckGoEnabled: true,
			VideoSites:        append([]string(nil), DefaultVideoSites...),
			CacheSize:         256,
			CacheTTL:          10 * time.Minute,
			Timeout:           DefaultSearchTimeout,
		},
		Resolve: ResolveConfig{
			Timeout: DefaultResolveTimeout,
		},
		Toolserver: ToolserverConfig{
			Timeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "sourcer.db",
		},
		Agent: AgentConfig{
			MaxPasses:          DefaultMaxPasses,
			HeuristicPasses:    DefaultHeuristicPass,
			HistoryWindow:      DefaultHistoryWindow,
			HistoryTokenBudget: 3000,
			ThinkEnabled:       true,
			DebugSnapshots:     true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1.0,
		},
	}
}

// fillDefaults replaces zero values left by a partial file.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Provider == "ollama" {
		if cfg.LLM.BaseURL == "" || cfg.LLM.BaseURL == def.LLM.BaseURL {
			cfg.LLM.BaseURL = DefaultOllamaURL
		}
		if cfg.LLM.Model == "" || cfg.LLM.Model == def.LLM.Model {
			cfg.LLM.Model = DefaultOllamaModel
		}
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = def.LLM.BaseURL
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = def.LLM.Timeout
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.Search.TavilyBaseURL == "" {
		cfg.Search.TavilyBaseURL = def.Search.TavilyBaseURL
	}
	if len(cfg.Search.VideoSites) == 0 {
		cfg.Search.VideoSites = def.Search.VideoSites
	}
	if cfg.Search.CacheSize <= 0 {
		cfg.Search.CacheSize = def.Search.CacheSize
	}
	if cfg.Search.CacheTTL <= 0 {
		cfg.Search.CacheTTL = def.Search.CacheTTL
	}
	if cfg.Search.Timeout <= 0 {
		cfg.Search.Timeout = def.Search.Timeout
	}
	if cfg.Resolve.Timeout <= 0 {
		cfg.Resolve.Timeout = def.Resolve.Timeout
	}
	if cfg.Toolserver.Timeout <= 0 {
		cfg.Toolserver.Timeout = def.Toolserver.Timeout
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Agent.MaxPasses <= 0 {
		cfg.Agent.MaxPasses = def.Agent.MaxPasses
	}
	if cfg.Agent.HeuristicPasses <= 0 {
		cfg.Agent.HeuristicPasses = def.Agent.HeuristicPasses
	}
	if cfg.Agent.HistoryWindow <= 0 {
		cfg.Agent.HistoryWindow = def.Agent.HistoryWindow
	}
	if cfg.Agent.HistoryTokenBudget <= 0 {
		cfg.Agent.HistoryTokenBudget = def.Agent.HistoryTokenBudget
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = def.Metrics.Listen
	}
	if cfg.Tracing.OTLPEndpoint == "" {
		cfg.Tracing.OTLPEndpoint = def.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.SampleRate <= 0 {
		cfg.Tracing.SampleRate = def.Tracing.SampleRate
	}
}
