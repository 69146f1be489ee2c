package config

import "time"

// EnvLookup resolves an environment variable.
type EnvLookup func(string) (string, bool)

// Config is the full runtime configuration for the sourcer binary.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Search     SearchConfig     `yaml:"search"`
	Resolve    ResolveConfig    `yaml:"resolve"`
	Toolserver ToolserverConfig `yaml:"toolserver"`
	Store      StoreConfig      `yaml:"store"`
	Agent      AgentConfig      `yaml:"agent"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// LLMConfig selects the completion backend. Provider "ollama" has no
// function calling and routes turns through the heuristic loop.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai, ollama, mock
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

type SearchConfig struct {
	TavilyAPIKey      string        `yaml:"tavily_api_key"`
	TavilyBaseURL     string        `yaml:"tavily_base_url"`
	BilibiliEnabled   bool          `yaml:"bilibili_enabled"`
	DuckDuckGoEnabled bool          `yaml:"duckduckgo_enabled"`
	VideoSites        []string      `yaml:"video_sites"`
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ResolveConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	YtDlpPath   string        `yaml:"ytdlp_path"`
	CookiesHint string        `yaml:"cookies_hint"`
}

// ToolserverConfig points at the remote collaborator. An empty BaseURL means
// the embedded sqlite store serves consent, chat log and artifacts.
type ToolserverConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type AgentConfig struct {
	MaxPasses          int  `yaml:"max_passes"`
	HeuristicPasses    int  `yaml:"heuristic_passes"`
	HistoryWindow      int  `yaml:"history_window"`
	HistoryTokenBudget int  `yaml:"history_token_budget"`
	ThinkEnabled       bool `yaml:"think_enabled"`
	DebugSnapshots     bool `yaml:"debug_snapshots"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TracingConfig exports agent spans over OTLP/HTTP when enabled.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}
