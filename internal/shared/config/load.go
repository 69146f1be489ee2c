package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type loadOptions struct {
	configPath string
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
}

// Option customizes Load.
type Option func(*loadOptions)

// WithConfigPath forces a config file path instead of SOURCER_CONFIG.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithEnv overrides environment lookup, mainly for tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader overrides file reads, mainly for tests.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// DefaultEnvLookup reads the process environment.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load builds the configuration: defaults, then the YAML file with ${VAR}
// interpolation, then SOURCER_* environment overrides. It returns the path
// of the file that was read, if any.
func Load(opts ...Option) (Config, string, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()
	path := strings.TrimSpace(options.configPath)
	if path == "" {
		if v, ok := options.envLookup("SOURCER_CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path == "" {
		path = defaultConfigPath()
	}

	if path != "" {
		data, err := options.readFile(path)
		switch {
		case err == nil:
			if len(bytes.TrimSpace(data)) > 0 {
				// Unset keys keep their defaults.
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return Config{}, path, fmt.Errorf("parse config file: %w", err)
				}
				expandConfigEnv(options.envLookup, &cfg)
			}
		case errors.Is(err, os.ErrNotExist):
			path = ""
		default:
			return Config{}, path, fmt.Errorf("read config file: %w", err)
		}
	}

	applyEnvOverrides(options.envLookup, &cfg)
	fillDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".sourcer", "config.yaml")
}

// expandEnvValue resolves ${VAR} and $VAR references; unknown variables
// expand to the empty string.
func expandEnvValue(lookup EnvLookup, value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		if v, ok := lookup(key); ok {
			return v
		}
		return ""
	})
}

func expandConfigEnv(lookup EnvLookup, cfg *Config) {
	cfg.LLM.Provider = expandEnvValue(lookup, cfg.LLM.Provider)
	cfg.LLM.Model = expandEnvValue(lookup, cfg.LLM.Model)
	cfg.LLM.BaseURL = expandEnvValue(lookup, cfg.LLM.BaseURL)
	cfg.LLM.APIKey = expandEnvValue(lookup, cfg.LLM.APIKey)
	cfg.Search.TavilyAPIKey = expandEnvValue(lookup, cfg.Search.TavilyAPIKey)
	cfg.Search.TavilyBaseURL = expandEnvValue(lookup, cfg.Search.TavilyBaseURL)
	cfg.Resolve.YtDlpPath = expandEnvValue(lookup, cfg.Resolve.YtDlpPath)
	cfg.Resolve.CookiesHint = expandEnvValue(lookup, cfg.Resolve.CookiesHint)
	cfg.Toolserver.BaseURL = expandEnvValue(lookup, cfg.Toolserver.BaseURL)
	cfg.Store.Path = expandEnvValue(lookup, cfg.Store.Path)
	cfg.Metrics.Listen = expandEnvValue(lookup, cfg.Metrics.Listen)
	cfg.Tracing.OTLPEndpoint = expandEnvValue(lookup, cfg.Tracing.OTLPEndpoint)
}

func applyEnvOverrides(lookup EnvLookup, cfg *Config) {
	str := func(target *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				*target = strings.TrimSpace(v)
				return
			}
		}
	}
	str(&cfg.LLM.Provider, "SOURCER_LLM_PROVIDER")
	str(&cfg.LLM.Model, "SOURCER_LLM_MODEL")
	str(&cfg.LLM.BaseURL, "SOURCER_LLM_BASE_URL")
	if cfg.LLM.APIKey == "" {
		str(&cfg.LLM.APIKey, "SOURCER_LLM_API_KEY", "OPENAI_API_KEY")
	} else {
		str(&cfg.LLM.APIKey, "SOURCER_LLM_API_KEY")
	}
	if cfg.Search.TavilyAPIKey == "" {
		str(&cfg.Search.TavilyAPIKey, "SOURCER_TAVILY_API_KEY", "TAVILY_API_KEY")
	} else {
		str(&cfg.Search.TavilyAPIKey, "SOURCER_TAVILY_API_KEY")
	}
	str(&cfg.Resolve.YtDlpPath, "SOURCER_YTDLP_PATH")
	str(&cfg.Toolserver.BaseURL, "SOURCER_TOOLSERVER_URL")
	str(&cfg.Store.Path, "SOURCER_STORE_PATH")
	str(&cfg.Log.Level, "SOURCER_LOG_LEVEL")
	str(&cfg.Log.Format, "SOURCER_LOG_FORMAT")
	str(&cfg.Tracing.OTLPEndpoint, "SOURCER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if v, ok := lookup("SOURCER_MAX_PASSES"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.Agent.MaxPasses = n
		}
	}
	if v, ok := lookup("SOURCER_THINK_ENABLED"); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Agent.ThinkEnabled = b
		}
	}
}
