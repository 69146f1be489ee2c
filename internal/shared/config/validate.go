package config

import (
	"fmt"
	"strings"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationError aggregates blocking issues.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// ProviderRequiresAPIKey reports whether the LLM provider needs a key.
func ProviderRequiresAPIKey(provider string) bool {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "mock", "ollama":
		return false
	default:
		return true
	}
}

// Validate checks the config for values the engine cannot run with. A
// missing API key is not blocking: the controller degrades to the heuristic
// loop and tells the user what to configure.
func Validate(cfg Config) error {
	var issues []ValidationIssue
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai", "ollama", "mock":
	default:
		issues = append(issues, ValidationIssue{Field: "llm.provider", Message: fmt.Sprintf("unsupported provider %q", cfg.LLM.Provider)})
	}
	if cfg.Agent.MaxPasses > 10 {
		issues = append(issues, ValidationIssue{Field: "agent.max_passes", Message: "must be at most 10"})
	}
	if cfg.Agent.HeuristicPasses > cfg.Agent.MaxPasses {
		issues = append(issues, ValidationIssue{Field: "agent.heuristic_passes", Message: "must not exceed agent.max_passes"})
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, ValidationIssue{Field: "log.format", Message: "must be text or json"})
	}
	if cfg.Tracing.SampleRate > 1 {
		issues = append(issues, ValidationIssue{Field: "tracing.sample_rate", Message: "must be between 0 and 1"})
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Warnings returns non-blocking findings worth logging at startup.
func Warnings(cfg Config) []string {
	var out []string
	if ProviderRequiresAPIKey(cfg.LLM.Provider) && cfg.LLM.APIKey == "" {
		out = append(out, "llm.api_key is empty; turns will use the heuristic loop")
	}
	if cfg.Search.TavilyAPIKey == "" && !cfg.Search.DuckDuckGoEnabled && !cfg.Search.BilibiliEnabled {
		out = append(out, "no search provider enabled; replies will offer manual search links")
	}
	return out
}
