// Package turn owns one user turn end to end: history, consent, strategy
// selection, the engine run, persistence and the debug snapshot.
package turn

import (
	"time"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
)

// Strategy names the engine that produced a reply.
type Strategy string

const (
	StrategyToolAgent Strategy = "tool_agent"
	StrategyHeuristic Strategy = "heuristic"
	// StrategyDirect marks turns decided by pasted urls alone.
	StrategyDirect Strategy = "direct_url"
	// StrategyNone marks turns answered before any engine ran.
	StrategyNone Strategy = "none"
)

// Turn outcomes reported to metrics.
const (
	OutcomeOK           = "ok"
	OutcomeNeedsConsent = "needs_consent"
	OutcomeDegraded     = "degraded"
	OutcomePanic        = "panic"
)

// Input is one user message.
type Input struct {
	ProjectID string
	ChatID    string
	Text      string
	// Lang forces the reply language; empty detects it from Text.
	Lang string
	// PersistUserMessage appends Text to the chat log before the reply.
	PersistUserMessage bool
}

// Result is what the caller renders. RunTurn never returns an error; every
// failure is folded into Reply.
type Result struct {
	TurnID       string
	Reply        string
	Blocks       []candidate.Block
	NeedsConsent bool
	Strategy     Strategy
	Passes       int
	// MessageID is the persisted assistant message, empty if persisting failed.
	MessageID string
}

// Deps are the collaborators of a controller. Search and resolve providers
// are wrapped with the consent gate per turn.
type Deps struct {
	LLM         ports.LLMClient
	Consent     ports.ConsentStore
	Settings    ports.ProjectSettingsStore
	ChatLog     ports.ChatLog
	Artifacts   ports.ArtifactSink
	Feedback    ports.FeedbackMemory
	VideoSearch ports.SearchProvider
	WebSearch   ports.SearchProvider
	Resolver    ports.Resolver
}

// Config tunes the controller and the engines it builds.
type Config struct {
	MaxPasses          int
	HeuristicPasses    int
	HistoryWindow      int
	HistoryTokenBudget int
	// ThinkEnabled is used when the project has no settings row.
	ThinkEnabled   bool
	DebugSnapshots bool
	VideoSites     []string
	CookiesHint    string
	Temperature    float64
	MaxTokens      int
	LLMTimeout     time.Duration
	ToolTimeout    time.Duration
}

// Metrics receives turn and tool observations.
type Metrics interface {
	ObserveTurn(strategy, outcome string, passes int, duration time.Duration)
	ObserveToolCall(tool, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTurn(string, string, int, time.Duration) {}
func (nopMetrics) ObserveToolCall(string, string, time.Duration)  {}
