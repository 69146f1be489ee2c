// Package heuristic runs a turn without function calling:
//
//	PLAN -> RESOLVE-DIRECT-URLS -> SEARCH-AND-RESOLVE <-> REVIEW-REFINE -> REVIEW
//
// The model is only asked for small JSON documents, and every model step has
// a deterministic local fallback, so the path works with no model at all.
package heuristic

import (
	"time"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
)

// Config tunes the loop.
type Config struct {
	// MaxPasses caps SEARCH-AND-RESOLVE passes.
	MaxPasses   int
	NumResults  int
	Temperature float64
	LLMTimeout  time.Duration
	// ToolTimeout bounds each search query and resolve call.
	ToolTimeout time.Duration
}

// Input is the per-turn state handed over by the controller.
type Input struct {
	ProjectID string
	ChatID    string
	Text      string
	Lang      string
	URLs      []string
	History   []ports.Message
	SeenURLs  map[string]bool
}

// Result is the outcome of a heuristic run.
type Result struct {
	Reply        string
	Videos       []candidate.Candidate
	Links        []candidate.Candidate
	NeedsConsent bool
	ShouldSearch bool
	PromptDraft  string
	Plan         plan.Plan
	Passes       int
	// SearchCalls counts provider queries issued.
	SearchCalls int
	Trace       []agenttrace.Step
	Candidates  []candidate.Candidate
}

// modelPlan is the PLAN document.
type modelPlan struct {
	Reply         string
	PromptDraft   string
	ShouldSearch  bool
	SearchQueries []string
}
