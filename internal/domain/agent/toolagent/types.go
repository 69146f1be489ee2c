// Package toolagent runs the tool-calling strategy of a turn as an explicit
// bounded state machine:
//
//	INIT -> THINK -> DO -(calls)-> TOOLS -> REVIEW -(more, pass<max)-> TOOLS
//	                    -(none)--> REVIEW -(else)-> HYDRATE -> FINALIZE -> DONE
//
// The only cycle is TOOLS <-> REVIEW and TOOLS refuses to run once the pass
// counter is exhausted, so a turn terminates whatever the model does.
package toolagent

import (
	"time"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/agent/plan"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
)

// Node is a state of the machine.
type Node int

const (
	NodeInit Node = iota
	NodeThink
	NodeDo
	NodeTools
	NodeReview
	NodeHydrate
	NodeFinalize
	NodeDone
)

func (n Node) String() string {
	switch n {
	case NodeInit:
		return "init"
	case NodeThink:
		return "think"
	case NodeDo:
		return "do"
	case NodeTools:
		return "tools"
	case NodeReview:
		return "review"
	case NodeHydrate:
		return "hydrate"
	case NodeFinalize:
		return "finalize"
	case NodeDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config tunes the engine.
type Config struct {
	MaxPasses   int
	Temperature float64
	MaxTokens   int
	// LLMTimeout bounds each completion; zero leaves it to the client.
	LLMTimeout time.Duration
	// ToolTimeout bounds each tool call and each hydrate resolve; zero keeps
	// the registry default.
	ToolTimeout time.Duration
}

// Input is the per-turn state handed over by the controller.
type Input struct {
	ProjectID string
	ChatID    string
	Text      string
	Lang      string
	URLs      []string
	// History is the bounded recent conversation, oldest first.
	History []ports.Message
	// SeenURLs holds normalized urls presented in recent replies.
	SeenURLs     map[string]bool
	ThinkEnabled bool
}

// Result is the outcome of a tool-agent run.
type Result struct {
	Reply        string
	Videos       []candidate.Candidate
	Links        []candidate.Candidate
	NeedsConsent bool
	// LLMUnavailable is set when THINK and DO both failed to reach the model
	// and nothing was found, so the caller should switch strategy.
	LLMUnavailable bool
	// FallbackSelection is set when FINALIZE used the deterministic top-N.
	FallbackSelection bool
	Passes            int
	Plan              *plan.Plan
	Trace             []agenttrace.Step
	Candidates        []candidate.Candidate
}
