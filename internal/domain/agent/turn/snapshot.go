package turn

import (
	"context"
	"fmt"

	"sourcer/internal/domain/agent/agenttrace"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/shared/jsonx"
)

// ArtifactKindTrace is the artifact kind of debug snapshots.
const ArtifactKindTrace = "agent_trace"

type snapshotDoc struct {
	TurnID       string                `json:"turn_id"`
	ProjectID    string                `json:"project_id"`
	ChatID       string                `json:"chat_id"`
	Strategy     string                `json:"strategy"`
	NeedsConsent bool                  `json:"needs_consent"`
	Passes       int                   `json:"passes"`
	Plan         any                   `json:"plan,omitempty"`
	Trace        []agenttrace.Step     `json:"trace"`
	Candidates   []candidate.Candidate `json:"candidates"`
	Reply        string                `json:"reply"`
}

// snapshot stores the plan, trace and candidate registry of a turn. It is
// best-effort: failures are logged and never reach the user.
func (c *Controller) snapshot(ctx context.Context, in Input, turnID string, out outcome) {
	if !c.cfg.DebugSnapshots || c.deps.Artifacts == nil {
		return
	}
	doc := snapshotDoc{
		TurnID:       turnID,
		ProjectID:    in.ProjectID,
		ChatID:       in.ChatID,
		Strategy:     string(out.strategy),
		NeedsConsent: out.needsConsent,
		Passes:       out.passes,
		Plan:         out.plan,
		Trace:        out.trace,
		Candidates:   out.candidates,
		Reply:        out.reply,
	}
	content, err := jsonx.MarshalIndent(doc, "", "  ")
	if err != nil {
		c.logger.Warn("turn %s: encode snapshot: %v", turnID, err)
		return
	}
	path := fmt.Sprintf("agent_traces/%s/%s.json", in.ChatID, turnID)
	if err := c.deps.Artifacts.StoreText(ctx, in.ProjectID, ArtifactKindTrace, path, string(content)); err != nil {
		c.logger.Warn("turn %s: store snapshot: %v", turnID, err)
	}
}
