package turn

import (
	"context"
	"strings"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
	tokenutil "sourcer/internal/shared/token"
)

const (
	defaultHistoryWindow = 12
	defaultHistoryTokens = 2000
)

// history is the bounded recent conversation plus the urls already shown.
type history struct {
	messages []ports.Message
	seen     map[string]bool
}

// loadHistory reads the last HistoryWindow user and assistant messages,
// then drops the oldest until the rest fit the token budget. A failing chat
// log yields an empty history.
func (c *Controller) loadHistory(ctx context.Context, in Input) history {
	h := history{seen: map[string]bool{}}
	if c.deps.ChatLog == nil {
		return h
	}
	msgs, err := c.deps.ChatLog.ListMessages(ctx, in.ProjectID, in.ChatID)
	if err != nil {
		c.logger.Warn("load history for %s/%s failed: %v", in.ProjectID, in.ChatID, err)
		return h
	}

	kept := make([]ports.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != ports.RoleUser && m.Role != ports.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" && m.Data == nil {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > c.cfg.HistoryWindow {
		kept = kept[len(kept)-c.cfg.HistoryWindow:]
	}

	var shown []string
	for _, m := range kept {
		if m.Role == ports.RoleAssistant && m.Data != nil {
			shown = append(shown, candidate.URLs(candidate.BlocksFromData(m.Data))...)
		}
	}
	h.seen = intent.SeenSet(shown)

	texts := make([]string, len(kept))
	for i, m := range kept {
		texts[i] = m.Content
	}
	fit := tokenutil.FitTail(texts, c.cfg.HistoryTokenBudget)
	for _, m := range kept[len(kept)-fit:] {
		h.messages = append(h.messages, ports.Message{
			Role:    m.Role,
			Content: m.Content,
			Source:  ports.MessageSourceUserHistory,
		})
	}
	return h
}
