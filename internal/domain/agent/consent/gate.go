// Package consent gates every external search and resolve on the project's
// one-time authorization.
package consent

import (
	"context"
	"fmt"
	"strings"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/logging"
)

// ErrConsentRequired is returned when the project has not authorized
// external content access.
var ErrConsentRequired = sharederrors.ErrConsentRequired

// Decision is the outcome of one consent check.
type Decision struct {
	Allowed     bool
	AutoConfirm bool
}

// Gate queries the consent store on every call. Nothing is cached, so a
// grant takes effect on the next node that checks.
type Gate struct {
	store  ports.ConsentStore
	logger logging.Logger
}

// NewGate creates a gate over store. A nil store denies everything.
func NewGate(store ports.ConsentStore, logger logging.Logger) *Gate {
	return &Gate{store: store, logger: logging.OrNop(logger)}
}

// Check returns the current decision. Store failures deny access.
func (g *Gate) Check(ctx context.Context, projectID string) (Decision, error) {
	if g == nil || g.store == nil {
		return Decision{}, nil
	}
	if strings.TrimSpace(projectID) == "" {
		return Decision{}, nil
	}
	c, err := g.store.GetConsent(ctx, projectID)
	if err != nil {
		g.logger.Warn("consent lookup failed for project %s, denying: %v", projectID, err)
		return Decision{}, fmt.Errorf("consent lookup: %w", err)
	}
	return Decision{Allowed: c.Consented, AutoConfirm: c.AutoConfirm}, nil
}

// Require returns ErrConsentRequired unless the project is consented.
func (g *Gate) Require(ctx context.Context, projectID string) error {
	d, err := g.Check(ctx, projectID)
	if err != nil || !d.Allowed {
		return ErrConsentRequired
	}
	return nil
}

// Reply is the user-facing request for confirmation.
func Reply(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		return "Searching and resolving external content needs your one-time confirmation for this project. Please allow external content access, then send the message again."
	}
	return "搜索和解析外部内容需要先获得本项目的一次性授权。请在界面上确认“允许访问外部内容”，确认后重新发送这条消息即可继续。"
}
