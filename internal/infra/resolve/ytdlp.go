package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"sourcer/internal/domain/agent/ports"
	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
	"sourcer/internal/shared/logging"
)

// CommandRunner executes a binary and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// YtDlp shells out to `yt-dlp --dump-single-json` for sites it supports.
type YtDlp struct {
	path   string
	run    CommandRunner
	logger logging.Logger
}

// NewYtDlp returns nil when path is empty or cannot be found, so the chain
// simply skips it.
func NewYtDlp(path string, logger logging.Logger) *YtDlp {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "yt-dlp"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		logging.OrNop(logger).Warn("yt-dlp not found (%s); URL resolve falls back to page metadata", path)
		return nil
	}
	return newYtDlp(resolved, execRunner, logger)
}

func newYtDlp(path string, run CommandRunner, logger logging.Logger) *YtDlp {
	return &YtDlp{path: path, run: run, logger: logging.OrNop(logger)}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 300 {
			msg = msg[len(msg)-300:]
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.Bytes(), nil
}

func (y *YtDlp) Name() string { return "yt-dlp" }

// Matches is false on a nil receiver so an unavailable binary can still be
// passed to NewChain.
func (y *YtDlp) Matches(rawURL string) bool {
	if y == nil {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

type ytdlpInfo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Thumbnail    string  `json:"thumbnail"`
	Duration     float64 `json:"duration"`
	Extractor    string  `json:"extractor"`
	ExtractorKey string  `json:"extractor_key"`
	WebpageURL   string  `json:"webpage_url"`
}

func (y *YtDlp) Resolve(ctx context.Context, rawURL, cookiesHint string) (*ports.ResolvedMedia, error) {
	args := []string{"--dump-single-json", "--skip-download", "--no-playlist", "--no-warnings"}
	if hint := strings.TrimSpace(cookiesHint); hint != "" {
		args = append(args, "--cookies-from-browser", hint)
	}
	args = append(args, rawURL)

	out, err := y.run(ctx, y.path, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sharederrors.NewTransientError(fmt.Errorf("yt-dlp timed out: %w", ctx.Err()), "")
		}
		return nil, sharederrors.NewPermanentError(err, "")
	}
	var info ytdlpInfo
	if err := jsonx.Unmarshal(bytes.TrimSpace(out), &info); err != nil {
		return nil, fmt.Errorf("yt-dlp: decode info json: %w", err)
	}

	extractor := info.Extractor
	if extractor == "" {
		extractor = info.ExtractorKey
	}
	canonical := strings.TrimSpace(info.WebpageURL)
	if canonical == "" {
		canonical = rawURL
	}
	y.logger.Debug("yt-dlp %s extractor=%s id=%s", rawURL, extractor, info.ID)
	return &ports.ResolvedMedia{
		Title:           strings.TrimSpace(info.Title),
		Description:     truncate(oneLine(info.Description), 280),
		Thumbnail:       strings.TrimSpace(info.Thumbnail),
		DurationSeconds: int(info.Duration + 0.5),
		Extractor:       extractor,
		CanonicalURL:    canonical,
	}, nil
}
