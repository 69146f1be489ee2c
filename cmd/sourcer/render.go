package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/term"

	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/turn"
	"sourcer/internal/domain/candidate"
)

var (
	titleStyle = color.New(color.Bold).SprintFunc()
	okStyle    = color.New(color.FgGreen).SprintFunc()
	warnStyle  = color.New(color.FgYellow).SprintFunc()
	errorStyle = color.New(color.FgRed).SprintFunc()
	linkStyle  = color.New(color.FgCyan, color.Underline).SprintFunc()
	dimStyle   = color.New(color.FgHiBlack).SprintFunc()
	roleStyle  = color.New(color.FgBlue, color.Bold).SprintFunc()
)

const defaultWidth = 100

type renderer struct {
	out   io.Writer
	width int
}

// newRenderer sizes output to the terminal and turns color off when out is
// not one.
func newRenderer(out io.Writer) *renderer {
	width := defaultWidth
	tty := false
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			width = w
		}
	}
	if !tty {
		color.NoColor = true
	}
	return &renderer{out: out, width: width}
}

// Result prints the reply followed by its video and link cards.
func (r *renderer) Result(res turn.Result) {
	fmt.Fprintln(r.out, res.Reply)
	if res.NeedsConsent {
		fmt.Fprintln(r.out, warnStyle("run `sourcer consent grant --project <id>` to allow network access"))
	}
	r.blocks(res.Blocks)
	fmt.Fprintln(r.out, dimStyle(fmt.Sprintf("turn %s · %s · %d passes", res.TurnID, res.Strategy, res.Passes)))
}

// History prints each message with its role and any cards it carried.
func (r *renderer) History(msgs []ports.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, dimStyle("(no messages)"))
		return
	}
	for _, m := range msgs {
		stamp := time.UnixMilli(m.CreatedAtMs).Format("01-02 15:04")
		fmt.Fprintf(r.out, "%s %s\n", roleStyle(m.Role), dimStyle(stamp))
		fmt.Fprintln(r.out, m.Content)
		if m.Data != nil {
			r.blocks(candidate.BlocksFromData(m.Data))
		}
		fmt.Fprintln(r.out)
	}
}

func (r *renderer) blocks(blocks []candidate.Block) {
	for _, b := range blocks {
		switch b.Type {
		case candidate.BlockVideos:
			fmt.Fprintln(r.out, titleStyle("\nVideos"))
			for i, v := range b.Videos {
				meta := joinNonEmpty(" · ", v.Source, formatDuration(v.DurationSeconds), formatScore(v.Score))
				r.card(i+1, v.Title, v.URL, meta, v.Snippet, v.Reason)
			}
		case candidate.BlockLinks:
			fmt.Fprintln(r.out, titleStyle("\nLinks"))
			for i, l := range b.Links {
				r.card(i+1, l.Title, l.URL, joinNonEmpty(" · ", l.Source, formatScore(l.Score)), l.Snippet, l.Reason)
			}
		}
	}
}

func (r *renderer) card(n int, title, url, meta, snippet, reason string) {
	fmt.Fprintf(r.out, "%2d. %s\n", n, titleStyle(clip(title, r.width-4)))
	fmt.Fprintf(r.out, "    %s\n", linkStyle(url))
	if meta != "" {
		fmt.Fprintf(r.out, "    %s\n", dimStyle(meta))
	}
	if snippet != "" {
		fmt.Fprintf(r.out, "    %s\n", clip(snippet, r.width-4))
	}
	if reason != "" {
		fmt.Fprintf(r.out, "    %s\n", okStyle(clip(reason, r.width-4)))
	}
}

func formatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func formatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return fmt.Sprintf("score %.2f", *score)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

// clip shortens s to max runes on one line.
func clip(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max <= 1 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
