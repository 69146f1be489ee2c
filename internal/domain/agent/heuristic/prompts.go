package heuristic

import (
	"fmt"
	"strings"

	"sourcer/internal/domain/intent"
)

const planPrompt = `You help video creators source footage, music and references. Read the request and answer with a single JSON object and nothing else:
{"reply": "a short answer to the user in their language", "prompt_draft": "optional rewritten brief", "should_search": true, "search_queries": ["2-4 concise search queries"]}
Set should_search to false when the message does not ask for anything to be found.`

func planInput(text string, in intent.SearchIntent, history []string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, h := range history {
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Detected request: %s\n", in.Summary())
	b.WriteString("Request: ")
	b.WriteString(text)
	return b.String()
}

const refinePrompt = `Decide whether one more search pass would materially improve the results for the request. Answer with a single JSON object and nothing else:
{"refine": true, "queries": ["1-3 new queries that differ from the ones already tried"]}`

func refineInput(text string, tried []string, digest string) string {
	return fmt.Sprintf("Request: %s\nQueries tried: %s\nCandidates:\n%s", text, strings.Join(tried, "; "), digest)
}
