package toolagent

import (
	"fmt"
	"strings"

	"sourcer/internal/domain/intent"
)

const systemPromptTemplate = `You are a sourcing assistant for video creators. You find reference footage, stock clips, music, sound effects and reference pages for a creative request.

Tools:
- search_bilibili_videos for Chinese-language video references.
- search_video_sites for footage across several video sites at once.
- search_web for stock libraries, music and sound sources, tutorials and license pages.
- resolve_url to fetch authoritative metadata for a promising candidate.

Rules:
- Only refer to candidates by the ids returned from tools. Never invent urls or ids.
- Issue at most 6 tool calls per step; prefer a few focused queries over many vague ones.
- License terms the user asks for are preferences. Never claim a license is verified.
- Stop searching once there are enough relevant candidates.
- Reply in the user's language.

Detected request: %s`

func systemPrompt(in intent.SearchIntent, urls []string) string {
	prompt := fmt.Sprintf(systemPromptTemplate, in.Summary())
	if len(urls) > 0 {
		prompt += "\nThe user pasted these links as references: " + strings.Join(urls, ", ")
	}
	return prompt
}

const thinkPrompt = `Analyse the creative request below before any searching. Answer with a single JSON object and nothing else:
{"intent": "video|audio|image|web", "platform_preference": "domestic|external|none", "assumptions": ["..."], "tool_strategy": ["tool and why, in priority order"], "search_queries": ["2-4 concise queries"], "stop_criteria": "..."}`

func reviewNote(pass, max int, exhausted bool, digest, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review after pass %d of %d.\n", pass, max)
	b.WriteString("Current candidates (id, kind, title, url, snippet; seen=true was already shown to the user):\n")
	b.WriteString(digest)
	if feedback != "" {
		b.WriteString("\nUser feedback memory (prior likes and dislikes):\n")
		b.WriteString(feedback)
	}
	if exhausted {
		b.WriteString("\nThe search budget is used up. Do not call tools. Briefly say what was found.")
	} else {
		b.WriteString("\nIf the candidates already cover the request, answer briefly without tool calls. Otherwise issue one more focused round of tool calls.")
	}
	return b.String()
}

const finalizePrompt = `Select the final results for the creative request. Use only ids from the candidate list. Answer with a single JSON object and nothing else:
{"select": {"videos": ["v_..."], "links": ["l_..."]},
 "scorecard": [{"id": "...", "score": 0-10, "tags": ["..."], "reason": "one short sentence"}],
 "dedupe_groups": [["id", "id"]],
 "reply": "two or three sentences for the user, in their language"}
Pick at most 6 videos and 6 links, best first. Put near-duplicates (same clip re-uploaded, same page) in one dedupe group.`

func finalizeInput(text, planNote, digest string) string {
	var b strings.Builder
	b.WriteString("Request: ")
	b.WriteString(text)
	if planNote != "" {
		b.WriteString("\n\n")
		b.WriteString(planNote)
	}
	b.WriteString("\n\nCandidates (seen=true was already shown to the user in an earlier turn; prefer the others):\n")
	b.WriteString(digest)
	return b.String()
}
