// Package present composes the user-facing reply text that accompanies the
// presentation blocks. Replies are natural language with a next step; raw
// errors never reach them.
package present

import (
	"fmt"
	"net/url"
	"strings"

	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
)

// English reports whether replies should be written in English.
func English(lang string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(lang)), "en")
}

// DetectLang guesses the reply language from the user's text.
func DetectLang(text string) string {
	han, latin := 0, 0
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FFF:
			han++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	if han == 0 && latin > 0 {
		return "en"
	}
	return "zh"
}

// Summary describes a non-empty selection.
func Summary(videos, links int, in intent.SearchIntent, lang string) string {
	var b strings.Builder
	if English(lang) {
		fmt.Fprintf(&b, "Found %d video(s) and %d link(s), ranked by relevance.", videos, links)
		if len(in.Licenses) > 0 {
			b.WriteString(" License terms you asked for are not verified; check each source page before use.")
		}
		b.WriteString(" Tell me which ones you like and I can look for more in that direction.")
		return b.String()
	}
	fmt.Fprintf(&b, "找到 %d 个视频、%d 个链接，已按相关度排序。", videos, links)
	if len(in.Licenses) > 0 {
		b.WriteString("授权条款（如可商用、免版税）只是你的需求，系统未核实，使用前请到原页面确认。")
	}
	b.WriteString("告诉我你喜欢哪几个，我可以按这个方向继续找。")
	return b.String()
}

// Empty is the reply when candidates were searched for but none survived.
func Empty(lang string) string {
	if English(lang) {
		return "Nothing relevant came back this time. Try different keywords, or name a platform or creator to narrow the search."
	}
	return "这次没有找到合适的结果。可以换个关键词，或者指定平台、创作者再试一次。"
}

// Failure is the generic degraded reply.
func Failure(lang string) string {
	if English(lang) {
		return "Something went wrong while sourcing. Please try again in a moment."
	}
	return "处理过程中遇到问题，请稍后重试。"
}

// PickReference asks the user to choose one of several pasted urls.
func PickReference(urls []string, lang string) string {
	var b strings.Builder
	if English(lang) {
		b.WriteString("You pasted several links. Which one should I use as the main reference?\n")
	} else {
		b.WriteString("你发了多个链接，请告诉我以哪一个作为主要参考：\n")
	}
	for i, u := range urls {
		fmt.Fprintf(&b, "%d. %s\n", i+1, u)
	}
	return strings.TrimSpace(b.String())
}

// Reference describes a single resolved reference url.
func Reference(c candidate.Candidate, lang string) string {
	title := c.Title
	if title == "" {
		title = c.URL
	}
	if English(lang) {
		return fmt.Sprintf("Got your reference: %s. Tell me what you want to find based on it (similar footage, the same creator, music...).", title)
	}
	return fmt.Sprintf("已收到参考链接：%s。告诉我想基于它找什么（相似画面、同一作者、配乐等）。", title)
}

// NoProvider is the reply when every round came back empty. It points at
// manual search pages and the provider setting.
func NoProvider(query, lang string) string {
	if English(lang) {
		return "No search results came back, most likely because no search provider is configured. " +
			"You can search manually with the links below, or configure a provider (for example a Tavily API key) and ask again."
	}
	return "没有拿到任何搜索结果，很可能是还没有配置搜索服务。可以先用下面的链接手动搜索，" +
		"或在设置中配置搜索提供方（例如 Tavily API Key）后再问一次。"
}

// ManualSearchLinks returns search-entry link candidates for query.
func ManualSearchLinks(query string) []candidate.Candidate {
	q := url.QueryEscape(strings.TrimSpace(query))
	entries := []struct{ title, raw string }{
		{"Bilibili 搜索: " + query, "https://search.bilibili.com/all?keyword=" + q},
		{"YouTube search: " + query, "https://www.youtube.com/results?search_query=" + q},
		{"Web search: " + query, "https://duckduckgo.com/?q=" + q},
	}
	out := make([]candidate.Candidate, 0, len(entries))
	for i, e := range entries {
		out = append(out, candidate.Candidate{
			ID:     candidate.ID(candidate.KindLink, e.raw),
			Kind:   candidate.KindLink,
			URL:    e.raw,
			Title:  e.title,
			Source: "manual",
			Order:  i,
		})
	}
	return out
}
