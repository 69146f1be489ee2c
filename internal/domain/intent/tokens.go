package intent

import (
	"strings"
	"unicode"
)

const maxFocusTokens = 12

var stopwords = map[string]bool{
	// english
	"the": true, "and": true, "or": true, "of": true, "to": true, "for": true,
	"in": true, "on": true, "with": true, "find": true, "me": true, "please": true,
	"some": true, "like": true, "this": true, "that": true, "an": true, "is": true,
	"are": true, "it": true, "my": true, "can": true, "you": true, "want": true,
	"need": true, "get": true, "from": true, "about": true, "video": true,
	"videos": true, "search": true, "http": true, "https": true, "www": true,
	"com": true, "html": true,
	// cjk bigrams that carry request phrasing rather than subject
	"帮我": true, "我找": true, "找一": true, "一些": true, "一下": true,
	"我想": true, "想要": true, "需要": true, "视频": true, "素材": true,
	"相关": true, "可以": true, "有没": true, "没有": true, "什么": true,
	"这个": true, "那个": true, "给我": true, "一个": true, "推荐": true,
	"类似": true, "的视": true, "些视": true, "找些": true, "搜索": true,
	"一点": true, "找点": true, "我要": true,
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// Tokenize lowercases text and returns ASCII words of two or more
// characters plus CJK bigrams, with stopwords removed. Single CJK
// characters standing alone are kept as tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var out []string
	var word []rune
	var run []rune

	flushWord := func() {
		if len(word) >= 2 {
			w := string(word)
			if !stopwords[w] {
				out = append(out, w)
			}
		}
		word = word[:0]
	}
	flushRun := func() {
		switch {
		case len(run) == 1:
			out = append(out, string(run))
		case len(run) >= 2:
			for i := 0; i+1 < len(run); i++ {
				bigram := string(run[i : i+2])
				if !stopwords[bigram] {
					out = append(out, bigram)
				}
			}
		}
		run = run[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			run = append(run, r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			flushRun()
			word = append(word, r)
		default:
			flushWord()
			flushRun()
		}
	}
	flushWord()
	flushRun()
	return out
}

// FocusTokens returns the distinct salient tokens of text, urls excluded,
// capped for prompt and scoring use.
func FocusTokens(text string) []string {
	return dedupeTokens(Tokenize(StripURLs(text)), maxFocusTokens)
}

// QueryTokens returns the distinct tokens across queries.
func QueryTokens(queries []string) []string {
	return dedupeTokens(Tokenize(strings.Join(queries, " ")), maxFocusTokens*2)
}

func dedupeTokens(tokens []string, limit int) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
