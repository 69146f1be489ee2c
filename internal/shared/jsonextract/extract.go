// Package jsonextract pulls a JSON object out of free-form model output.
//
// Strategies run in order until one decodes: the whole text, each fenced
// code block, each balanced {...} substring, and finally a jsonrepair pass
// over the widest brace span. Callers validate the decoded shape themselves
// through the typed getters, which return safe defaults.
package jsonextract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	sharederrors "sourcer/internal/shared/errors"
	"sourcer/internal/shared/jsonx"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// Extract decodes the first JSON object found in text into v.
func Extract(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty output: %w", sharederrors.ErrMalformedOutput)
	}
	for _, candidate := range candidates(text) {
		if err := jsonx.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}
	if span := widestSpan(text); span != "" {
		repaired, err := jsonrepair.JSONRepair(span)
		if err == nil {
			if err := jsonx.Unmarshal([]byte(repaired), v); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no decodable object: %w", sharederrors.ErrMalformedOutput)
}

// ExtractObject returns the first JSON object in text as a map.
func ExtractObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := Extract(text, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("null object: %w", sharederrors.ErrMalformedOutput)
	}
	return obj, nil
}

// Arguments decodes tool-call arguments, returning an empty map when the
// payload is blank or unrecoverable.
func Arguments(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	obj, err := ExtractObject(raw)
	if err != nil {
		return map[string]any{}
	}
	return obj
}

func candidates(text string) []string {
	out := []string{text}
	for _, match := range fencePattern.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(match[1]); body != "" {
			out = append(out, body)
		}
	}
	return append(out, balancedObjects(text)...)
}

// balancedObjects returns every top-level {...} substring whose braces
// balance, ignoring braces inside string literals.
func balancedObjects(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

func widestSpan(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(text, "}")
	if end <= start {
		return text[start:]
	}
	return text[start : end+1]
}
