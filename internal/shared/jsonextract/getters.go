package jsonextract

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns obj[key] as a trimmed string, or "" when absent or not scalar.
func String(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Bool returns obj[key] as a bool, accepting "true"/"false" strings.
func Bool(obj map[string]any, key string, fallback bool) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// Float returns obj[key] as a float64, accepting numeric strings.
func Float(obj map[string]any, key string, fallback float64) float64 {
	switch v := obj[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// Int returns obj[key] clamped to [lo, hi], or fallback when absent.
func Int(obj map[string]any, key string, fallback, lo, hi int) int {
	f := Float(obj, key, float64(fallback))
	n := int(f)
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}

// StringSlice returns obj[key] as non-empty trimmed strings. A single string
// is treated as a one-element list.
func StringSlice(obj map[string]any, key string) []string {
	switch v := obj[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			var s string
			switch t := item.(type) {
			case string:
				s = t
			case float64, bool:
				s = fmt.Sprint(t)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

// Object returns obj[key] as a nested map, or nil.
func Object(obj map[string]any, key string) map[string]any {
	if m, ok := obj[key].(map[string]any); ok {
		return m
	}
	return nil
}

// Objects returns obj[key] as a list of nested maps, skipping other values.
func Objects(obj map[string]any, key string) []map[string]any {
	items, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
