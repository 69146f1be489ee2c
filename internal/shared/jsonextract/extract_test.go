package jsonextract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharederrors "sourcer/internal/shared/errors"
)

func TestExtractStrategies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "direct", text: `{"reply":"ok"}`, want: "ok"},
		{name: "fenced", text: "Here you go:\n```json\n{\"reply\":\"fenced\"}\n```\nthanks", want: "fenced"},
		{name: "embedded", text: `Plan follows {"reply":"inner {brace} text"} done`, want: "inner {brace} text"},
		{name: "skips invalid first object", text: `{not json} then {"reply":"second"}`, want: "second"},
		{name: "repair trailing comma", text: `result: {"reply":"fixed",}`, want: "fixed"},
		{name: "repair unterminated", text: `{"reply":"cut`, want: "cut"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ExtractObject(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, String(obj, "reply"))
		})
	}
}

func TestExtractMalformed(t *testing.T) {
	for _, text := range []string{"", "   ", "no json here at all"} {
		_, err := ExtractObject(text)
		if !errors.Is(err, sharederrors.ErrMalformedOutput) {
			t.Fatalf("ExtractObject(%q) err = %v, want ErrMalformedOutput", text, err)
		}
	}
}

func TestGettersDefaults(t *testing.T) {
	obj, err := ExtractObject(`{"should_search":"false","queries":["a"," ",2],"n":"7","single":"only","nested":{"x":1},"list":[{"id":"v_1"},"skip"]}`)
	require.NoError(t, err)

	assert.False(t, Bool(obj, "should_search", true))
	assert.True(t, Bool(obj, "missing", true))
	assert.Equal(t, []string{"a", "2"}, StringSlice(obj, "queries"))
	assert.Equal(t, []string{"only"}, StringSlice(obj, "single"))
	assert.Equal(t, 7, Int(obj, "n", 3, 1, 10))
	assert.Equal(t, 10, Int(map[string]any{"n": 99.0}, "n", 3, 1, 10))
	assert.Equal(t, 3, Int(obj, "missing", 3, 1, 10))
	assert.NotNil(t, Object(obj, "nested"))
	assert.Len(t, Objects(obj, "list"), 1)
	assert.Empty(t, Arguments("garbage"))
}
