package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode runs a JSON literal through the same decoding path the streams use.
func decode(t *testing.T, literal string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(literal), &v))
	return v
}

func TestParseEvent_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		event    any
		wantKind EventKind
		wantText string
	}{
		{
			name:     "plain string",
			event:    "hello",
			wantKind: KindText,
			wantText: "hello",
		},
		{
			name:     "text key",
			event:    map[string]any{"text": "direct"},
			wantKind: KindText,
			wantText: "direct",
		},
		{
			name:     "content with parts",
			event:    decode(t, `{"content":{"parts":[{"text":"Hello"},{"text":" world"}]}}`),
			wantKind: KindParts,
			wantText: "Hello world",
		},
		{
			name:     "parts without text are skipped",
			event:    decode(t, `{"content":{"parts":[{"text":"a"},{"function_call":{}},{"text":"b"}]}}`),
			wantKind: KindParts,
			wantText: "ab",
		},
		{
			name:     "text key wins over content",
			event:    decode(t, `{"text":"primary","content":{"parts":[{"text":"ignored"}]}}`),
			wantKind: KindText,
			wantText: "primary",
		},
		{
			name:     "content without parts is stringified",
			event:    decode(t, `{"content":{"role":"model"}}`),
			wantKind: KindContent,
			wantText: `{"role":"model"}`,
		},
		{
			name:     "string content passes through",
			event:    decode(t, `{"content":"raw text"}`),
			wantKind: KindContent,
			wantText: "raw text",
		},
		{
			name:     "unknown shape is stringified whole",
			event:    decode(t, `{"usage":{"tokens":12}}`),
			wantKind: KindOpaque,
			wantText: `{"usage":{"tokens":12}}`,
		},
		{
			name:     "empty object is stringified, not dropped",
			event:    decode(t, `{}`),
			wantKind: KindOpaque,
			wantText: `{}`,
		},
		{
			name:     "non-map payload is stringified",
			event:    decode(t, `[1,2]`),
			wantKind: KindOpaque,
			wantText: `[1,2]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseEvent(tt.event)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantText, ev.ExtractText())
		})
	}
}

func TestParseEvent_PartsOrder(t *testing.T) {
	ev := ParseEvent(decode(t, `{"content":{"parts":[{"text":"1"},{"text":"2"},{"text":"3"}]}}`))
	require.Equal(t, KindParts, ev.Kind)
	require.Len(t, ev.Parts, 3)
	assert.Equal(t, "123", ev.ExtractText())
}

func TestResolveRemoteID(t *testing.T) {
	tests := []struct {
		name string
		resp any
		want string
	}{
		{"direct string", "remote-123", "remote-123"},
		{"id field", decode(t, `{"id":"sess-9"}`), "sess-9"},
		{"nested output id", decode(t, `{"output":{"id":"sess-10","user_id":"u"}}`), "sess-10"},
		{"id wins over output", decode(t, `{"id":"top","output":{"id":"nested"}}`), "top"},
		{"unknown shape stringified", decode(t, `{"session":"x"}`), `{"session":"x"}`},
		{"number stringified", decode(t, `42`), "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveRemoteID(tt.resp))
		})
	}
}
