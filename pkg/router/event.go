package router

import (
	"encoding/json"
	"fmt"
)

// EventKind classifies the shape of one streamed agent event. The upstream
// event schema is undocumented and has changed across SDK versions, so
// events are matched against a closed set of known shapes in a fixed
// precedence order, with an explicit opaque fallback so nothing is ever
// silently dropped.
type EventKind int

const (
	// KindText carries text directly: a plain string payload or a keyed
	// structure with a top-level "text" value.
	KindText EventKind = iota
	// KindParts carries content.parts, an ordered list of parts each
	// optionally carrying text.
	KindParts
	// KindContent has a "content" value but no parts list.
	KindContent
	// KindOpaque matched none of the known shapes.
	KindOpaque
)

func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindParts:
		return "parts"
	case KindContent:
		return "content"
	default:
		return "opaque"
	}
}

// Part is one element of a parts-shaped event.
type Part struct {
	Text string
}

// Event is the normalized form of one streamed agent event.
type Event struct {
	Kind    EventKind
	Text    string // KindText
	Parts   []Part // KindParts, in arrival order
	Content any    // KindContent: the raw content value
	Raw     any    // KindOpaque: the whole payload
}

// ParseEvent classifies a decoded event payload. Precedence, first match
// wins: direct text, content parts, bare content, opaque fallback.
func ParseEvent(v any) Event {
	switch ev := v.(type) {
	case string:
		return Event{Kind: KindText, Text: ev}
	case map[string]any:
		if text, ok := ev["text"].(string); ok {
			return Event{Kind: KindText, Text: text}
		}
		if content, ok := ev["content"]; ok {
			if cm, ok := content.(map[string]any); ok {
				if rawParts, ok := cm["parts"].([]any); ok {
					parts := make([]Part, 0, len(rawParts))
					for _, rp := range rawParts {
						pm, ok := rp.(map[string]any)
						if !ok {
							continue
						}
						if text, ok := pm["text"].(string); ok {
							parts = append(parts, Part{Text: text})
						}
					}
					return Event{Kind: KindParts, Parts: parts}
				}
			}
			return Event{Kind: KindContent, Content: content}
		}
	}
	return Event{Kind: KindOpaque, Raw: v}
}

// ExtractText returns the text this event contributes to the reply.
// Opaque events contribute their stringified form so no event is lost.
func (e Event) ExtractText() string {
	switch e.Kind {
	case KindText:
		return e.Text
	case KindParts:
		var out string
		for _, p := range e.Parts {
			out += p.Text
		}
		return out
	case KindContent:
		return stringify(e.Content)
	default:
		return stringify(e.Raw)
	}
}

// stringify renders an arbitrary payload as text, preferring its JSON form.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
