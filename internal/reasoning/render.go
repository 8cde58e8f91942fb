// Package reasoning separates a model's thinking output from its answer.
package reasoning

import "strings"

// DefaultDelimiter marks the end of the thinking segment.
const DefaultDelimiter = "</think>"

// Phase is the two-state output mode of one response.
type Phase uint8

const (
	Thinking Phase = iota
	Answering
)

func (p Phase) String() string {
	if p == Answering {
		return "answering"
	}
	return "thinking"
}

// SegmentKind classifies a rendered span.
type SegmentKind uint8

const (
	Plain SegmentKind = iota
	Delimiter
	Colored
)

// Segment is one span of rendered output.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Render classifies a newly decoded chunk of text given the current phase
// and returns the next phase. Text before the delimiter (and the delimiter
// itself) is never Colored; everything after it is.
//
// Each call sees only its own chunk, so a delimiter split across two calls
// is not recognised.
func Render(phase Phase, text, delim string) (Phase, []Segment) {
	if text == "" {
		return phase, nil
	}
	if phase == Answering {
		return Answering, []Segment{{Kind: Colored, Text: text}}
	}
	if delim == "" {
		return Thinking, []Segment{{Kind: Plain, Text: text}}
	}
	i := strings.Index(text, delim)
	if i < 0 {
		return Thinking, []Segment{{Kind: Plain, Text: text}}
	}
	segs := make([]Segment, 0, 3)
	if i > 0 {
		segs = append(segs, Segment{Kind: Plain, Text: text[:i]})
	}
	segs = append(segs, Segment{Kind: Delimiter, Text: delim})
	if rest := text[i+len(delim):]; rest != "" {
		segs = append(segs, Segment{Kind: Colored, Text: rest})
	}
	return Answering, segs
}

// Answer returns the text after the last delimiter, or raw unchanged when
// the delimiter never appears.
func Answer(raw, delim string) string {
	if delim == "" {
		return raw
	}
	if i := strings.LastIndex(raw, delim); i >= 0 {
		return raw[i+len(delim):]
	}
	return raw
}
