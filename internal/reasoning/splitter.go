package reasoning

import "strings"

const openTag = "<think>"

type SplitResult struct {
	Content   string
	Reasoning string
}

// SplitRaw separates content and reasoning from a complete response.
// Reasoning is only recognised when the response (or the prompt, when
// thinking is true) opens a think block.
func SplitRaw(raw, delim string, thinking bool) SplitResult {
	s := Splitter{Delimiter: delim, Thinking: thinking}
	content, reasoning := s.Push(raw)
	return SplitResult{Content: content, Reasoning: reasoning}
}

// Splitter incrementally emits content/reasoning deltas from raw streamed
// text. It drives the same phase machine as Render, so a delimiter split
// across two pushes is not recognised.
type Splitter struct {
	Delimiter string
	// Thinking starts the splitter inside a think block, for prompts that
	// already opened one.
	Thinking bool

	started bool
	phase   Phase
}

func (s *Splitter) Push(delta string) (contentDelta, reasoningDelta string) {
	if delta == "" {
		return "", ""
	}
	if !s.started {
		s.started = true
		trimmed := strings.TrimLeft(delta, " \t\r\n")
		if strings.HasPrefix(strings.ToLower(trimmed), openTag) {
			s.Thinking = true
			delta = trimmed[len(openTag):]
		}
		if !s.Thinking {
			s.phase = Answering
		}
	}

	var content, reasoning strings.Builder
	var segs []Segment
	s.phase, segs = Render(s.phase, delta, s.Delimiter)
	for _, seg := range segs {
		switch seg.Kind {
		case Plain:
			reasoning.WriteString(seg.Text)
		case Colored:
			content.WriteString(seg.Text)
		}
	}
	return content.String(), reasoning.String()
}
