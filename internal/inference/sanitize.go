package inference

import (
	"strings"

	"github.com/samcharles93/shardchat/internal/reasoning"
)

// SanitizeAssistantForContext removes reasoning/sentinel artifacts before
// assistant text is fed back into subsequent turns. delim is the end of
// thinking marker; text before a bare delimiter is treated as reasoning
// because the prompt may have opened the think block itself.
func SanitizeAssistantForContext(text, delim string) string {
	s := stripThinkBlocks(text, delim)
	s = reasoning.Answer(s, delim)
	for _, token := range []string{
		"<|im_end|>",
		"<|endoftext|>",
		"<|end_of_text|>",
		"<|eot_id|>",
		"</s>",
	} {
		s = strings.ReplaceAll(s, token, "")
	}
	return strings.TrimSpace(s)
}

func stripThinkBlocks(text, closeTag string) string {
	if closeTag == "" {
		closeTag = reasoning.DefaultDelimiter
	}
	source := text
	lower := strings.ToLower(source)
	const openTag = "<think>"

	var b strings.Builder
	cursor := 0
	for cursor < len(source) {
		start := strings.Index(lower[cursor:], openTag)
		if start < 0 {
			b.WriteString(source[cursor:])
			break
		}
		start += cursor
		b.WriteString(source[cursor:start])

		thinkStart := start + len(openTag)
		end := strings.Index(lower[thinkStart:], strings.ToLower(closeTag))
		if end < 0 {
			break // drop unclosed think block tail
		}
		cursor = thinkStart + end + len(closeTag)
	}
	return b.String()
}
