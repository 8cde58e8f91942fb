package tokenizer

import (
	"strings"
	"unicode"
)

type chatFormat uint8

const (
	formatNone chatFormat = iota
	formatChatML
	formatLlama3
)

// detectChatFormat recognises the chat template families the renderer
// implements by their header tokens.
func detectChatFormat(tpl string) chatFormat {
	switch {
	case strings.Contains(tpl, "<|im_start|>"):
		return formatChatML
	case strings.Contains(tpl, "<|start_header_id|>"):
		return formatLlama3
	default:
		return formatNone
	}
}

// ApplyChatTemplate formats msgs with the model's chat template and encodes
// the result. It returns ErrNoChatTemplate when the template is missing or
// of an unsupported family.
func (t *HFTokenizer) ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) ([]int, error) {
	var b strings.Builder
	switch t.format {
	case formatChatML:
		if t.cfg.AddBOS && t.cfg.BOSTokenID >= 0 {
			b.WriteString(t.TokenString(t.cfg.BOSTokenID))
		}
		for _, m := range msgs {
			b.WriteString("<|im_start|>")
			b.WriteString(m.Role)
			b.WriteString("\n")
			b.WriteString(m.Content)
			b.WriteString("<|im_end|>\n")
		}
		if addGenerationPrompt {
			b.WriteString("<|im_start|>assistant\n")
		}
	case formatLlama3:
		b.WriteString("<|begin_of_text|>")
		for _, m := range msgs {
			b.WriteString("<|start_header_id|>")
			b.WriteString(m.Role)
			b.WriteString("<|end_header_id|>\n\n")
			b.WriteString(strings.TrimSpace(m.Content))
			b.WriteString("<|eot_id|>")
		}
		if addGenerationPrompt {
			b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
		}
	default:
		return nil, ErrNoChatTemplate
	}
	return t.encodeText(b.String())
}

// ManualPrompt renders msgs as a plain "Role: text" transcript ending with
// an open assistant line. It is the fallback for models without a chat
// template.
func ManualPrompt(msgs []Message, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(titleRole(m.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n")
	}
	if addGenerationPrompt {
		b.WriteString("Assistant:")
	}
	return b.String()
}

func titleRole(role string) string {
	if role == "" {
		return "User"
	}
	r := []rune(role)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
