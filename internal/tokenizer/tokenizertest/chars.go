// Package tokenizertest provides a tiny deterministic tokenizer for tests
// that pair it with the toy runtime.
package tokenizertest

import (
	"strings"

	"github.com/samcharles93/shardchat/internal/tokenizer"
)

// Vocabulary of Chars. Ids 2..27 are the letters a..z.
const (
	PAD   = 0
	EOS   = 1
	Space = 28
	Query = 29
	Think = 30
	Bang  = 31
	Vocab = 32
)

var special = map[int]string{
	PAD:   "<pad>",
	EOS:   "<eos>",
	Space: " ",
	Query: "?",
	Think: "</think>",
	Bang:  "!",
}

// Chars maps each letter to its own id. Any other rune encodes as Space,
// so prompt punctuation such as ':' and '\n' collapses to one id.
type Chars struct {
	// Template enables ApplyChatTemplate; when false it returns
	// tokenizer.ErrNoChatTemplate.
	Template bool
}

func (Chars) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			ids = append(ids, int(r-'a')+2)
		case r == '?':
			ids = append(ids, Query)
		case r == '!':
			ids = append(ids, Bang)
		default:
			ids = append(ids, Space)
		}
	}
	return ids, nil
}

func (Chars) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(Token(id))
	}
	return b.String(), nil
}

// Token returns the text of one id.
func Token(id int) string {
	if s, ok := special[id]; ok {
		return s
	}
	if id >= 2 && id < 28 {
		return string(rune('a' + id - 2))
	}
	return ""
}

func (Chars) Specials() tokenizer.Specials {
	return tokenizer.Specials{BOS: -1, PAD: PAD, UNK: -1, EOS: []int{EOS}}
}

// ApplyChatTemplate renders "<role>text" pairs followed by "assistant"
// when a generation prompt is requested.
func (c Chars) ApplyChatTemplate(msgs []tokenizer.Message, addGenerationPrompt bool) ([]int, error) {
	if !c.Template {
		return nil, tokenizer.ErrNoChatTemplate
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(" ")
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	if addGenerationPrompt {
		b.WriteString("assistant ")
	}
	return c.Encode(b.String())
}
