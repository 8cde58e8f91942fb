// Package tokenizer converts between text and token ids and formats chat
// prompts for the model.
package tokenizer

// Tokenizer defines the minimal interface used by the inference core.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// ChatTemplater is implemented by tokenizers able to format a conversation
// directly into prompt ids. ApplyChatTemplate returns ErrNoChatTemplate when
// the model ships no usable template; callers probe for this once.
type ChatTemplater interface {
	ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) ([]int, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Specials holds the well-known special token ids. A negative id means the
// token is absent. EOS is a set because several models end turns with more
// than one token.
type Specials struct {
	BOS int
	PAD int
	UNK int
	EOS []int
}

// IsEOS reports whether id ends a sequence.
func (s Specials) IsEOS(id int) bool {
	for _, e := range s.EOS {
		if e == id {
			return true
		}
	}
	return false
}

// SpecialTokener exposes special token ids.
type SpecialTokener interface {
	Specials() Specials
}
