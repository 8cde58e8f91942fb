package inference

import (
	"slices"
	"strings"

	"github.com/samcharles93/shardchat/internal/tokenizer"
)

// StopSet is the set of end-of-sequence ids that end a decode run.
type StopSet []int

func (s StopSet) Contains(id int) bool {
	return slices.Contains(s, id)
}

// turnEnds are chat sentinels that end an assistant turn even when the
// tokenizer config names a different eos token.
var turnEnds = []string{"<|im_end|>", "<|eot_id|>", "<|end|>"}

// BuildStopTokens starts from the tokenizer's EOS set and adds any turn-end
// sentinel present in the vocabulary.
func BuildStopTokens(tok tokenizer.Tokenizer, sp tokenizer.Specials) StopSet {
	stop := StopSet{}
	for _, id := range sp.EOS {
		if id >= 0 && !stop.Contains(id) {
			stop = append(stop, id)
		}
	}

	vocab, ok := tok.(interface {
		TokenString(int) string
		VocabSize() int
	})
	if !ok {
		return stop
	}
	for id := 0; id < vocab.VocabSize(); id++ {
		s := strings.TrimSpace(vocab.TokenString(id))
		if slices.Contains(turnEnds, s) && !stop.Contains(id) {
			stop = append(stop, id)
		}
	}
	return stop
}
