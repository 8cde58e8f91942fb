package tokenizer

import (
	"fmt"
	"regexp"
	"slices"
)

// HFTokenizer is a byte-level BPE tokenizer loaded from a Hugging Face
// tokenizer.json. Besides encoding it carries the model's special ids, with
// EOS as a set, and implements ChatTemplater for the template families in
// template.go. It is not safe for concurrent use.
type HFTokenizer struct {
	vocab    vocab
	merges   *bpe
	bytes    *byteLevel
	special  specialMatcher
	pretok   *regexp.Regexp
	wholeHit bool

	cfg    TokenizerConfig
	ids    Specials
	format chatFormat
}

// LoadHFTokenizerBytes builds a tokenizer from the contents of
// tokenizer.json and, optionally, tokenizer_config.json.
func LoadHFTokenizerBytes(tokJSON, tokConfig []byte) (*HFTokenizer, error) {
	tj, cfg, err := parseHF(tokJSON, tokConfig)
	if err != nil {
		return nil, err
	}
	v := newVocab(tj)
	var added []string
	for _, at := range tj.AddedTokens {
		if at.Special {
			added = append(added, at.Content)
		}
	}

	t := &HFTokenizer{
		vocab:    v,
		merges:   newBPE(parseMerges(tj.Model.Merges)),
		bytes:    newByteLevel(),
		special:  newSpecialMatcher(v, added),
		pretok:   pretokenizer(tj.PreTokenizer),
		wholeHit: tj.Model.IgnoreMerges,
		cfg:      cfg,
		ids: Specials{
			BOS: cfg.BOSTokenID,
			PAD: cfg.PADTokenID,
			UNK: cfg.UNKTokenID,
		},
		format: detectChatFormat(cfg.ChatTemplate),
	}
	t.AddEOSIDs(cfg.EOSTokenID)
	return t, nil
}

// AddEOSIDs extends the end-of-sequence set, e.g. from
// generation_config.json. Negative and duplicate ids are ignored.
func (t *HFTokenizer) AddEOSIDs(ids ...int) {
	for _, id := range ids {
		if id >= 0 && !slices.Contains(t.ids.EOS, id) {
			t.ids.EOS = append(t.ids.EOS, id)
		}
	}
}

// Encode tokenizes text, adding BOS and EOS when tokenizer_config.json
// asks for them.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.cfg.AddBOS && t.ids.BOS >= 0 {
		ids = append(ids, t.ids.BOS)
	}
	ids, err := t.appendEncoded(ids, text)
	if err != nil {
		return nil, err
	}
	if t.cfg.AddEOS && t.cfg.EOSTokenID >= 0 {
		ids = append(ids, t.cfg.EOSTokenID)
	}
	return ids, nil
}

// encodeText encodes without BOS/EOS handling.
func (t *HFTokenizer) encodeText(text string) ([]int, error) {
	return t.appendEncoded(nil, text)
}

func (t *HFTokenizer) appendEncoded(ids []int, text string) ([]int, error) {
	err := t.special.each(text, func(s string, special bool) error {
		if special {
			id, ok := t.vocab.id(s)
			if !ok {
				return fmt.Errorf("unknown special token: %q", s)
			}
			ids = append(ids, id)
			return nil
		}
		for _, word := range t.pretok.FindAllString(s, -1) {
			for _, sym := range t.symbols(t.bytes.encode(word)) {
				id, ok := t.vocab.id(sym)
				switch {
				case ok:
					ids = append(ids, id)
				case t.ids.UNK >= 0:
					ids = append(ids, t.ids.UNK)
				default:
					return fmt.Errorf("unknown token: %q", sym)
				}
			}
		}
		return nil
	})
	return ids, err
}

// symbols returns the vocabulary entries for one byte-encoded word. With
// ignore_merges a word already in the vocabulary is taken whole.
func (t *HFTokenizer) symbols(word string) []string {
	if t.wholeHit {
		if _, ok := t.vocab.id(word); ok {
			return []string{word}
		}
	}
	return t.merges.split(word)
}

// Decode converts ids back to text. Special tokens are emitted verbatim.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		tok, ok := t.vocab.token(id)
		if !ok {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		if t.special.has(tok) {
			b = append(b, tok...)
			continue
		}
		b = t.bytes.appendDecoded(b, tok)
	}
	return string(b), nil
}

// Specials returns a copy of the special ids.
func (t *HFTokenizer) Specials() Specials {
	sp := t.ids
	sp.EOS = slices.Clone(t.ids.EOS)
	return sp
}

func (t *HFTokenizer) Config() TokenizerConfig { return t.cfg }

// TokenString returns the raw vocabulary entry for id, or "".
func (t *HFTokenizer) TokenString(id int) string {
	tok, _ := t.vocab.token(id)
	return tok
}

func (t *HFTokenizer) VocabSize() int { return t.vocab.size() }
