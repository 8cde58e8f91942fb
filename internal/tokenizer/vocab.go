package tokenizer

// vocab maps between token strings and ids. Added tokens override entries
// of the model vocabulary with the same id.
type vocab struct {
	ids    map[string]int
	tokens []string
}

func newVocab(tj *hfTokenizerJSON) vocab {
	size := 0
	for _, id := range tj.Model.Vocab {
		size = max(size, id+1)
	}
	for _, at := range tj.AddedTokens {
		size = max(size, at.ID+1)
	}
	v := vocab{ids: make(map[string]int, size), tokens: make([]string, size)}
	for tok, id := range tj.Model.Vocab {
		v.set(tok, id)
	}
	for _, at := range tj.AddedTokens {
		v.set(at.Content, at.ID)
	}
	return v
}

func (v vocab) set(tok string, id int) {
	if id < 0 {
		return
	}
	v.ids[tok] = id
	v.tokens[id] = tok
}

func (v vocab) id(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

func (v vocab) token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

func (v vocab) size() int { return len(v.tokens) }
