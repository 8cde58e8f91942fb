package tokenizer

import (
	"cmp"
	"maps"
	"slices"
	"strings"
)

// specialMatcher finds special tokens in text so they are encoded whole
// instead of going through BPE. Longer tokens win at the same position.
type specialMatcher struct {
	tokens []string
	set    map[string]bool
	first  [256]bool
}

// newSpecialMatcher collects the <|...|> tokens of v plus the added tokens
// marked special.
func newSpecialMatcher(v vocab, added []string) specialMatcher {
	m := specialMatcher{set: make(map[string]bool)}
	for _, tok := range v.tokens {
		if isControlToken(tok) {
			m.set[tok] = true
		}
	}
	for _, tok := range added {
		if tok != "" {
			m.set[tok] = true
		}
	}
	m.tokens = slices.SortedFunc(maps.Keys(m.set), func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for _, tok := range m.tokens {
		m.first[tok[0]] = true
	}
	return m
}

func isControlToken(s string) bool {
	return len(s) >= 4 && strings.HasPrefix(s, "<|") && strings.HasSuffix(s, "|>")
}

func (m specialMatcher) has(tok string) bool { return m.set[tok] }

func (m specialMatcher) match(s string) string {
	if !m.first[s[0]] {
		return ""
	}
	for _, tok := range m.tokens {
		if strings.HasPrefix(s, tok) {
			return tok
		}
	}
	return ""
}

// each calls fn, in order, for every run of plain text and every special
// token in text. It stops at the first error.
func (m specialMatcher) each(text string, fn func(s string, special bool) error) error {
	start := 0
	for i := 0; i < len(text); {
		tok := m.match(text[i:])
		if tok == "" {
			i++
			continue
		}
		if start < i {
			if err := fn(text[start:i], false); err != nil {
				return err
			}
		}
		if err := fn(tok, true); err != nil {
			return err
		}
		i += len(tok)
		start = i
	}
	if start < len(text) {
		return fn(text[start:], false)
	}
	return nil
}
