package tokenizer

import "strings"

type mergeKey struct {
	left, right string
}

// bpe applies ranked merges to one pre-tokenized, byte-encoded word. It
// caches results and is not safe for concurrent use.
type bpe struct {
	ranks map[mergeKey]int
	cache map[string][]string
}

// parseMerges reads tokenizer.json merges, given either as "a b" strings or
// as ["a", "b"] pairs. The first occurrence of a pair fixes its rank.
func parseMerges(raw []any) map[mergeKey]int {
	ranks := make(map[mergeKey]int, len(raw))
	for _, m := range raw {
		var key mergeKey
		switch v := m.(type) {
		case string:
			line := strings.TrimSpace(v)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			left, right, ok := strings.Cut(line, " ")
			if !ok || strings.Contains(right, " ") {
				continue
			}
			key = mergeKey{left, right}
		case []any:
			if len(v) != 2 {
				continue
			}
			left, lok := v[0].(string)
			right, rok := v[1].(string)
			if !lok || !rok {
				continue
			}
			key = mergeKey{left, right}
		default:
			continue
		}
		if _, seen := ranks[key]; !seen {
			ranks[key] = len(ranks)
		}
	}
	return ranks
}

func newBPE(ranks map[mergeKey]int) *bpe {
	return &bpe{ranks: ranks, cache: make(map[string][]string)}
}

// split returns the symbols of word after merging: repeatedly, the adjacent
// pair with the lowest rank is joined everywhere it occurs.
func (m *bpe) split(word string) []string {
	if out, ok := m.cache[word]; ok {
		return out
	}
	parts := make([]string, 0, len(word))
	for _, r := range word {
		parts = append(parts, string(r))
	}
	for len(parts) > 1 {
		best, at := -1, -1
		for i := 0; i+1 < len(parts); i++ {
			if r, ok := m.ranks[mergeKey{parts[i], parts[i+1]}]; ok && (at < 0 || r < best) {
				best, at = r, i
			}
		}
		if at < 0 {
			break
		}
		pair := mergeKey{parts[at], parts[at+1]}
		merged := parts[:0]
		for i := 0; i < len(parts); i++ {
			if i+1 < len(parts) && parts[i] == pair.left && parts[i+1] == pair.right {
				merged = append(merged, pair.left+pair.right)
				i++
				continue
			}
			merged = append(merged, parts[i])
		}
		parts = merged
	}
	m.cache[word] = parts
	return parts
}
