package tokenizer

import (
	"regexp"
	"strings"
)

const (
	gpt2Split = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	// RE2 approximation of the Llama 3 and Qwen split, whose original uses
	// lookahead.
	llama3Split = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
)

// pretokenizer returns the word-splitting pattern declared by a Sequence
// pre-tokenizer's Split step, or the GPT-2 pattern.
func pretokenizer(pre hfPreTokenizer) *regexp.Regexp {
	pat := gpt2Split
	if pre.Type == "Sequence" {
		for _, step := range pre.Pretokenizers {
			if step.Type == "Split" && step.Pattern.Regex != "" {
				pat = step.Pattern.Regex
				break
			}
		}
	}
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = llama3Split
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(llama3Split)
	}
	return re
}
