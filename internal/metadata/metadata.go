// Package metadata resolves the immutable per-model parameters consulted by
// the inference core.
package metadata

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Defaults used when no other source provides a value.
const (
	DefaultContextLength = 512
	DefaultBatchSize     = 64
	DefaultNumChunks     = 4
	DefaultSplitLMHead   = 8
)

// Metadata is produced once before a session starts and never mutated.
type Metadata struct {
	ContextLength int `json:"context_length" yaml:"context_length"`
	StateLength   int `json:"state_length" yaml:"state_length"`
	BatchSize     int `json:"batch_size" yaml:"batch_size"`
	LUTBits       int `json:"lut_bits" yaml:"lut_bits"`
	NumChunks     int `json:"num_chunks" yaml:"num_chunks"`
	SplitLMHead   int `json:"split_lm_head" yaml:"split_lm_head"`
}

func (m Metadata) String() string {
	return fmt.Sprintf("ctx=%d state=%d batch=%d lut=%d chunks=%d lm_splits=%d",
		m.ContextLength, m.StateLength, m.BatchSize, m.LUTBits, m.NumChunks, m.SplitLMHead)
}

// Validate rejects values the core cannot run with.
func (m Metadata) Validate() error {
	switch {
	case m.ContextLength < 2:
		return fmt.Errorf("context_length must be at least 2, got %d", m.ContextLength)
	case m.StateLength < m.ContextLength:
		return fmt.Errorf("state_length %d is smaller than context_length %d", m.StateLength, m.ContextLength)
	case m.BatchSize < 1:
		return fmt.Errorf("batch_size must be positive, got %d", m.BatchSize)
	case m.NumChunks < 1:
		return fmt.Errorf("num_chunks must be positive, got %d", m.NumChunks)
	case m.SplitLMHead < 1:
		return fmt.Errorf("split_lm_head must be positive, got %d", m.SplitLMHead)
	}
	return nil
}

// Overrides holds explicitly provided values; zero means unset.
type Overrides = Metadata

// Sources lists every place a value may come from, highest priority first.
type Sources struct {
	// Flags are explicit command-line values.
	Flags Overrides
	// Config holds values from a meta.yaml model config.
	Config Overrides
	// Embedded is key/value metadata stored with the model.
	Embedded map[string]string
	// Name is the model directory (or file) name used by the heuristic.
	Name string
}

// Resolve applies flag > config > embedded > name heuristic > default for
// each field.
func Resolve(src Sources) Metadata {
	emb := parseEmbedded(src.Embedded)
	guess := Guess(src.Name)

	var m Metadata
	m.ContextLength = first(src.Flags.ContextLength, src.Config.ContextLength, emb.ContextLength, guess.ContextLength, DefaultContextLength)
	m.BatchSize = first(src.Flags.BatchSize, src.Config.BatchSize, emb.BatchSize, guess.BatchSize, DefaultBatchSize)
	m.NumChunks = first(src.Flags.NumChunks, src.Config.NumChunks, emb.NumChunks, guess.NumChunks, DefaultNumChunks)
	m.LUTBits = first(src.Flags.LUTBits, src.Config.LUTBits, emb.LUTBits, guess.LUTBits)
	m.SplitLMHead = first(src.Flags.SplitLMHead, src.Config.SplitLMHead, emb.SplitLMHead, DefaultSplitLMHead)
	m.StateLength = first(src.Flags.StateLength, src.Config.StateLength, emb.StateLength, m.ContextLength)
	return m
}

func first(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Embedded keys are accepted bare or with a namespace prefix such as
// "anemll.context_length".
func parseEmbedded(kv map[string]string) Metadata {
	var m Metadata
	for key, raw := range kv {
		name := key
		if i := strings.LastIndexByte(key, '.'); i >= 0 {
			name = key[i+1:]
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			continue
		}
		switch strings.ToLower(name) {
		case "context_length":
			m.ContextLength = v
		case "state_length":
			m.StateLength = v
		case "batch_size":
			m.BatchSize = v
		case "lut_bits", "lut":
			m.LUTBits = v
		case "num_chunks":
			m.NumChunks = v
		case "split_lm_head":
			m.SplitLMHead = v
		case "num_logits":
			if m.SplitLMHead == 0 {
				m.SplitLMHead = v
			}
		}
	}
	return m
}

var (
	ctxPattern   = regexp.MustCompile(`(?i)ctx(\d+)`)
	batchPattern = regexp.MustCompile(`(?i)batch(\d+)`)
	lutPattern   = regexp.MustCompile(`(?i)lut(\d+)`)
	chunkPattern = regexp.MustCompile(`(?i)chunk_\d+of(\d+)`)
)

// Guess extracts parameters encoded in artifact names, e.g.
// "llama-ctx1024_lut4" or "llama_FFN_PF_lut6_chunk_01of02".
func Guess(name string) Metadata {
	var m Metadata
	m.ContextLength = match(ctxPattern, name)
	m.BatchSize = match(batchPattern, name)
	m.LUTBits = match(lutPattern, name)
	m.NumChunks = match(chunkPattern, name)
	return m
}

func match(re *regexp.Regexp, s string) int {
	sub := re.FindStringSubmatch(s)
	if len(sub) < 2 {
		return 0
	}
	v, err := strconv.Atoi(sub[1])
	if err != nil {
		return 0
	}
	return v
}
