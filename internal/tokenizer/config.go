package tokenizer

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// TokenizerConfig is the subset of tokenizer.json and tokenizer_config.json
// the runtime needs besides the vocabulary.
type TokenizerConfig struct {
	AddBOS       bool
	AddEOS       bool
	BOSTokenID   int
	EOSTokenID   int
	PADTokenID   int
	UNKTokenID   int
	ChatTemplate string
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Type       string `json:"type"`
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfPreTokenizer struct {
	Type          string `json:"type"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}

// tokenRef accepts both "<s>" and {"content": "<s>"} forms.
type tokenRef string

func (t *tokenRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = tokenRef(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*t = tokenRef(obj.Content)
	return nil
}

type hfTokenizerConfig struct {
	AddBOS       bool     `json:"add_bos_token"`
	AddEOS       bool     `json:"add_eos_token"`
	BOS          tokenRef `json:"bos_token"`
	EOS          tokenRef `json:"eos_token"`
	PAD          tokenRef `json:"pad_token"`
	UNK          tokenRef `json:"unk_token"`
	ChatTemplate any      `json:"chat_template"`
}

// ParseHFTokenizerConfigBytes extracts special ids and the chat template.
// tokConfig may be nil.
func ParseHFTokenizerConfigBytes(tokJSON, tokConfig []byte) (TokenizerConfig, error) {
	_, cfg, err := parseHF(tokJSON, tokConfig)
	return cfg, err
}

func parseHF(tokJSON, tokConfig []byte) (*hfTokenizerJSON, TokenizerConfig, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, TokenizerConfig{}, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, TokenizerConfig{}, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}
	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, TokenizerConfig{}, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}
	return &tj, buildConfig(&tj, &cfg), nil
}

func buildConfig(tj *hfTokenizerJSON, cfg *hfTokenizerConfig) TokenizerConfig {
	lookup := func(tok string) int {
		if tok == "" {
			return -1
		}
		if id, ok := tj.Model.Vocab[tok]; ok {
			return id
		}
		for _, at := range tj.AddedTokens {
			if at.Content == tok {
				return at.ID
			}
		}
		return -1
	}

	out := TokenizerConfig{
		AddBOS:       cfg.AddBOS,
		AddEOS:       cfg.AddEOS,
		BOSTokenID:   lookup(string(cfg.BOS)),
		EOSTokenID:   lookup(string(cfg.EOS)),
		PADTokenID:   lookup(string(cfg.PAD)),
		UNKTokenID:   lookup(tj.Model.UnkToken),
		ChatTemplate: chatTemplateString(cfg.ChatTemplate),
	}
	if out.UNKTokenID < 0 {
		out.UNKTokenID = lookup(string(cfg.UNK))
	}
	// If TemplateProcessing defines a BOS token, use it.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, spec := range proc.SpecialTokens {
			if len(spec.IDs) > 0 {
				out.BOSTokenID = spec.IDs[0]
				out.AddBOS = true
				break
			}
		}
	}
	return out
}

// chat_template is either a string or a list of {name, template} entries.
func chatTemplateString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if name, _ := m["name"].(string); name == "default" || len(t) == 1 {
				s, _ := m["template"].(string)
				return s
			}
		}
	}
	return ""
}

// generation_config.json may list eos_token_id as a scalar or an array.
func parseGenerationEOS(data []byte) ([]int, error) {
	var gc struct {
		EOS any `json:"eos_token_id"`
	}
	if err := json.Unmarshal(data, &gc); err != nil {
		return nil, fmt.Errorf("parse generation_config.json: %w", err)
	}
	switch v := gc.EOS.(type) {
	case float64:
		return []int{int(v)}, nil
	case []any:
		out := make([]int, 0, len(v))
		for _, x := range v {
			if f, ok := x.(float64); ok {
				out = append(out, int(f))
			}
		}
		return out, nil
	}
	return nil, nil
}
