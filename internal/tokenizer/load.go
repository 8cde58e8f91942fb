package tokenizer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// File names looked up by LoadDir.
const (
	TokenizerFile        = "tokenizer.json"
	TokenizerConfigFile  = "tokenizer_config.json"
	GenerationConfigFile = "generation_config.json"
)

// LoadDir loads the tokenizer shipped in a model directory. Failures are
// reported as *InitError.
func LoadDir(dir string) (*HFTokenizer, error) {
	tokPath := filepath.Join(dir, TokenizerFile)
	tokJSON, err := os.ReadFile(tokPath)
	if err != nil {
		hint := "check file permissions"
		if errors.Is(err, fs.ErrNotExist) {
			hint = "copy tokenizer.json from the original Hugging Face model into the model directory or pass --tokenizer"
		}
		return nil, &InitError{Path: tokPath, Hint: hint, Err: err}
	}

	cfgPath := filepath.Join(dir, TokenizerConfigFile)
	tokCfg, err := os.ReadFile(cfgPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &InitError{Path: cfgPath, Err: err}
	}

	tok, err := LoadHFTokenizerBytes(tokJSON, tokCfg)
	if err != nil {
		return nil, &InitError{
			Path: tokPath,
			Hint: "only byte-level BPE tokenizer.json files are supported",
			Err:  err,
		}
	}

	genPath := filepath.Join(dir, GenerationConfigFile)
	if data, err := os.ReadFile(genPath); err == nil {
		ids, err := parseGenerationEOS(data)
		if err != nil {
			return nil, &InitError{Path: genPath, Err: err}
		}
		tok.AddEOSIDs(ids...)
	}
	if len(tok.Specials().EOS) == 0 {
		return nil, &InitError{
			Path: dir,
			Hint: "set eos_token in tokenizer_config.json or eos_token_id in generation_config.json",
			Err:  errors.New("no end-of-sequence token"),
		}
	}
	return tok, nil
}
