package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the conventional name of a model's meta config.
const ConfigFile = "meta.yaml"

// Config is a model meta config in the ANEMLL layout:
//
//	model_info:
//	  name: llama-3.2-1b
//	  parameters:
//	    context_length: 512
//	    batch_size: 64
//	    num_chunks: 2
//	    embeddings: llama_embeddings.onnx
//	    ffn: llama_FFN_PF_lut6_chunk_01of02.onnx
//	    lm_head: llama_lm_head_lut6.onnx
type Config struct {
	ModelInfo struct {
		Name       string     `yaml:"name"`
		Version    string     `yaml:"version"`
		Parameters Parameters `yaml:"parameters"`
	} `yaml:"model_info"`

	// Dir is the directory the config was read from. Shard paths are
	// resolved relative to it.
	Dir string `yaml:"-"`
}

// Parameters is the model_info.parameters block.
type Parameters struct {
	ModelPrefix   string `yaml:"model_prefix"`
	ContextLength int    `yaml:"context_length"`
	StateLength   int    `yaml:"state_length"`
	BatchSize     int    `yaml:"batch_size"`
	NumChunks     int    `yaml:"num_chunks"`
	LUTFFN        int    `yaml:"lut_ffn"`
	LUTLMHead     int    `yaml:"lut_lmhead"`
	LUTEmbeddings int    `yaml:"lut_embeddings"`
	SplitLMHead   int    `yaml:"split_lm_head"`
	NumLogits     int    `yaml:"num_logits"`

	Embeddings string `yaml:"embeddings"`
	FFN        string `yaml:"ffn"`
	LMHead     string `yaml:"lm_head"`
}

// LoadConfig reads a meta config. path may name the file or the model
// directory containing meta.yaml.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		path = filepath.Join(path, ConfigFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return &cfg, nil
}

// Overrides converts the config into metadata values. split_lm_head wins
// over the legacy num_logits key.
func (c *Config) Overrides() Overrides {
	if c == nil {
		return Overrides{}
	}
	p := c.ModelInfo.Parameters
	o := Overrides{
		ContextLength: p.ContextLength,
		StateLength:   p.StateLength,
		BatchSize:     p.BatchSize,
		NumChunks:     p.NumChunks,
		LUTBits:       p.LUTFFN,
		SplitLMHead:   p.SplitLMHead,
	}
	if o.SplitLMHead == 0 {
		o.SplitLMHead = p.NumLogits
	}
	return o
}

// Paths returns the shard paths named by the config, resolved against Dir
// and normalized to ModelExt.
func (c *Config) Paths() Paths {
	if c == nil {
		return Paths{}
	}
	p := c.ModelInfo.Parameters
	return Paths{
		Dir:    c.Dir,
		Embed:  Normalize(c.resolve(p.Embeddings)),
		FFN:    Normalize(c.resolve(p.FFN)),
		LMHead: Normalize(c.resolve(p.LMHead)),
	}
}

func (c *Config) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}
