package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the user configuration file (~/.config/shardchat/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelDir  string `yaml:"model_dir"`
	Tokenizer string `yaml:"tokenizer"`
	Backend   string `yaml:"backend"`
	ORTLib    string `yaml:"ort_lib"`
	Threads   *int64 `yaml:"threads"`

	Temperature *float64 `yaml:"temperature"`
	Seed        *int64   `yaml:"seed"`
	MaxTokens   *int64   `yaml:"max_tokens"`
	System      string   `yaml:"system"`
	Delimiter   string   `yaml:"think_delimiter"`
	NoWarmup    *bool    `yaml:"no_warmup"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shardchat", "config.yaml")
}

// LoadConfig reads path. A missing file yields a zero Config; a malformed
// one is an error so typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyCommonConfig applies config defaults to flags that were not set
// explicitly.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ModelDir != "" && !c.IsSet("dir") && !c.IsSet("meta") {
		modelDir = cfg.ModelDir
	}
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		tokenizerDir = cfg.Tokenizer
	}
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.ORTLib != "" && !c.IsSet("ort-lib") {
		ortLib = cfg.ORTLib
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		threads = *cfg.Threads
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyChatConfig applies config defaults to the generation flags.
func applyChatConfig(c *cli.Command, cfg Config, opts *chatOptions) {
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		opts.temperature = *cfg.Temperature
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		opts.seed = *cfg.Seed
	}
	if cfg.MaxTokens != nil && !c.IsSet("max-tokens") {
		opts.maxTokens = *cfg.MaxTokens
	}
	if cfg.System != "" && !c.IsSet("system") {
		opts.system = cfg.System
	}
	if cfg.Delimiter != "" && !c.IsSet("think-delimiter") {
		opts.delimiter = cfg.Delimiter
	}
	if cfg.NoWarmup != nil && !c.IsSet("no-warmup") {
		opts.noWarmup = *cfg.NoWarmup
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
}
