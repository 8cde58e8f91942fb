package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/shardchat/internal/backend"
	"github.com/samcharles93/shardchat/internal/logger"
	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/tokenizer"
)

// layout is everything known about a model before its shards are loaded.
type layout struct {
	name     string
	paths    metadata.Paths
	meta     metadata.Metadata
	embedded map[string]string
	config   *metadata.Config
	backend  backend.Backend
}

type loadedModel struct {
	layout
	set *shard.Set
	tok *tokenizer.HFTokenizer
}

func (m *loadedModel) Close() error {
	return m.set.Close()
}

func flagOverrides() metadata.Overrides {
	return metadata.Overrides{
		ContextLength: int(contextLength),
		StateLength:   int(stateLength),
		BatchSize:     int(batchSize),
		NumChunks:     int(numChunks),
		SplitLMHead:   int(splitLMHead),
		LUTBits:       int(lutBits),
	}
}

// resolveLayout finds the shard paths and resolves metadata without
// loading any shard.
func resolveLayout(ctx context.Context) (*layout, error) {
	log := logger.FromContext(ctx)
	b, err := backend.New(backendName)
	if err != nil {
		return nil, err
	}
	l := &layout{backend: b}

	switch {
	case metaPath != "":
		cfg, err := metadata.LoadConfig(metaPath)
		if err != nil {
			return nil, fmt.Errorf("read meta config: %w", err)
		}
		l.config = cfg
		l.paths = cfg.Paths()
	case modelDir != "":
		l.paths.Dir = modelDir
		if _, err := os.Stat(filepath.Join(modelDir, metadata.ConfigFile)); err == nil {
			cfg, err := metadata.LoadConfig(modelDir)
			if err != nil {
				return nil, fmt.Errorf("read meta config: %w", err)
			}
			l.config = cfg
			l.paths = cfg.Paths()
		}
	}
	if embedPath != "" {
		l.paths.Embed = metadata.Normalize(embedPath)
	}
	if ffnPath != "" {
		l.paths.FFN = metadata.Normalize(ffnPath)
	}
	if lmHeadPath != "" {
		l.paths.LMHead = metadata.Normalize(lmHeadPath)
	}
	if l.paths.Dir == "" && l.paths.FFN != "" {
		l.paths.Dir = filepath.Dir(l.paths.FFN)
	}

	if b.Name() != backend.Toy {
		if l.paths.Dir == "" && l.paths.Embed == "" {
			return nil, fmt.Errorf("no model given (use --meta, --dir, or --embed/--ffn/--lmhead)")
		}
		if l.paths, err = l.paths.Discover(); err != nil {
			return nil, err
		}
	}

	l.name = modelName(l)
	l.embedded, err = readEmbedded(l, log)
	if err != nil {
		return nil, err
	}
	l.meta = metadata.Resolve(metadata.Sources{
		Flags:    flagOverrides(),
		Config:   l.config.Overrides(),
		Embedded: l.embedded,
		Name:     l.name,
	})
	if err := l.meta.Validate(); err != nil {
		return nil, fmt.Errorf("model metadata: %w", err)
	}
	return l, nil
}

func modelName(l *layout) string {
	if l.config != nil && l.config.ModelInfo.Name != "" {
		return l.config.ModelInfo.Name
	}
	if l.paths.Dir != "" {
		return filepath.Base(filepath.Clean(l.paths.Dir))
	}
	if l.paths.FFN != "" {
		return strings.TrimSuffix(filepath.Base(l.paths.FFN), filepath.Ext(l.paths.FFN))
	}
	return backend.Toy
}

// readEmbedded merges metadata.json with the key/value metadata stored in
// the first chunk shard; the shard wins.
func readEmbedded(l *layout, log logger.Logger) (map[string]string, error) {
	var sidecar map[string]string
	if l.paths.Dir != "" {
		var err error
		if sidecar, err = metadata.ReadSidecar(l.paths.Dir); err != nil {
			return nil, err
		}
	}
	var stored map[string]string
	if l.paths.FFN != "" && l.backend.Name() != backend.Toy {
		kv, err := l.backend.Inspect(l.paths.FFN)
		if err != nil {
			log.Debug("no embedded shard metadata", "path", l.paths.FFN, "error", err)
		}
		stored = kv
	}
	return metadata.Merge(sidecar, stored), nil
}

func loadTokenizer(l *layout) (*tokenizer.HFTokenizer, error) {
	dir := tokenizerDir
	if dir == "" {
		dir = l.paths.Dir
	}
	if dir == "" {
		return nil, &tokenizer.InitError{Path: ".", Hint: "pass --tokenizer or --dir", Err: os.ErrNotExist}
	}
	return tokenizer.LoadDir(dir)
}

// loadModel resolves, then loads the tokenizer and every shard. Errors are
// startup errors and carry remediation hints.
func loadModel(ctx context.Context) (*loadedModel, error) {
	log := logger.FromContext(ctx)
	l, err := resolveLayout(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := loadTokenizer(l)
	if err != nil {
		return nil, err
	}
	log.Info("loading model",
		"name", l.name,
		"backend", l.backend.Name(),
		"metadata", l.meta.String(),
	)
	set, err := l.backend.Load(backend.LoadOptions{
		Paths:       l.paths,
		Meta:        l.meta,
		Vocab:       tok.VocabSize(),
		LibraryPath: ortLib,
		Threads:     int(threads),
	})
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, errors.Join(fmt.Errorf("shard set: %w", err), set.Close())
	}
	return &loadedModel{layout: *l, set: set, tok: tok}, nil
}
