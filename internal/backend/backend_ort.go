//go:build ort

package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/shard/ort"
)

const ortEnabled = true

type ortBackend struct{}

func newORT() (Backend, error) {
	return ortBackend{}, nil
}

func (ortBackend) Name() string { return ORT }

func (ortBackend) Inspect(path string) (map[string]string, error) {
	return ort.Metadata(path)
}

func (ortBackend) Load(opts LoadOptions) (set *shard.Set, err error) {
	if err := ort.Init(opts.LibraryPath); err != nil {
		return nil, &shard.ModelLoadError{
			Stage: "runtime",
			Path:  opts.LibraryPath,
			Hint:  "install ONNX Runtime or pass --ort-lib with the path to libonnxruntime",
			Err:   err,
		}
	}
	so := ort.Options{IntraOpThreads: opts.Threads, InterOpThreads: 1}

	set = &shard.Set{}
	defer func() {
		if err != nil {
			err = errors.Join(err, set.Close())
			set = nil
		}
	}()

	load := func(stage, path string) (*ort.Model, error) {
		if path == "" {
			return nil, &shard.ModelLoadError{Stage: stage, Err: errors.New("no path"), Hint: "set it in meta.yaml or with the matching flag"}
		}
		if _, err := os.Stat(path); err != nil {
			hint := ""
			if errors.Is(err, fs.ErrNotExist) {
				hint = "check the model directory and --meta; shards must be exported to .onnx"
			}
			return nil, &shard.ModelLoadError{Stage: stage, Path: path, Hint: hint, Err: err}
		}
		m, err := ort.Load(path, so)
		if err != nil {
			return nil, &shard.ModelLoadError{Stage: stage, Path: path, Hint: "the file may target a different runtime or opset", Err: err}
		}
		return m, nil
	}

	embed, err := load("embeddings", opts.Paths.Embed)
	if err != nil {
		return set, err
	}
	set.Embed = embed

	chunks, err := opts.Paths.ChunkPaths(opts.Meta.NumChunks)
	if err != nil {
		return set, &shard.ModelLoadError{Stage: "ffn", Path: opts.Paths.FFN, Err: err}
	}
	var models []*ort.Model
	for i, c := range chunks {
		stage := fmt.Sprintf("ffn chunk %d", i+1)
		infer, err := load(stage, c.Infer)
		if err != nil {
			return set, err
		}
		models = append(models, infer)
		if c.Prefill == "" {
			set.Chunks = append(set.Chunks, shard.NewSingle(infer))
			continue
		}
		prefill, err := load(stage+" prefill", c.Prefill)
		if err != nil {
			set.Chunks = append(set.Chunks, shard.NewSingle(infer))
			return set, err
		}
		models = append(models, prefill)
		set.Chunks = append(set.Chunks, shard.NewSplit(infer, prefill))
	}
	ort.LinkState(models[0], models[1:]...)

	head, err := load("lm_head", opts.Paths.LMHead)
	if err != nil {
		return set, err
	}
	set.LMHead = head
	return set, nil
}
