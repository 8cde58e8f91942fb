package backend

import (
	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/shard/toy"
)

// toyBackend runs the deterministic in-process runtime. It ignores shard
// paths and is meant for smoke tests of the CLI and API.
type toyBackend struct{}

func (toyBackend) Name() string { return Toy }

func (toyBackend) Inspect(string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (toyBackend) Load(opts LoadOptions) (*shard.Set, error) {
	vocab := opts.Vocab
	if vocab <= 0 {
		vocab = 32
	}
	splits := opts.Meta.SplitLMHead
	if splits <= 0 || vocab%splits != 0 {
		splits = 1
	}
	ctx := opts.Meta.ContextLength
	if ctx <= 0 {
		ctx = metadata.DefaultContextLength
	}
	rt := toy.New(toy.Config{
		Vocab:         vocab,
		ContextLength: ctx,
		Chunks:        max(opts.Meta.NumChunks, 1),
		Splits:        splits,
	})
	return rt.Set(), nil
}
