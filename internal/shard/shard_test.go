package shard_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/shard/toy"
)

type closingModel struct {
	closed int
	err    error
}

func (m *closingModel) Predict(context.Context, shard.Features, shard.State) (shard.Features, error) {
	return nil, nil
}

func (m *closingModel) Close() error {
	m.closed++
	return m.err
}

func TestChunkStageVariants(t *testing.T) {
	t.Parallel()

	a, b := &closingModel{}, &closingModel{}

	single := shard.NewSingle(a)
	if single.Kind() != shard.Single {
		t.Fatalf("kind = %v", single.Kind())
	}
	if single.Infer() != shard.Model(a) || single.Prefill() != shard.Model(a) {
		t.Fatalf("single stage must use the same model for both entry points")
	}

	split := shard.NewSplit(a, b)
	if split.Kind() != shard.Split {
		t.Fatalf("kind = %v", split.Kind())
	}
	if split.Infer() != shard.Model(a) || split.Prefill() != shard.Model(b) {
		t.Fatalf("split stage returned the wrong entry points")
	}

	var zero shard.ChunkStage
	if zero.Infer() != nil || zero.Prefill() != nil {
		t.Fatalf("zero stage must expose no models")
	}
	if zero.Kind().String() != "invalid" {
		t.Fatalf("zero kind string = %q", zero.Kind().String())
	}
}

func TestSetValidate(t *testing.T) {
	t.Parallel()

	m := &closingModel{}
	cases := []struct {
		name string
		set  *shard.Set
		want string
	}{
		{"nil", nil, "nil"},
		{"no embed", &shard.Set{LMHead: m, Chunks: []shard.ChunkStage{shard.NewSingle(m)}}, "embedding"},
		{"no head", &shard.Set{Embed: m, Chunks: []shard.ChunkStage{shard.NewSingle(m)}}, "projection"},
		{"no chunks", &shard.Set{Embed: m, LMHead: m}, "no chunk"},
		{"half split", &shard.Set{Embed: m, LMHead: m, Chunks: []shard.ChunkStage{shard.NewSplit(m, nil)}}, "missing entry point"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.set.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestSetNewStateFromFirstChunk(t *testing.T) {
	t.Parallel()

	rt := toy.New(toy.Config{Vocab: 8, ContextLength: 16, Chunks: 2})
	st, err := rt.Set().NewState()
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	ts, ok := st.(*toy.State)
	if !ok {
		t.Fatalf("state type %T", st)
	}
	if ts.Slot(0) != -1 || ts.Writes() != 0 {
		t.Fatalf("fresh state should be empty")
	}

	m := &closingModel{}
	set := &shard.Set{Embed: m, LMHead: m, Chunks: []shard.ChunkStage{shard.NewSingle(m)}}
	if _, err := set.NewState(); err == nil {
		t.Fatalf("expected error when no chunk can make a state")
	}
}

func TestSetCloseVisitsEachModelOnce(t *testing.T) {
	t.Parallel()

	shared := &closingModel{}
	failing := &closingModel{err: errors.New("boom")}
	set := &shard.Set{
		Embed:  shared,
		Chunks: []shard.ChunkStage{shard.NewSplit(shared, failing), shard.NewSingle(failing)},
		LMHead: shared,
	}
	err := set.Close()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Close() = %v", err)
	}
	if shared.closed != 1 || failing.closed != 1 {
		t.Fatalf("closed counts shared=%d failing=%d", shared.closed, failing.closed)
	}
}

func TestModelLoadErrorMatches(t *testing.T) {
	t.Parallel()

	cause := errors.New("no such file")
	err := error(&shard.ModelLoadError{Stage: "embed", Path: "/tmp/x.onnx", Hint: "check --dir", Err: cause})
	if !errors.Is(err, shard.ErrModelLoad) || !errors.Is(err, cause) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if !strings.Contains(err.Error(), "check --dir") {
		t.Fatalf("hint missing from %q", err.Error())
	}
}

func TestTensorHelpers(t *testing.T) {
	t.Parallel()

	ids := shard.IDs([]int{1, 2, 3, 4})
	if shape := ids.Shape(); shape[0] != 1 || shape[1] != 4 {
		t.Fatalf("IDs shape %v", shape)
	}
	pos, err := shard.Int32s(shard.Positions(5, 3))
	if err != nil {
		t.Fatalf("Int32s: %v", err)
	}
	if pos[0] != 5 || pos[2] != 7 {
		t.Fatalf("positions = %v", pos)
	}

	hidden := tensor.New(tensor.WithShape(1, 4, 2), tensor.WithBacking([]float32{1, 1, 2, 2, 3, 3, 4, 4}))
	trimmed, err := shard.TrimSeq(hidden, 2)
	if err != nil {
		t.Fatalf("TrimSeq: %v", err)
	}
	data, _ := shard.Float32s(trimmed)
	if shape := trimmed.Shape(); shape[1] != 2 || len(data) != 4 || data[3] != 2 {
		t.Fatalf("trimmed shape %v data %v", shape, data)
	}
}
