package inference

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/logits"
	"github.com/samcharles93/shardchat/internal/mask"
	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/shard/toy"
)

type harness struct {
	rt    *toy.Runtime
	set   *shard.Set
	state shard.State
	meta  metadata.Metadata
	dec   *Decoder
}

func newHarness(t *testing.T, cfg toy.Config, batch int, temperature float32) *harness {
	t.Helper()
	rt := toy.New(cfg)
	set := rt.Set()
	state, err := set.NewState()
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	meta := metadata.Metadata{
		ContextLength: cfg.ContextLength,
		StateLength:   cfg.ContextLength,
		BatchSize:     batch,
		NumChunks:     len(set.Chunks),
		SplitLMHead:   max(cfg.Splits, 1),
	}
	causal := mask.Causal(meta.ContextLength, 0)
	return &harness{
		rt:    rt,
		set:   set,
		state: state,
		meta:  meta,
		dec: &Decoder{
			Set:     set,
			State:   state,
			Mask:    causal,
			Meta:    meta,
			Sampler: logits.NewSampler(logits.SamplerConfig{Seed: 1, Temperature: temperature}),
		},
	}
}

func (h *harness) prefill(t *testing.T, tokens []int) int {
	t.Helper()
	pos, err := Prefill(context.Background(), h.set, h.state, h.dec.Mask, tokens, h.meta.BatchSize)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	return pos
}

func promptTokens(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i%30 + 1
	}
	return out
}

func TestPrefillBatchesAndPadding(t *testing.T) {
	t.Parallel()

	const batch = 64
	for _, p := range []int{1, 63, 64, 65, 130, 200} {
		h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 256, Chunks: 3}, batch, 0)
		tokens := promptTokens(p)
		pos := h.prefill(t, tokens)
		if pos != p {
			t.Fatalf("P=%d: Prefill returned %d", p, pos)
		}

		calls := (p + batch - 1) / batch
		for chunk := 0; chunk < 3; chunk++ {
			got := h.rt.CallsFor(toy.StagePrefill, chunk)
			if len(got) != calls {
				t.Fatalf("P=%d chunk %d: %d prefill calls, want %d", p, chunk, len(got), calls)
			}
			for i, c := range got {
				if c.Width != batch || len(c.Positions) != batch || c.MaskRows != batch {
					t.Fatalf("P=%d call %d: width=%d positions=%d rows=%d", p, i, c.Width, len(c.Positions), c.MaskRows)
				}
				if c.CurrentPos != i*batch || c.Positions[0] != i*batch {
					t.Fatalf("P=%d call %d: current_pos=%d first position=%d", p, i, c.CurrentPos, c.Positions[0])
				}
			}
		}

		embeds := h.rt.CallsFor(toy.StageEmbed, 0)
		last := embeds[len(embeds)-1]
		pad := 0
		if p%batch != 0 {
			pad = batch - p%batch
		}
		for i, id := range last.IDs {
			isPad := i >= batch-pad
			if isPad && id != PadToken {
				t.Fatalf("P=%d: id %d at padded index %d", p, id, i)
			}
			if !isPad && id == PadToken {
				t.Fatalf("P=%d: pad at real index %d", p, i)
			}
		}

		st := h.state.(*toy.State)
		for i, tok := range tokens {
			if st.Slot(i) != tok {
				t.Fatalf("P=%d: slot %d holds %d, want %d", p, i, st.Slot(i), tok)
			}
		}
	}
}

func TestPrefillSingleChunkIsNotPadded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 128, Chunks: 1, Single: true}, 64, 0)
	h.prefill(t, promptTokens(70))

	got := h.rt.CallsFor(toy.StagePrefill, 0)
	if len(got) != 2 {
		t.Fatalf("%d prefill calls, want 2", len(got))
	}
	if got[0].Width != 64 || got[1].Width != 6 {
		t.Fatalf("widths = %d, %d", got[0].Width, got[1].Width)
	}
	if len(got[1].Positions) != 6 || got[1].MaskRows != 6 || got[1].Positions[0] != 64 {
		t.Fatalf("second call = %+v", got[1])
	}
	if slot := h.state.(*toy.State).Slot(70); slot != -1 {
		t.Fatalf("slot past the prompt written with %d", slot)
	}
}

func TestPrefillEdgeCases(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 16, Chunks: 2}, 4, 0)

	if pos := h.prefill(t, nil); pos != 0 || len(h.rt.Calls()) != 0 {
		t.Fatalf("empty prompt: pos=%d calls=%d", pos, len(h.rt.Calls()))
	}
	if _, err := Prefill(context.Background(), h.set, h.state, h.dec.Mask, promptTokens(17), 4); err == nil {
		t.Fatal("expected error for a prompt longer than the context")
	}
	if _, err := Prefill(context.Background(), h.set, h.state, h.dec.Mask, promptTokens(3), 0); err == nil {
		t.Fatal("expected error for batch size 0")
	}
}

func TestRunStopsAtContextEnd(t *testing.T) {
	t.Parallel()
	const ctxLen = 16
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: ctxLen, Chunks: 2}, 4, 0)
	tokens := promptTokens(5)
	pos := h.prefill(t, tokens)

	var streamed []int
	res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{
		Stop:    StopSet{31},
		OnToken: func(id int) { streamed = append(streamed, id) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != StopContext || res.Pos != ctxLen-1 {
		t.Fatalf("reason=%v pos=%d", res.Reason, res.Pos)
	}
	if res.Generated != ctxLen-1-pos || res.Generated > ctxLen-pos {
		t.Fatalf("generated %d tokens from pos %d", res.Generated, pos)
	}
	if len(res.Tokens) != res.Pos || !slices.Equal(res.Tokens[:pos], tokens) {
		t.Fatalf("tokens = %v", res.Tokens)
	}
	if !slices.Equal(streamed, res.Tokens[pos:]) {
		t.Fatalf("streamed %v, buffer tail %v", streamed, res.Tokens[pos:])
	}
	// Every decode step writes its input token into the cache.
	if got := h.rt.CallsFor(toy.StageInfer, 1); len(got) != res.Generated {
		t.Fatalf("%d infer calls on last chunk, want %d", len(got), res.Generated)
	}
}

func TestRunStopsOnEOS(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 64, Chunks: 2}, 8, 0)
	tokens := []int{3}
	pos := h.prefill(t, tokens)

	// 3 -> 4 -> 5 -> 6: the third sampled token is the first EOS.
	res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{Stop: StopSet{6, 9}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != StopEOS || res.Last != 6 || res.Generated != 3 {
		t.Fatalf("result = %+v", res)
	}
	if want := []int{3, 4, 5, 6}; !slices.Equal(res.Tokens, want) {
		t.Fatalf("tokens = %v, want %v", res.Tokens, want)
	}
}

func TestRunTerminationOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		opts   RunOptions
		reason StopReason
		count  int
	}{
		{name: "max tokens", opts: RunOptions{MaxTokens: 4}, reason: StopMaxTokens, count: 4},
		{name: "warm-up cap", opts: RunOptions{Warmup: true, MaxTokens: 20}, reason: StopWarmup, count: WarmupTokenLimit},
		{name: "max before warm-up cap", opts: RunOptions{Warmup: true, MaxTokens: 3}, reason: StopMaxTokens, count: 3},
		{name: "max wins over eos on the same step", opts: RunOptions{MaxTokens: 2, Stop: StopSet{3}}, reason: StopMaxTokens, count: 2},
		{name: "eos", opts: RunOptions{MaxTokens: 5, Stop: StopSet{3}}, reason: StopEOS, count: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 64, Chunks: 1}, 8, 0)
			tokens := []int{1}
			pos := h.prefill(t, tokens)
			called := 0
			opts := tc.opts
			opts.OnToken = func(int) { called++ }

			res, err := h.dec.Run(context.Background(), tokens, pos, opts)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Reason != tc.reason || res.Generated != tc.count {
				t.Fatalf("reason=%v generated=%d, want %v/%d", res.Reason, res.Generated, tc.reason, tc.count)
			}
			wantCalled := res.Generated
			if opts.Warmup {
				wantCalled = 0
			}
			if called != wantCalled {
				t.Fatalf("OnToken called %d times, want %d", called, wantCalled)
			}
		})
	}
}

func TestSplitLogitsMatchSingleHead(t *testing.T) {
	t.Parallel()

	run := func(splits int) []int {
		h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 32, Chunks: 2, Splits: splits}, 8, 0)
		tokens := []int{9, 20}
		pos := h.prefill(t, tokens)
		res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{MaxTokens: 15})
		if err != nil {
			t.Fatalf("Run(splits=%d): %v", splits, err)
		}
		return res.Tokens
	}

	single := run(1)
	for _, splits := range []int{2, 4, 8} {
		if got := run(splits); !slices.Equal(got, single) {
			t.Fatalf("splits=%d: %v, want %v", splits, got, single)
		}
	}
	// The head wraps past the end of the vocabulary, so the split order
	// matters.
	if !slices.Contains(single, 31) || !slices.Contains(single, 0) {
		t.Fatalf("sequence %v does not cross the split boundary", single)
	}
}

func TestLastRowRejectsMissingSplit(t *testing.T) {
	t.Parallel()
	part := func() *tensor.Dense {
		return tensor.New(tensor.WithShape(1, 1, 2), tensor.WithBacking([]float32{0, 1}))
	}

	row, err := lastRow(shard.Features{shard.LogitsSplit(1): part(), shard.LogitsSplit(2): part()})
	if err != nil {
		t.Fatalf("lastRow: %v", err)
	}
	if want := []float32{0, 1, 0, 1}; !slices.Equal(row, want) {
		t.Fatalf("row = %v, want %v", row, want)
	}

	if _, err := lastRow(shard.Features{shard.LogitsSplit(1): part(), shard.LogitsSplit(3): part()}); err == nil {
		t.Fatal("expected error for a gap in the splits")
	}
	if _, err := lastRow(shard.Features{"hidden": part()}); err == nil {
		t.Fatal("expected error without logits")
	}

	// Multi-position heads contribute their last row only.
	multi := tensor.New(tensor.WithShape(1, 2, 3), tensor.WithBacking([]float32{9, 9, 9, 1, 2, 3}))
	row, err = lastRow(shard.Features{shard.Logits: multi})
	if err != nil || !slices.Equal(row, []float32{1, 2, 3}) {
		t.Fatalf("row = %v, %v", row, err)
	}
}

// TestWhoAreYouScenario runs a short prompt through a 512/64/4 layout.
func TestWhoAreYouScenario(t *testing.T) {
	t.Parallel()

	prompt := []byte("who are you?")
	tokens := make([]int, len(prompt))
	for i, b := range prompt {
		tokens[i] = int(b)
	}

	for _, eos := range []StopSet{{int('~')}, {}} {
		h := newHarness(t, toy.Config{Vocab: 128, ContextLength: 512, Chunks: 4}, 64, 0)
		pos := h.prefill(t, tokens)
		for chunk := 0; chunk < 4; chunk++ {
			if n := len(h.rt.CallsFor(toy.StagePrefill, chunk)); n != 1 {
				t.Fatalf("chunk %d: %d prefill calls, want 1", chunk, n)
			}
		}

		res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{Stop: eos})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Generated == 0 || res.Pos > 511 {
			t.Fatalf("result = %+v", res)
		}
		switch res.Reason {
		case StopEOS:
			if len(eos) == 0 || !eos.Contains(res.Last) {
				t.Fatalf("eos stop on %d", res.Last)
			}
		case StopContext:
			if res.Pos != 511 {
				t.Fatalf("context stop at %d", res.Pos)
			}
		default:
			t.Fatalf("unexpected reason %v", res.Reason)
		}
	}
}

func TestArgmaxDecodeIsDeterministic(t *testing.T) {
	t.Parallel()
	run := func(temperature float32, seed int64) []int {
		h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 32, Chunks: 2}, 8, temperature)
		h.dec.Sampler = logits.NewSampler(logits.SamplerConfig{Seed: seed, Temperature: temperature})
		tokens := []int{1, 2, 3}
		pos := h.prefill(t, tokens)
		res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{MaxTokens: 10})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Tokens
	}
	a, b := run(0, 1), run(0, 99)
	if !slices.Equal(a, b) {
		t.Fatalf("argmax runs differ: %v vs %v", a, b)
	}
	// The toy head's peak dominates, so a sampled run agrees as well.
	if c := run(0.7, 5); !slices.Equal(a, c) {
		t.Fatalf("sampled run %v diverged from %v", c, a)
	}
}

func TestRunPropagatesRuntimeErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 32, Chunks: 2}, 8, 0)
	tokens := []int{1, 2}
	pos := h.prefill(t, tokens)

	boom := errors.New("boom")
	h.rt.FailOn(toy.StageInfer, boom)
	res, err := h.dec.Run(context.Background(), tokens, pos, RunOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if res.Generated != 0 {
		t.Fatalf("generated %d tokens before failing", res.Generated)
	}

	h.rt.FailOn(toy.StagePrefill, boom)
	if _, err := Prefill(context.Background(), h.set, h.state, h.dec.Mask, tokens, 8); !errors.Is(err, boom) {
		t.Fatalf("prefill err = %v", err)
	}
}

type panicModel struct{}

func (panicModel) Predict(context.Context, shard.Features, shard.State) (shard.Features, error) {
	panic("runtime crashed")
}

func TestPredictPanicBecomesError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 32, Chunks: 1}, 8, 0)
	h.set.LMHead = panicModel{}
	tokens := []int{1}
	pos := h.prefill(t, tokens)

	_, err := h.dec.Next(context.Background(), tokens, pos)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "panic in lm_head: runtime crashed" {
		t.Fatalf("err = %q", got)
	}
}

func TestRunObservesCancellation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 32, Chunks: 1}, 8, 0)
	tokens := []int{1}
	pos := h.prefill(t, tokens)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := h.dec.Run(ctx, tokens, pos, RunOptions{OnToken: func(int) { cancel() }})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if res.Reason != StopCanceled || res.Generated != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestNextRejectsBadPositions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, toy.Config{Vocab: 32, ContextLength: 8, Chunks: 1}, 4, 0)
	if _, err := h.dec.Next(context.Background(), []int{1}, 0); err == nil {
		t.Fatal("expected error for pos 0")
	}
	if _, err := h.dec.Next(context.Background(), make([]int, 9), 8); err == nil {
		t.Fatal("expected error at the context length")
	}
}

func TestWriteToken(t *testing.T) {
	t.Parallel()
	buf := []int{1, 2, 3}
	buf = writeToken(buf, 1, 9)
	buf = writeToken(buf, 3, 7)
	if want := []int{1, 9, 3, 7}; !slices.Equal(buf, want) {
		t.Fatalf("buf = %v, want %v", buf, want)
	}
}

func TestNewStats(t *testing.T) {
	t.Parallel()
	if s := NewStats(10, 2*time.Second); s.TPS != 5 {
		t.Fatalf("TPS = %v", s.TPS)
	}
	if s := NewStats(0, time.Second); s.TPS != 0 {
		t.Fatalf("TPS = %v", s.TPS)
	}
}
