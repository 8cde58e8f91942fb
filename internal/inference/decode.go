package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/logits"
	"github.com/samcharles93/shardchat/internal/mask"
	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/shard"
)

// WarmupTokenLimit caps a warm-up run.
const WarmupTokenLimit = 10

// StopReason says why a decode run ended.
type StopReason uint8

const (
	StopContext StopReason = iota
	StopWarmup
	StopMaxTokens
	StopEOS
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopWarmup:
		return "warmup"
	case StopMaxTokens:
		return "max_tokens"
	case StopEOS:
		return "eos"
	case StopCanceled:
		return "canceled"
	default:
		return "context"
	}
}

// Decoder generates one token per call to the chunk stages' infer entry
// points, reusing the unified State filled by Prefill.
type Decoder struct {
	Set     *shard.Set
	State   shard.State
	Mask    *tensor.Dense
	Meta    metadata.Metadata
	Sampler *logits.Sampler
}

// Next runs one step for the token at pos-1 and samples the token for pos.
func (d *Decoder) Next(ctx context.Context, tokens []int, pos int) (int, error) {
	if pos < 1 || pos > len(tokens) {
		return 0, fmt.Errorf("decode position %d outside token buffer of %d", pos, len(tokens))
	}
	if pos >= d.Meta.ContextLength {
		return 0, fmt.Errorf("decode position %d reaches context length %d", pos, d.Meta.ContextLength)
	}
	cur := pos - 1

	out, err := safePredict(ctx, "embeddings", d.Set.Embed, shard.Features{shard.InputIDs: shard.IDs(tokens[cur : cur+1])}, nil)
	if err != nil {
		return 0, err
	}
	hidden, err := out.Require(shard.HiddenStates)
	if err != nil {
		return 0, fmt.Errorf("embeddings: %w", err)
	}

	update := mask.Update(d.Meta.ContextLength, cur)
	row := mask.Rows(d.Mask, cur, 1)
	positions := shard.Positions(cur, 1)
	current := shard.Scalar(cur)
	for i, chunk := range d.Set.Chunks {
		in := shard.Features{
			shard.HiddenStates: hidden,
			shard.UpdateMask:   update,
			shard.PositionIDs:  positions,
			shard.CausalMask:   row,
			shard.CurrentPos:   current,
		}
		out, err := safePredict(ctx, chunkName(i, "infer"), chunk.Infer(), in, d.State)
		if err != nil {
			return 0, err
		}
		if hidden, err = out.Require(shard.OutputHiddenStates); err != nil {
			return 0, fmt.Errorf("%s: %w", chunkName(i, "infer"), err)
		}
	}

	out, err = safePredict(ctx, "lm_head", d.Set.LMHead, shard.Features{shard.HiddenStates: hidden}, nil)
	if err != nil {
		return 0, err
	}
	row32, err := lastRow(out)
	if err != nil {
		return 0, fmt.Errorf("lm_head: %w", err)
	}
	return d.Sampler.Sample(row32), nil
}

// lastRow returns the vocabulary logits of the last position, joining
// logits1..N along the vocabulary axis when the head is split.
func lastRow(out shard.Features) ([]float32, error) {
	var splits []int
	for name := range out {
		if !strings.HasPrefix(name, shard.Logits) || name == shard.Logits {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(name, shard.Logits)); err == nil && n > 0 {
			splits = append(splits, n)
		}
	}

	var t *tensor.Dense
	if len(splits) == 0 {
		var err error
		if t, err = out.Require(shard.Logits); err != nil {
			return nil, err
		}
	} else {
		sort.Ints(splits)
		parts := make([]*tensor.Dense, len(splits))
		for i, n := range splits {
			if n != i+1 {
				return nil, fmt.Errorf("missing tensor %q", shard.LogitsSplit(i+1))
			}
			parts[i] = out[shard.LogitsSplit(n)]
		}
		t = parts[0]
		if len(parts) > 1 {
			axis := len(t.Shape()) - 1
			joined, err := parts[0].Concat(axis, parts[1:]...)
			if err != nil {
				return nil, fmt.Errorf("concat logits: %w", err)
			}
			t = joined
		}
	}

	data, err := shard.Float32s(t)
	if err != nil {
		return nil, err
	}
	shape := t.Shape()
	vocab := shape[len(shape)-1]
	if vocab == 0 || len(data) < vocab {
		return nil, errors.New("empty logits")
	}
	return data[len(data)-vocab:], nil
}

// RunOptions controls a decode run.
type RunOptions struct {
	// MaxTokens caps generated tokens; 0 means no cap.
	MaxTokens int
	// Warmup stops after WarmupTokenLimit tokens and suppresses OnToken.
	Warmup bool
	Stop   StopSet
	// OnToken receives every sampled token outside warm-up, including the
	// terminating end-of-sequence token.
	OnToken func(id int)
}

// RunResult is the outcome of a decode run.
type RunResult struct {
	Tokens    []int
	Pos       int
	Generated int
	Last      int
	Reason    StopReason
}

// Run decodes from pos until a termination condition holds. Conditions are
// checked after every step in this order: warm-up cap, max-token cap,
// end-of-sequence, then pos reaching ContextLength-1. Cancellation of ctx
// is observed between steps only; an in-flight runtime call always
// completes.
func (d *Decoder) Run(ctx context.Context, tokens []int, pos int, opts RunOptions) (RunResult, error) {
	buf := make([]int, max(len(tokens), d.Meta.ContextLength))
	copy(buf, tokens)
	res := RunResult{Pos: pos, Last: -1, Reason: StopContext}

	for res.Pos < d.Meta.ContextLength-1 {
		if err := ctx.Err(); err != nil {
			res.Reason = StopCanceled
			res.Tokens = buf[:res.Pos]
			return res, err
		}
		next, err := d.Next(ctx, buf, res.Pos)
		if err != nil {
			res.Tokens = buf[:res.Pos]
			return res, err
		}
		buf = writeToken(buf, res.Pos, next)
		res.Pos++
		res.Generated++
		res.Last = next
		if !opts.Warmup && opts.OnToken != nil {
			opts.OnToken(next)
		}

		if opts.Warmup && res.Generated >= WarmupTokenLimit {
			res.Reason = StopWarmup
			break
		}
		if opts.MaxTokens > 0 && res.Generated >= opts.MaxTokens {
			res.Reason = StopMaxTokens
			break
		}
		if opts.Stop.Contains(next) {
			res.Reason = StopEOS
			break
		}
	}
	res.Tokens = buf[:res.Pos]
	return res, nil
}

// writeToken overwrites buf[pos] inside the pre-allocated buffer and
// appends past its end.
func writeToken(buf []int, pos, tok int) []int {
	if pos < len(buf) {
		buf[pos] = tok
		return buf
	}
	return append(buf, tok)
}
