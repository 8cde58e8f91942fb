package inference

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/mask"
	"github.com/samcharles93/shardchat/internal/shard"
)

// PadToken fills the tail of the last prefill batch.
const PadToken = 0

// Prefill runs tokens through every chunk's prefill entry point in batches
// of batchSize and returns the first decode position, len(tokens).
//
// Batches are always batchSize wide: the last one is right-padded with
// PadToken, and position ids and mask rows cover the full width. Padded
// cache slots are never attended to later because decode rows only unblock
// columns up to their own position. Single chunk stages are the exception
// and receive only the real tokens of each batch.
func Prefill(ctx context.Context, set *shard.Set, state shard.State, causal *tensor.Dense, tokens []int, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("invalid batch size %d", batchSize)
	}
	if limit := causal.Shape()[3]; len(tokens) > limit {
		return 0, fmt.Errorf("prompt of %d tokens exceeds context length %d", len(tokens), limit)
	}

	batch := make([]int, batchSize)
	for batchPos := 0; batchPos < len(tokens); batchPos += batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n := copy(batch, tokens[batchPos:min(batchPos+batchSize, len(tokens))])
		for i := n; i < batchSize; i++ {
			batch[i] = PadToken
		}

		out, err := safePredict(ctx, "embeddings", set.Embed, shard.Features{shard.InputIDs: shard.IDs(batch)}, nil)
		if err != nil {
			return 0, err
		}
		hidden, err := out.Require(shard.HiddenStates)
		if err != nil {
			return 0, fmt.Errorf("embeddings: %w", err)
		}

		full := shard.Features{
			shard.PositionIDs: shard.Positions(batchPos, batchSize),
			shard.CausalMask:  mask.Rows(causal, batchPos, batchSize),
			shard.CurrentPos:  shard.Scalar(batchPos),
		}
		var trimmed shard.Features
		for i, chunk := range set.Chunks {
			in := shard.Features{}
			switch chunk.Kind() {
			case shard.Split:
				for k, v := range full {
					in[k] = v
				}
				in[shard.HiddenStates] = hidden
			case shard.Single:
				if trimmed == nil {
					trimmed = shard.Features{
						shard.PositionIDs: shard.Positions(batchPos, n),
						shard.CausalMask:  mask.Rows(causal, batchPos, n),
						shard.CurrentPos:  shard.Scalar(batchPos),
					}
				}
				for k, v := range trimmed {
					in[k] = v
				}
				h, err := shard.TrimSeq(hidden, n)
				if err != nil {
					return 0, fmt.Errorf("%s: %w", chunkName(i, "prefill"), err)
				}
				in[shard.HiddenStates] = h
			default:
				return 0, fmt.Errorf("chunk %d has invalid kind %s", i, chunk.Kind())
			}

			out, err := safePredict(ctx, chunkName(i, "prefill"), chunk.Prefill(), in, state)
			if err != nil {
				return 0, err
			}
			if hidden, err = out.Require(shard.OutputHiddenStates); err != nil {
				return 0, fmt.Errorf("%s: %w", chunkName(i, "prefill"), err)
			}
		}
	}
	return len(tokens), nil
}
