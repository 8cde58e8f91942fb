// Package inference drives the shard set through batched prefill and
// single-token decode.
package inference

import (
	"context"
	"fmt"

	"github.com/samcharles93/shardchat/internal/shard"
)

// safePredict runs one shard entry point, converting a runtime panic into
// an error naming the stage.
func safePredict(ctx context.Context, stage string, m shard.Model, in shard.Features, state shard.State) (out shard.Features, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v", stage, rec)
		}
	}()
	out, err = m.Predict(ctx, in, state)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stage, err)
	}
	return out, nil
}

func chunkName(i int, kind string) string {
	return fmt.Sprintf("chunk %d %s", i, kind)
}
