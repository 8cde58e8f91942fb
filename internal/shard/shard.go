// Package shard defines the contract between the inference core and the
// external runtime that executes a model's compiled shards.
//
// A model is split into an embedding stage, an ordered list of chunk stages
// and a projection (LM head) stage. Every stage is a black box that consumes
// named tensors and returns named tensors. Chunk stages also receive the
// session's unified State, which they mutate in place.
package shard

import (
	"context"
	"fmt"

	"gorgonia.org/tensor"
)

// Tensor names exchanged with the runtime.
const (
	InputIDs           = "input_ids"
	HiddenStates       = "hidden_states"
	OutputHiddenStates = "output_hidden_states"
	PositionIDs        = "position_ids"
	CausalMask         = "causal_mask"
	CurrentPos         = "current_pos"
	UpdateMask         = "update_mask"
	Logits             = "logits"
)

// LogitsSplit names the i-th (1-based) vocabulary split of a projection stage.
func LogitsSplit(i int) string {
	return fmt.Sprintf("logits%d", i)
}

// Features is a set of named tensors.
type Features map[string]*tensor.Dense

// Require returns the named tensor or an error naming the missing output.
func (f Features) Require(name string) (*tensor.Dense, error) {
	t, ok := f[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("missing tensor %q", name)
	}
	return t, nil
}

// State is the opaque attention cache shared by every chunk stage of one
// session. Only Model.Predict may mutate it.
type State interface {
	Close() error
}

// Model is one executable entry point of a shard.
type Model interface {
	// Predict runs the entry point. state is nil for the embedding and
	// projection stages.
	Predict(ctx context.Context, in Features, state State) (Features, error)
}

// StateMaker is implemented by models able to allocate a unified State.
type StateMaker interface {
	MakeState() (State, error)
}
