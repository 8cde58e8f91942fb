package shard

// ChunkKind tags the two shapes a chunk stage can take.
type ChunkKind uint8

const (
	// Single is a non-chunked model used for both prefill and decode.
	Single ChunkKind = iota + 1
	// Split exposes separate prefill and infer entry points.
	Split
)

func (k ChunkKind) String() string {
	switch k {
	case Single:
		return "single"
	case Split:
		return "split"
	default:
		return "invalid"
	}
}

// ChunkStage is a tagged variant: Single(model) or Split{infer, prefill}.
// The kind is fixed when the stage is loaded.
type ChunkStage struct {
	kind    ChunkKind
	model   Model
	infer   Model
	prefill Model
}

// NewSingle wraps a non-chunked model.
func NewSingle(m Model) ChunkStage {
	return ChunkStage{kind: Single, model: m}
}

// NewSplit wraps a chunk with distinct infer and prefill entry points.
func NewSplit(infer, prefill Model) ChunkStage {
	return ChunkStage{kind: Split, infer: infer, prefill: prefill}
}

func (c ChunkStage) Kind() ChunkKind { return c.kind }

// Infer returns the single-token entry point.
func (c ChunkStage) Infer() Model {
	switch c.kind {
	case Single:
		return c.model
	case Split:
		return c.infer
	default:
		return nil
	}
}

// Prefill returns the batched prompt entry point.
func (c ChunkStage) Prefill() Model {
	switch c.kind {
	case Single:
		return c.model
	case Split:
		return c.prefill
	default:
		return nil
	}
}

func (c ChunkStage) models() []Model {
	switch c.kind {
	case Single:
		return []Model{c.model}
	case Split:
		return []Model{c.infer, c.prefill}
	default:
		return nil
	}
}
