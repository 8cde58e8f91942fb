// Package toy is a deterministic in-process runtime that satisfies the shard
// contract without any compiled artifacts.
//
// Hidden states carry the token id itself ([1,T,1] float32), chunk stages
// pass them through while recording cache writes in the unified State, and
// the projection stage places a single peak on Next(token). It backs the
// "toy" backend and every orchestration test.
package toy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/mask"
	"github.com/samcharles93/shardchat/internal/shard"
)

// Stage names used in recorded calls.
const (
	StageEmbed   = "embed"
	StagePrefill = "prefill"
	StageInfer   = "infer"
	StageLMHead  = "lm_head"
)

// Config describes the synthetic model.
type Config struct {
	Vocab         int
	ContextLength int
	Chunks        int
	// Splits > 1 splits the projection output into logits1..logitsN.
	Splits int
	// Single loads every chunk as a non-chunked model.
	Single bool
	// Next maps the last token to the token the head should predict.
	// Defaults to (tok+1) % Vocab.
	Next func(tok int) int
}

// Call records one Predict invocation.
type Call struct {
	Stage      string
	Chunk      int
	Width      int
	IDs        []int
	Positions  []int
	CurrentPos int
	MaskRows   int
}

// Runtime owns the synthetic stages and the call log.
type Runtime struct {
	cfg Config

	mu    sync.Mutex
	calls []Call
	fail  map[string]error
}

// New returns a runtime for cfg, filling in defaults.
func New(cfg Config) *Runtime {
	if cfg.Vocab <= 0 {
		cfg.Vocab = 32
	}
	if cfg.ContextLength <= 0 {
		cfg.ContextLength = 512
	}
	if cfg.Chunks <= 0 {
		cfg.Chunks = 1
	}
	if cfg.Next == nil {
		vocab := cfg.Vocab
		cfg.Next = func(tok int) int { return (tok + 1) % vocab }
	}
	return &Runtime{cfg: cfg, fail: make(map[string]error)}
}

// Set assembles the shard set.
func (r *Runtime) Set() *shard.Set {
	chunks := make([]shard.ChunkStage, r.cfg.Chunks)
	for i := range chunks {
		if r.cfg.Single {
			chunks[i] = shard.NewSingle(&chunkModel{rt: r, index: i, entry: ""})
			continue
		}
		chunks[i] = shard.NewSplit(
			&chunkModel{rt: r, index: i, entry: StageInfer},
			&chunkModel{rt: r, index: i, entry: StagePrefill},
		)
	}
	return &shard.Set{
		Embed:  &embedModel{rt: r},
		Chunks: chunks,
		LMHead: &headModel{rt: r},
	}
}

// FailOn makes every later call to stage return err.
func (r *Runtime) FailOn(stage string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[stage] = err
}

// Calls returns a copy of the call log.
func (r *Runtime) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsFor filters the log by stage and chunk index. chunk is ignored for
// the embedding and projection stages.
func (r *Runtime) CallsFor(stage string, chunk int) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Stage != stage {
			continue
		}
		if (stage == StagePrefill || stage == StageInfer) && c.Chunk != chunk {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Reset clears the call log.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Runtime) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[c.Stage]; err != nil {
		return err
	}
	r.calls = append(r.calls, c)
	return nil
}

// State records which token was written to each cache slot.
type State struct {
	mu     sync.Mutex
	slots  []int
	writes int
	closed bool
}

func newState(n int) *State {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = -1
	}
	return &State{slots: slots}
}

// Slot returns the token cached at position i, or -1 when empty.
func (s *State) Slot(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.slots) {
		return -1
	}
	return s.slots[i]
}

// Writes returns the number of slot writes so far.
func (s *State) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *State) write(pos, tok int) {
	if pos >= 0 && pos < len(s.slots) {
		s.slots[pos] = tok
		s.writes++
	}
}

type embedModel struct {
	rt *Runtime
}

func (m *embedModel) Predict(_ context.Context, in shard.Features, _ shard.State) (shard.Features, error) {
	t, err := in.Require(shard.InputIDs)
	if err != nil {
		return nil, err
	}
	ids, err := shard.Int32s(t)
	if err != nil {
		return nil, err
	}
	call := Call{Stage: StageEmbed, Width: len(ids), IDs: make([]int, len(ids))}
	hidden := make([]float32, len(ids))
	for i, id := range ids {
		call.IDs[i] = int(id)
		hidden[i] = float32(id)
	}
	if err := m.rt.record(call); err != nil {
		return nil, err
	}
	return shard.Features{
		shard.HiddenStates: tensor.New(tensor.WithShape(1, len(ids), 1), tensor.WithBacking(hidden)),
	}, nil
}

type chunkModel struct {
	rt    *Runtime
	index int
	// entry is StagePrefill or StageInfer for split chunks, empty for
	// single models which pick the mode from the inputs.
	entry string
}

func (m *chunkModel) MakeState() (shard.State, error) {
	return newState(m.rt.cfg.ContextLength), nil
}

func (m *chunkModel) Predict(_ context.Context, in shard.Features, state shard.State) (shard.Features, error) {
	st, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("chunk %d: unexpected state %T", m.index, state)
	}
	hiddenT, err := in.Require(shard.HiddenStates)
	if err != nil {
		return nil, err
	}
	hidden, err := shard.Float32s(hiddenT)
	if err != nil {
		return nil, err
	}
	posT, err := in.Require(shard.PositionIDs)
	if err != nil {
		return nil, err
	}
	positions, err := shard.Int32s(posT)
	if err != nil {
		return nil, err
	}
	maskT, err := in.Require(shard.CausalMask)
	if err != nil {
		return nil, err
	}
	curT, err := in.Require(shard.CurrentPos)
	if err != nil {
		return nil, err
	}
	cur, err := shard.Int32s(curT)
	if err != nil {
		return nil, err
	}

	stage := m.entry
	if stage == "" {
		stage = StagePrefill
		if _, ok := in[shard.UpdateMask]; ok {
			stage = StageInfer
		}
	}
	call := Call{
		Stage:      stage,
		Chunk:      m.index,
		Width:      len(hidden),
		Positions:  make([]int, len(positions)),
		CurrentPos: int(cur[0]),
		MaskRows:   maskT.Shape()[2],
	}
	for i, p := range positions {
		call.Positions[i] = int(p)
	}
	if err := m.rt.record(call); err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return nil, errors.New("state is closed")
	}
	switch stage {
	case StagePrefill:
		for i := 0; i < len(hidden) && i < len(positions); i++ {
			st.write(int(positions[i]), int(hidden[i]))
		}
	case StageInfer:
		if _, err := in.Require(shard.UpdateMask); err != nil {
			return nil, err
		}
		pos := int(positions[0])
		st.write(pos, int(hidden[0]))
		// The decode row must only reach slots already written.
		for col := 0; col < len(st.slots); col++ {
			if !mask.Blocked(maskT, 0, col) && st.slots[col] < 0 {
				return nil, fmt.Errorf("chunk %d: position %d attends to empty slot %d", m.index, pos, col)
			}
		}
	}
	return shard.Features{shard.OutputHiddenStates: hiddenT}, nil
}

type headModel struct {
	rt *Runtime
}

func (m *headModel) Predict(_ context.Context, in shard.Features, _ shard.State) (shard.Features, error) {
	t, err := in.Require(shard.HiddenStates)
	if err != nil {
		return nil, err
	}
	hidden, err := shard.Float32s(t)
	if err != nil {
		return nil, err
	}
	if len(hidden) == 0 {
		return nil, errors.New("empty hidden states")
	}
	if err := m.rt.record(Call{Stage: StageLMHead, Width: len(hidden)}); err != nil {
		return nil, err
	}

	vocab := m.rt.cfg.Vocab
	next := m.rt.cfg.Next(int(hidden[len(hidden)-1]))
	logits := make([]float32, vocab)
	if next >= 0 && next < vocab {
		logits[next] = 20
	}

	splits := m.rt.cfg.Splits
	if splits <= 1 {
		return shard.Features{
			shard.Logits: tensor.New(tensor.WithShape(1, 1, vocab), tensor.WithBacking(logits)),
		}, nil
	}
	if vocab%splits != 0 {
		return nil, fmt.Errorf("vocab %d is not divisible into %d splits", vocab, splits)
	}
	width := vocab / splits
	out := make(shard.Features, splits)
	for i := 0; i < splits; i++ {
		part := append([]float32(nil), logits[i*width:(i+1)*width]...)
		out[shard.LogitsSplit(i+1)] = tensor.New(tensor.WithShape(1, 1, width), tensor.WithBacking(part))
	}
	return out, nil
}
