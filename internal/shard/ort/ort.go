//go:build ort

// Package ort executes ONNX shards with ONNX Runtime.
//
// Inputs whose names are not part of the shard contract (input_ids,
// hidden_states, ...) are treated as unified state: they are allocated once
// by MakeState, fed on every call and updated from the output of the same
// name with a "_out" suffix or a "new_" prefix.
package ort

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	onnx "github.com/yalue/onnxruntime_go"

	"github.com/samcharles93/shardchat/internal/shard"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init loads the ONNX Runtime shared library. Only the first call has an
// effect.
func Init(libPath string) error {
	initOnce.Do(func() {
		if libPath != "" {
			onnx.SetSharedLibraryPath(libPath)
		}
		initErr = onnx.InitializeEnvironment()
	})
	return initErr
}

// Shutdown releases the runtime environment.
func Shutdown() error {
	return onnx.DestroyEnvironment()
}

var contractNames = map[string]bool{
	shard.InputIDs:     true,
	shard.HiddenStates: true,
	shard.PositionIDs:  true,
	shard.CausalMask:   true,
	shard.CurrentPos:   true,
	shard.UpdateMask:   true,
}

// Model is one ONNX session.
type Model struct {
	path    string
	session *onnx.DynamicAdvancedSession
	inputs  []onnx.InputOutputInfo
	outputs []onnx.InputOutputInfo

	// peers share this model's unified state; see LinkState.
	peers []*Model
}

// Options tunes session creation.
type Options struct {
	IntraOpThreads int
	InterOpThreads int
}

// Load opens the model at path.
func Load(path string, opts Options) (*Model, error) {
	inputs, outputs, err := onnx.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect: %w", err)
	}
	so, err := onnx.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer so.Destroy()
	if err := so.SetGraphOptimizationLevel(onnx.GraphOptimizationLevelEnableAll); err != nil {
		return nil, err
	}
	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, err
		}
	}
	if opts.InterOpThreads > 0 {
		if err := so.SetInterOpNumThreads(opts.InterOpThreads); err != nil {
			return nil, err
		}
	}

	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}
	session, err := onnx.NewDynamicAdvancedSession(path, inNames, outNames, so)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Model{path: path, session: session, inputs: inputs, outputs: outputs}, nil
}

// LinkState makes first.MakeState allocate the state inputs of every
// model in others as well, so one State serves all chunk stages.
func LinkState(first *Model, others ...*Model) {
	for _, m := range others {
		if m != nil && m != first {
			first.peers = append(first.peers, m)
		}
	}
}

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// State holds the runtime-owned state tensors keyed by input name.
type State struct {
	mu      sync.Mutex
	tensors map[string]onnx.Value
}

func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, v := range s.tensors {
		if err := v.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	s.tensors = nil
	return errors.Join(errs...)
}

// MakeState allocates a zeroed tensor for every state input of this model
// and its linked peers.
func (m *Model) MakeState() (shard.State, error) {
	st := &State{tensors: make(map[string]onnx.Value)}
	for _, model := range append([]*Model{m}, m.peers...) {
		for _, in := range model.inputs {
			if contractNames[in.Name] {
				continue
			}
			if _, ok := st.tensors[in.Name]; ok {
				continue
			}
			v, err := zeroValue(in)
			if err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("state %q: %w", in.Name, err)
			}
			st.tensors[in.Name] = v
		}
	}
	return st, nil
}

func (m *Model) Predict(ctx context.Context, in shard.Features, state shard.State) (shard.Features, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.session == nil {
		return nil, errors.New("model is closed")
	}
	var st *State
	if state != nil {
		var ok bool
		if st, ok = state.(*State); !ok {
			return nil, fmt.Errorf("unexpected state %T", state)
		}
		st.mu.Lock()
		defer st.mu.Unlock()
	}

	values := make([]onnx.Value, len(m.inputs))
	var owned []onnx.Value
	defer func() {
		for _, v := range owned {
			_ = v.Destroy()
		}
	}()
	for i, info := range m.inputs {
		if t, ok := in[info.Name]; ok && t != nil {
			v, err := toValue(t, info.DataType)
			if err != nil {
				return nil, fmt.Errorf("input %q: %w", info.Name, err)
			}
			owned = append(owned, v)
			values[i] = v
			continue
		}
		if st != nil {
			if v, ok := st.tensors[info.Name]; ok {
				values[i] = v
				continue
			}
		}
		return nil, fmt.Errorf("missing input %q", info.Name)
	}

	outputs := make([]onnx.Value, len(m.outputs))
	if err := m.session.Run(values, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range outputs {
			if v != nil {
				_ = v.Destroy()
			}
		}
	}()

	res := make(shard.Features, len(outputs))
	for i, info := range m.outputs {
		if st != nil {
			if name, ok := stateTarget(info.Name, st); ok {
				if err := copyValue(st.tensors[name], outputs[i]); err != nil {
					return nil, fmt.Errorf("update state %q: %w", name, err)
				}
				continue
			}
		}
		t, err := fromValue(outputs[i])
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", info.Name, err)
		}
		res[info.Name] = t
	}
	return res, nil
}

func stateTarget(output string, st *State) (string, bool) {
	for _, name := range []string{
		strings.TrimSuffix(output, "_out"),
		strings.TrimPrefix(output, "new_"),
	} {
		if name == "" || name == output {
			continue
		}
		if _, ok := st.tensors[name]; ok {
			return name, true
		}
	}
	return "", false
}

// Metadata returns the custom metadata map embedded in the model file.
func Metadata(path string) (map[string]string, error) {
	md, err := onnx.GetModelMetadata(path)
	if err != nil {
		return nil, err
	}
	defer md.Destroy()
	keys, err := md.GetCustomMetadataMapKeys()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := md.LookupCustomMetadataMap(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

var _ shard.Model = (*Model)(nil)
var _ shard.StateMaker = (*Model)(nil)
