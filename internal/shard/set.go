package shard

import (
	"errors"
	"fmt"
	"io"
)

// Set is the full shard layout of one model.
type Set struct {
	Embed  Model
	Chunks []ChunkStage
	LMHead Model
}

// Validate checks that every stage is present.
func (s *Set) Validate() error {
	if s == nil {
		return errors.New("shard set is nil")
	}
	if s.Embed == nil {
		return errors.New("embedding stage is missing")
	}
	if s.LMHead == nil {
		return errors.New("projection stage is missing")
	}
	if len(s.Chunks) == 0 {
		return errors.New("no chunk stages")
	}
	for i, c := range s.Chunks {
		if c.Infer() == nil || c.Prefill() == nil {
			return fmt.Errorf("chunk %d (%s) has a missing entry point", i, c.Kind())
		}
	}
	return nil
}

// NewState creates the unified State through the first chunk stage.
func (s *Set) NewState() (State, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	for _, m := range s.Chunks[0].models() {
		if maker, ok := m.(StateMaker); ok {
			return maker.MakeState()
		}
	}
	return nil, errors.New("first chunk stage cannot create a state")
}

// Close releases every stage that holds runtime resources.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	seen := make(map[Model]bool)
	closeModel := func(m Model) {
		if m == nil || seen[m] {
			return
		}
		seen[m] = true
		if c, ok := m.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	closeModel(s.Embed)
	for _, c := range s.Chunks {
		for _, m := range c.models() {
			closeModel(m)
		}
	}
	closeModel(s.LMHead)
	return errors.Join(errs...)
}
