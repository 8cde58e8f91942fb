package session

import (
	"errors"
	"fmt"
)

// ErrPromptTooLong is returned when a single turn does not fit in the
// context window even with the whole history dropped.
var ErrPromptTooLong = errors.New("prompt does not fit in the context window")

// GenerationError wraps a failure during one turn. The session stays usable
// after it is returned.
type GenerationError struct {
	Phase string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Phase, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError reports a response or transcript that could not be
// written. It is logged and never ends the session.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
