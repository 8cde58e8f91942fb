package shard

import (
	"errors"
	"fmt"
)

// ErrModelLoad is matched by every ModelLoadError.
var ErrModelLoad = errors.New("model load failed")

// ModelLoadError reports a shard that could not be loaded.
type ModelLoadError struct {
	Stage string
	Path  string
	Hint  string
	Err   error
}

func (e *ModelLoadError) Error() string {
	msg := fmt.Sprintf("load %s shard %q: %v", e.Stage, e.Path, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ModelLoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}
