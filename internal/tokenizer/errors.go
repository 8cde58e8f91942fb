package tokenizer

import (
	"errors"
	"fmt"
)

// ErrNoChatTemplate is returned by ApplyChatTemplate when the tokenizer has
// no recognised chat template.
var ErrNoChatTemplate = errors.New("tokenizer has no chat template")

// InitError reports tokenizer files that are missing or unusable.
type InitError struct {
	Path string
	Hint string
	Err  error
}

func (e *InitError) Error() string {
	msg := fmt.Sprintf("load tokenizer %q: %v", e.Path, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *InitError) Unwrap() error { return e.Err }
