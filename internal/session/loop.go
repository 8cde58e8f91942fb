package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoopOptions configures Run.
type LoopOptions struct {
	// AutoPrompt runs exactly one turn with this text and returns.
	AutoPrompt string
	// In supplies one turn per line until EOF.
	In io.Reader
	// Interrupts cancels the running turn, or re-prompts while waiting for
	// input. The process keeps running.
	Interrupts <-chan os.Signal
	// PromptText is printed to Diag before each read.
	PromptText string
}

// Run drives the chat loop. Generation errors are logged and the loop
// continues; only a one-shot AutoPrompt turn returns them.
func (s *Session) Run(ctx context.Context, opts LoopOptions) error {
	if opts.AutoPrompt != "" {
		_, err := s.runTurn(ctx, opts.AutoPrompt, opts.Interrupts)
		return err
	}
	if opts.In == nil {
		return errors.New("no input for interactive session")
	}
	if opts.PromptText == "" {
		opts.PromptText = "> "
	}

	lines := readLines(ctx, opts.In)
	for {
		fmt.Fprint(s.cfg.Diag, opts.PromptText)
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-opts.Interrupts:
			fmt.Fprintln(s.cfg.Diag)
			continue
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.cfg.Diag)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			s.Reset()
			fmt.Fprintln(s.cfg.Diag, "history cleared")
			continue
		}

		if _, err := s.runTurn(ctx, line, opts.Interrupts); err != nil {
			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				return err
			}
			s.cfg.Log.Error("turn failed", "phase", genErr.Phase, "error", genErr.Err)
		}
	}
}

// runTurn runs one turn under a context that an interrupt cancels.
func (s *Session) runTurn(ctx context.Context, input string, interrupts <-chan os.Signal) (Result, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	if interrupts != nil {
		go func() {
			select {
			case <-interrupts:
				cancel()
			case <-done:
			}
		}()
	}

	res, err := s.Turn(turnCtx, input)
	if res.Interrupted {
		fmt.Fprintln(s.cfg.Diag, "[interrupted]")
	}
	return res, err
}

// readLines feeds input lines to the loop from a separate goroutine so an
// interrupt can be observed while a read is blocked.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
