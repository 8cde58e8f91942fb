package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/shardchat/internal/reasoning"
	"github.com/samcharles93/shardchat/internal/session"
)

// sseWriter receives the session's rendered output and forwards it as
// completion chunks. Chat responses are split into content and reasoning
// deltas.
type sseWriter struct {
	w        io.Writer
	flush    func()
	call     call
	splitter *reasoning.Splitter
	err      error
}

func (s *sseWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	text := string(p)
	var delta Choice
	if s.call.chat {
		content, thinking := s.splitter.Push(text)
		if content == "" && thinking == "" {
			return len(p), nil
		}
		delta.Delta = &ChatMessage{Content: content, ReasoningContent: thinking}
	} else {
		delta.Text = &text
	}
	if err := s.send(s.chunk(delta)); err != nil {
		s.err = err
		return 0, err
	}
	return len(p), nil
}

func (s *sseWriter) chunk(choice Choice) Completion {
	return Completion{
		ID:      s.call.id,
		Object:  s.call.chunkObject(),
		Created: s.call.created,
		Model:   s.call.model,
		Choices: []Choice{choice},
	}
}

func (s *sseWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *Server) stream(c *echo.Context, cl call, req session.Request) error {
	res := c.Response()
	flusher, ok := res.(http.Flusher)
	if !ok {
		return writeError(c, http.StatusInternalServerError, "server_error", "streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	sw := &sseWriter{
		w:        res,
		flush:    flusher.Flush,
		call:     cl,
		splitter: &reasoning.Splitter{Delimiter: s.opts.Delimiter, Thinking: s.opts.Thinking},
	}
	if cl.chat {
		if err := sw.send(sw.chunk(Choice{Delta: &ChatMessage{Role: "assistant"}})); err != nil {
			return err
		}
	}

	req.Out = sw
	result, err := s.gen.Generate(c.Request().Context(), req)
	if err != nil {
		// Headers are already sent, so the error travels in-band.
		_ = sw.send(map[string]any{"error": ErrorBody{Message: err.Error(), Type: "server_error"}})
	} else {
		final := cl.final(Choice{}, result)
		final.Object = cl.chunkObject()
		if cl.chat {
			final.Choices[0].Delta = &ChatMessage{}
		}
		_ = sw.send(final)
	}
	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}
