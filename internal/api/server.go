// Package api serves one generation session over an OpenAI-compatible
// HTTP API.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/shardchat/internal/inference"
	"github.com/samcharles93/shardchat/internal/logits"
	"github.com/samcharles93/shardchat/internal/reasoning"
	"github.com/samcharles93/shardchat/internal/session"
)

// Generator runs one request. *session.Session implements it and
// serialises concurrent calls.
type Generator interface {
	Generate(ctx context.Context, req session.Request) (session.Result, error)
}

// Options configures a Server. Zero values select the defaults.
type Options struct {
	Model     string
	Delimiter string
	// Thinking marks prompts that already open a think block.
	Thinking    bool
	Temperature float32
	// RateLimit is the sustained request rate per second; 0 disables it.
	RateLimit float64
	Burst     int
}

type Server struct {
	gen     Generator
	opts    Options
	limiter *rate.Limiter
	clock   func() time.Time
}

func NewServer(gen Generator, opts Options) *Server {
	if opts.Model == "" {
		opts.Model = "shardchat"
	}
	if opts.Delimiter == "" {
		opts.Delimiter = reasoning.DefaultDelimiter
	}
	s := &Server{gen: gen, opts: opts, clock: time.Now}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/health", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)

	g := e.Group("/v1")
	if s.limiter != nil {
		g.Use(rateLimit(s.limiter))
	}
	g.POST("/completions", s.handleCompletions)
	g.POST("/chat/completions", s.handleChatCompletions)
}

// rateLimit rejects requests above the limiter's rate with 429.
func rateLimit(l *rate.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !l.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
			}
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []ModelInfo{{
			ID:      s.opts.Model,
			Object:  "model",
			Created: s.clock().Unix(),
			OwnedBy: "local",
		}},
	})
}

func (s *Server) handleCompletions(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := decodeJSON[CompletionRequest](body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required")
	}
	genReq := session.Request{
		Input:     req.Prompt,
		Raw:       true,
		MaxTokens: deref(req.MaxTokens),
		Sampler:   s.sampler(req.Temperature, req.Seed),
		OmitStop:  true,
	}
	cl := s.newCall("cmpl-", "text_completion", false)
	if req.Stream {
		return s.stream(c, cl, genReq)
	}
	res, err := s.gen.Generate(c.Request().Context(), s.withDiscard(genReq))
	if err != nil {
		return writeGenerationError(c, err)
	}
	text := res.Text
	return c.JSON(http.StatusOK, cl.final(Choice{Text: &text}, res))
}

func (s *Server) handleChatCompletions(c *echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	req, err := decodeJSON[ChatCompletionRequest](body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required and must not be empty")
	}
	msgs, err := toMessages(req.Messages)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	maxTokens := req.MaxTokens
	if req.MaxCompletionTokens != nil {
		maxTokens = req.MaxCompletionTokens
	}
	genReq := session.Request{
		Messages:  msgs,
		MaxTokens: deref(maxTokens),
		Sampler:   s.sampler(req.Temperature, req.Seed),
		OmitStop:  true,
	}
	cl := s.newCall("chatcmpl-", "chat.completion", true)
	if req.Stream {
		return s.stream(c, cl, genReq)
	}
	res, err := s.gen.Generate(c.Request().Context(), s.withDiscard(genReq))
	if err != nil {
		return writeGenerationError(c, err)
	}
	split := reasoning.SplitRaw(res.Text, s.opts.Delimiter, s.opts.Thinking)
	msg := &ChatMessage{Role: "assistant", Content: split.Content, ReasoningContent: split.Reasoning}
	return c.JSON(http.StatusOK, cl.final(Choice{Message: msg}, res))
}

func (s *Server) withDiscard(req session.Request) session.Request {
	req.Out = io.Discard
	return req
}

// sampler returns nil, keeping the session's sampler, when the request
// overrides nothing.
func (s *Server) sampler(temperature *float32, seed *int64) *logits.Sampler {
	if temperature == nil && seed == nil {
		return nil
	}
	cfg := logits.SamplerConfig{Temperature: s.opts.Temperature, Seed: time.Now().UnixNano()}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	if seed != nil {
		cfg.Seed = *seed
	}
	return logits.NewSampler(cfg)
}

// call carries the identity shared by every event of one response.
type call struct {
	id      string
	object  string
	created int64
	model   string
	chat    bool
}

func (s *Server) newCall(prefix, object string, chat bool) call {
	return call{
		id:      prefix + uuid.NewString(),
		object:  object,
		created: s.clock().Unix(),
		model:   s.opts.Model,
		chat:    chat,
	}
}

func (c call) chunkObject() string {
	if c.chat {
		return c.object + ".chunk"
	}
	return c.object
}

func (c call) final(choice Choice, res session.Result) Completion {
	reason := finishReason(res.Reason)
	choice.FinishReason = &reason
	return Completion{
		ID:      c.id,
		Object:  c.object,
		Created: c.created,
		Model:   c.model,
		Choices: []Choice{choice},
		Usage: &Usage{
			PromptTokens:     res.Prefill.Tokens,
			CompletionTokens: res.Decode.Tokens,
			TotalTokens:      res.Prefill.Tokens + res.Decode.Tokens,
		},
	}
}

func finishReason(r inference.StopReason) string {
	switch r {
	case inference.StopMaxTokens, inference.StopContext:
		return "length"
	default:
		return "stop"
	}
}

func writeGenerationError(c *echo.Context, err error) error {
	var genErr *session.GenerationError
	if errors.As(err, &genErr) && genErr.Phase == "prompt" {
		return writeBadRequest(c, err.Error())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
