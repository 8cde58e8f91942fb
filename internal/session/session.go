// Package session runs the chat loop: it owns the unified state of one
// model and turns user input into prefill and decode runs.
//
// Each turn moves through AwaitInput, Prefill, Decode and Finalize. The
// unified state is created once in New and reused by every turn; it is
// never reset, so the runtime's cache carries across a conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/inference"
	"github.com/samcharles93/shardchat/internal/logger"
	"github.com/samcharles93/shardchat/internal/logits"
	"github.com/samcharles93/shardchat/internal/mask"
	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/printer"
	"github.com/samcharles93/shardchat/internal/reasoning"
	"github.com/samcharles93/shardchat/internal/shard"
	"github.com/samcharles93/shardchat/internal/tokenizer"
)

// PromptFormat selects how a turn becomes prompt ids.
type PromptFormat uint8

const (
	// FormatAuto uses the tokenizer's chat template when the probe at
	// startup succeeded, and the manual template otherwise.
	FormatAuto PromptFormat = iota
	// FormatRaw encodes the user text as-is, without history.
	FormatRaw
	// FormatManual always uses the "Role: text" template.
	FormatManual
)

func (f PromptFormat) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatManual:
		return "manual"
	default:
		return "auto"
	}
}

// WarmupPrompt is sent once at startup to prime the runtime.
const WarmupPrompt = "who are you?"

// Config wires a Session. Set, Meta and Tokenizer are required.
type Config struct {
	Set       *shard.Set
	Meta      metadata.Metadata
	Tokenizer tokenizer.Tokenizer
	// Specials is used when Tokenizer does not implement SpecialTokener.
	Specials tokenizer.Specials
	Sampler  *logits.Sampler
	// Stop overrides the stop set derived from the tokenizer.
	Stop   inference.StopSet
	Format PromptFormat
	System string
	// MaxTokens caps each response; 0 runs to the end of the context.
	MaxTokens int
	Delimiter string
	Color     bool
	// NoHistory sends each turn on its own.
	NoHistory bool

	// Out receives the streamed response.
	Out io.Writer
	// Diag receives prompts and throughput lines. Eval mode passes
	// io.Discard.
	Diag io.Writer
	Log  logger.Logger
	Eval bool

	// SavePath, when set, receives each response with an end-of-sequence
	// marker.
	SavePath string
	// TranscriptPath, when set, receives the JSON transcript after each
	// turn.
	TranscriptPath string
	ModelName      string
}

// Request is one generation. Messages, when set, is the full conversation
// and bypasses the session history; otherwise Input is appended to it.
type Request struct {
	Input    string
	Messages []tokenizer.Message
	// MaxTokens overrides Config.MaxTokens when positive.
	MaxTokens int
	// Sampler overrides Config.Sampler.
	Sampler *logits.Sampler
	// Out overrides Config.Out. Color is only used with Config.Out.
	Out    io.Writer
	Warmup bool
	// Raw encodes Input as-is, without template or history.
	Raw bool
	// OmitStop keeps the terminating end-of-sequence token out of the
	// streamed and returned text.
	OmitStop bool
}

// Result describes a finished turn.
type Result struct {
	Text        string
	Prefill     inference.Stats
	Decode      inference.Stats
	Reason      inference.StopReason
	Interrupted bool
	// Dropped counts history messages removed to fit the context.
	Dropped int
}

type Session struct {
	cfg        Config
	state      shard.State
	causal     *tensor.Dense
	stop       inference.StopSet
	templater  tokenizer.ChatTemplater
	transcript *Transcript

	mu      sync.Mutex
	history []tokenizer.Message
}

// New validates the shard set, creates the unified state and probes the
// tokenizer's chat template once.
func New(cfg Config) (*Session, error) {
	if cfg.Tokenizer == nil {
		return nil, errors.New("session requires a tokenizer")
	}
	if err := cfg.Meta.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sampler == nil {
		cfg.Sampler = logits.Greedy()
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Diag == nil || cfg.Eval {
		cfg.Diag = io.Discard
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = reasoning.DefaultDelimiter
	}
	if sp, ok := cfg.Tokenizer.(tokenizer.SpecialTokener); ok {
		cfg.Specials = sp.Specials()
	}

	state, err := cfg.Set.NewState()
	if err != nil {
		return nil, fmt.Errorf("create unified state: %w", err)
	}
	s := &Session{
		cfg:        cfg,
		state:      state,
		causal:     mask.Causal(cfg.Meta.ContextLength, 0),
		stop:       cfg.Stop,
		transcript: NewTranscript(cfg.ModelName),
	}
	if s.stop == nil {
		s.stop = inference.BuildStopTokens(cfg.Tokenizer, cfg.Specials)
	}
	if len(s.stop) == 0 {
		cfg.Log.Warn("no end-of-sequence tokens; responses run to the token limit")
	}
	s.templater = probeTemplate(cfg.Tokenizer, cfg.Log)
	cfg.Log.Debug("session ready",
		"id", s.transcript.ID.String(),
		"format", cfg.Format.String(),
		"chat_template", s.templater != nil,
		"stop_tokens", len(s.stop),
	)
	return s, nil
}

func probeTemplate(tok tokenizer.Tokenizer, log logger.Logger) tokenizer.ChatTemplater {
	ct, ok := tok.(tokenizer.ChatTemplater)
	if !ok {
		return nil
	}
	if _, err := ct.ApplyChatTemplate([]tokenizer.Message{{Role: "user", Content: "hi"}}, true); err != nil {
		log.Debug("chat template unavailable, using manual template", "error", err)
		return nil
	}
	return ct
}

// ID identifies the session in transcripts.
func (s *Session) ID() string { return s.transcript.ID.String() }

// Transcript returns the session's transcript.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Close releases the unified state. The shard set belongs to the caller.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	err := s.state.Close()
	s.state = nil
	return err
}

// Reset clears the conversation history. The unified state is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Warmup runs one silent, capped turn so the runtime compiles its kernels
// before the first real prompt.
func (s *Session) Warmup(ctx context.Context) error {
	start := time.Now()
	_, err := s.Generate(ctx, Request{Input: WarmupPrompt, Warmup: true})
	if err != nil {
		return err
	}
	s.cfg.Log.Debug("warmup complete", "elapsed", time.Since(start))
	return nil
}

// Turn runs one conversational turn on the session history.
func (s *Session) Turn(ctx context.Context, input string) (Result, error) {
	return s.Generate(ctx, Request{Input: input})
}

// Generate runs one request. Calls are serialised: the unified state
// admits one generation at a time.
func (s *Session) Generate(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Result{}, errors.New("session is closed")
	}

	tokens, msgs, dropped, err := s.buildPrompt(req)
	if err != nil {
		return Result{}, &GenerationError{Phase: "prompt", Err: err}
	}
	res := Result{Dropped: dropped}
	if dropped > 0 {
		s.cfg.Log.Info("dropped oldest history to fit context", "messages", dropped)
	}

	start := time.Now()
	pos, err := inference.Prefill(ctx, s.cfg.Set, s.state, s.causal, tokens, s.cfg.Meta.BatchSize)
	res.Prefill = inference.NewStats(len(tokens), time.Since(start))
	if err != nil {
		if interrupted(ctx, err) {
			res.Interrupted = true
			res.Reason = inference.StopCanceled
			return res, nil
		}
		return res, &GenerationError{Phase: "prefill", Err: err}
	}

	dec := &inference.Decoder{
		Set:     s.cfg.Set,
		State:   s.state,
		Mask:    s.causal,
		Meta:    s.cfg.Meta,
		Sampler: s.cfg.Sampler,
	}
	if req.Sampler != nil {
		dec.Sampler = req.Sampler
	}
	maxTokens := s.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	out, color := s.cfg.Out, s.cfg.Color
	if req.Out != nil {
		out, color = req.Out, false
	}
	var p *printer.Printer
	var drainErr error
	opts := inference.RunOptions{MaxTokens: maxTokens, Warmup: req.Warmup, Stop: s.stop}
	if !req.Warmup {
		p = printer.New(s.cfg.Tokenizer, out, printer.Options{Delimiter: s.cfg.Delimiter, Color: color})
		opts.OnToken = func(id int) {
			if req.OmitStop && s.stop.Contains(id) {
				return
			}
			p.Add(id)
			if err := p.Drain(false); err != nil && drainErr == nil {
				drainErr = err
			}
		}
	}

	start = time.Now()
	run, err := dec.Run(ctx, tokens, pos, opts)
	decodeTime := time.Since(start)
	res.Reason = run.Reason
	res.Decode = inference.NewStats(run.Generated, decodeTime)

	if p != nil {
		text, _, stopErr := p.Stop(false)
		res.Text = text
		if drainErr == nil {
			drainErr = stopErr
		}
		if req.Out == nil && !s.cfg.Eval {
			fmt.Fprintln(out)
		}
	}
	if err != nil {
		if interrupted(ctx, err) {
			res.Interrupted = true
			s.cfg.Log.Debug("turn interrupted", "generated", run.Generated)
		} else {
			return res, &GenerationError{Phase: "decode", Err: err}
		}
	}
	if drainErr != nil {
		return res, &GenerationError{Phase: "detokenize", Err: drainErr}
	}
	if req.Warmup {
		return res, nil
	}

	s.finalize(req, msgs, tokens, run, res)
	return res, nil
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// finalize records the turn, persists it and reports throughput. An
// interrupted turn is kept in the transcript only: its partial answer
// neither enters the history nor overwrites the save file.
func (s *Session) finalize(req Request, msgs []tokenizer.Message, prompt []int, run inference.RunResult, res Result) {
	if !res.Interrupted && req.Messages == nil && !req.Raw && s.cfg.Format != FormatRaw && !s.cfg.NoHistory {
		history := append([]tokenizer.Message(nil), msgs[historyStart(msgs):]...)
		s.history = append(history, tokenizer.Message{
			Role:    "assistant",
			Content: inference.SanitizeAssistantForContext(res.Text, s.cfg.Delimiter),
		})
	}

	s.transcript.Append(TurnRecord{
		Time:         time.Now().UTC(),
		Prompt:       lastUser(req, msgs),
		Response:     res.Text,
		PromptTokens: len(prompt),
		Generated:    run.Generated,
		Dropped:      res.Dropped,
		Stop:         res.Reason.String(),
		PrefillTPS:   res.Prefill.TPS,
		DecodeTPS:    res.Decode.TPS,
		Interrupted:  res.Interrupted,
	})

	if s.cfg.SavePath != "" && !res.Interrupted {
		if err := s.save(res.Text, run.Last); err != nil {
			s.cfg.Log.Warn("could not save response", "error", err)
		}
	}
	if s.cfg.TranscriptPath != "" {
		if err := s.transcript.Save(s.cfg.TranscriptPath); err != nil {
			s.cfg.Log.Warn("could not save transcript", "error", err)
		}
	}

	fmt.Fprintf(s.cfg.Diag, "\nprefill: %d tokens in %s (%.1f t/s)\n",
		res.Prefill.Tokens, res.Prefill.Duration.Round(time.Millisecond), res.Prefill.TPS)
	fmt.Fprintf(s.cfg.Diag, "decode: %d tokens in %s (%.1f t/s), stop: %s\n",
		res.Decode.Tokens, res.Decode.Duration.Round(time.Millisecond), res.Decode.TPS, res.Reason)
}

// historyStart returns the index of the first message of msgs that belongs
// to the history, skipping the system prompt.
func historyStart(msgs []tokenizer.Message) int {
	if len(msgs) > 0 && msgs[0].Role == "system" {
		return 1
	}
	return 0
}

func lastUser(req Request, msgs []tokenizer.Message) string {
	if req.Messages == nil {
		return req.Input
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// save writes the response verbatim, appending the end-of-sequence marker
// unless the response already ends with it.
func (s *Session) save(text string, last int) error {
	marker := s.eosMarker(last)
	if marker != "" && !strings.HasSuffix(text, marker) {
		text += marker
	}
	if err := os.WriteFile(s.cfg.SavePath, []byte(text), 0o644); err != nil {
		return &PersistenceError{Path: s.cfg.SavePath, Err: err}
	}
	return nil
}

func (s *Session) eosMarker(last int) string {
	id := -1
	if s.stop.Contains(last) {
		id = last
	} else if len(s.cfg.Specials.EOS) > 0 {
		id = s.cfg.Specials.EOS[0]
	} else if len(s.stop) > 0 {
		id = s.stop[0]
	}
	if id < 0 {
		return ""
	}
	text, err := s.cfg.Tokenizer.Decode([]int{id})
	if err != nil {
		return ""
	}
	return text
}

// buildPrompt encodes the request, dropping the oldest history turns until
// the prompt leaves room for at least one generated token. msgs is the
// conversation that was encoded.
func (s *Session) buildPrompt(req Request) (tokens []int, msgs []tokenizer.Message, dropped int, err error) {
	limit := s.cfg.Meta.ContextLength - 1

	if (s.cfg.Format == FormatRaw || req.Raw) && req.Messages == nil {
		tokens, err = s.cfg.Tokenizer.Encode(req.Input)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("encode: %w", err)
		}
		if len(tokens) == 0 {
			return nil, nil, 0, errors.New("empty prompt")
		}
		if len(tokens) >= limit {
			return nil, nil, 0, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLong, len(tokens), limit-1)
		}
		return tokens, nil, 0, nil
	}

	var system []tokenizer.Message
	var history []tokenizer.Message
	var turn []tokenizer.Message
	switch {
	case req.Messages != nil:
		rest := req.Messages
		if len(rest) > 0 && rest[0].Role == "system" {
			system, rest = rest[:1], rest[1:]
		}
		if len(rest) == 0 {
			return nil, nil, 0, errors.New("no messages")
		}
		history, turn = rest[:len(rest)-1], rest[len(rest)-1:]
	default:
		if s.cfg.System != "" {
			system = []tokenizer.Message{{Role: "system", Content: s.cfg.System}}
		}
		if !s.cfg.NoHistory && !req.Warmup {
			history = s.history
		}
		turn = []tokenizer.Message{{Role: "user", Content: req.Input}}
	}

	for {
		msgs = make([]tokenizer.Message, 0, len(system)+len(history)+len(turn))
		msgs = append(append(append(msgs, system...), history...), turn...)
		tokens, err = s.encodeMessages(msgs)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(tokens) < limit {
			return tokens, msgs, dropped, nil
		}
		if len(history) == 0 {
			return nil, nil, dropped, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLong, len(tokens), limit-1)
		}
		// Drop a user/assistant pair, or a single message when unpaired.
		n := min(2, len(history))
		history = history[n:]
		dropped += n
	}
}

func (s *Session) encodeMessages(msgs []tokenizer.Message) ([]int, error) {
	if s.templater != nil && s.cfg.Format == FormatAuto {
		ids, err := s.templater.ApplyChatTemplate(msgs, true)
		if err != nil {
			return nil, fmt.Errorf("apply chat template: %w", err)
		}
		return ids, nil
	}
	ids, err := s.cfg.Tokenizer.Encode(tokenizer.ManualPrompt(msgs, true))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return ids, nil
}
