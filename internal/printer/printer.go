// Package printer streams decoded tokens to a terminal while a response is
// being generated.
//
// A Printer owns one background worker that only moves token ids from a
// bounded queue into a pending buffer. The worker never decodes or prints:
// decoding and rendering happen in Drain, on the caller's goroutine, so the
// tokenizer is only ever used from one goroutine at a time.
package printer

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/samcharles93/shardchat/internal/reasoning"
)

// Decoder turns a batch of token ids into text.
type Decoder interface {
	Decode(ids []int) (string, error)
}

// Options configures a Printer. Zero values select the defaults.
type Options struct {
	// Delimiter ends the thinking segment. Empty disables the split.
	Delimiter string
	// Color enables ANSI coloring of the answer segment.
	Color bool
	// AnswerColor is the ANSI sequence used for answer text.
	AnswerColor string
	// QueueSize bounds the id queue. Add blocks once the queue is full
	// until the worker's next poll, so a queue smaller than the tokens
	// produced per Poll interval throttles the decode loop.
	QueueSize int
	// Poll is the worker's polling interval.
	Poll time.Duration
	// JoinTimeout bounds how long Stop waits for the worker.
	JoinTimeout time.Duration
}

const (
	DefaultQueueSize   = 256
	DefaultPoll        = 10 * time.Millisecond
	DefaultJoinTimeout = time.Second
	DefaultAnswerColor = "\033[92m"
	colorReset         = "\033[0m"
)

// Stats summarises one response.
type Stats struct {
	Tokens          int
	Elapsed         time.Duration
	TokensPerSecond float64
}

// Printer is created per turn and discarded after Stop.
type Printer struct {
	dec  Decoder
	w    io.Writer
	opts Options

	ids    chan int
	quit   chan struct{}
	exited chan struct{}
	start  time.Time

	mu      sync.Mutex
	pending []int
	text    strings.Builder
	phase   reasoning.Phase
	count   int
	stopped bool
	stats   Stats
}

// New starts the worker. w receives rendered output; nil discards it.
func New(dec Decoder, w io.Writer, opts Options) *Printer {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.AnswerColor == "" {
		opts.AnswerColor = DefaultAnswerColor
	}
	if w == nil {
		w = io.Discard
	}
	p := &Printer{
		dec:    dec,
		w:      w,
		opts:   opts,
		ids:    make(chan int, opts.QueueSize),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		start:  time.Now(),
	}
	go p.run()
	return p
}

// Add enqueues one token id. It is a no-op after Stop.
func (p *Printer) Add(id int) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.count++
	p.mu.Unlock()

	select {
	case p.ids <- id:
	case <-p.quit:
	}
}

func (p *Printer) run() {
	defer close(p.exited)
	ticker := time.NewTicker(p.opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.collect()
		}
	}
}

// collect moves every queued id into the pending buffer.
func (p *Printer) collect() {
	var batch []int
loop:
	for {
		select {
		case id := <-p.ids:
			batch = append(batch, id)
		default:
			break loop
		}
	}
	if len(batch) == 0 {
		return
	}
	p.mu.Lock()
	p.pending = append(p.pending, batch...)
	p.mu.Unlock()
}

// Drain decodes every pending id in one call, appends the text to the
// response and, unless silent, renders it. Draining an empty buffer does
// nothing.
func (p *Printer) Drain(silent bool) error {
	p.mu.Lock()
	ids := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	text, err := p.dec.Decode(ids)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.text.WriteString(text)
	phase := p.phase
	var segs []reasoning.Segment
	if !silent {
		phase, segs = reasoning.Render(phase, text, p.opts.Delimiter)
		p.phase = phase
	}
	p.mu.Unlock()

	if silent {
		return nil
	}
	return p.write(segs)
}

func (p *Printer) write(segs []reasoning.Segment) error {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == reasoning.Colored && p.opts.Color {
			b.WriteString(p.opts.AnswerColor)
			b.WriteString(s.Text)
			b.WriteString(colorReset)
			continue
		}
		b.WriteString(s.Text)
	}
	_, err := io.WriteString(p.w, b.String())
	if f, ok := p.w.(interface{ Flush() error }); ok && err == nil {
		err = f.Flush()
	}
	return err
}

// Stop ends the worker, drains what is left and returns the full response.
// The join is best effort: if the worker has not exited within JoinTimeout
// the ids still queued are dropped and Stop returns what it has. The error
// only reports decode or write failures. Further calls return the same
// result.
func (p *Printer) Stop(silent bool) (string, Stats, error) {
	p.mu.Lock()
	if p.stopped {
		text, stats := p.text.String(), p.stats
		p.mu.Unlock()
		return text, stats, nil
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.quit)

	select {
	case <-p.exited:
		// The worker is gone, so the queue can be read here.
		p.collect()
	case <-time.After(p.opts.JoinTimeout):
	}
	err := p.Drain(silent)

	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.start)
	p.stats = Stats{Tokens: p.count, Elapsed: elapsed}
	if !silent && p.count > 0 && elapsed > 0 {
		p.stats.TokensPerSecond = float64(p.count) / elapsed.Seconds()
	}
	return p.text.String(), p.stats, err
}

// Phase reports whether the delimiter has been rendered yet.
func (p *Printer) Phase() reasoning.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}
