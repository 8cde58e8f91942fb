package printer

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeDecoder struct {
	mu    sync.Mutex
	vocab map[int]string
	calls [][]int
}

func (d *fakeDecoder) Decode(ids []int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, append([]int(nil), ids...))
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(d.vocab[id])
	}
	return b.String(), nil
}

func (d *fakeDecoder) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newDecoder() *fakeDecoder {
	return &fakeDecoder{vocab: map[int]string{
		1: "Let ", 2: "me ", 3: "think", 4: "</think>", 5: "Hello", 6: " world", 7: "!",
	}}
}

// drainUntil drains until the accumulated output has n bytes or times out.
func drainUntil(t *testing.T, p *Printer, out *bytes.Buffer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for out.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d bytes, have %q", n, out.String())
		}
		if err := p.Drain(false); err != nil {
			t.Fatalf("Drain: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestEmptyDrainIsNoop(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	var out bytes.Buffer
	p := New(dec, &out, Options{})
	defer p.Stop(true)

	if err := p.Drain(false); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if dec.callCount() != 0 {
		t.Fatalf("empty drain decoded %d times", dec.callCount())
	}
	if out.Len() != 0 {
		t.Fatalf("empty drain wrote %q", out.String())
	}
}

func TestStopReturnsConcatenationOfBatches(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	var out bytes.Buffer
	p := New(dec, &out, Options{})

	for _, id := range []int{1, 2, 3} {
		p.Add(id)
	}
	drainUntil(t, p, &out, len("Let me think"))
	for _, id := range []int{4, 5, 6, 7} {
		p.Add(id)
	}

	text, stats, err := p.Stop(false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := "Let me think</think>Hello world!"
	if text != want {
		t.Fatalf("Stop text = %q, want %q", text, want)
	}
	if out.String() != want {
		t.Fatalf("rendered %q, want %q", out.String(), want)
	}
	if dec.callCount() < 2 {
		t.Fatalf("expected at least two batched decodes, got %d", dec.callCount())
	}
	if stats.Tokens != 7 {
		t.Fatalf("stats.Tokens = %d, want 7", stats.Tokens)
	}
	if stats.TokensPerSecond <= 0 {
		t.Fatalf("stats.TokensPerSecond = %v", stats.TokensPerSecond)
	}

	again, _, err := p.Stop(false)
	if err != nil || again != text {
		t.Fatalf("second Stop = %q, %v", again, err)
	}
}

func TestColorOnlyAfterDelimiter(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	var out bytes.Buffer
	p := New(dec, &out, Options{Delimiter: "</think>", Color: true})

	p.Add(1)
	p.Add(3)
	drainUntil(t, p, &out, len("Let think"))
	if strings.Contains(out.String(), DefaultAnswerColor) {
		t.Fatalf("thinking text colored: %q", out.String())
	}

	p.Add(4)
	p.Add(5)
	p.Add(6)
	if _, _, err := p.Stop(false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got := out.String()
	i := strings.Index(got, "</think>")
	if i < 0 {
		t.Fatalf("delimiter missing from %q", got)
	}
	if strings.Contains(got[:i+len("</think>")], DefaultAnswerColor) {
		t.Fatalf("color before delimiter: %q", got)
	}
	after := got[i+len("</think>"):]
	if !strings.HasPrefix(after, DefaultAnswerColor) || !strings.Contains(after, "Hello") {
		t.Fatalf("answer not colored: %q", after)
	}
	if p.Phase().String() != "answering" {
		t.Fatalf("phase = %v", p.Phase())
	}
}

func TestSilentStop(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	var out bytes.Buffer
	p := New(dec, &out, Options{})

	p.Add(5)
	p.Add(6)
	text, stats, err := p.Stop(true)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if text != "Hello world" {
		t.Fatalf("text = %q", text)
	}
	if out.Len() != 0 {
		t.Fatalf("silent stop wrote %q", out.String())
	}
	if stats.TokensPerSecond != 0 {
		t.Fatalf("silent stop computed throughput %v", stats.TokensPerSecond)
	}
}

func TestAddAfterStopIsNoop(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	p := New(dec, nil, Options{})
	p.Add(5)
	if _, _, err := p.Stop(true); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	done := make(chan struct{})
	go func() {
		p.Add(6)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Add blocked after Stop")
	}
	text, stats, _ := p.Stop(true)
	if text != "Hello" || stats.Tokens != 1 {
		t.Fatalf("after late Add: text=%q tokens=%d", text, stats.Tokens)
	}
}

func TestBurstLargerThanQueueKeepsOrder(t *testing.T) {
	t.Parallel()
	dec := newDecoder()
	p := New(dec, nil, Options{QueueSize: 2, Poll: time.Millisecond})

	var want strings.Builder
	for i := 0; i < 60; i++ {
		id := 5 + i%3
		p.Add(id)
		want.WriteString(dec.vocab[id])
	}
	text, stats, err := p.Stop(true)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if text != want.String() {
		t.Fatalf("Stop text = %q, want %q", text, want.String())
	}
	if stats.Tokens != 60 {
		t.Fatalf("stats.Tokens = %d, want 60", stats.Tokens)
	}
}
