package inference

import "time"

// Stats reports throughput for one phase of a turn.
type Stats struct {
	Tokens   int
	Duration time.Duration
	TPS      float64
}

// NewStats computes tokens per second; TPS is 0 when nothing was timed.
func NewStats(tokens int, d time.Duration) Stats {
	s := Stats{Tokens: tokens, Duration: d}
	if tokens > 0 && d > 0 {
		s.TPS = float64(tokens) / d.Seconds()
	}
	return s
}
