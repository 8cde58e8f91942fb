// Package logits turns a projection-stage output row into the next token id.
package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
}

// Sampler implements the fixed decode policy: argmax at temperature 0,
// otherwise a draw from the softmax over the full vocabulary.
// A Sampler is not safe for concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	prob   []float64
}

// NewSampler returns a new sampler with the provided configuration.
func NewSampler(cfg SamplerConfig) *Sampler {
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: cfg.Temperature <= 0,
	}
}

// Greedy returns a sampler that always takes the argmax.
func Greedy() *Sampler { return NewSampler(SamplerConfig{}) }

// IsGreedy reports whether the sampler always takes the argmax.
func (s *Sampler) IsGreedy() bool { return s.greedy }

// Sample draws a single index from the provided logits vector:
//
//  1. If the temperature is 0 (or negative) the argmax is returned.
//  2. Otherwise the logits are divided by the temperature and a softmax
//     over the whole vector is computed, subtracting the maximum for
//     numerical stability.
//  3. A random value is drawn from [0,1) and used to select an index from
//     the cumulative distribution.
//
// logits is not modified. Sample panics on an empty vector.
func (s *Sampler) Sample(logits []float32) int {
	if s.greedy {
		return Argmax(logits)
	}

	invTemp := 1.0 / float64(s.cfg.Temperature)
	maxv := math.Inf(-1)
	for _, l := range logits {
		if v := float64(l) * invTemp; v > maxv {
			maxv = v
		}
	}
	if math.IsInf(maxv, -1) {
		return Argmax(logits)
	}

	if cap(s.prob) < len(logits) {
		s.prob = make([]float64, len(logits))
	}
	prob := s.prob[:len(logits)]
	var sum float64
	for i, l := range logits {
		e := math.Exp(float64(l)*invTemp - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		return Argmax(logits)
	}

	r := s.rng.Float64() * sum
	var c float64
	for i, p := range prob {
		c += p
		if r < c {
			return i
		}
	}
	return len(prob) - 1
}

// Argmax returns the index of the maximum value in the slice, preferring
// the lowest index on ties. If the slice is empty it panics.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
