// Package mask builds the additive attention masks passed to chunk stages.
//
// Masks are float32 tensors shaped [1,1,Q,K]. A zero entry lets query row Q
// attend to key column K; a NegInf entry blocks it.
package mask

import (
	"math"

	"gorgonia.org/tensor"
)

// NegInf is the bias stored in blocked entries.
var NegInf = float32(math.Inf(-1))

// Causal returns a [1,1,length,length] mask where (row, col) is unblocked iff
// col <= row+start.
func Causal(length, start int) *tensor.Dense {
	if length < 1 {
		length = 1
	}
	data := make([]float32, length*length)
	for row := 0; row < length; row++ {
		base := row * length
		for col := max(row+start+1, 0); col < length; col++ {
			data[base+col] = NegInf
		}
	}
	return tensor.New(tensor.WithShape(1, 1, length, length), tensor.WithBacking(data))
}

// Rows copies rows [from, from+n) of m into a new [1,1,n,K] tensor. Rows
// that fall outside m are fully blocked.
func Rows(m *tensor.Dense, from, n int) *tensor.Dense {
	q, k := dims(m)
	src := values(m)
	out := make([]float32, n*k)
	for i := 0; i < n; i++ {
		dst := out[i*k : (i+1)*k]
		r := from + i
		if r < 0 || r >= q {
			for j := range dst {
				dst[j] = NegInf
			}
			continue
		}
		copy(dst, src[r*k:(r+1)*k])
	}
	return tensor.New(tensor.WithShape(1, 1, n, k), tensor.WithBacking(out))
}

// Update returns the [1,1,length,1] indicator with a single 1 at row pos.
// It tells a stateful chunk which cache slot the current step writes.
func Update(length, pos int) *tensor.Dense {
	data := make([]float32, length)
	if pos >= 0 && pos < length {
		data[pos] = 1
	}
	return tensor.New(tensor.WithShape(1, 1, length, 1), tensor.WithBacking(data))
}

// Blocked reports whether entry (row, col) of m blocks attention.
func Blocked(m *tensor.Dense, row, col int) bool {
	_, k := dims(m)
	v := values(m)[row*k+col]
	return math.IsInf(float64(v), -1) || v < -1e4
}

func dims(m *tensor.Dense) (q, k int) {
	shape := m.Shape()
	switch len(shape) {
	case 0:
		return 0, 0
	case 1:
		return 1, shape[0]
	default:
		return shape[len(shape)-2], shape[len(shape)-1]
	}
}

// values returns the float32 backing of m. Single-element tensors report
// their data as a scalar, so those are boxed into a fresh slice.
func values(m *tensor.Dense) []float32 {
	switch v := m.Data().(type) {
	case []float32:
		return v
	case float32:
		return []float32{v}
	default:
		return nil
	}
}
