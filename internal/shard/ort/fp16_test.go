package ort

import (
	"math"
	"testing"
)

func TestFP16RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want float32
	}{
		{in: 0, want: 0},
		{in: 1, want: 1},
		{in: -2.5, want: -2.5},
		{in: 65504, want: 65504},
		{in: float32(math.Inf(-1)), want: float32(math.Inf(-1))},
		// Halfway cases round to the even mantissa.
		{in: 1 + 0.75/1024, want: 1 + 1.0/1024},
		{in: 1 + 0.5/1024, want: 1},
		{in: 1 + 1.5/1024, want: 1 + 2.0/1024},
		{in: 1e6, want: float32(math.Inf(1))},
	}
	for _, tc := range tests {
		got := fp16Floats(fp16Bytes([]float32{tc.in}))
		if len(got) != 1 || got[0] != tc.want {
			t.Fatalf("round trip %v = %v, want %v", tc.in, got, tc.want)
		}
	}

	nan := fp16Floats(fp16Bytes([]float32{float32(math.NaN())}))
	if !math.IsNaN(float64(nan[0])) {
		t.Fatalf("NaN not preserved: %v", nan[0])
	}
}

func TestFP16FloatsIgnoresOddByte(t *testing.T) {
	t.Parallel()
	raw := append(fp16Bytes([]float32{3, -0.5}), 0xFF)
	got := fp16Floats(raw)
	if len(got) != 2 || got[0] != 3 || got[1] != -0.5 {
		t.Fatalf("fp16Floats = %v", got)
	}
}
