package shard

import (
	"fmt"

	"gorgonia.org/tensor"
)

// IDs packs token ids into a [1,len] int32 tensor.
func IDs(ids []int) *tensor.Dense {
	data := make([]int32, len(ids))
	for i, id := range ids {
		data[i] = int32(id)
	}
	return tensor.New(tensor.WithShape(1, len(ids)), tensor.WithBacking(data))
}

// Positions returns the [n] int32 range from, from+1, ..., from+n-1.
func Positions(from, n int) *tensor.Dense {
	data := make([]int32, n)
	for i := range data {
		data[i] = int32(from + i)
	}
	return tensor.New(tensor.WithShape(n), tensor.WithBacking(data))
}

// Scalar returns a [1] int32 tensor.
func Scalar(v int) *tensor.Dense {
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]int32{int32(v)}))
}

// Float32s returns the backing data of a float32 tensor.
func Float32s(t *tensor.Dense) ([]float32, error) {
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("expected float32 tensor, got %v", t.Dtype())
	}
}

// Int32s returns the backing data of an int32 tensor.
func Int32s(t *tensor.Dense) ([]int32, error) {
	switch data := t.Data().(type) {
	case []int32:
		return data, nil
	case int32:
		return []int32{data}, nil
	default:
		return nil, fmt.Errorf("expected int32 tensor, got %v", t.Dtype())
	}
}

// TrimSeq keeps the first n positions of a [1,T,H] float32 tensor.
func TrimSeq(t *tensor.Dense, n int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected [1,T,H] tensor, got shape %v", shape)
	}
	if n >= shape[1] {
		return t, nil
	}
	data, err := Float32s(t)
	if err != nil {
		return nil, err
	}
	h := shape[2]
	out := make([]float32, n*h)
	copy(out, data[:n*h])
	return tensor.New(tensor.WithShape(1, n, h), tensor.WithBacking(out)), nil
}
