//go:build ort

package ort

import (
	"fmt"

	onnx "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/samcharles93/shardchat/internal/shard"
)

// toValue converts a contract tensor to the element type the model expects.
func toValue(t *tensor.Dense, dtype onnx.TensorElementDataType) (onnx.Value, error) {
	shape := ortShape(t.Shape())
	switch t.Dtype() {
	case tensor.Float32:
		data, err := shard.Float32s(t)
		if err != nil {
			return nil, err
		}
		switch dtype {
		case onnx.TensorElementDataTypeFloat:
			return onnx.NewTensor(shape, append([]float32(nil), data...))
		case onnx.TensorElementDataTypeFloat16:
			return onnx.NewCustomDataTensor(shape, fp16Bytes(data), onnx.TensorElementDataTypeFloat16)
		}
	case tensor.Int32:
		data, err := shard.Int32s(t)
		if err != nil {
			return nil, err
		}
		switch dtype {
		case onnx.TensorElementDataTypeInt32:
			return onnx.NewTensor(shape, append([]int32(nil), data...))
		case onnx.TensorElementDataTypeInt64:
			wide := make([]int64, len(data))
			for i, v := range data {
				wide[i] = int64(v)
			}
			return onnx.NewTensor(shape, wide)
		}
	}
	return nil, fmt.Errorf("cannot feed %v tensor as %v", t.Dtype(), dtype)
}

// fromValue copies an output into a float32 contract tensor.
func fromValue(v onnx.Value) (*tensor.Dense, error) {
	dims := v.GetShape()
	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	switch t := v.(type) {
	case *onnx.Tensor[float32]:
		data := append([]float32(nil), t.GetData()...)
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	case *onnx.CustomDataTensor:
		data := fp16Floats(t.GetData())
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	default:
		return nil, fmt.Errorf("unsupported output tensor type %T", v)
	}
}

// zeroValue allocates a state tensor. Dynamic dimensions are not allowed.
func zeroValue(info onnx.InputOutputInfo) (onnx.Value, error) {
	n := int64(1)
	for _, d := range info.Dimensions {
		if d <= 0 {
			return nil, fmt.Errorf("dynamic dimension in shape %v", info.Dimensions)
		}
		n *= d
	}
	shape := onnx.NewShape(info.Dimensions...)
	switch info.DataType {
	case onnx.TensorElementDataTypeFloat:
		return onnx.NewEmptyTensor[float32](shape)
	case onnx.TensorElementDataTypeFloat16:
		return onnx.NewCustomDataTensor(shape, make([]byte, n*2), onnx.TensorElementDataTypeFloat16)
	default:
		return nil, fmt.Errorf("unsupported state type %v", info.DataType)
	}
}

// copyValue overwrites a state tensor in place with an updated output.
func copyValue(dst, src onnx.Value) error {
	switch d := dst.(type) {
	case *onnx.Tensor[float32]:
		s, ok := src.(*onnx.Tensor[float32])
		if !ok {
			return fmt.Errorf("state is float32, output is %T", src)
		}
		if len(s.GetData()) != len(d.GetData()) {
			return fmt.Errorf("size mismatch %d != %d", len(s.GetData()), len(d.GetData()))
		}
		copy(d.GetData(), s.GetData())
	case *onnx.CustomDataTensor:
		s, ok := src.(*onnx.CustomDataTensor)
		if !ok {
			return fmt.Errorf("state is float16, output is %T", src)
		}
		if len(s.GetData()) != len(d.GetData()) {
			return fmt.Errorf("size mismatch %d != %d", len(s.GetData()), len(d.GetData()))
		}
		copy(d.GetData(), s.GetData())
	default:
		return fmt.Errorf("unsupported state tensor %T", dst)
	}
	return nil
}

func ortShape(s tensor.Shape) onnx.Shape {
	dims := make([]int64, len(s))
	for i, d := range s {
		dims[i] = int64(d)
	}
	return onnx.NewShape(dims...)
}
