package ort

import (
	"encoding/binary"

	"github.com/x448/float16"
)

// fp16Bytes packs data as little-endian IEEE 754 half floats, rounding to
// nearest even.
func fp16Bytes(data []float32) []byte {
	out := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}
	return out
}

// fp16Floats unpacks little-endian half floats. A trailing odd byte is
// ignored.
func fp16Floats(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
	}
	return out
}
