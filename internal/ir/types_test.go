package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeStrings(t *testing.T) {
	assert.Equal(t, "f32", F32.String())
	assert.Equal(t, "index", Index.String())
	assert.Equal(t, "tensor<64x256xf32>", TensorType{Dims: []int64{64, 256}, Elem: F32}.String())
	assert.Equal(t, "tensor<64x?xf32>", TensorType{Dims: []int64{64, DynamicSize}, Elem: F32}.String())
	assert.Equal(t, "vector<16x16xf16>", VectorType{Dims: []int64{16, 16}, Elem: F16}.String())
}

func TestTypeEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Type
		want bool
	}{
		{"same scalar", F32, F32, true},
		{"different scalar", F32, F16, false},
		{"same tensor", TensorType{Dims: []int64{8}, Elem: F32}, TensorType{Dims: []int64{8}, Elem: F32}, true},
		{"different dims", TensorType{Dims: []int64{8}, Elem: F32}, TensorType{Dims: []int64{16}, Elem: F32}, false},
		{"tensor vs vector", TensorType{Dims: []int64{8}, Elem: F32}, VectorType{Dims: []int64{8}, Elem: F32}, false},
		{"scalar vs tensor", F32, TensorType{Dims: nil, Elem: F32}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeEqual(tt.a, tt.b))
		})
	}
}

func TestShapeOf(t *testing.T) {
	dims, ok := ShapeOf(TensorType{Dims: []int64{4, 8}, Elem: F32})
	assert.True(t, ok)
	assert.Equal(t, []int64{4, 8}, dims)

	_, ok = ShapeOf(F32)
	assert.False(t, ok)
}

func TestElemOf(t *testing.T) {
	assert.Equal(t, F16, ElemOf(VectorType{Dims: []int64{4}, Elem: F16}))
	assert.Equal(t, F32, ElemOf(F32))
}

func TestIsStaticShaped(t *testing.T) {
	assert.True(t, IsStaticShaped(TensorType{Dims: []int64{4}, Elem: F32}))
	assert.False(t, IsStaticShaped(TensorType{Dims: []int64{DynamicSize}, Elem: F32}))
	assert.True(t, IsStaticShaped(VectorType{Dims: []int64{4}, Elem: F32}))
	assert.False(t, IsStaticShaped(F32))
}

func TestScalarTypeFromString(t *testing.T) {
	got, ok := ScalarTypeFromString("f16")
	assert.True(t, ok)
	assert.Equal(t, F16, got)

	_, ok = ScalarTypeFromString("f64")
	assert.False(t, ok)
}
