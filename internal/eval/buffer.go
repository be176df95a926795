package eval

import (
	"fmt"
	"slices"

	"github.com/smelt-ir/smelt/internal/ir"
)

// Buffer is an evaluated shaped value: row-major float64 storage with
// its dimensions. A rank-0 buffer holds one scalar.
type Buffer struct {
	Dims []int64
	Elem ir.ScalarType
	Data []float64
}

// NewBuffer allocates a zero-filled buffer.
func NewBuffer(dims []int64, elem ir.ScalarType) *Buffer {
	return &Buffer{
		Dims: slices.Clone(dims),
		Elem: elem,
		Data: make([]float64, numElements(dims)),
	}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{Dims: slices.Clone(b.Dims), Elem: b.Elem, Data: slices.Clone(b.Data)}
}

// NumElements returns the element count.
func (b *Buffer) NumElements() int64 { return int64(len(b.Data)) }

// At returns the element at a multi-dimensional index.
func (b *Buffer) At(idx ...int64) float64 {
	return b.Data[b.flatten(idx)]
}

// Set stores the element at a multi-dimensional index.
func (b *Buffer) Set(v float64, idx ...int64) {
	b.Data[b.flatten(idx)] = v
}

func (b *Buffer) flatten(idx []int64) int64 {
	if len(idx) != len(b.Dims) {
		panic(fmt.Sprintf("index rank %d for buffer rank %d", len(idx), len(b.Dims)))
	}
	flat := int64(0)
	for d, i := range idx {
		if i < 0 || i >= b.Dims[d] {
			panic(fmt.Sprintf("index %d out of range for dim %d of %v", i, d, b.Dims))
		}
		flat = flat*b.Dims[d] + i
	}
	return flat
}

// eachIndex calls fn for every index tuple of dims in row-major order.
func eachIndex(dims []int64, fn func(idx []int64)) {
	n := numElements(dims)
	for flat := int64(0); flat < n; flat++ {
		fn(ir.DelinearizeIndex(flat, dims))
	}
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		if d < 0 {
			panic(fmt.Sprintf("dynamic dimension in evaluated shape %v", dims))
		}
		n *= d
	}
	return n
}
