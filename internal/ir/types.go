package ir

import (
	"fmt"
	"slices"
	"strings"
)

// DynamicSize marks a dimension whose extent is unknown at compile time.
// Only TensorType may carry dynamic dimensions; VectorType is fully static.
const DynamicSize int64 = -1

// Type is a sealed interface over the three value types of the IR.
// Only ScalarType, TensorType, and VectorType implement it.
type Type interface {
	irType() // Sealed - only these types implement it
	String() string
}

// ScalarType enumerates element and scalar types.
type ScalarType uint8

const (
	// F16 is a 16-bit IEEE float element type.
	F16 ScalarType = iota + 1
	// F32 is a 32-bit IEEE float element type.
	F32
	// I8 is an 8-bit signless integer element type.
	I8
	// I32 is a 32-bit signless integer element type.
	I32
	// Index is the platform index type used for loop induction variables,
	// worker identifiers, and offsets.
	Index
)

func (ScalarType) irType() {}

// String returns the printed form of the scalar type.
func (t ScalarType) String() string {
	switch t {
	case F16:
		return "f16"
	case F32:
		return "f32"
	case I8:
		return "i8"
	case I32:
		return "i32"
	case Index:
		return "index"
	default:
		return fmt.Sprintf("scalar(%d)", uint8(t))
	}
}

// IsFloat reports whether the scalar is a floating-point type.
func (t ScalarType) IsFloat() bool {
	return t == F16 || t == F32
}

// ScalarTypeFromString parses a printed scalar type name.
func ScalarTypeFromString(s string) (ScalarType, bool) {
	switch s {
	case "f16":
		return F16, true
	case "f32":
		return F32, true
	case "i8":
		return I8, true
	case "i32":
		return I32, true
	case "index":
		return Index, true
	}
	return 0, false
}

// TensorType is a buffer-semantics value type: a whole memory-resident
// array, possibly with dynamic dimensions.
type TensorType struct {
	Dims []int64
	Elem ScalarType
}

func (TensorType) irType() {}

// String returns the printed form, e.g. "tensor<64x?xf32>".
func (t TensorType) String() string {
	return shapedString("tensor", t.Dims, t.Elem)
}

// Rank returns the number of dimensions.
func (t TensorType) Rank() int { return len(t.Dims) }

// HasStaticShape reports whether every dimension is static.
func (t TensorType) HasStaticShape() bool {
	return !slices.Contains(t.Dims, DynamicSize)
}

// NumElements returns the total element count. The shape must be static.
func (t TensorType) NumElements() int64 {
	return numElements(t.Dims)
}

// VectorType is a register-semantics value type: a fixed-shape value held
// in a processing unit's registers. All dimensions are static.
type VectorType struct {
	Dims []int64
	Elem ScalarType
}

func (VectorType) irType() {}

// String returns the printed form, e.g. "vector<16x16xf16>".
func (t VectorType) String() string {
	return shapedString("vector", t.Dims, t.Elem)
}

// Rank returns the number of dimensions.
func (t VectorType) Rank() int { return len(t.Dims) }

// NumElements returns the total element count.
func (t VectorType) NumElements() int64 {
	return numElements(t.Dims)
}

// TypeEqual reports structural equality of two types.
func TypeEqual(a, b Type) bool {
	switch at := a.(type) {
	case ScalarType:
		bt, ok := b.(ScalarType)
		return ok && at == bt
	case TensorType:
		bt, ok := b.(TensorType)
		return ok && at.Elem == bt.Elem && slices.Equal(at.Dims, bt.Dims)
	case VectorType:
		bt, ok := b.(VectorType)
		return ok && at.Elem == bt.Elem && slices.Equal(at.Dims, bt.Dims)
	}
	return false
}

// ShapeOf returns the dimension list of a shaped type, or false for scalars.
func ShapeOf(t Type) ([]int64, bool) {
	switch st := t.(type) {
	case TensorType:
		return st.Dims, true
	case VectorType:
		return st.Dims, true
	}
	return nil, false
}

// ElemOf returns the element type of a shaped type, or the scalar itself.
func ElemOf(t Type) ScalarType {
	switch st := t.(type) {
	case TensorType:
		return st.Elem
	case VectorType:
		return st.Elem
	case ScalarType:
		return st
	}
	return 0
}

// IsStaticShaped reports whether t is a shaped type with no dynamic dims.
// Vectors are static by construction; scalars are not shaped.
func IsStaticShaped(t Type) bool {
	switch st := t.(type) {
	case TensorType:
		return st.HasStaticShape()
	case VectorType:
		return true
	}
	return false
}

func shapedString(kind string, dims []int64, elem ScalarType) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte('<')
	for _, d := range dims {
		if d == DynamicSize {
			sb.WriteByte('?')
		} else {
			fmt.Fprintf(&sb, "%d", d)
		}
		sb.WriteByte('x')
	}
	sb.WriteString(elem.String())
	sb.WriteByte('>')
	return sb.String()
}

func numElements(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
