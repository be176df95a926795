package ir

import (
	"fmt"
	"strings"
)

// IndexMap is a pure function from an iteration space of fixed
// dimensionality to a tuple of result positions. Every IndexMap in this
// IR is a projected permutation: each output selects a distinct input
// dimension, in input order, with no repeats and no affine combinations.
//
// The projected-permutation property is enforced at construction; a
// zero-output map ("(d0, d1) -> ()") is valid and describes a fully
// projected operand.
type IndexMap struct {
	NumInputs int
	Outputs   []int
}

// NewIndexMap constructs an IndexMap and validates the projected
// permutation property.
func NewIndexMap(numInputs int, outputs ...int) (IndexMap, error) {
	m := IndexMap{NumInputs: numInputs, Outputs: outputs}
	prev := -1
	for _, o := range outputs {
		if o < 0 || o >= numInputs {
			return IndexMap{}, fmt.Errorf("index map output d%d out of range for %d inputs", o, numInputs)
		}
		if o <= prev {
			return IndexMap{}, fmt.Errorf("index map outputs must select distinct inputs in input order, got d%d after d%d", o, prev)
		}
		prev = o
	}
	return m, nil
}

// MustIndexMap is like NewIndexMap but panics on error. Use only when
// inputs are known to be valid.
func MustIndexMap(numInputs int, outputs ...int) IndexMap {
	m, err := NewIndexMap(numInputs, outputs...)
	if err != nil {
		panic(err)
	}
	return m
}

// IsEmpty reports whether the map has no inputs and no outputs.
func (m IndexMap) IsEmpty() bool {
	return m.NumInputs == 0 && len(m.Outputs) == 0
}

// Apply projects a point (or shape) in the input space through the map.
// len(point) must equal NumInputs.
func (m IndexMap) Apply(point []int64) []int64 {
	if len(point) != m.NumInputs {
		panic(fmt.Sprintf("index map expects %d inputs, got %d", m.NumInputs, len(point)))
	}
	out := make([]int64, len(m.Outputs))
	for i, o := range m.Outputs {
		out[i] = point[o]
	}
	return out
}

// ResultIndex returns the output position that selects input dimension
// dim, or -1 if the map drops that dimension.
func (m IndexMap) ResultIndex(dim int) int {
	for i, o := range m.Outputs {
		if o == dim {
			return i
		}
	}
	return -1
}

// Compose returns the map equivalent to applying m after inner:
// (m ∘ inner)(x) = m(inner(x)). m's input space must be inner's output
// space.
func (m IndexMap) Compose(inner IndexMap) (IndexMap, error) {
	if m.NumInputs != len(inner.Outputs) {
		return IndexMap{}, fmt.Errorf("cannot compose: outer expects %d inputs, inner produces %d outputs",
			m.NumInputs, len(inner.Outputs))
	}
	outs := make([]int, len(m.Outputs))
	for i, o := range m.Outputs {
		outs[i] = inner.Outputs[o]
	}
	return NewIndexMap(inner.NumInputs, outs...)
}

// String returns the printed form, e.g. "(d0, d1, d2) -> (d0, d2)".
func (m IndexMap) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i := 0; i < m.NumInputs; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "d%d", i)
	}
	sb.WriteString(") -> (")
	for i, o := range m.Outputs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "d%d", o)
	}
	sb.WriteByte(')')
	return sb.String()
}

// IteratorKind classifies one iteration dimension of a contraction.
type IteratorKind uint8

const (
	// Parallel dimensions index independent output regions.
	Parallel IteratorKind = iota + 1
	// Reduction dimensions accumulate into the same output region.
	Reduction
)

// String returns the printed form of the iterator kind.
func (k IteratorKind) String() string {
	switch k {
	case Parallel:
		return "parallel"
	case Reduction:
		return "reduction"
	default:
		return fmt.Sprintf("iterator(%d)", uint8(k))
	}
}

// IteratorKindFromString parses a printed iterator kind.
func IteratorKindFromString(s string) (IteratorKind, bool) {
	switch s {
	case "parallel":
		return Parallel, true
	case "reduction":
		return Reduction, true
	}
	return 0, false
}

// LinearizeIndex folds a multi-dimensional index into a scalar using
// row-major composition: id = id*bound + index, iterating in declared
// dimension order.
func LinearizeIndex(point, bounds []int64) int64 {
	id := int64(0)
	for i, p := range point {
		id = id*bounds[i] + p
	}
	return id
}

// DelinearizeIndex splits a scalar index into a multi-dimensional index
// using the given per-dimension bounds as mixed-radix ranges.
func DelinearizeIndex(id int64, bounds []int64) []int64 {
	out := make([]int64, len(bounds))
	for i := len(bounds) - 1; i >= 0; i-- {
		out[i] = id % bounds[i]
		id /= bounds[i]
	}
	return out
}
