package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []VerifyError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestVerifyValidProgram(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func("main", []Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	b.Return(b.Barrier(b.Splat(vec, 1)))

	assert.Empty(t, g.Verify())
}

func TestVerifyRejectsTopLevelNonFunc(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	b.Splat(VectorType{Dims: []int64{4}, Elem: F32}, 1)

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrTopLevelOp)
}

func TestVerifyRejectsMissingReturn(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	fn := b.Func("main", nil)
	b.SetInsertionPointToStart(fn.Body())
	b.Splat(VectorType{Dims: []int64{4}, Elem: F32}, 1)

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrMissingTerminator)
}

func TestVerifyRejectsReturnArityMismatch(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func("main", []Type{vec, vec})
	b.SetInsertionPointToStart(fn.Body())
	b.Return(b.Splat(vec, 1))

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrYieldArity)
}

func TestVerifyRejectsReturnTypeMismatch(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	fn := b.Func("main", []Type{VectorType{Dims: []int64{8}, Elem: F32}})
	b.SetInsertionPointToStart(fn.Body())
	b.Return(b.Splat(VectorType{Dims: []int64{4}, Elem: F32}, 1))

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrTypeMismatch)
}

func TestVerifyRejectsAddOperandMismatch(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	small := VectorType{Dims: []int64{4}, Elem: F32}
	big := VectorType{Dims: []int64{8}, Elem: F32}
	fn := b.Func("main", []Type{small})
	b.SetInsertionPointToStart(fn.Body())
	sum := b.Add(b.Splat(small, 1), b.Splat(big, 2))
	b.Return(sum)

	errs := g.Verify()
	require.NotEmpty(t, errs)
	assert.Contains(t, codes(errs), ErrTypeMismatch)
}

func TestVerifyRejectsUseBeforeDef(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func("main", []Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	lhs := b.Splat(vec, 1)
	sum := b.Add(lhs, lhs)
	b.Return(sum)
	require.Empty(t, g.Verify())

	// A rewrite that reorders without care breaks dominance.
	g.MoveBefore(g.DefiningOp(sum), g.DefiningOp(lhs))

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrUseBeforeDef)
}

func TestVerifyRejectsTerminatorMidRegion(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func("main", []Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	v := b.Splat(vec, 1)
	ret := b.Return(v)
	b.SetInsertionPointAfter(ret)
	b.Splat(vec, 2)

	errs := g.Verify()
	assert.Contains(t, codes(errs), ErrBadTerminator)
}

func TestVerifyReportsAllErrors(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	small := VectorType{Dims: []int64{4}, Elem: F32}
	big := VectorType{Dims: []int64{8}, Elem: F32}
	fn := b.Func("main", []Type{big})
	b.SetInsertionPointToStart(fn.Body())
	sum := b.Add(b.Splat(small, 1), b.Splat(big, 2))
	b.Return(sum)

	errs := g.Verify()
	assert.GreaterOrEqual(t, len(errs), 2, "collects errors instead of failing fast")
}

func TestVerifyErrorFormatting(t *testing.T) {
	err := VerifyError{Code: "E110", Op: 3, Opcode: OpAdd, Message: "operands differ"}
	assert.Equal(t, "[E110] %op3 (add): operands differ", err.Error())
}
