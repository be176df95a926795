package transforms

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/ir"
)

// buildVectorContract builds one register-semantics contraction over an
// m x n x k grid of 4x4 native tiles, with the canonical matmul maps
// (d0, d2) / (d1, d2) / (d0, d1).
func buildVectorContract(m, n, k int64) *ir.Graph {
	kind := catalog.Default().MustKind("test_f32_4x4x4_f32")
	g := ir.NewGraph()
	b := g.NewBuilder()
	lhsT := ir.VectorType{Dims: []int64{m, k, 4, 4}, Elem: ir.F32}
	rhsT := ir.VectorType{Dims: []int64{n, k, 4, 4}, Elem: ir.F32}
	accT := ir.VectorType{Dims: []int64{m, n, 4, 4}, Elem: ir.F32}
	fn := b.Func("main", []ir.Type{accT})
	b.SetInsertionPointToStart(fn.Body())
	lhs := b.Splat(lhsT, 1)
	rhs := b.Splat(rhsT, 2)
	acc := b.Splat(accT, 0)
	maps := []ir.IndexMap{
		ir.MustIndexMap(3, 0, 2),
		ir.MustIndexMap(3, 1, 2),
		ir.MustIndexMap(3, 0, 1),
	}
	iters := []ir.IteratorKind{ir.Parallel, ir.Parallel, ir.Reduction}
	res := b.Contract(lhs, rhs, acc, maps, iters, kind)
	b.Return(res)
	return g
}

// buildNativeContract builds a contraction already at native tile shape
// with an empty iteration space.
func buildNativeContract(kindName string, semantics func(*ir.Builder, ir.ScalarType, []int64) ir.Value) *ir.Graph {
	kind := catalog.Default().MustKind(kindName)
	g := ir.NewGraph()
	b := g.NewBuilder()
	le, re, ae := kind.ElementTypes()
	ls, rs, as := kind.OperandShapes()
	fn := b.Func("main", nil)
	b.SetInsertionPointToStart(fn.Body())
	lhs := semantics(b, le, ls)
	rhs := semantics(b, re, rs)
	acc := semantics(b, ae, as)
	b.Contract(lhs, rhs, acc, []ir.IndexMap{{}, {}, {}}, nil, kind)
	b.Return()
	return g
}

func regSplat(b *ir.Builder, elem ir.ScalarType, dims []int64) ir.Value {
	return b.Splat(ir.VectorType{Dims: slices.Clone(dims), Elem: elem}, 1)
}

func bufSplat(b *ir.Builder, elem ir.ScalarType, dims []int64) ir.Value {
	return b.Splat(ir.TensorType{Dims: slices.Clone(dims), Elem: elem}, 1)
}

func TestLowerContraction(t *testing.T) {
	g := buildNativeContract("test_f32_4x4x4_f32", regSplat)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, LowerContraction{})
	assert.Equal(t, 1, applied)
	assert.Zero(t, countOps(g, ir.OpContract))
	assert.Equal(t, 1, countOps(g, ir.OpMma))
	// Operands already had the native layout, so no casts appear.
	assert.Zero(t, countOps(g, ir.OpVectorShapeCast))
}

func TestLowerContractionDeclines(t *testing.T) {
	t.Run("buffer semantics", func(t *testing.T) {
		g := buildNativeContract("test_f32_4x4x4_f32", bufSplat)
		applied := runPatterns(t, g, LowerContraction{})
		assert.Zero(t, applied)
	})
	t.Run("unrolled iteration space pending", func(t *testing.T) {
		g := buildVectorContract(2, 2, 2)
		applied := runPatterns(t, g, LowerContraction{})
		assert.Zero(t, applied)
		assert.Equal(t, 1, countOps(g, ir.OpContract))
	})
}

func TestFoldUnitDims(t *testing.T) {
	g := buildVectorContract(1, 1, 1)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FoldUnitDims{})
	assert.Equal(t, 1, applied)

	// The survivor has no iteration space left.
	contract := findOp(g, ir.OpContract)
	require.NotNil(t, contract)
	assert.Empty(t, contract.Iterators)
	bounds, err := contract.IterationBounds(g)
	require.NoError(t, err)
	assert.Empty(t, bounds)

	assert.Equal(t, 3, countOps(g, ir.OpVectorDropLead))
	assert.Equal(t, 1, countOps(g, ir.OpVectorBroadcast))
}

func TestFoldUnitDimsDeclinesNonUnitBounds(t *testing.T) {
	g := buildVectorContract(2, 1, 1)
	applied := runPatterns(t, g, FoldUnitDims{})
	assert.Zero(t, applied)
}

func TestUnrollContraction(t *testing.T) {
	g := buildVectorContract(2, 2, 2)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, UnrollContraction{})
	assert.Equal(t, 1, applied)

	// Work conservation: one tile per point of the 2x2x2 space.
	assert.Equal(t, 8, countOps(g, ir.OpContract))
	// Four accumulator regions get reassembled over a zero seed.
	assert.Equal(t, 4, countOps(g, ir.OpVectorInsertSlice))

	// Reduction steps chain: every tile's accumulator is either an
	// extracted slice or another tile's result.
	chained := 0
	for _, fn := range g.Root().Ops() {
		fn.Body().Walk(func(op *ir.Operation) {
			if op.Opcode != ir.OpContract {
				return
			}
			if def := g.DefiningOp(op.ContractAcc()); def != nil && def.Opcode == ir.OpContract {
				chained++
			}
		})
	}
	assert.Equal(t, 4, chained, "the second reduction step of each region consumes the first")
}

func TestUnrollContractionTargetShape(t *testing.T) {
	g := buildVectorContract(2, 2, 2)
	applied := runPatterns(t, g, UnrollContraction{Options: UnrollOptions{TargetShape: []int64{2, 1, 1}}})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 4, countOps(g, ir.OpContract))

	// Every tile keeps the m dimension whole.
	for _, fn := range g.Root().Ops() {
		fn.Body().Walk(func(op *ir.Operation) {
			if op.Opcode != ir.OpContract {
				return
			}
			bounds, err := op.IterationBounds(g)
			require.NoError(t, err)
			assert.Equal(t, []int64{2, 1, 1}, bounds)
		})
	}
}

func TestUnrollContractionTraversalOrder(t *testing.T) {
	reversed := func(ratio []int64) [][]int64 {
		order := DefaultTraversal(ratio)
		slices.Reverse(order)
		return order
	}

	g := buildVectorContract(2, 2, 2)
	applied := runPatterns(t, g, UnrollContraction{Options: UnrollOptions{TraversalOrder: reversed}})
	assert.Equal(t, 1, applied)
	assert.Equal(t, 8, countOps(g, ir.OpContract))

	// The traversal order is part of the program: reversed and default
	// orders produce different programs, each deterministically.
	gDefault := buildVectorContract(2, 2, 2)
	runPatterns(t, gDefault, UnrollContraction{})
	assert.NotEqual(t, ir.ModuleFingerprint(gDefault), ir.ModuleFingerprint(g))

	gAgain := buildVectorContract(2, 2, 2)
	runPatterns(t, gAgain, UnrollContraction{Options: UnrollOptions{TraversalOrder: reversed}})
	assert.Equal(t, ir.ModuleFingerprint(g), ir.ModuleFingerprint(gAgain))
}

func TestUnrollContractionDeclines(t *testing.T) {
	t.Run("single tile", func(t *testing.T) {
		g := buildVectorContract(1, 1, 1)
		applied := runPatterns(t, g, UnrollContraction{})
		assert.Zero(t, applied)
	})
	t.Run("non-divisible target", func(t *testing.T) {
		g := buildVectorContract(2, 2, 2)
		applied := runPatterns(t, g, UnrollContraction{Options: UnrollOptions{TargetShape: []int64{3, 1, 1}}})
		assert.Zero(t, applied)
	})
}

func TestLowerContractionPipeline(t *testing.T) {
	g := buildVectorContract(2, 2, 2)
	patterns, err := Pipeline("lower-contraction")
	require.NoError(t, err)

	applied := runPatterns(t, g, patterns...)
	assert.Greater(t, applied, 8)

	// Unroll, fold, lower: eight native instructions, nothing abstract
	// left.
	assert.Zero(t, countOps(g, ir.OpContract))
	assert.Equal(t, 8, countOps(g, ir.OpMma))
}
