package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/ir"
)

func TestVectorizeContraction(t *testing.T) {
	g := buildNativeContract("test_f32_4x4x4_f32", bufSplat)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, VectorizeContraction{})
	assert.Equal(t, 1, applied)

	assert.Equal(t, 3, countOps(g, ir.OpVectorRead))
	assert.Equal(t, 1, countOps(g, ir.OpVectorWrite))

	// The rebuilt contraction runs in registers over the original
	// accumulator buffer.
	contract := findOp(g, ir.OpContract)
	require.NotNil(t, contract)
	assert.False(t, contract.HasTensorSemantics(g))
	write := findOp(g, ir.OpVectorWrite)
	assert.Equal(t, contract.Result(0), write.Operands[0])
}

func TestVectorizeContractionDeclines(t *testing.T) {
	t.Run("already registers", func(t *testing.T) {
		g := buildNativeContract("test_f32_4x4x4_f32", regSplat)
		applied := runPatterns(t, g, VectorizeContraction{})
		assert.Zero(t, applied)
	})
	t.Run("dynamic shape", func(t *testing.T) {
		g := ir.NewGraph()
		b := g.NewBuilder()
		kind := catalog.Default().MustKind("test_f32_4x4x4_f32")
		dyn := ir.TensorType{Dims: []int64{ir.DynamicSize, 4, 4}, Elem: ir.F32}
		fn := b.Func("main", nil)
		b.SetInsertionPointToStart(fn.Body())
		lhs := b.Empty(dyn)
		rhs := b.Empty(dyn)
		acc := b.Empty(dyn)
		m := ir.MustIndexMap(1, 0)
		b.Contract(lhs, rhs, acc, []ir.IndexMap{m, m, m}, []ir.IteratorKind{ir.Parallel}, kind)
		b.Return()
		require.Empty(t, g.Verify())

		applied := runPatterns(t, g, VectorizeContraction{})
		assert.Zero(t, applied)
	})
}

func TestVectorizeShuffle(t *testing.T) {
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(0), threads(0))
	runPatterns(t, g, FuseForall{})

	applied := runPatterns(t, g, VectorizeShuffle{})
	assert.Equal(t, 1, applied)

	// The shuffle now yields a register value; the body reads the
	// extracted tile into it.
	shuffle := findOp(g, ir.OpShuffle)
	require.NotNil(t, shuffle)
	_, isVec := g.ValueType(shuffle.Result(0)).(ir.VectorType)
	assert.True(t, isVec)
	yield := shuffle.Body().Terminator()
	read := g.DefiningOp(yield.Operands[0])
	require.NotNil(t, read)
	assert.Equal(t, ir.OpVectorRead, read.Opcode)

	// Buffer-semantics users read the result from a fresh buffer.
	assert.Equal(t, 1, countOps(g, ir.OpVectorWrite))
	assert.Equal(t, 3, countOps(g, ir.OpEmpty), "one fresh destination beyond the two loop outputs")
}

func TestVectorizeShuffleThenLower(t *testing.T) {
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(0), threads(0))
	runPatterns(t, g, FuseForall{})

	patterns, err := Pipeline("full")
	require.NoError(t, err)
	applied := runPatterns(t, g, patterns...)
	assert.Greater(t, applied, 2)

	assert.Zero(t, countOps(g, ir.OpShuffle))
	// The write barrier stays in buffer form; the read barrier on the
	// register value lowers to the concrete synchronization.
	assert.Equal(t, 1, countOps(g, ir.OpSync))
	assert.Equal(t, 1, countOps(g, ir.OpBarrier))
}
