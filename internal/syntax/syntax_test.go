package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/ir"
)

// testKind is a minimal native instruction for parser tests; the real
// catalog is exercised elsewhere.
type testKind struct{}

func (testKind) Name() string { return "test_f32_4x4x4_f32" }

func (testKind) ElementTypes() (ir.ScalarType, ir.ScalarType, ir.ScalarType) {
	return ir.F32, ir.F32, ir.F32
}

func (testKind) OperandShapes() (lhs, rhs, acc []int64) {
	return []int64{4, 4}, []int64{4, 4}, []int64{4, 4}
}

func (testKind) BuildInstruction(b *ir.Builder, lhs, rhs, acc ir.Value) (ir.Value, error) {
	return b.Mma(lhs, rhs, acc, testKind{}), nil
}

type testRegistry struct{}

func (testRegistry) Kind(name string) (ir.MmaKind, bool) {
	if name == "test_f32_4x4x4_f32" {
		return testKind{}, true
	}
	return nil, false
}

// roundTrip asserts parse/print is the identity on canonical text.
func roundTrip(t *testing.T, src string) *ir.Graph {
	t.Helper()
	g, err := Parse(src, testRegistry{})
	require.NoError(t, err)
	require.Empty(t, g.Verify())
	assert.Equal(t, src, Print(g))
	return g
}

func TestRoundTripScalarOps(t *testing.T) {
	roundTrip(t, `func @main -> tensor<8x8xf32> {
  %0 = constant splat 0.0 : tensor<8x8xf32>
  %1 = constant iota : tensor<8x8xf32>
  %2 = add %0, %1 : tensor<8x8xf32>
  return %2 : tensor<8x8xf32>
}
`)
}

func TestRoundTripIndexArithmetic(t *testing.T) {
	roundTrip(t, `func @main {
  %0 = constant 3 : index
  %1 = constant 16 : index
  %2 = muli %0, %1 : index
  %3 = addi %2, %0 : index
  return
}
`)
}

func TestRoundTripLinearizeDelinearize(t *testing.T) {
	g := roundTrip(t, `func @main {
  %0 = constant 5 : index
  %1 = constant 7 : index
  %2 = linearize (%0, %1) by (8, 16) : index
  %3:2 = delinearize %2 by (8, 16) : index
  %4 = addi %3#0, %3#1 : index
  return
}
`)
	var delin *ir.Operation
	g.Root().Ops()[0].Body().Walk(func(op *ir.Operation) {
		if op.Opcode == ir.OpDelinearize {
			delin = op
		}
	})
	require.NotNil(t, delin)
	assert.Equal(t, []int64{8, 16}, delin.Bounds)
	assert.Len(t, delin.Results, 2)
}

func TestRoundTripMatmulAndReduce(t *testing.T) {
	roundTrip(t, `func @main -> tensor<16xf32> {
  %0 = constant iota : tensor<16x8xf32>
  %1 = constant iota : tensor<8x16xf32>
  %2 = constant splat 0.0 : tensor<16x16xf32>
  %3 = matmul %0, %1 into %2 : tensor<16x8xf32>, tensor<8x16xf32> into tensor<16x16xf32>
  %4 = constant splat 0.0 : tensor<16xf32>
  %5 = reduce %3 into %4 dims [1] : tensor<16x16xf32> into tensor<16xf32>
  return %5 : tensor<16xf32>
}
`)
}

func TestRoundTripContract(t *testing.T) {
	g := roundTrip(t, `func @main -> vector<2x2x4x4xf32> {
  %0 = constant splat 1.0 : vector<2x2x4x4xf32>
  %1 = constant splat 2.0 : vector<2x2x4x4xf32>
  %2 = constant splat 0.0 : vector<2x2x4x4xf32>
  %3 = contract %0, %1 into %2 maps [(d0, d1, d2) -> (d0, d2), (d0, d1, d2) -> (d1, d2), (d0, d1, d2) -> (d0, d1)] iterators [parallel, parallel, reduction] kind test_f32_4x4x4_f32 : vector<2x2x4x4xf32>, vector<2x2x4x4xf32> into vector<2x2x4x4xf32>
  return %3 : vector<2x2x4x4xf32>
}
`)
	var contract *ir.Operation
	g.Root().Ops()[0].Body().Walk(func(op *ir.Operation) {
		if op.Opcode == ir.OpContract {
			contract = op
		}
	})
	require.NotNil(t, contract)
	assert.Equal(t, "test_f32_4x4x4_f32", contract.Kind.Name())
	assert.Equal(t, []ir.IteratorKind{ir.Parallel, ir.Parallel, ir.Reduction}, contract.Iterators)
	bounds, err := contract.IterationBounds(g)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2, 2}, bounds)
}

func TestRoundTripMma(t *testing.T) {
	roundTrip(t, `func @main -> vector<4x4xf32> {
  %0 = constant splat 1.0 : vector<4x4xf32>
  %1 = constant splat 2.0 : vector<4x4xf32>
  %2 = constant splat 0.0 : vector<4x4xf32>
  %3 = mma %0, %1 into %2 kind test_f32_4x4x4_f32 : vector<4x4xf32>, vector<4x4xf32> into vector<4x4xf32>
  return %3 : vector<4x4xf32>
}
`)
}

func TestRoundTripForall(t *testing.T) {
	g := roundTrip(t, `func @main -> tensor<64x64xf32> {
  %0 = constant splat 0.0 : tensor<64x64xf32>
  %1 = forall (%2, %3) in (4, 4) mapping [thread(0), thread(1)] shared (%4 = %0 : tensor<64x64xf32>) {
    %5 = constant 16 : index
    %6 = muli %2, %5 : index
    %7 = muli %3, %5 : index
    %8 = slice.extract %4 [%6, %7] [16, 16] [1, 1] : tensor<64x64xf32> to tensor<16x16xf32>
    parallel_insert %8 into %4 [%6, %7] [16, 16] [1, 1]
  }
  return %1 : tensor<64x64xf32>
}
`)
	var forall *ir.Operation
	g.Root().Ops()[0].Body().Walk(func(op *ir.Operation) {
		if op.Opcode == ir.OpForall {
			forall = op
		}
	})
	require.NotNil(t, forall)
	assert.Equal(t, 2, forall.ForallRank())
	assert.Equal(t, []ir.MappingTag{{Kind: ir.Thread, Dim: 0}, {Kind: ir.Thread, Dim: 1}}, forall.Mapping)
}

func TestRoundTripForallExplicitBounds(t *testing.T) {
	roundTrip(t, `func @main {
  forall (%0) from (4) to (32) step (2) mapping [warp(0)] {
    yield
  }
  return
}
`)
}

func TestRoundTripForLoop(t *testing.T) {
	roundTrip(t, `func @main -> tensor<16xf32> {
  %0 = constant splat 0.0 : tensor<16xf32>
  %1 = for %2 = 0 to 48 step 16 iter_args(%3 = %0 : tensor<16xf32>) {
    %4 = add %3, %3 : tensor<16xf32>
    yield %4 : tensor<16xf32>
  }
  return %1 : tensor<16xf32>
}
`)
}

func TestRoundTripShuffleAndBarrier(t *testing.T) {
	roundTrip(t, `func @main -> tensor<4xf32> {
  %0 = constant splat 1.0 : tensor<4xf32>
  %1 = empty : tensor<16xf32>
  %2 = shuffle %0 into %1 [4] [4] [1] as (%3 : tensor<16xf32>) {
    %4 = slice.extract %3 [0] [4] [1] : tensor<16xf32> to tensor<4xf32>
    yield %4 : tensor<4xf32>
  } : tensor<4xf32>
  %5 = barrier %2 : tensor<4xf32>
  return %5 : tensor<4xf32>
}
`)
}

func TestRoundTripVectorOps(t *testing.T) {
	roundTrip(t, `func @main -> tensor<8x8xf16> {
  %0 = constant splat 1.0 : tensor<8x8xf16>
  %1 = vector.read %0 : tensor<8x8xf16> to vector<8x8xf16>
  %2 = vector.extract_slice %1 [0, 0] [4, 4] : vector<8x8xf16> to vector<4x4xf16>
  %3 = vector.broadcast %2 : vector<4x4xf16> to vector<1x4x4xf16>
  %4 = vector.drop_lead %3, 1 : vector<1x4x4xf16> to vector<4x4xf16>
  %5 = vector.shape_cast %4 : vector<4x4xf16> to vector<16xf16>
  %6 = vector.shape_cast %5 : vector<16xf16> to vector<4x4xf16>
  %7 = vector.insert_slice %6 into %1 [4, 4] : vector<4x4xf16> into vector<8x8xf16>
  %8 = vector.write %7, %0 : vector<8x8xf16> into tensor<8x8xf16>
  return %8 : tensor<8x8xf16>
}
`)
}

func TestRoundTripSliceInsertAndSync(t *testing.T) {
	roundTrip(t, `func @main -> tensor<32xf32> {
  %0 = constant splat 0.0 : tensor<32xf32>
  %1 = constant splat 2.0 : tensor<8xf32>
  sync
  %2 = slice.insert %1 into %0 [8] [8] [1] : tensor<8xf32> into tensor<32xf32>
  return %2 : tensor<32xf32>
}
`)
}

func TestRoundTripDynamicShapes(t *testing.T) {
	roundTrip(t, `func @main {
  %0 = empty : tensor<?x16xf32>
  %1 = constant 4 : index
  %2 = slice.extract %0 [%1, 0] [8, 16] [1, 1] : tensor<?x16xf32> to tensor<8x16xf32>
  return
}
`)
}

func TestRoundTripMultipleFuncs(t *testing.T) {
	roundTrip(t, `func @first {
  return
}

func @second -> vector<4xf32> {
  %0 = constant splat 3.5 : vector<4xf32>
  return %0 : vector<4xf32>
}
`)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "undefined value",
			src:  "func @f {\n  %0 = add %9, %9 : f32\n  return\n}\n",
			want: "undefined value",
		},
		{
			name: "unknown operation",
			src:  "func @f {\n  %0 = frobnicate : f32\n  return\n}\n",
			want: "unknown operation",
		},
		{
			name: "unknown kind",
			src: "func @f {\n  %0 = constant splat 0.0 : vector<4x4xf32>\n" +
				"  %1 = mma %0, %0 into %0 kind no_such_kind : vector<4x4xf32>, vector<4x4xf32> into vector<4x4xf32>\n  return\n}\n",
			want: "unknown kind",
		},
		{
			name: "unterminated region",
			src:  "func @f {\n  %0 = constant 1 : index\n",
			want: "unexpected end of input",
		},
		{
			name: "bad type",
			src:  "func @f {\n  %0 = empty : widget<4xf32>\n  return\n}\n",
			want: "unknown type",
		},
		{
			name: "missing func keyword",
			src:  "module @f {}\n",
			want: `expected "func"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src, testRegistry{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPrintIsCanonicalAfterRebuild(t *testing.T) {
	src := `func @main -> tensor<8xf32> {
  %0 = constant iota : tensor<8xf32>
  %1 = add %0, %0 : tensor<8xf32>
  return %1 : tensor<8xf32>
}
`
	g1, err := Parse(src, nil)
	require.NoError(t, err)
	g2, err := Parse(Print(g1), nil)
	require.NoError(t, err)
	assert.Equal(t, ir.ModuleFingerprint(g1), ir.ModuleFingerprint(g2))
}
