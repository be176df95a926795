package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/ir"
)

// buildFusionProgram builds a producer forall over pShape writing
// 8-element tiles of a 64-element buffer, and a consumer forall over
// cShape reading one tile per worker.
func buildFusionProgram(pShape, cShape []int64, pMapping, cMapping []ir.MappingTag) *ir.Graph {
	g := ir.NewGraph()
	b := g.NewBuilder()
	big := ir.TensorType{Dims: []int64{64}, Elem: ir.F32}
	tile := ir.TensorType{Dims: []int64{8}, Elem: ir.F32}
	fn := b.Func("main", []ir.Type{big})
	b.SetInsertionPointToStart(fn.Body())

	pInit := b.Empty(big)
	cInit := b.Empty(big)

	pUBs := make([]ir.Mixed, len(pShape))
	for i, s := range pShape {
		pUBs[i] = ir.Static(s)
	}
	producer := b.Forall(repeatMixed(0, len(pShape)), pUBs, repeatMixed(1, len(pShape)),
		pMapping, []ir.Value{pInit})
	pb := ir.BuilderAtEnd(g, producer.Body())
	worker := pb.Linearize(producer.InductionVars(), pShape)
	pOff := pb.MulI(worker, pb.ConstantIndex(8))
	src := pb.Iota(tile)
	pb.ParallelInsert(src, producer.SharedArgs()[0],
		[]ir.Mixed{ir.Dynamic(pOff)}, statics(8), statics(1))

	cUBs := make([]ir.Mixed, len(cShape))
	for i, s := range cShape {
		cUBs[i] = ir.Static(s)
	}
	consumer := b.Forall(repeatMixed(0, len(cShape)), cUBs, repeatMixed(1, len(cShape)),
		cMapping, []ir.Value{cInit})
	cb := ir.BuilderAtEnd(g, consumer.Body())
	cWorker := cb.Linearize(consumer.InductionVars(), cShape)
	cOff := cb.MulI(cWorker, cb.ConstantIndex(8))
	read := cb.SliceExtract(tile, producer.Result(0),
		[]ir.Mixed{ir.Dynamic(cOff)}, statics(8), statics(1))
	sum := cb.Add(read, read)
	cb.ParallelInsert(sum, consumer.SharedArgs()[0],
		[]ir.Mixed{ir.Dynamic(cOff)}, statics(8), statics(1))

	b.Return(consumer.Result(0))
	return g
}

func threads(dims ...int) []ir.MappingTag {
	out := make([]ir.MappingTag, len(dims))
	for i, d := range dims {
		out[i] = ir.MappingTag{Kind: ir.Thread, Dim: d}
	}
	return out
}

func TestFuseForall(t *testing.T) {
	g := buildFusionProgram([]int64{2, 4}, []int64{4, 2}, threads(0, 1), threads(0, 1))
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FuseForall{})
	assert.Equal(t, 1, applied)

	// The producer is gone; its body now runs inside the consumer.
	assert.Equal(t, 1, countOps(g, ir.OpForall))
	assert.Equal(t, 1, countOps(g, ir.OpShuffle))
	assert.Equal(t, 1, countOps(g, ir.OpParallelInsert), "only the consumer terminator remains")

	// The consumer's worker identity is re-split under the producer's
	// iteration shape.
	delin := findOp(g, ir.OpDelinearize)
	require.NotNil(t, delin)
	assert.Equal(t, []int64{2, 4}, delin.Bounds)

	// The extraction moved into the shuffle body and reads the
	// synchronized destination.
	shuffle := findOp(g, ir.OpShuffle)
	var extract *ir.Operation
	shuffle.Body().Walk(func(op *ir.Operation) {
		if op.Opcode == ir.OpSliceExtract {
			extract = op
		}
	})
	require.NotNil(t, extract)
	assert.Equal(t, shuffle.Body().Arg(0), extract.Operands[0])

	// The consumer's addition now reads the shuffle result.
	add := findOp(g, ir.OpAdd)
	require.NotNil(t, add)
	assert.Equal(t, shuffle.Result(0), add.Operands[0])
}

func TestFuseForallIsFixpoint(t *testing.T) {
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(0), threads(0))
	runPatterns(t, g, FuseForall{})
	before := ir.ModuleFingerprint(g)

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
	assert.Equal(t, before, ir.ModuleFingerprint(g))
}

func TestFuseForallDeclinesWorkerKindMismatch(t *testing.T) {
	warp := []ir.MappingTag{{Kind: ir.Warp, Dim: 0}}
	g := buildFusionProgram([]int64{8}, []int64{8}, warp, threads(0))
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
	assert.Equal(t, 2, countOps(g, ir.OpForall))
}

func TestFuseForallDeclinesMixedMapping(t *testing.T) {
	mixed := []ir.MappingTag{{Kind: ir.Thread, Dim: 0}, {Kind: ir.Warp, Dim: 1}}
	g := buildFusionProgram([]int64{2, 4}, []int64{2, 4}, mixed, mixed)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
	assert.Equal(t, 2, countOps(g, ir.OpForall))
}

func TestFuseForallDeclinesMappingDimMismatch(t *testing.T) {
	// Same worker kind and trip count, but the loops distribute over
	// different mapping dimensions.
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(1), threads(0))
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
	assert.Equal(t, 2, countOps(g, ir.OpForall))
}

func TestFuseForallDeclinesWorkerCountMismatch(t *testing.T) {
	g := buildFusionProgram([]int64{4}, []int64{8}, threads(0), threads(0))
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
}

func TestFuseForallDeclinesEscapingResult(t *testing.T) {
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(0), threads(0))
	// A second reader outside the consumer keeps the producer alive.
	var producer *ir.Operation
	for _, op := range g.Root().Ops()[0].Body().Ops() {
		if op.Opcode == ir.OpForall {
			producer = op
			break
		}
	}
	require.NotNil(t, producer)
	ret := g.Root().Ops()[0].Body().Terminator()
	b := ir.BuilderBefore(ret)
	b.Add(producer.Result(0), producer.Result(0))

	applied := runPatterns(t, g, FuseForall{})
	assert.Zero(t, applied)
}

func TestLowerShuffle(t *testing.T) {
	g := buildFusionProgram([]int64{8}, []int64{8}, threads(0), threads(0))
	runPatterns(t, g, FuseForall{})

	applied := runPatterns(t, g, LowerShuffle{})
	assert.Equal(t, 1, applied)
	assert.Zero(t, countOps(g, ir.OpShuffle))

	// The protocol: insert the worker's tile, barrier, read, barrier.
	assert.Equal(t, 1, countOps(g, ir.OpSliceInsert))
	assert.Equal(t, 2, countOps(g, ir.OpBarrier))

	// The write barrier orders the insert; the extraction reads the
	// synchronized buffer.
	insert := findOp(g, ir.OpSliceInsert)
	barrier := findOp(g, ir.OpBarrier)
	require.NotNil(t, barrier)
	assert.Equal(t, insert.Result(0), barrier.Operands[0])
	extract := findOp(g, ir.OpSliceExtract)
	require.NotNil(t, extract)
	assert.Equal(t, barrier.Result(0), extract.Operands[0])
}

func TestLowerShuffleDeclinesUnterminatedBody(t *testing.T) {
	g := ir.NewGraph()
	b := g.NewBuilder()
	big := ir.TensorType{Dims: []int64{16}, Elem: ir.F32}
	tile := ir.TensorType{Dims: []int64{8}, Elem: ir.F32}
	fn := b.Func("main", []ir.Type{tile})
	b.SetInsertionPointToStart(fn.Body())
	shuffle := b.Shuffle(tile, b.Iota(tile), b.Empty(big),
		statics(0), statics(8), statics(1))
	b.Return(shuffle.Result(0))

	applied := runPatterns(t, g, LowerShuffle{})
	assert.Zero(t, applied)
	assert.Equal(t, 1, countOps(g, ir.OpShuffle))
}

func TestLowerBarrierOnRegisters(t *testing.T) {
	g := ir.NewGraph()
	b := g.NewBuilder()
	vec := ir.VectorType{Dims: []int64{4}, Elem: ir.F32}
	fn := b.Func("main", []ir.Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	v := b.Splat(vec, 1)
	synced := b.Barrier(v)
	b.Return(synced)
	require.Empty(t, g.Verify())

	applied := runPatterns(t, g, LowerBarrier{})
	assert.Equal(t, 1, applied)
	assert.Zero(t, countOps(g, ir.OpBarrier))
	assert.Equal(t, 1, countOps(g, ir.OpSync))

	// The value passes through untouched.
	ret := g.Root().Ops()[0].Body().Terminator()
	assert.Equal(t, v, ret.Operands[0])
}

func TestLowerBarrierKeepsBufferBarriers(t *testing.T) {
	g := ir.NewGraph()
	b := g.NewBuilder()
	buf := ir.TensorType{Dims: []int64{4}, Elem: ir.F32}
	fn := b.Func("main", []ir.Type{buf})
	b.SetInsertionPointToStart(fn.Body())
	v := b.Empty(buf)
	synced := b.Barrier(v)
	b.Return(synced)

	applied := runPatterns(t, g, LowerBarrier{})
	assert.Zero(t, applied)
	assert.Equal(t, 1, countOps(g, ir.OpBarrier))
}
