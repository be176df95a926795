package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// TileElementwise distributes a buffer-semantics elementwise addition
// over workers: a forall over the tile grid where each worker extracts
// its operand tiles, adds them, and inserts the sum into a shared
// destination.
type TileElementwise struct {
	// Sizes is the per-dimension tile shape. Every dimension is tiled;
	// sizes must divide the operand extents.
	Sizes []int64
	// Mapping assigns the loop dimensions to workers.
	Mapping []ir.MappingTag
}

// Name implements rewrite.Pattern.
func (TileElementwise) Name() string { return "tile-elementwise" }

// Anchor implements rewrite.Pattern.
func (TileElementwise) Anchor() ir.Opcode { return ir.OpAdd }

// Apply implements rewrite.Pattern.
func (p TileElementwise) Apply(g *ir.Graph, op *ir.Operation) error {
	t, ok := g.ValueType(op.Result(0)).(ir.TensorType)
	if !ok {
		return rewrite.Declinef(p.Name(), op, "not a buffer-semantics addition")
	}
	if !t.HasStaticShape() {
		return rewrite.Declinef(p.Name(), op, "operand shape is dynamic")
	}
	if len(p.Sizes) != t.Rank() {
		return rewrite.Declinef(p.Name(), op, "tile rank %d does not match operand rank %d", len(p.Sizes), t.Rank())
	}
	for d, size := range p.Sizes {
		if size <= 0 || t.Dims[d]%size != 0 {
			return rewrite.Declinef(p.Name(), op, "extent %d of d%d not divisible by tile %d", t.Dims[d], d, size)
		}
	}
	if op.ParentOp() != nil && op.ParentOp().Opcode == ir.OpForall {
		return rewrite.Declinef(p.Name(), op, "already distributed")
	}

	b := ir.BuilderBefore(op)
	dest := b.Empty(t)
	bounds := make([]ir.Mixed, t.Rank())
	zeros := make([]ir.Mixed, t.Rank())
	ones := make([]ir.Mixed, t.Rank())
	for d := range bounds {
		bounds[d] = ir.Static(t.Dims[d] / p.Sizes[d])
		zeros[d] = ir.Static(0)
		ones[d] = ir.Static(1)
	}
	loop := b.Forall(zeros, bounds, ones, p.Mapping, []ir.Value{dest})

	bb := ir.BuilderAtEnd(g, loop.Body())
	tile := ir.TensorType{Dims: p.Sizes, Elem: t.Elem}
	offsets := make([]ir.Mixed, t.Rank())
	sizes := make([]ir.Mixed, t.Rank())
	strides := make([]ir.Mixed, t.Rank())
	for d, iv := range loop.InductionVars() {
		offsets[d] = ir.Dynamic(bb.MulI(iv, bb.ConstantIndex(p.Sizes[d])))
		sizes[d] = ir.Static(p.Sizes[d])
		strides[d] = ir.Static(1)
	}
	lhs := bb.SliceExtract(tile, op.Operands[0], offsets, sizes, strides)
	rhs := bb.SliceExtract(tile, op.Operands[1], offsets, sizes, strides)
	sum := bb.Add(lhs, rhs)
	bb.ParallelInsert(sum, loop.SharedArgs()[0], offsets, sizes, strides)

	g.ReplaceAllUses(op.Result(0), loop.Result(0))
	g.Erase(op)
	return nil
}

// TileReduction splits the reduced dimension of a sum-reduction into a
// sequential loop carrying the accumulator. Reductions never distribute
// over workers: a requested worker mapping is ignored and the loop is
// always sequential.
type TileReduction struct {
	// Size is the reduction tile; it must divide the reduced extent.
	Size int64
	// Mapping is accepted for configuration symmetry and ignored.
	Mapping []ir.MappingTag
}

// Name implements rewrite.Pattern.
func (TileReduction) Name() string { return "tile-reduction" }

// Anchor implements rewrite.Pattern.
func (TileReduction) Anchor() ir.Opcode { return ir.OpReduce }

// Apply implements rewrite.Pattern.
func (p TileReduction) Apply(g *ir.Graph, op *ir.Operation) error {
	src, acc := op.Operands[0], op.Operands[1]
	t, ok := g.ValueType(src).(ir.TensorType)
	if !ok {
		return rewrite.Declinef(p.Name(), op, "not a buffer-semantics reduction")
	}
	if !t.HasStaticShape() {
		return rewrite.Declinef(p.Name(), op, "source shape is dynamic")
	}
	if len(op.Dims) != 1 {
		return rewrite.Declinef(p.Name(), op, "tiling handles a single reduced dimension, got %d", len(op.Dims))
	}
	red := op.Dims[0]
	if p.Size <= 0 || t.Dims[red]%p.Size != 0 {
		return rewrite.Declinef(p.Name(), op, "extent %d of d%d not divisible by tile %d", t.Dims[red], red, p.Size)
	}
	if t.Dims[red] == p.Size {
		return rewrite.Declinef(p.Name(), op, "reduced extent already a single tile")
	}

	b := ir.BuilderBefore(op)
	loop := b.For(0, t.Dims[red]/p.Size, 1, []ir.Value{acc})

	bb := ir.BuilderAtEnd(g, loop.Body())
	offsets := make([]ir.Mixed, t.Rank())
	sizes := make([]ir.Mixed, t.Rank())
	strides := make([]ir.Mixed, t.Rank())
	tileDims := make([]int64, t.Rank())
	for d := range offsets {
		offsets[d] = ir.Static(0)
		sizes[d] = ir.Static(t.Dims[d])
		strides[d] = ir.Static(1)
		tileDims[d] = t.Dims[d]
	}
	offsets[red] = ir.Dynamic(bb.MulI(loop.InductionVars()[0], bb.ConstantIndex(p.Size)))
	sizes[red] = ir.Static(p.Size)
	tileDims[red] = p.Size

	slab := bb.SliceExtract(ir.TensorType{Dims: tileDims, Elem: t.Elem}, src, offsets, sizes, strides)
	partial := bb.Reduce(slab, loop.IterArgs()[0], op.Dims)
	bb.Yield(partial)

	g.ReplaceAllUses(op.Result(0), loop.Result(0))
	g.Erase(op)
	return nil
}

// TileMatmulReduction splits a matmul's shared dimension into a
// sequential loop carrying the accumulator, one rank-preserving slab of
// each operand per step.
type TileMatmulReduction struct {
	// Size is the shared-dimension tile; it must divide the extent.
	Size int64
}

// Name implements rewrite.Pattern.
func (TileMatmulReduction) Name() string { return "tile-matmul-reduction" }

// Anchor implements rewrite.Pattern.
func (TileMatmulReduction) Anchor() ir.Opcode { return ir.OpMatmul }

// Apply implements rewrite.Pattern.
func (p TileMatmulReduction) Apply(g *ir.Graph, op *ir.Operation) error {
	lhs, rhs, acc := op.ContractLhs(), op.ContractRhs(), op.ContractAcc()
	lt, lok := g.ValueType(lhs).(ir.TensorType)
	rt, rok := g.ValueType(rhs).(ir.TensorType)
	if !lok || !rok {
		return rewrite.Declinef(p.Name(), op, "not a buffer-semantics matmul")
	}
	if !lt.HasStaticShape() || !rt.HasStaticShape() {
		return rewrite.Declinef(p.Name(), op, "operand shape is dynamic")
	}
	k := lt.Dims[1]
	if p.Size <= 0 || k%p.Size != 0 {
		return rewrite.Declinef(p.Name(), op, "shared extent %d not divisible by tile %d", k, p.Size)
	}
	if k == p.Size {
		return rewrite.Declinef(p.Name(), op, "shared extent already a single tile")
	}

	b := ir.BuilderBefore(op)
	loop := b.For(0, k/p.Size, 1, []ir.Value{acc})

	bb := ir.BuilderAtEnd(g, loop.Body())
	off := bb.MulI(loop.InductionVars()[0], bb.ConstantIndex(p.Size))
	zero := ir.Static(0)
	one := ir.Static(1)
	lSlab := bb.SliceExtract(ir.TensorType{Dims: []int64{lt.Dims[0], p.Size}, Elem: lt.Elem}, lhs,
		[]ir.Mixed{zero, ir.Dynamic(off)},
		[]ir.Mixed{ir.Static(lt.Dims[0]), ir.Static(p.Size)},
		[]ir.Mixed{one, one})
	rSlab := bb.SliceExtract(ir.TensorType{Dims: []int64{p.Size, rt.Dims[1]}, Elem: rt.Elem}, rhs,
		[]ir.Mixed{ir.Dynamic(off), zero},
		[]ir.Mixed{ir.Static(p.Size), ir.Static(rt.Dims[1])},
		[]ir.Mixed{one, one})
	partial := bb.Matmul(lSlab, rSlab, loop.IterArgs()[0])
	bb.Yield(partial)

	g.ReplaceAllUses(op.Result(0), loop.Result(0))
	g.Erase(op)
	return nil
}
