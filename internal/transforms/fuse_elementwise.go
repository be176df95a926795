package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// FuseElementwise sinks an elementwise addition through the slice
// extraction that reads it: the slice of the sum becomes the sum of the
// operand slices, recomputed at the extraction site. When the original
// addition loses its last reader it is removed, so the full-size
// intermediate never materializes.
type FuseElementwise struct{}

// Name implements rewrite.Pattern.
func (FuseElementwise) Name() string { return "fuse-elementwise" }

// Anchor implements rewrite.Pattern.
func (FuseElementwise) Anchor() ir.Opcode { return ir.OpSliceExtract }

// Apply implements rewrite.Pattern.
func (p FuseElementwise) Apply(g *ir.Graph, op *ir.Operation) error {
	add := g.DefiningOp(op.Operands[0])
	if add == nil || add.Opcode != ir.OpAdd {
		return rewrite.Declinef(p.Name(), op, "source is not an elementwise addition")
	}
	if _, ok := g.ValueType(add.Result(0)).(ir.TensorType); !ok {
		return rewrite.Declinef(p.Name(), op, "addition is not buffer-semantics")
	}

	resType := g.ValueType(op.Result(0))
	offsets, sizes, strides := op.MixedOffsets(), op.MixedSizes(), op.MixedStrides()
	b := ir.BuilderBefore(op)
	lhs := b.SliceExtract(resType, add.Operands[0], offsets, sizes, strides)
	rhs := b.SliceExtract(resType, add.Operands[1], offsets, sizes, strides)
	sum := b.Add(lhs, rhs)
	g.ReplaceAllUses(op.Result(0), sum)
	g.Erase(op)
	if !g.HasUses(add.Result(0)) {
		g.Erase(add)
	}
	return nil
}
