package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// LowerShuffle expands a shuffle into its synchronization protocol:
// every worker inserts its source tile into the shared destination, a
// barrier orders the writes before any read, the shuffle body runs over
// the synchronized destination, and a second barrier orders the reads
// before the destination is reused.
type LowerShuffle struct{}

// Name implements rewrite.Pattern.
func (LowerShuffle) Name() string { return "lower-shuffle" }

// Anchor implements rewrite.Pattern.
func (LowerShuffle) Anchor() ir.Opcode { return ir.OpShuffle }

// Apply implements rewrite.Pattern.
func (p LowerShuffle) Apply(g *ir.Graph, op *ir.Operation) error {
	yield := op.Body().Terminator()
	if yield == nil || len(yield.Operands) != 1 {
		return rewrite.Declinef(p.Name(), op, "shuffle body must yield exactly one value")
	}

	b := ir.BuilderBefore(op)
	written := b.SliceInsert(op.ShuffleSource(), op.ShuffleDest(),
		op.MixedOffsets(), op.MixedSizes(), op.MixedStrides())
	synced := b.Barrier(written)

	derived := yield.Operands[0]
	if derived == op.Body().Arg(0) {
		derived = synced
	}
	g.Erase(yield)
	g.InlineRegionBefore(op.Body(), op, []ir.Value{synced})

	b.SetInsertionPointBefore(op)
	out := b.Barrier(derived)
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}
