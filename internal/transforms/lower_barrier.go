package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// LowerBarrier replaces a register-semantics value barrier with the
// concrete synchronization primitive, forwarding the value unchanged.
// Buffer-semantics barriers are left for shuffle lowering, which owns
// the write/read ordering around shared destinations.
type LowerBarrier struct{}

// Name implements rewrite.Pattern.
func (LowerBarrier) Name() string { return "lower-barrier" }

// Anchor implements rewrite.Pattern.
func (LowerBarrier) Anchor() ir.Opcode { return ir.OpBarrier }

// Apply implements rewrite.Pattern.
func (p LowerBarrier) Apply(g *ir.Graph, op *ir.Operation) error {
	if op.HasTensorSemantics(g) {
		return rewrite.Declinef(p.Name(), op, "barrier value has buffer semantics")
	}
	b := ir.BuilderBefore(op)
	b.Sync()
	g.ReplaceAllUses(op.Result(0), op.Operands[0])
	g.Erase(op)
	return nil
}
