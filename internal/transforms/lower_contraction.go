package transforms

import (
	"fmt"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// LowerContraction replaces a register-semantics contraction whose
// iteration space is fully unrolled away with the concrete native
// instruction of its kind, shape-casting operands into the native
// register layout and the result back out.
type LowerContraction struct{}

// Name implements rewrite.Pattern.
func (LowerContraction) Name() string { return "lower-contraction" }

// Anchor implements rewrite.Pattern.
func (LowerContraction) Anchor() ir.Opcode { return ir.OpContract }

// Apply implements rewrite.Pattern.
func (p LowerContraction) Apply(g *ir.Graph, op *ir.Operation) error {
	if op.HasTensorSemantics(g) {
		return rewrite.Declinef(p.Name(), op, "operands have buffer semantics")
	}
	if len(op.Iterators) != 0 {
		return rewrite.Declinef(p.Name(), op, "iteration space not fully unrolled")
	}
	if op.Kind == nil {
		return rewrite.Declinef(p.Name(), op, "no native kind attached")
	}

	lt, rt, at := ir.ABCVectorTypes(op.Kind)
	b := ir.BuilderBefore(op)
	lhs := b.VectorShapeCast(lt, op.ContractLhs())
	rhs := b.VectorShapeCast(rt, op.ContractRhs())
	acc := b.VectorShapeCast(at, op.ContractAcc())

	res, err := op.Kind.BuildInstruction(b, lhs, rhs, acc)
	if err != nil {
		// The operand shapes were verified against the kind's advertised
		// native shapes, so a build failure means the catalog entry
		// contradicts itself.
		panic(fmt.Sprintf("catalog kind %s rejected its own native shapes: %v", op.Kind.Name(), err))
	}
	out := b.VectorShapeCast(g.ValueType(op.Result(0)).(ir.VectorType), res)
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}
