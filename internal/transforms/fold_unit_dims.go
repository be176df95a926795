package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// FoldUnitDims strips the all-unit outer iteration space of a
// register-semantics contraction: the leading unit dimensions of every
// operand are dropped, the contraction is rebuilt over the bare native
// tiles with an empty iteration space, and the result is broadcast back
// to its original unit-extended shape.
type FoldUnitDims struct{}

// Name implements rewrite.Pattern.
func (FoldUnitDims) Name() string { return "fold-unit-dims" }

// Anchor implements rewrite.Pattern.
func (FoldUnitDims) Anchor() ir.Opcode { return ir.OpContract }

// Apply implements rewrite.Pattern.
func (p FoldUnitDims) Apply(g *ir.Graph, op *ir.Operation) error {
	if op.HasTensorSemantics(g) {
		return rewrite.Declinef(p.Name(), op, "operands have buffer semantics")
	}
	bounds, err := op.IterationBounds(g)
	if err != nil {
		return rewrite.Declinef(p.Name(), op, "unresolvable iteration bounds: %v", err)
	}
	if len(bounds) == 0 {
		return rewrite.Declinef(p.Name(), op, "iteration space already empty")
	}
	for d, bound := range bounds {
		if bound != 1 {
			return rewrite.Declinef(p.Name(), op, "iteration dimension d%d has extent %d", d, bound)
		}
	}

	b := ir.BuilderBefore(op)
	operands := [3]ir.Value{op.ContractLhs(), op.ContractRhs(), op.ContractAcc()}
	var bare [3]ir.Value
	for i, v := range operands {
		bare[i] = b.VectorDropLead(v, int64(op.OuterRank(g, i)))
	}
	emptyMaps := []ir.IndexMap{{}, {}, {}}
	res := b.Contract(bare[0], bare[1], bare[2], emptyMaps, nil, op.Kind)
	out := res
	if resType := g.ValueType(op.Result(0)).(ir.VectorType); !ir.TypeEqual(g.ValueType(res), resType) {
		out = b.VectorBroadcast(resType, res)
	}
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}
