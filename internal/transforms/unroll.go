package transforms

import (
	"fmt"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// UnrollOptions tunes contraction unrolling.
type UnrollOptions struct {
	// TargetShape is the per-dimension tile of the iteration space each
	// unrolled contraction covers. Empty means one native tile per step:
	// all ones.
	TargetShape []int64

	// TraversalOrder enumerates the tile index space. Each entry is one
	// point of the ratio space (iteration shape divided by TargetShape).
	// Nil means row-major order. The enumeration must cover the ratio
	// space exactly once; anything else breaks work conservation and
	// panics.
	TraversalOrder func(ratio []int64) [][]int64
}

// UnrollContraction splits a register-semantics contraction with a
// non-trivial iteration space into one contraction per tile of the
// target shape, accumulating partial results through the tiles that
// share an accumulator region and reassembling the independent results
// into the full accumulator shape.
type UnrollContraction struct {
	Options UnrollOptions
}

// Name implements rewrite.Pattern.
func (UnrollContraction) Name() string { return "unroll-contraction" }

// Anchor implements rewrite.Pattern.
func (UnrollContraction) Anchor() ir.Opcode { return ir.OpContract }

// Apply implements rewrite.Pattern.
func (p UnrollContraction) Apply(g *ir.Graph, op *ir.Operation) error {
	if op.HasTensorSemantics(g) {
		return rewrite.Declinef(p.Name(), op, "operands have buffer semantics")
	}
	shape, ok := op.ShapeForUnroll(g)
	if !ok || len(shape) == 0 {
		return rewrite.Declinef(p.Name(), op, "no iteration space to unroll")
	}
	target := p.Options.TargetShape
	if target == nil {
		target = make([]int64, len(shape))
		for i := range target {
			target[i] = 1
		}
	}
	if len(target) != len(shape) {
		return rewrite.Declinef(p.Name(), op, "target shape rank %d does not match iteration rank %d",
			len(target), len(shape))
	}
	ratio := make([]int64, len(shape))
	trivial := true
	for d := range shape {
		if target[d] <= 0 || shape[d]%target[d] != 0 {
			return rewrite.Declinef(p.Name(), op, "extent %d of d%d not divisible by tile %d",
				shape[d], d, target[d])
		}
		ratio[d] = shape[d] / target[d]
		if ratio[d] != 1 {
			trivial = false
		}
	}
	if trivial {
		return rewrite.Declinef(p.Name(), op, "iteration space already a single tile")
	}

	traverse := p.Options.TraversalOrder
	if traverse == nil {
		traverse = DefaultTraversal
	}
	order := traverse(ratio)
	if int64(len(order)) != product(ratio) {
		panic(fmt.Sprintf("traversal order yields %d tiles for a %d-tile space", len(order), product(ratio)))
	}

	b := ir.BuilderBefore(op)
	lhs, rhs, acc := op.ContractLhs(), op.ContractRhs(), op.ContractAcc()
	lhsMap, rhsMap, accMap := op.IndexMaps[0], op.IndexMaps[1], op.IndexMaps[2]

	// Tiles sharing an accumulator region chain through it: the second
	// visit of an accumulator offset consumes the first visit's partial
	// result instead of re-reading the original accumulator.
	partials := make(map[string]ir.Value)
	var accOrder [][]int64
	for _, idx := range order {
		off := make([]int64, len(idx))
		for d := range idx {
			off[d] = idx[d] * target[d]
		}
		ls := extractTile(b, g, lhs, lhsMap, off, target)
		rs := extractTile(b, g, rhs, rhsMap, off, target)

		accOff := accMap.Apply(off)
		key := offsetKey(accOff)
		accIn, seen := partials[key]
		if !seen {
			accIn = extractTile(b, g, acc, accMap, off, target)
			accOrder = append(accOrder, accOff)
		}
		partials[key] = b.CloneContract(op, ls, rs, accIn, g.ValueType(accIn))
	}

	resType := g.ValueType(op.Result(0)).(ir.VectorType)
	var out ir.Value
	if len(accMap.Outputs) == 0 {
		// Fully reduced: one chained partial covers the whole result.
		out = partials[offsetKey(nil)]
	} else {
		accRatio := accMap.Apply(ratio)
		if int64(len(accOrder)) != product(accRatio) {
			panic(fmt.Sprintf("unrolled tiles cover %d accumulator regions of %d", len(accOrder), product(accRatio)))
		}
		out = b.Splat(resType, 0)
		for _, accOff := range accOrder {
			out = b.VectorInsertSlice(partials[offsetKey(accOff)], out, accOff)
		}
	}
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}

// DefaultTraversal enumerates a tile index space in row-major order.
func DefaultTraversal(ratio []int64) [][]int64 {
	n := product(ratio)
	out := make([][]int64, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, ir.DelinearizeIndex(i, ratio))
	}
	return out
}

// extractTile slices one operand tile: the iteration-space offset and
// tile shape are projected through the operand's map onto its outer
// dimensions, and the native inner dimensions are kept whole.
func extractTile(b *ir.Builder, g *ir.Graph, operand ir.Value, m ir.IndexMap, off, target []int64) ir.Value {
	if len(m.Outputs) == 0 {
		return operand
	}
	return b.VectorExtractSlice(operand, m.Apply(off), m.Apply(target))
}

func offsetKey(off []int64) string {
	return fmt.Sprint(off)
}
