package transforms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// runPatterns drives the patterns to fixpoint and verifies the result.
func runPatterns(t *testing.T, g *ir.Graph, patterns ...rewrite.Pattern) int {
	t.Helper()
	applied, err := rewrite.NewDriver(patterns).Run(context.Background(), g)
	require.NoError(t, err)
	require.Empty(t, g.Verify())
	return applied
}

// countOps counts operations of one opcode across the whole graph.
func countOps(g *ir.Graph, code ir.Opcode) int {
	n := 0
	for _, fn := range g.Root().Ops() {
		fn.Body().Walk(func(op *ir.Operation) {
			if op.Opcode == code {
				n++
			}
		})
	}
	return n
}

// findOp returns the first operation of one opcode in program order, or
// nil.
func findOp(g *ir.Graph, code ir.Opcode) *ir.Operation {
	var found *ir.Operation
	for _, fn := range g.Root().Ops() {
		fn.Body().Walk(func(op *ir.Operation) {
			if found == nil && op.Opcode == code {
				found = op
			}
		})
	}
	return found
}

func statics(vals ...int64) []ir.Mixed {
	out := make([]ir.Mixed, len(vals))
	for i, v := range vals {
		out[i] = ir.Static(v)
	}
	return out
}

func repeatMixed(v int64, n int) []ir.Mixed {
	out := make([]ir.Mixed, n)
	for i := range out {
		out[i] = ir.Static(v)
	}
	return out
}
