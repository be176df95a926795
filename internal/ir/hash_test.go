package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splatFunc(name string, splat float64) *Graph {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func(name, []Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	b.Return(b.Splat(vec, splat))
	return g
}

func TestModuleFingerprintDeterminism(t *testing.T) {
	fp1 := ModuleFingerprint(splatFunc("main", 1))
	fp2 := ModuleFingerprint(splatFunc("main", 1))

	assert.Equal(t, fp1, fp2, "structurally identical modules share a fingerprint")
	assert.Len(t, fp1, 64, "SHA-256 hex is 64 characters")
}

func TestModuleFingerprintChangesWithContent(t *testing.T) {
	base := ModuleFingerprint(splatFunc("main", 1))

	assert.NotEqual(t, base, ModuleFingerprint(splatFunc("main", 2)), "different constants differ")
	assert.NotEqual(t, base, ModuleFingerprint(splatFunc("other", 1)), "different symbols differ")
}

func TestModuleFingerprintChangesAfterRewrite(t *testing.T) {
	g := splatFunc("main", 1)
	before := ModuleFingerprint(g)

	fn := g.Root().Ops()[0]
	ret := fn.Body().Terminator()
	b := BuilderBefore(ret)
	barrier := b.Barrier(ret.Operands[0])
	g.ReplaceUsesWithin(ret, ret.Operands[0], barrier)

	assert.NotEqual(t, before, ModuleFingerprint(g))
}

func TestFingerprintIgnoresValueNumbering(t *testing.T) {
	// Two adds over operands created in different orders hash the same:
	// only opcode, types, and attributes enter the encoding.
	build := func(reversed bool) (*Graph, *Operation) {
		g := NewGraph()
		b := g.NewBuilder()
		vec := VectorType{Dims: []int64{4}, Elem: F32}
		fn := b.Func("main", []Type{vec})
		b.SetInsertionPointToStart(fn.Body())
		lhs := b.Splat(vec, 1)
		rhs := b.Splat(vec, 2)
		if reversed {
			lhs, rhs = rhs, lhs
		}
		sum := b.Add(lhs, rhs)
		b.Return(sum)
		return g, g.DefiningOp(sum)
	}

	g1, add1 := build(false)
	g2, add2 := build(true)
	assert.Equal(t, Fingerprint(g1, add1), Fingerprint(g2, add2))
}

func TestFingerprintNormalizesSymbols(t *testing.T) {
	// Same symbol in composed and decomposed Unicode forms.
	composed := splatFunc("caf\u00e9", 1)
	decomposed := splatFunc("cafe\u0301", 1)

	require.NotEqual(t,
		composed.Root().Ops()[0].Sym,
		decomposed.Root().Ops()[0].Sym, "raw symbols differ byte-wise")
	assert.Equal(t, ModuleFingerprint(composed), ModuleFingerprint(decomposed),
		"NFC normalization unifies them")
}

func TestFingerprintCoversRegions(t *testing.T) {
	g := NewGraph()
	b := g.NewBuilder()
	vec := VectorType{Dims: []int64{4}, Elem: F32}
	fn := b.Func("main", []Type{vec})
	b.SetInsertionPointToStart(fn.Body())
	init := b.Splat(vec, 0)
	loop := b.For(0, 4, 1, []Value{init})
	b.SetInsertionPointToStart(loop.Body())
	b.Yield(loop.IterArgs()[0])
	b.SetInsertionPointAfter(loop)
	b.Return(loop.Results[0])

	before := Fingerprint(g, loop)

	// Changing the loop body changes the loop's own fingerprint.
	yield := loop.Body().Terminator()
	bb := BuilderBefore(yield)
	doubled := bb.Add(loop.IterArgs()[0], loop.IterArgs()[0])
	g.ReplaceUsesWithin(yield, loop.IterArgs()[0], doubled)

	assert.NotEqual(t, before, Fingerprint(g, loop))
}
