package transforms

import (
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// VectorizeContraction moves a buffer-semantics contraction into
// registers: every operand is read at full extent, the contraction is
// rebuilt over register values, and the result is written back over the
// accumulator buffer.
type VectorizeContraction struct{}

// Name implements rewrite.Pattern.
func (VectorizeContraction) Name() string { return "vectorize-contraction" }

// Anchor implements rewrite.Pattern.
func (VectorizeContraction) Anchor() ir.Opcode { return ir.OpContract }

// Apply implements rewrite.Pattern.
func (p VectorizeContraction) Apply(g *ir.Graph, op *ir.Operation) error {
	if !op.HasTensorSemantics(g) {
		return rewrite.Declinef(p.Name(), op, "already in registers")
	}
	var tensors [3]ir.TensorType
	for i, v := range op.Operands[:3] {
		t, ok := g.ValueType(v).(ir.TensorType)
		if !ok {
			return rewrite.Declinef(p.Name(), op, "operand %d mixes register and buffer semantics", i)
		}
		if !t.HasStaticShape() {
			return rewrite.Declinef(p.Name(), op, "operand %d has dynamic shape", i)
		}
		tensors[i] = t
	}

	b := ir.BuilderBefore(op)
	var regs [3]ir.Value
	for i, v := range op.Operands[:3] {
		regs[i] = b.VectorRead(ir.VectorType{Dims: tensors[i].Dims, Elem: tensors[i].Elem}, v)
	}
	res := b.CloneContract(op, regs[0], regs[1], regs[2], g.ValueType(regs[2]))
	out := b.VectorWrite(res, op.ContractAcc())
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}

// VectorizeShuffle turns a buffer-semantics shuffle result into a
// register value: the rebuilt shuffle body reads its derived tile into
// registers before yielding, and the register result is written into a
// freshly allocated buffer for any remaining buffer-semantics users.
type VectorizeShuffle struct{}

// Name implements rewrite.Pattern.
func (VectorizeShuffle) Name() string { return "vectorize-shuffle" }

// Anchor implements rewrite.Pattern.
func (VectorizeShuffle) Anchor() ir.Opcode { return ir.OpShuffle }

// Apply implements rewrite.Pattern.
func (p VectorizeShuffle) Apply(g *ir.Graph, op *ir.Operation) error {
	resType, ok := g.ValueType(op.Result(0)).(ir.TensorType)
	if !ok {
		return rewrite.Declinef(p.Name(), op, "result already in registers")
	}
	if !resType.HasStaticShape() {
		return rewrite.Declinef(p.Name(), op, "result has dynamic shape")
	}
	vecType := ir.VectorType{Dims: resType.Dims, Elem: resType.Elem}

	b := ir.BuilderBefore(op)
	vec := b.Shuffle(vecType, op.ShuffleSource(), op.ShuffleDest(),
		op.MixedOffsets(), op.MixedSizes(), op.MixedStrides())

	oldYield := op.Body().Terminator()
	derived := oldYield.Operands[0]
	g.Erase(oldYield)

	by := ir.BuilderAtEnd(g, vec.Body())
	read := by.VectorRead(vecType, derived)
	by.Yield(read)
	g.InlineRegionBefore(op.Body(), g.DefiningOp(read), []ir.Value{vec.Body().Arg(0)})

	out := b.VectorWrite(vec.Result(0), b.Empty(resType))
	g.ReplaceAllUses(op.Result(0), out)
	g.Erase(op)
	return nil
}
