package transforms

import (
	"slices"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// FuseForall merges a producer forall into the consumer forall that
// reads a slice of its shared result, turning the handoff into a
// shuffle region inside the consumer.
//
// The anchor is the slice extraction inside the consumer body whose
// source is the producer's result. After fusion the producer is gone:
// its body runs inside the consumer under remapped induction variables,
// its parallel insert becomes the shuffle's data description, and the
// extraction chain moves into the shuffle body.
type FuseForall struct{}

// Name implements rewrite.Pattern.
func (FuseForall) Name() string { return "fuse-forall" }

// Anchor implements rewrite.Pattern.
func (FuseForall) Anchor() ir.Opcode { return ir.OpSliceExtract }

// Apply implements rewrite.Pattern.
func (p FuseForall) Apply(g *ir.Graph, op *ir.Operation) error {
	producer := g.DefiningOp(op.Operands[0])
	if producer == nil || producer.Opcode != ir.OpForall {
		return rewrite.Declinef(p.Name(), op, "source is not a forall result")
	}
	consumer := op.ParentOp()
	if consumer == nil || consumer.Opcode != ir.OpForall {
		return rewrite.Declinef(p.Name(), op, "extraction is not inside a forall")
	}
	return fuseForall(p.Name(), g, producer, consumer, []*ir.Operation{op})
}

// FuseForallWithChain fuses producer into consumer through an explicit
// operation chain ending in the slice extraction that reads the
// producer's result. The chain moves into the shuffle body, with its
// reads of the producer result redirected to the synchronized
// destination argument.
func FuseForallWithChain(g *ir.Graph, producer, consumer *ir.Operation, chain []*ir.Operation) error {
	return fuseForall("fuse-forall", g, producer, consumer, chain)
}

func fuseForall(rule string, g *ir.Graph, producer, consumer *ir.Operation, chain []*ir.Operation) error {
	// Preconditions. Everything is checked before the first mutation so a
	// decline leaves the graph untouched.
	if len(chain) == 0 {
		return rewrite.Declinef(rule, consumer, "empty fusion chain")
	}
	slice := chain[len(chain)-1]
	if slice.Opcode != ir.OpSliceExtract {
		return rewrite.Declinef(rule, slice, "chain must end in a slice extraction")
	}
	for _, link := range chain {
		if link.Parent() != consumer.Body() {
			return rewrite.Declinef(rule, link, "chain operation is outside the consumer body")
		}
	}
	if producer.NumResults() != 1 {
		return rewrite.Declinef(rule, producer, "producer carries %d shared outputs, need exactly 1", producer.NumResults())
	}
	if !normalizedBounds(producer) || !normalizedBounds(consumer) {
		return rewrite.Declinef(rule, producer, "loop bounds are not static with zero lower bound and unit step")
	}
	pUBs := producer.StaticUB
	cUBs := consumer.StaticUB
	if product(pUBs) != product(cUBs) {
		return rewrite.Declinef(rule, producer, "worker counts differ: %d vs %d", product(pUBs), product(cUBs))
	}
	if !slices.Equal(producer.Mapping, consumer.Mapping) {
		return rewrite.Declinef(rule, producer, "producer and consumer mapping descriptors differ")
	}
	if !homogeneousMapping(producer.Mapping) {
		return rewrite.Declinef(rule, producer, "worker mapping mixes thread and warp dimensions")
	}
	produced := producer.Result(0)
	inChain := make(map[ir.OpID]bool, len(chain))
	for _, link := range chain {
		inChain[link.ID()] = true
	}
	for _, use := range g.Uses(produced) {
		if !inChain[use.Owner] {
			return rewrite.Declinef(rule, producer, "producer result escapes the fusion chain")
		}
	}

	// Remap the consumer's worker identity into the producer's iteration
	// space: flatten, then split under the producer's bounds.
	b := ir.BuilderBefore(slice)
	id := b.Linearize(consumer.InductionVars(), cUBs)
	pIVs := b.Delinearize(id, pUBs)

	term := producer.Body().Terminator()
	init := producer.ForallOuts()[0]
	g.InlineRegionBefore(producer.Body(), slice, append(pIVs, init))

	// The inlined parallel insert describes where each worker's tile
	// lands; the shuffle takes over that description and synchronizes the
	// exchange.
	b.SetInsertionPointBefore(slice)
	shuffle := b.Shuffle(g.ValueType(slice.Result(0)),
		term.Operands[0], term.Operands[1],
		term.MixedOffsets(), term.MixedSizes(), term.MixedStrides())

	by := ir.BuilderAtEnd(g, shuffle.Body())
	yield := by.Yield(slice.Result(0))
	for _, link := range chain {
		g.MoveBefore(link, yield)
		g.ReplaceUsesWithin(link, produced, shuffle.Body().Arg(0))
	}
	g.ReplaceAllUsesExcept(slice.Result(0), shuffle.Result(0), yield)

	g.Erase(term)
	g.Erase(producer)
	return nil
}

// normalizedBounds reports whether a forall has fully static bounds with
// zero lower bounds and unit steps.
func normalizedBounds(op *ir.Operation) bool {
	if slices.Contains(op.StaticUB, ir.DynamicSize) {
		return false
	}
	return ir.AllConst(op.MixedLowerBounds(), 0) && ir.AllConst(op.MixedSteps(), 1)
}

// homogeneousMapping reports whether every mapping tag names the same
// worker kind.
func homogeneousMapping(mapping []ir.MappingTag) bool {
	if len(mapping) == 0 {
		return true
	}
	for _, m := range mapping[1:] {
		if m.Kind != mapping[0].Kind {
			return false
		}
	}
	return true
}

func product(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
