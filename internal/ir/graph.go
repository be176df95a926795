package ir

import (
	"fmt"
	"slices"
)

// OpID is a stable handle to an operation in the graph arena.
type OpID int

// Value is a stable handle to a typed SSA value: either a result of an
// operation or an argument of a region.
type Value int

// NoValue is the zero handle used for absent values.
const NoValue Value = -1

// InvalidOp is the zero handle used for absent operations.
const InvalidOp OpID = -1

// Use identifies one operand slot that reads a value.
type Use struct {
	Owner OpID
	Slot  int
}

// Graph is the arena owning all operations and values of one program.
// Operations are created through a Builder and destroyed only by explicit
// Erase; values are referenced by stable handles; use-lists are
// index-based adjacency maintained incrementally on every replace and
// erase.
type Graph struct {
	ops  []*Operation
	vals []*valueRec
	root *Region
}

type valueRec struct {
	typ    Type
	def    OpID    // defining op, or InvalidOp for region arguments
	defIdx int     // result index within the defining op
	owner  *Region // owning region for region arguments
	argIdx int
	uses   []Use
	dead   bool
}

// Region is an explicit owned sub-scope: an ordered operation list with
// declared block arguments bound to caller-supplied values at inlining
// or execution time.
type Region struct {
	g     *Graph
	owner OpID // owning operation, InvalidOp for the root region
	args  []Value
	ops   []OpID
}

// NewGraph creates an empty graph with a root region.
func NewGraph() *Graph {
	g := &Graph{}
	g.root = &Region{g: g, owner: InvalidOp}
	return g
}

// Root returns the top-level region holding func operations.
func (g *Graph) Root() *Region { return g.root }

// Op resolves an operation handle. Returns nil for erased operations.
func (g *Graph) Op(id OpID) *Operation {
	if id < 0 || int(id) >= len(g.ops) {
		return nil
	}
	return g.ops[id]
}

// ValueType returns the type of a value.
func (g *Graph) ValueType(v Value) Type {
	return g.val(v).typ
}

// DefiningOp returns the operation defining v, or nil if v is a region
// argument.
func (g *Graph) DefiningOp(v Value) *Operation {
	rec := g.val(v)
	if rec.def == InvalidOp {
		return nil
	}
	return g.ops[rec.def]
}

// ResultIndex returns the result position of v within its defining op.
// Only meaningful when DefiningOp(v) is non-nil.
func (g *Graph) ResultIndex(v Value) int {
	return g.val(v).defIdx
}

// ArgOwner returns the region owning v as a block argument along with its
// argument index, or (nil, -1) if v is an operation result.
func (g *Graph) ArgOwner(v Value) (*Region, int) {
	rec := g.val(v)
	if rec.owner == nil {
		return nil, -1
	}
	return rec.owner, rec.argIdx
}

// Uses returns a copy of the use-list of v in deterministic order.
func (g *Graph) Uses(v Value) []Use {
	rec := g.val(v)
	uses := slices.Clone(rec.uses)
	slices.SortFunc(uses, func(a, b Use) int {
		if a.Owner != b.Owner {
			return int(a.Owner - b.Owner)
		}
		return a.Slot - b.Slot
	})
	return uses
}

// HasUses reports whether any operand slot reads v.
func (g *Graph) HasUses(v Value) bool {
	return len(g.val(v).uses) > 0
}

// ReplaceAllUses atomically redirects every use of old to new. After the
// call no operand slot references old.
func (g *Graph) ReplaceAllUses(old, new Value) {
	g.ReplaceAllUsesExcept(old, new)
}

// ReplaceAllUsesExcept redirects every use of old to new, skipping uses
// owned by the listed operations.
func (g *Graph) ReplaceAllUsesExcept(old, new Value, except ...*Operation) {
	if old == new {
		return
	}
	skip := make(map[OpID]bool, len(except))
	for _, op := range except {
		skip[op.id] = true
	}
	for _, use := range g.Uses(old) {
		if skip[use.Owner] {
			continue
		}
		g.setOperand(g.ops[use.Owner], use.Slot, new)
	}
}

// ReplaceUsesWithin replaces occurrences of old in op's operand list with
// new. Other users of old are untouched.
func (g *Graph) ReplaceUsesWithin(op *Operation, old, new Value) {
	for slot, operand := range op.Operands {
		if operand == old {
			g.setOperand(op, slot, new)
		}
	}
}

// Erase removes an operation from the graph. Its results must have no
// remaining uses; nested regions are erased recursively. Erasing an
// already-erased operation panics: that indicates a rewrite applying a
// partial edit twice.
func (g *Graph) Erase(op *Operation) {
	if g.ops[op.id] == nil {
		panic(fmt.Sprintf("erase of already-erased op %d", op.id))
	}
	for _, res := range op.Results {
		if g.HasUses(res) {
			panic(fmt.Sprintf("erase of %s with live uses of result", op.Opcode))
		}
	}
	for _, r := range op.Regions {
		for _, inner := range r.Ops() {
			g.Erase(inner)
		}
		for _, arg := range r.args {
			g.vals[arg].dead = true
		}
	}
	for slot := range op.Operands {
		g.dropUse(op, slot)
	}
	for _, res := range op.Results {
		g.vals[res].dead = true
	}
	op.parent.remove(op.id)
	g.ops[op.id] = nil
}

// MoveBefore relocates op so that it immediately precedes before. The two
// operations may live in different regions.
func (g *Graph) MoveBefore(op, before *Operation) {
	op.parent.remove(op.id)
	dst := before.parent
	idx := dst.indexOf(before.id)
	dst.ops = slices.Insert(dst.ops, idx, op.id)
	op.parent = dst
}

// InlineRegionBefore moves every operation of region before the given
// operation, substituting the region's block arguments with the supplied
// replacement values. The region is left empty.
func (g *Graph) InlineRegionBefore(region *Region, before *Operation, replacements []Value) {
	if len(replacements) != len(region.args) {
		panic(fmt.Sprintf("inline expects %d replacements for %d block arguments",
			len(region.args), len(replacements)))
	}
	for i, arg := range region.args {
		g.ReplaceAllUses(arg, replacements[i])
	}
	for _, id := range slices.Clone(region.ops) {
		g.MoveBefore(g.ops[id], before)
	}
	region.ops = region.ops[:0]
}

// Ops returns the live operations of the region in program order.
func (r *Region) Ops() []*Operation {
	out := make([]*Operation, 0, len(r.ops))
	for _, id := range r.ops {
		if op := r.g.ops[id]; op != nil {
			out = append(out, op)
		}
	}
	return out
}

// NumOps returns the number of live operations in the region.
func (r *Region) NumOps() int { return len(r.ops) }

// Args returns the region's block arguments.
func (r *Region) Args() []Value { return slices.Clone(r.args) }

// Arg returns the i-th block argument.
func (r *Region) Arg(i int) Value { return r.args[i] }

// NumArgs returns the number of block arguments.
func (r *Region) NumArgs() int { return len(r.args) }

// AddArg appends a block argument of the given type.
func (r *Region) AddArg(t Type) Value {
	v := r.g.newValue(t)
	rec := r.g.vals[v]
	rec.def = InvalidOp
	rec.owner = r
	rec.argIdx = len(r.args)
	r.args = append(r.args, v)
	return v
}

// Owner returns the operation owning this region, or nil for the root.
func (r *Region) Owner() *Operation {
	if r.owner == InvalidOp {
		return nil
	}
	return r.g.ops[r.owner]
}

// Terminator returns the last operation of the region, or nil when empty.
func (r *Region) Terminator() *Operation {
	for i := len(r.ops) - 1; i >= 0; i-- {
		if op := r.g.ops[r.ops[i]]; op != nil {
			return op
		}
	}
	return nil
}

func (r *Region) indexOf(id OpID) int {
	idx := slices.Index(r.ops, id)
	if idx < 0 {
		panic(fmt.Sprintf("op %d not in its recorded region", id))
	}
	return idx
}

func (r *Region) remove(id OpID) {
	r.ops = slices.Delete(r.ops, r.indexOf(id), r.indexOf(id)+1)
}

// Walk visits every live operation under the region in program order,
// recursing into nested regions before continuing with later siblings.
func (r *Region) Walk(fn func(*Operation)) {
	for _, op := range r.Ops() {
		fn(op)
		for _, nested := range op.Regions {
			nested.Walk(fn)
		}
	}
}

func (g *Graph) val(v Value) *valueRec {
	if v < 0 || int(v) >= len(g.vals) {
		panic(fmt.Sprintf("invalid value handle %d", v))
	}
	return g.vals[v]
}

func (g *Graph) newValue(t Type) Value {
	g.vals = append(g.vals, &valueRec{typ: t, def: InvalidOp})
	return Value(len(g.vals) - 1)
}

func (g *Graph) setOperand(op *Operation, slot int, v Value) {
	g.dropUse(op, slot)
	op.Operands[slot] = v
	g.addUse(v, op, slot)
}

func (g *Graph) addUse(v Value, op *Operation, slot int) {
	rec := g.val(v)
	rec.uses = append(rec.uses, Use{Owner: op.id, Slot: slot})
}

func (g *Graph) dropUse(op *Operation, slot int) {
	rec := g.val(op.Operands[slot])
	for i, u := range rec.uses {
		if u.Owner == op.id && u.Slot == slot {
			rec.uses = slices.Delete(rec.uses, i, i+1)
			return
		}
	}
	panic(fmt.Sprintf("use-list for value %d missing slot %d of op %d", op.Operands[slot], slot, op.id))
}
