package ir

import (
	"fmt"
	"slices"
)

// Builder creates operations at an insertion point inside a region.
// Every created operation is inserted before the point, which then
// advances past it.
type Builder struct {
	g      *Graph
	region *Region
	idx    int
}

// NewBuilder returns a builder inserting at the end of the root region.
func (g *Graph) NewBuilder() *Builder {
	return &Builder{g: g, region: g.root, idx: len(g.root.ops)}
}

// BuilderBefore returns a builder inserting immediately before op.
func BuilderBefore(op *Operation) *Builder {
	r := op.parent
	return &Builder{g: r.g, region: r, idx: r.indexOf(op.id)}
}

// BuilderAtEnd returns a builder inserting at the end of region.
func BuilderAtEnd(g *Graph, region *Region) *Builder {
	return &Builder{g: g, region: region, idx: len(region.ops)}
}

// Graph returns the graph the builder creates into.
func (b *Builder) Graph() *Graph { return b.g }

// Region returns the region the builder inserts into.
func (b *Builder) Region() *Region { return b.region }

// SetInsertionPointBefore moves the insertion point before op.
func (b *Builder) SetInsertionPointBefore(op *Operation) {
	b.region = op.parent
	b.idx = b.region.indexOf(op.id)
}

// SetInsertionPointAfter moves the insertion point after op.
func (b *Builder) SetInsertionPointAfter(op *Operation) {
	b.region = op.parent
	b.idx = b.region.indexOf(op.id) + 1
}

// SetInsertionPointAfterValue moves the insertion point after the
// operation defining v, or to the start of v's owning region when v is a
// block argument.
func (b *Builder) SetInsertionPointAfterValue(v Value) {
	if def := b.g.DefiningOp(v); def != nil {
		b.SetInsertionPointAfter(def)
		return
	}
	r, _ := b.g.ArgOwner(v)
	b.region = r
	b.idx = 0
}

// SetInsertionPointToStart moves the insertion point to the start of
// region.
func (b *Builder) SetInsertionPointToStart(region *Region) {
	b.region = region
	b.idx = 0
}

// SetInsertionPointToEnd moves the insertion point to the end of region,
// before its terminator if one exists.
func (b *Builder) SetInsertionPointToEnd(region *Region) {
	b.region = region
	b.idx = len(region.ops)
	if term := region.Terminator(); term != nil && term.IsTerminator() {
		b.idx = region.indexOf(term.id)
	}
}

func (b *Builder) create(code Opcode, operands []Value, resultTypes []Type) *Operation {
	op := &Operation{
		id:       OpID(len(b.g.ops)),
		Opcode:   code,
		Operands: slices.Clone(operands),
		parent:   b.region,
	}
	b.g.ops = append(b.g.ops, op)
	for slot, v := range op.Operands {
		b.g.addUse(v, op, slot)
	}
	for _, t := range resultTypes {
		v := b.g.newValue(t)
		rec := b.g.vals[v]
		rec.def = op.id
		rec.defIdx = len(op.Results)
		op.Results = append(op.Results, v)
	}
	for i := 0; i < opTable[code].numRegions; i++ {
		op.Regions = append(op.Regions, &Region{g: b.g, owner: op.id})
	}
	b.region.ops = slices.Insert(b.region.ops, b.idx, op.id)
	b.idx++
	return op
}

// Func creates a func operation with the given symbol name and result
// signature. Its body must be terminated with a matching Return.
func (b *Builder) Func(name string, results []Type) *Operation {
	op := b.create(OpFunc, nil, nil)
	op.Sym = name
	op.FuncResults = slices.Clone(results)
	return op
}

// Return creates the func body terminator.
func (b *Builder) Return(vals ...Value) *Operation {
	return b.create(OpReturn, vals, nil)
}

// Splat creates a constant filling t with one scalar value.
func (b *Builder) Splat(t Type, v float64) Value {
	op := b.create(OpConstant, nil, []Type{t})
	op.ConstKind = ConstSplat
	op.Splat = v
	return op.Results[0]
}

// Iota creates a constant filling t with the row-major element index.
func (b *Builder) Iota(t Type) Value {
	op := b.create(OpConstant, nil, []Type{t})
	op.ConstKind = ConstIota
	return op.Results[0]
}

// ConstantIndex creates a scalar index constant.
func (b *Builder) ConstantIndex(v int64) Value {
	op := b.create(OpConstant, nil, []Type{Index})
	op.ConstKind = ConstIndex
	op.Int = v
	return op.Results[0]
}

// Empty creates an uninitialized destination tensor.
func (b *Builder) Empty(t TensorType) Value {
	op := b.create(OpEmpty, nil, []Type{t})
	return op.Results[0]
}

// Add creates an elementwise addition of two identically typed values.
func (b *Builder) Add(lhs, rhs Value) Value {
	op := b.create(OpAdd, []Value{lhs, rhs}, []Type{b.g.ValueType(lhs)})
	return op.Results[0]
}

// MulI creates an index multiplication.
func (b *Builder) MulI(lhs, rhs Value) Value {
	op := b.create(OpMulI, []Value{lhs, rhs}, []Type{Index})
	return op.Results[0]
}

// AddI creates an index addition.
func (b *Builder) AddI(lhs, rhs Value) Value {
	op := b.create(OpAddI, []Value{lhs, rhs}, []Type{Index})
	return op.Results[0]
}

// Reduce creates a sum-reduction of src over the given dimensions,
// accumulating into acc. The result has acc's type.
func (b *Builder) Reduce(src, acc Value, dims []int64) Value {
	op := b.create(OpReduce, []Value{src, acc}, []Type{b.g.ValueType(acc)})
	op.Dims = slices.Clone(dims)
	return op.Results[0]
}

// Matmul creates a plain matrix multiplication acc + lhs*rhs over
// [m,k] x [k,n] -> [m,n] shapes.
func (b *Builder) Matmul(lhs, rhs, acc Value) Value {
	op := b.create(OpMatmul, []Value{lhs, rhs, acc}, []Type{b.g.ValueType(acc)})
	return op.Results[0]
}

// Contract creates a generalized multi-dimensional contraction with one
// index map per operand, one iterator kind per iteration dimension, and
// a native-kind descriptor. The result has the accumulator's type.
func (b *Builder) Contract(lhs, rhs, acc Value, maps []IndexMap, iters []IteratorKind, kind MmaKind) Value {
	op := b.create(OpContract, []Value{lhs, rhs, acc}, []Type{b.g.ValueType(acc)})
	op.IndexMaps = slices.Clone(maps)
	op.Iterators = slices.Clone(iters)
	op.Kind = kind
	return op.Results[0]
}

// Mma creates the concrete native instruction for one tile of the given
// kind. Operand types must equal the kind's native register types.
func (b *Builder) Mma(lhs, rhs, acc Value, kind MmaKind) Value {
	op := b.create(OpMma, []Value{lhs, rhs, acc}, []Type{b.g.ValueType(acc)})
	op.Kind = kind
	return op.Results[0]
}

// Forall creates a parallel loop over the mixed bounds with the given
// worker mapping and shared output operands. The body region is created
// with one index induction argument per dimension followed by one block
// argument per shared output; the caller fills the body and must
// terminate it with ParallelInsert (one shared output) or Yield (none).
//
// Operand layout: dynamic lower bounds, dynamic upper bounds, dynamic
// steps, shared outputs.
func (b *Builder) Forall(lbs, ubs, steps []Mixed, mapping []MappingTag, outs []Value) *Operation {
	staticLB, dynLB := StaticsOf(lbs)
	staticUB, dynUB := StaticsOf(ubs)
	staticStep, dynStep := StaticsOf(steps)
	operands := slices.Concat(dynLB, dynUB, dynStep, outs)
	resultTypes := make([]Type, len(outs))
	for i, out := range outs {
		resultTypes[i] = b.g.ValueType(out)
	}
	op := b.create(OpForall, operands, resultTypes)
	op.StaticLB = staticLB
	op.StaticUB = staticUB
	op.StaticStep = staticStep
	op.Mapping = slices.Clone(mapping)
	body := op.Body()
	for range ubs {
		body.AddArg(Index)
	}
	for _, out := range outs {
		body.AddArg(b.g.ValueType(out))
	}
	return op
}

// ParallelInsert creates the forall terminator inserting a computed slice
// into a shared destination at computed offsets.
//
// Operand layout: source, destination, dynamic offsets, dynamic sizes,
// dynamic strides.
func (b *Builder) ParallelInsert(src, dest Value, offsets, sizes, strides []Mixed) *Operation {
	op := b.create(OpParallelInsert, sliceOperands([]Value{src, dest}, offsets, sizes, strides), nil)
	setSliceStatics(op, offsets, sizes, strides)
	return op
}

// For creates a sequential loop with static bounds and carried values.
// The body region is created with the index induction argument followed
// by one block argument per carried value; the caller must terminate the
// body with a Yield of the next carried values.
func (b *Builder) For(lb, ub, step int64, inits []Value) *Operation {
	resultTypes := make([]Type, len(inits))
	for i, init := range inits {
		resultTypes[i] = b.g.ValueType(init)
	}
	op := b.create(OpFor, inits, resultTypes)
	op.StaticLB = []int64{lb}
	op.StaticUB = []int64{ub}
	op.StaticStep = []int64{step}
	body := op.Body()
	body.AddArg(Index)
	for _, init := range inits {
		body.AddArg(b.g.ValueType(init))
	}
	return op
}

// Yield creates a region terminator carrying values to the parent op.
func (b *Builder) Yield(vals ...Value) *Operation {
	return b.create(OpYield, vals, nil)
}

// Shuffle creates a cross-worker data exchange: source occupies the
// described portion of the shared destination, and the single-argument
// body (argument bound to the synchronized destination) derives the
// result. The body region is created with its destination-typed argument;
// the caller fills it and must terminate it with a Yield of result type.
//
// Operand layout: source, destination, dynamic offsets, dynamic sizes,
// dynamic strides.
func (b *Builder) Shuffle(result Type, src, dest Value, offsets, sizes, strides []Mixed) *Operation {
	op := b.create(OpShuffle, sliceOperands([]Value{src, dest}, offsets, sizes, strides), []Type{result})
	setSliceStatics(op, offsets, sizes, strides)
	op.Body().AddArg(b.g.ValueType(dest))
	return op
}

// Barrier creates an ordering point: one input, one output of identical
// type, no data transformation.
func (b *Builder) Barrier(in Value) Value {
	op := b.create(OpBarrier, []Value{in}, []Type{b.g.ValueType(in)})
	return op.Results[0]
}

// Sync creates the concrete cross-worker synchronization primitive.
func (b *Builder) Sync() *Operation {
	return b.create(OpSync, nil, nil)
}

// SliceExtract extracts a sub-range of a tensor. The result type is
// supplied explicitly to permit rank-reducing extraction.
func (b *Builder) SliceExtract(result Type, src Value, offsets, sizes, strides []Mixed) Value {
	op := b.create(OpSliceExtract, sliceOperands([]Value{src}, offsets, sizes, strides), []Type{result})
	setSliceStatics(op, offsets, sizes, strides)
	return op.Results[0]
}

// SliceInsert inserts src into dest at the described portion, producing
// the updated destination.
func (b *Builder) SliceInsert(src, dest Value, offsets, sizes, strides []Mixed) Value {
	op := b.create(OpSliceInsert, sliceOperands([]Value{src, dest}, offsets, sizes, strides),
		[]Type{b.g.ValueType(dest)})
	setSliceStatics(op, offsets, sizes, strides)
	return op.Results[0]
}

// VectorRead reads a statically shaped tensor into a register value at
// full extent. The shapes are static, so the conceptual zero padding
// never materializes.
func (b *Builder) VectorRead(result VectorType, src Value) Value {
	op := b.create(OpVectorRead, []Value{src}, []Type{result})
	return op.Results[0]
}

// VectorWrite writes a register value over a tensor at full extent,
// producing the updated tensor.
func (b *Builder) VectorWrite(vec, dest Value) Value {
	op := b.create(OpVectorWrite, []Value{vec, dest}, []Type{b.g.ValueType(dest)})
	return op.Results[0]
}

// VectorExtractSlice extracts a strided slice of the leading dimensions
// of a register value; trailing dimensions are kept whole. Offsets and
// sizes are static.
func (b *Builder) VectorExtractSlice(src Value, offsets, sizes []int64) Value {
	srcType := b.g.ValueType(src).(VectorType)
	dims := slices.Concat(sizes, srcType.Dims[len(sizes):])
	op := b.create(OpVectorExtractSlice, []Value{src}, []Type{VectorType{Dims: dims, Elem: srcType.Elem}})
	op.StaticOffsets = slices.Clone(offsets)
	op.StaticSizes = slices.Clone(sizes)
	return op.Results[0]
}

// VectorInsertSlice inserts src into the leading dimensions of dest at
// static offsets, producing the updated register value.
func (b *Builder) VectorInsertSlice(src, dest Value, offsets []int64) Value {
	op := b.create(OpVectorInsertSlice, []Value{src, dest}, []Type{b.g.ValueType(dest)})
	op.StaticOffsets = slices.Clone(offsets)
	return op.Results[0]
}

// VectorDropLead drops n leading unit dimensions of a register value.
func (b *Builder) VectorDropLead(src Value, n int64) Value {
	if n == 0 {
		return src
	}
	srcType := b.g.ValueType(src).(VectorType)
	op := b.create(OpVectorDropLead, []Value{src},
		[]Type{VectorType{Dims: slices.Clone(srcType.Dims[n:]), Elem: srcType.Elem}})
	op.Int = n
	return op.Results[0]
}

// VectorBroadcast broadcasts a register value to a result type with
// prepended unit dimensions.
func (b *Builder) VectorBroadcast(result VectorType, src Value) Value {
	op := b.create(OpVectorBroadcast, []Value{src}, []Type{result})
	return op.Results[0]
}

// VectorShapeCast reinterprets a register value as a result type with the
// same element count.
func (b *Builder) VectorShapeCast(result VectorType, src Value) Value {
	if TypeEqual(b.g.ValueType(src), result) {
		return src
	}
	op := b.create(OpVectorShapeCast, []Value{src}, []Type{result})
	return op.Results[0]
}

// Linearize folds multi-dimensional index values into one scalar worker
// id under the given per-dimension bounds, in row-major composition.
func (b *Builder) Linearize(ivs []Value, bounds []int64) Value {
	op := b.create(OpLinearize, ivs, []Type{Index})
	op.Bounds = slices.Clone(bounds)
	return op.Results[0]
}

// Delinearize splits a scalar worker id into per-dimension index values
// using the given bounds as mixed-radix ranges.
func (b *Builder) Delinearize(id Value, bounds []int64) []Value {
	resultTypes := make([]Type, len(bounds))
	for i := range bounds {
		resultTypes[i] = Index
	}
	op := b.create(OpDelinearize, []Value{id}, resultTypes)
	op.Bounds = slices.Clone(bounds)
	return slices.Clone(op.Results)
}

func sliceOperands(prefix []Value, offsets, sizes, strides []Mixed) []Value {
	_, dynOff := StaticsOf(offsets)
	_, dynSz := StaticsOf(sizes)
	_, dynStr := StaticsOf(strides)
	return slices.Concat(prefix, dynOff, dynSz, dynStr)
}

func setSliceStatics(op *Operation, offsets, sizes, strides []Mixed) {
	op.StaticOffsets, _ = StaticsOf(offsets)
	op.StaticSizes, _ = StaticsOf(sizes)
	op.StaticStrides, _ = StaticsOf(strides)
}

// CloneContract creates a copy of a contract operation with new operands
// and result type, keeping its maps, iterators, and kind.
func (b *Builder) CloneContract(op *Operation, lhs, rhs, acc Value, result Type) Value {
	if op.Opcode != OpContract {
		panic(fmt.Sprintf("CloneContract on %s", op.Opcode))
	}
	clone := b.create(OpContract, []Value{lhs, rhs, acc}, []Type{result})
	clone.IndexMaps = slices.Clone(op.IndexMaps)
	clone.Iterators = slices.Clone(op.Iterators)
	clone.Kind = op.Kind
	return clone.Results[0]
}
