package ir

import (
	"fmt"
	"slices"
)

// Opcode is the tagged-variant operation discriminator. Per-opcode
// behavior lives in the capability table (opTable), dispatched on the tag.
type Opcode uint8

const (
	OpFunc Opcode = iota + 1
	OpReturn
	OpConstant
	OpEmpty
	OpAdd
	OpMulI
	OpAddI
	OpReduce
	OpMatmul
	OpContract
	OpMma
	OpForall
	OpParallelInsert
	OpFor
	OpYield
	OpShuffle
	OpBarrier
	OpSync
	OpSliceExtract
	OpSliceInsert
	OpVectorRead
	OpVectorWrite
	OpVectorExtractSlice
	OpVectorInsertSlice
	OpVectorDropLead
	OpVectorBroadcast
	OpVectorShapeCast
	OpLinearize
	OpDelinearize
)

// ConstKind distinguishes constant payloads.
type ConstKind uint8

const (
	// ConstSplat fills every element with one scalar value.
	ConstSplat ConstKind = iota + 1
	// ConstIota fills element i (row-major) with the value i.
	ConstIota
	// ConstIndex is a scalar index constant.
	ConstIndex
)

// WorkerKind tags one dimension of a parallel mapping descriptor.
type WorkerKind uint8

const (
	// Thread maps a loop dimension to linear thread ids.
	Thread WorkerKind = iota + 1
	// Warp maps a loop dimension to warp ids.
	Warp
)

// String returns the printed worker kind.
func (k WorkerKind) String() string {
	switch k {
	case Thread:
		return "thread"
	case Warp:
		return "warp"
	default:
		return fmt.Sprintf("worker(%d)", uint8(k))
	}
}

// MappingTag is one entry of a forall mapping descriptor, e.g. thread(0).
type MappingTag struct {
	Kind WorkerKind
	Dim  int
}

// String returns the printed form, e.g. "thread(0)".
func (m MappingTag) String() string {
	return fmt.Sprintf("%s(%d)", m.Kind, m.Dim)
}

// MmaKind describes one native hardware contraction instruction: its
// element type triple, its native tile shape triple, and a builder
// capability emitting the concrete instruction. Implementations live in
// the instruction catalog; this package never constructs them.
type MmaKind interface {
	// Name returns the catalog name, e.g. "mfma_f32_16x16x16_f16".
	Name() string
	// ElementTypes returns the (lhs, rhs, acc) element type triple.
	ElementTypes() (ScalarType, ScalarType, ScalarType)
	// OperandShapes returns the native (lhs, rhs, acc) register shapes
	// consumed by one instruction invocation.
	OperandShapes() (lhs, rhs, acc []int64)
	// BuildInstruction emits the concrete instruction for operands that
	// already have the native register types, returning its result. An
	// error here for advertised shapes is a catalog inconsistency; callers
	// treat it as fatal.
	BuildInstruction(b *Builder, lhs, rhs, acc Value) (Value, error)
}

// ABCVectorTypes returns the native register types of a kind's operands.
func ABCVectorTypes(kind MmaKind) (VectorType, VectorType, VectorType) {
	lt, rt, at := kind.ElementTypes()
	ls, rs, as := kind.OperandShapes()
	return VectorType{Dims: ls, Elem: lt},
		VectorType{Dims: rs, Elem: rt},
		VectorType{Dims: as, Elem: at}
}

// Mixed is one entry of a mixed static/dynamic index list: either a
// static int64 or an SSA value of index type.
type Mixed struct {
	static int64
	val    Value
}

// Static wraps a compile-time constant entry.
func Static(v int64) Mixed { return Mixed{static: v, val: NoValue} }

// Dynamic wraps an SSA value entry.
func Dynamic(v Value) Mixed { return Mixed{static: DynamicSize, val: v} }

// IsStatic reports whether the entry is a compile-time constant.
func (m Mixed) IsStatic() bool { return m.val == NoValue }

// StaticValue returns the constant entry. Panics on dynamic entries.
func (m Mixed) StaticValue() int64 {
	if !m.IsStatic() {
		panic("mixed entry is dynamic")
	}
	return m.static
}

// DynamicValue returns the SSA value entry. Panics on static entries.
func (m Mixed) DynamicValue() Value {
	if m.IsStatic() {
		panic("mixed entry is static")
	}
	return m.val
}

// IsConst reports whether the entry is static and equal to c.
func (m Mixed) IsConst(c int64) bool { return m.IsStatic() && m.static == c }

// AllConst reports whether every entry of the list is static and equal
// to c.
func AllConst(list []Mixed, c int64) bool {
	for _, m := range list {
		if !m.IsConst(c) {
			return false
		}
	}
	return true
}

// StaticsOf splits a mixed list into its static image (dynamic entries
// become the DynamicSize sentinel) and the dynamic values in order.
func StaticsOf(list []Mixed) (statics []int64, dyns []Value) {
	statics = make([]int64, len(list))
	for i, m := range list {
		if m.IsStatic() {
			statics[i] = m.static
		} else {
			statics[i] = DynamicSize
			dyns = append(dyns, m.val)
		}
	}
	return statics, dyns
}

func countDynamic(statics []int64) int {
	n := 0
	for _, s := range statics {
		if s == DynamicSize {
			n++
		}
	}
	return n
}

// Operation is one node of the program graph: an opcode, ordered typed
// operands and results, named attributes, and zero or more owned regions.
type Operation struct {
	id     OpID
	Opcode Opcode

	Operands []Value
	Results  []Value
	Regions  []*Region
	parent   *Region

	// Attributes. Which fields are meaningful depends on the opcode; the
	// printer and verifier treat unused fields as absent.
	IndexMaps []IndexMap     // contract: one per operand
	Iterators []IteratorKind // contract: one per iteration dimension
	Kind      MmaKind        // contract, mma

	StaticLB   []int64 // forall, for
	StaticUB   []int64
	StaticStep []int64

	Mapping []MappingTag // forall worker mapping descriptor

	StaticOffsets []int64 // slice-like ops, DynamicSize marks dynamic entries
	StaticSizes   []int64
	StaticStrides []int64

	Bounds []int64 // linearize, delinearize
	Dims   []int64 // reduce: reduction dimensions

	ConstKind ConstKind
	Splat     float64 // constant: splat value
	Int       int64   // constant index payload; vector.drop_lead dim count

	Sym         string // func name
	FuncResults []Type // func result signature
}

// ID returns the operation's stable handle.
func (op *Operation) ID() OpID { return op.id }

// Parent returns the region containing the operation.
func (op *Operation) Parent() *Region { return op.parent }

// ParentOp returns the operation owning the containing region, or nil at
// the root.
func (op *Operation) ParentOp() *Operation { return op.parent.Owner() }

// Graph returns the owning graph.
func (op *Operation) Graph() *Graph { return op.parent.g }

// Result returns the i-th result value.
func (op *Operation) Result(i int) Value { return op.Results[i] }

// NumResults returns the result count.
func (op *Operation) NumResults() int { return len(op.Results) }

// Body returns the single owned region of region-carrying ops.
func (op *Operation) Body() *Region { return op.Regions[0] }

// IsTerminator reports whether the opcode terminates a region.
func (op *Operation) IsTerminator() bool {
	switch op.Opcode {
	case OpReturn, OpYield, OpParallelInsert:
		return true
	}
	return false
}

// String returns the opcode mnemonic.
func (c Opcode) String() string {
	if info, ok := opTable[c]; ok {
		return info.name
	}
	return fmt.Sprintf("opcode(%d)", uint8(c))
}

// OpcodeFromString parses an opcode mnemonic.
func OpcodeFromString(s string) (Opcode, bool) {
	for code, info := range opTable {
		if info.name == s {
			return code, true
		}
	}
	return 0, false
}

type opInfo struct {
	name       string
	numRegions int
	// verify holds per-opcode structural checks beyond the generic ones.
	verify func(g *Graph, op *Operation) error
}

var opTable = map[Opcode]opInfo{
	OpFunc:               {name: "func", numRegions: 1, verify: verifyFunc},
	OpReturn:             {name: "return"},
	OpConstant:           {name: "constant", verify: verifyConstant},
	OpEmpty:              {name: "empty"},
	OpAdd:                {name: "add", verify: verifyAdd},
	OpMulI:               {name: "muli", verify: verifyIndexArith},
	OpAddI:               {name: "addi", verify: verifyIndexArith},
	OpReduce:             {name: "reduce", verify: verifyReduce},
	OpMatmul:             {name: "matmul", verify: verifyMatmul},
	OpContract:           {name: "contract", verify: verifyContract},
	OpMma:                {name: "mma", verify: verifyMma},
	OpForall:             {name: "forall", numRegions: 1, verify: verifyForall},
	OpParallelInsert:     {name: "parallel_insert", verify: verifyParallelInsert},
	OpFor:                {name: "for", numRegions: 1, verify: verifyFor},
	OpYield:              {name: "yield"},
	OpShuffle:            {name: "shuffle", numRegions: 1, verify: verifyShuffle},
	OpBarrier:            {name: "barrier", verify: verifyBarrier},
	OpSync:               {name: "sync"},
	OpSliceExtract:       {name: "slice.extract", verify: verifySliceExtract},
	OpSliceInsert:        {name: "slice.insert", verify: verifySliceInsert},
	OpVectorRead:         {name: "vector.read", verify: verifyVectorRead},
	OpVectorWrite:        {name: "vector.write", verify: verifyVectorWrite},
	OpVectorExtractSlice: {name: "vector.extract_slice"},
	OpVectorInsertSlice:  {name: "vector.insert_slice"},
	OpVectorDropLead:     {name: "vector.drop_lead"},
	OpVectorBroadcast:    {name: "vector.broadcast"},
	OpVectorShapeCast:    {name: "vector.shape_cast", verify: verifyShapeCast},
	OpLinearize:          {name: "linearize"},
	OpDelinearize:        {name: "delinearize"},
}

// Operand accessor conventions. Each opcode documents its operand layout
// in the Builder constructor; these helpers recover structured views.

// mixedList reconstructs a mixed list from its static image, taking
// dynamic values from op.Operands starting at dynStart.
func (op *Operation) mixedList(statics []int64, dynStart int) []Mixed {
	out := make([]Mixed, len(statics))
	d := dynStart
	for i, s := range statics {
		if s == DynamicSize {
			out[i] = Dynamic(op.Operands[d])
			d++
		} else {
			out[i] = Static(s)
		}
	}
	return out
}

// sliceDynStart returns the operand index where a slice-like op's dynamic
// offset entries begin.
func (op *Operation) sliceDynStart() int {
	switch op.Opcode {
	case OpSliceExtract:
		return 1
	case OpSliceInsert, OpParallelInsert, OpShuffle:
		return 2
	}
	panic(fmt.Sprintf("%s carries no offset/size/stride lists", op.Opcode))
}

// MixedOffsets returns the offset list of a slice-like operation.
func (op *Operation) MixedOffsets() []Mixed {
	return op.mixedList(op.StaticOffsets, op.sliceDynStart())
}

// MixedSizes returns the size list of a slice-like operation.
func (op *Operation) MixedSizes() []Mixed {
	start := op.sliceDynStart() + countDynamic(op.StaticOffsets)
	return op.mixedList(op.StaticSizes, start)
}

// MixedStrides returns the stride list of a slice-like operation.
func (op *Operation) MixedStrides() []Mixed {
	start := op.sliceDynStart() + countDynamic(op.StaticOffsets) + countDynamic(op.StaticSizes)
	return op.mixedList(op.StaticStrides, start)
}

// ForallRank returns the number of loop dimensions of a forall.
func (op *Operation) ForallRank() int { return len(op.StaticUB) }

// MixedLowerBounds returns the forall lower bound list.
func (op *Operation) MixedLowerBounds() []Mixed {
	return op.mixedList(op.StaticLB, 0)
}

// MixedUpperBounds returns the forall upper bound list.
func (op *Operation) MixedUpperBounds() []Mixed {
	return op.mixedList(op.StaticUB, countDynamic(op.StaticLB))
}

// MixedSteps returns the forall step list.
func (op *Operation) MixedSteps() []Mixed {
	return op.mixedList(op.StaticStep, countDynamic(op.StaticLB)+countDynamic(op.StaticUB))
}

// ForallOuts returns the shared output operands of a forall.
func (op *Operation) ForallOuts() []Value {
	n := countDynamic(op.StaticLB) + countDynamic(op.StaticUB) + countDynamic(op.StaticStep)
	return slices.Clone(op.Operands[n:])
}

// InductionVars returns the induction-variable block arguments of a
// forall or for operation.
func (op *Operation) InductionVars() []Value {
	switch op.Opcode {
	case OpForall:
		return op.Body().args[:op.ForallRank()]
	case OpFor:
		return op.Body().args[:1]
	}
	panic(fmt.Sprintf("%s has no induction variables", op.Opcode))
}

// SharedArgs returns the shared-output block arguments of a forall.
func (op *Operation) SharedArgs() []Value {
	return op.Body().args[op.ForallRank():]
}

// IterArgs returns the carried block arguments of a for loop.
func (op *Operation) IterArgs() []Value {
	return op.Body().args[1:]
}

// ContractLhs returns the lhs operand of a contract, matmul, or mma.
func (op *Operation) ContractLhs() Value { return op.Operands[0] }

// ContractRhs returns the rhs operand of a contract, matmul, or mma.
func (op *Operation) ContractRhs() Value { return op.Operands[1] }

// ContractAcc returns the accumulator operand of a contract, matmul, or
// mma.
func (op *Operation) ContractAcc() Value { return op.Operands[2] }

// ShuffleSource returns the source operand of a shuffle.
func (op *Operation) ShuffleSource() Value { return op.Operands[0] }

// ShuffleDest returns the destination operand of a shuffle.
func (op *Operation) ShuffleDest() Value { return op.Operands[1] }

// OuterRank returns the number of leading operand dimensions covered by
// the operand's index map: rank minus the inner native dims.
func (op *Operation) OuterRank(g *Graph, operandIdx int) int {
	return len(op.IndexMaps[operandIdx].Outputs)
}

// InnerShape returns the trailing native dims of a contract operand.
func (op *Operation) InnerShape(g *Graph, operandIdx int) []int64 {
	shape, _ := ShapeOf(g.ValueType(op.Operands[operandIdx]))
	return shape[op.OuterRank(g, operandIdx):]
}

// HasTensorSemantics reports whether a contract, shuffle, or barrier
// operates on buffer-semantics (tensor) values.
func (op *Operation) HasTensorSemantics(g *Graph) bool {
	for _, v := range op.Operands {
		if _, ok := g.ValueType(v).(TensorType); ok {
			return true
		}
	}
	for _, v := range op.Results {
		if _, ok := g.ValueType(v).(TensorType); ok {
			return true
		}
	}
	return false
}

// IterationBounds derives the per-dimension iteration extents of a
// contract: reduction dims are sized from the lhs outer shape, parallel
// dims from the accumulator outer shape. Returns an error when a
// dimension is not covered by the relevant map; the verifier rejects
// such ops.
func (op *Operation) IterationBounds(g *Graph) ([]int64, error) {
	if op.Opcode != OpContract {
		return nil, fmt.Errorf("%s has no iteration bounds", op.Opcode)
	}
	lhsShape, _ := ShapeOf(g.ValueType(op.ContractLhs()))
	accShape, _ := ShapeOf(g.ValueType(op.ContractAcc()))
	bounds := make([]int64, len(op.Iterators))
	for d, kind := range op.Iterators {
		if kind == Reduction {
			idx := op.IndexMaps[0].ResultIndex(d)
			if idx < 0 {
				return nil, fmt.Errorf("reduction dimension d%d not covered by lhs map", d)
			}
			bounds[d] = lhsShape[idx]
			continue
		}
		idx := op.IndexMaps[2].ResultIndex(d)
		if idx < 0 {
			return nil, fmt.Errorf("parallel dimension d%d not covered by accumulator map", d)
		}
		bounds[d] = accShape[idx]
	}
	return bounds, nil
}

// ShapeForUnroll returns the iteration-space shape the unroller tiles, or
// false when the opcode does not support unrolling.
func (op *Operation) ShapeForUnroll(g *Graph) ([]int64, bool) {
	if op.Opcode != OpContract {
		return nil, false
	}
	bounds, err := op.IterationBounds(g)
	if err != nil {
		return nil, false
	}
	return bounds, true
}
