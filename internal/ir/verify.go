package ir

import (
	"fmt"
	"slices"
)

// Verification error codes (E100-E139).
const (
	// Structural errors (E100-E109)
	ErrMissingTerminator = "E100" // region lacks a terminator
	ErrBadTerminator     = "E101" // wrong terminator for the enclosing op
	ErrUseBeforeDef      = "E102" // operand not dominated by its definition
	ErrDeadOperand       = "E103" // operand references an erased value
	ErrTopLevelOp        = "E104" // non-func op at the root region

	// Type errors (E110-E119)
	ErrTypeMismatch   = "E110" // operand/result type disagreement
	ErrDynamicVector  = "E111" // register-semantics value with dynamic dims
	ErrElementType    = "E112" // element type does not match the native kind
	ErrDynamicInner   = "E113" // dynamic inner/native dimension
	ErrShapeMismatch  = "E114" // operand shape disagrees with iteration bounds
	ErrMixedSemantics = "E115" // buffer and register operands mixed illegally

	// Attribute errors (E120-E129)
	ErrIndexMapCount  = "E120" // contract without exactly 3 index maps
	ErrIndexMapArity  = "E121" // map input count != iteration dims
	ErrIndexMapRank   = "E122" // map outputs not fewer than operand rank
	ErrBoundsArity    = "E123" // forall bound lists of unequal length
	ErrMappingArity   = "E124" // mapping descriptor length != loop rank
	ErrSliceArity     = "E125" // offset/size/stride lists of unequal length
	ErrBadConstant    = "E126" // malformed constant payload
	ErrDestNotShared  = "E127" // parallel_insert dest is not a shared argument
	ErrYieldArity     = "E128" // yield operand count mismatch
	ErrRegionArity    = "E129" // wrong region argument count or types
)

// VerifyError reports one structural or type invariant breach, located by
// operation.
type VerifyError struct {
	Code    string
	Op      OpID
	Opcode  Opcode
	Message string
}

// Error implements the error interface.
func (e VerifyError) Error() string {
	return fmt.Sprintf("[%s] %%op%d (%s): %s", e.Code, e.Op, e.Opcode, e.Message)
}

func verr(op *Operation, code, format string, args ...any) VerifyError {
	return VerifyError{Code: code, Op: op.id, Opcode: op.Opcode, Message: fmt.Sprintf(format, args...)}
}

// Verify checks the whole graph: every op's operands are live and
// dominated by their definitions, regions are properly terminated, and
// per-opcode invariants hold. Returns all errors found (does not
// fail-fast).
func (g *Graph) Verify() []VerifyError {
	var errs []VerifyError
	for _, op := range g.root.Ops() {
		if op.Opcode != OpFunc {
			errs = append(errs, verr(op, ErrTopLevelOp, "only func may appear at the top level"))
		}
	}
	errs = append(errs, g.verifyRegionOps(g.root, make(map[Value]bool))...)
	return errs
}

// verifyRegionOps checks dominance and terminators within one region,
// recursing into nested regions. defined holds values visible from
// enclosing scopes.
func (g *Graph) verifyRegionOps(r *Region, defined map[Value]bool) []VerifyError {
	var errs []VerifyError
	local := make([]Value, 0, 8)
	define := func(v Value) {
		defined[v] = true
		local = append(local, v)
	}
	for _, arg := range r.args {
		define(arg)
	}
	ops := r.Ops()
	for i, op := range ops {
		for _, operand := range op.Operands {
			if g.val(operand).dead {
				errs = append(errs, verr(op, ErrDeadOperand, "operand references an erased value"))
			} else if !defined[operand] {
				errs = append(errs, verr(op, ErrUseBeforeDef, "operand %d used before definition", operand))
			}
		}
		if op.IsTerminator() && i != len(ops)-1 {
			errs = append(errs, verr(op, ErrBadTerminator, "terminator before end of region"))
		}
		for _, nested := range op.Regions {
			errs = append(errs, g.verifyRegionOps(nested, defined)...)
		}
		for _, res := range op.Results {
			define(res)
		}
		errs = append(errs, g.verifyOp(op)...)
	}
	for _, v := range local {
		delete(defined, v)
	}
	return errs
}

func (g *Graph) verifyOp(op *Operation) []VerifyError {
	var errs []VerifyError
	for _, res := range op.Results {
		if vt, ok := g.ValueType(res).(VectorType); ok && slices.Contains(vt.Dims, DynamicSize) {
			errs = append(errs, verr(op, ErrDynamicVector, "register-semantics result with dynamic dims"))
		}
	}
	if info := opTable[op.Opcode]; info.verify != nil {
		if err := info.verify(g, op); err != nil {
			if ve, ok := err.(VerifyError); ok {
				errs = append(errs, ve)
			} else {
				errs = append(errs, verr(op, ErrTypeMismatch, "%s", err))
			}
		}
	}
	return errs
}

func verifyFunc(g *Graph, op *Operation) error {
	term := op.Body().Terminator()
	if term == nil || term.Opcode != OpReturn {
		return verr(op, ErrMissingTerminator, "func body must end in return")
	}
	if len(term.Operands) != len(op.FuncResults) {
		return verr(term, ErrYieldArity, "return carries %d values, func declares %d",
			len(term.Operands), len(op.FuncResults))
	}
	for i, v := range term.Operands {
		if !TypeEqual(g.ValueType(v), op.FuncResults[i]) {
			return verr(term, ErrTypeMismatch, "return value %d has type %s, func declares %s",
				i, g.ValueType(v), op.FuncResults[i])
		}
	}
	return nil
}

func verifyConstant(g *Graph, op *Operation) error {
	t := g.ValueType(op.Results[0])
	switch op.ConstKind {
	case ConstIndex:
		if !TypeEqual(t, Index) {
			return verr(op, ErrBadConstant, "index constant with result type %s", t)
		}
	case ConstSplat, ConstIota:
		if !IsStaticShaped(t) {
			return verr(op, ErrBadConstant, "shaped constant requires a static shaped type, got %s", t)
		}
	default:
		return verr(op, ErrBadConstant, "unknown constant kind")
	}
	return nil
}

func verifyAdd(g *Graph, op *Operation) error {
	lt := g.ValueType(op.Operands[0])
	rt := g.ValueType(op.Operands[1])
	if !TypeEqual(lt, rt) {
		return verr(op, ErrTypeMismatch, "add operands differ: %s vs %s", lt, rt)
	}
	return nil
}

func verifyIndexArith(g *Graph, op *Operation) error {
	for i, v := range op.Operands {
		if !TypeEqual(g.ValueType(v), Index) {
			return verr(op, ErrTypeMismatch, "operand %d must be index, got %s", i, g.ValueType(v))
		}
	}
	return nil
}

func verifyReduce(g *Graph, op *Operation) error {
	srcShape, ok := ShapeOf(g.ValueType(op.Operands[0]))
	if !ok {
		return verr(op, ErrTypeMismatch, "reduce source must be shaped")
	}
	accShape, _ := ShapeOf(g.ValueType(op.Operands[1]))
	var kept []int64
	for d, size := range srcShape {
		if !slices.Contains(op.Dims, int64(d)) {
			kept = append(kept, size)
		}
	}
	if !slices.Equal(kept, accShape) {
		return verr(op, ErrShapeMismatch, "accumulator shape %v does not match kept dims %v", accShape, kept)
	}
	return nil
}

func verifyMatmul(g *Graph, op *Operation) error {
	ls, _ := ShapeOf(g.ValueType(op.Operands[0]))
	rs, _ := ShapeOf(g.ValueType(op.Operands[1]))
	as, _ := ShapeOf(g.ValueType(op.Operands[2]))
	if len(ls) != 2 || len(rs) != 2 || len(as) != 2 {
		return verr(op, ErrShapeMismatch, "matmul requires rank-2 operands")
	}
	if ls[1] != rs[0] || ls[0] != as[0] || rs[1] != as[1] {
		return verr(op, ErrShapeMismatch, "matmul shapes do not compose: %v x %v -> %v", ls, rs, as)
	}
	return nil
}

func verifyContract(g *Graph, op *Operation) error {
	if len(op.IndexMaps) != 3 {
		return verr(op, ErrIndexMapCount, "expected an index map for each operand, got %d", len(op.IndexMaps))
	}
	numIters := len(op.Iterators)
	for i, m := range op.IndexMaps {
		shape, ok := ShapeOf(g.ValueType(op.Operands[i]))
		if !ok {
			return verr(op, ErrTypeMismatch, "operand %d must be shaped", i)
		}
		if m.NumInputs != numIters {
			return verr(op, ErrIndexMapArity, "index map %d has %d inputs, expected %d", i, m.NumInputs, numIters)
		}
		if len(m.Outputs) >= len(shape) {
			return verr(op, ErrIndexMapRank, "index map %d must have fewer than %d outputs", i, len(shape))
		}
		for _, inner := range shape[len(m.Outputs):] {
			if inner == DynamicSize {
				return verr(op, ErrDynamicInner, "dynamic inner dim on operand %d", i)
			}
		}
	}
	bounds, err := op.IterationBounds(g)
	if err != nil {
		return verr(op, ErrIndexMapRank, "%s", err)
	}
	for i, m := range op.IndexMaps {
		shape, _ := ShapeOf(g.ValueType(op.Operands[i]))
		for outIdx, dim := range m.Outputs {
			if shape[outIdx] != bounds[dim] {
				return verr(op, ErrShapeMismatch,
					"operand %d outer dim %d is %d, iteration bounds require %d", i, outIdx, shape[outIdx], bounds[dim])
			}
		}
	}
	if op.Kind != nil {
		lt, rt, at := op.Kind.ElementTypes()
		for i, want := range []ScalarType{lt, rt, at} {
			if got := ElemOf(g.ValueType(op.Operands[i])); got != want {
				return verr(op, ErrElementType, "operand %d element type %s does not match %s expected by %s",
					i, got, want, op.Kind.Name())
			}
		}
	}
	return nil
}

func verifyMma(g *Graph, op *Operation) error {
	if op.Kind == nil {
		return verr(op, ErrBadConstant, "mma requires a native kind")
	}
	lt, rt, at := ABCVectorTypes(op.Kind)
	for i, want := range []VectorType{lt, rt, at} {
		if got := g.ValueType(op.Operands[i]); !TypeEqual(got, want) {
			return verr(op, ErrTypeMismatch, "operand %d has type %s, %s expects %s", i, got, op.Kind.Name(), want)
		}
	}
	return nil
}

func verifyForall(g *Graph, op *Operation) error {
	rank := op.ForallRank()
	if len(op.StaticLB) != rank || len(op.StaticStep) != rank {
		return verr(op, ErrBoundsArity, "bound lists of unequal length")
	}
	if len(op.Mapping) != 0 && len(op.Mapping) != rank {
		return verr(op, ErrMappingArity, "mapping descriptor has %d entries for rank %d", len(op.Mapping), rank)
	}
	outs := op.ForallOuts()
	body := op.Body()
	if body.NumArgs() != rank+len(outs) {
		return verr(op, ErrRegionArity, "body has %d arguments, expected %d", body.NumArgs(), rank+len(outs))
	}
	term := body.Terminator()
	if term == nil {
		return verr(op, ErrMissingTerminator, "forall body must be terminated")
	}
	if len(outs) > 0 {
		if term.Opcode != OpParallelInsert {
			return verr(term, ErrBadTerminator, "forall with shared outputs must end in parallel_insert")
		}
	} else if term.Opcode != OpYield || len(term.Operands) != 0 {
		return verr(term, ErrBadTerminator, "forall without shared outputs must end in an empty yield")
	}
	return nil
}

func verifyParallelInsert(g *Graph, op *Operation) error {
	if err := verifySliceArity(op); err != nil {
		return err
	}
	parent := op.ParentOp()
	if parent == nil || parent.Opcode != OpForall {
		return verr(op, ErrBadTerminator, "parallel_insert outside a forall body")
	}
	r, idx := g.ArgOwner(op.Operands[1])
	if r != parent.Body() || idx < parent.ForallRank() {
		return verr(op, ErrDestNotShared, "destination must be a shared block argument of the enclosing forall")
	}
	return nil
}

func verifyFor(g *Graph, op *Operation) error {
	body := op.Body()
	if body.NumArgs() != 1+len(op.Operands) {
		return verr(op, ErrRegionArity, "body has %d arguments, expected %d", body.NumArgs(), 1+len(op.Operands))
	}
	term := body.Terminator()
	if term == nil || term.Opcode != OpYield {
		return verr(op, ErrMissingTerminator, "for body must end in yield")
	}
	if len(term.Operands) != len(op.Operands) {
		return verr(term, ErrYieldArity, "yield carries %d values, loop carries %d", len(term.Operands), len(op.Operands))
	}
	return nil
}

func verifyShuffle(g *Graph, op *Operation) error {
	if err := verifySliceArity(op); err != nil {
		return err
	}
	destType := g.ValueType(op.ShuffleDest())
	body := op.Body()
	if body.NumArgs() != 1 {
		return verr(op, ErrRegionArity, "shuffle body must have a single argument")
	}
	if !TypeEqual(g.ValueType(body.Arg(0)), destType) {
		return verr(op, ErrRegionArity, "body argument type %s must match destination type %s",
			g.ValueType(body.Arg(0)), destType)
	}
	if ElemOf(g.ValueType(op.ShuffleSource())) != ElemOf(destType) {
		return verr(op, ErrElementType, "element type mismatch between source and destination")
	}
	term := body.Terminator()
	if term == nil || term.Opcode != OpYield || len(term.Operands) != 1 {
		return verr(op, ErrMissingTerminator, "shuffle body must end in a single-value yield")
	}
	if !TypeEqual(g.ValueType(term.Operands[0]), g.ValueType(op.Results[0])) {
		return verr(term, ErrTypeMismatch, "yield type %s must match shuffle result type %s",
			g.ValueType(term.Operands[0]), g.ValueType(op.Results[0]))
	}
	return nil
}

func verifyBarrier(g *Graph, op *Operation) error {
	in := g.ValueType(op.Operands[0])
	out := g.ValueType(op.Results[0])
	if !TypeEqual(in, out) {
		return verr(op, ErrTypeMismatch, "barrier input %s and output %s must agree", in, out)
	}
	return nil
}

func verifySliceExtract(g *Graph, op *Operation) error {
	return verifySliceArity(op)
}

func verifySliceInsert(g *Graph, op *Operation) error {
	if err := verifySliceArity(op); err != nil {
		return err
	}
	dt := g.ValueType(op.Operands[1])
	if !TypeEqual(g.ValueType(op.Results[0]), dt) {
		return verr(op, ErrTypeMismatch, "slice.insert result must have destination type %s", dt)
	}
	return nil
}

func verifySliceArity(op *Operation) error {
	n := len(op.StaticOffsets)
	if len(op.StaticSizes) != n || len(op.StaticStrides) != n {
		return verr(op, ErrSliceArity, "offset/size/stride lists of unequal length")
	}
	return nil
}

func verifyVectorRead(g *Graph, op *Operation) error {
	st, ok := g.ValueType(op.Operands[0]).(TensorType)
	if !ok {
		return verr(op, ErrMixedSemantics, "vector.read source must have buffer semantics")
	}
	vt := g.ValueType(op.Results[0]).(VectorType)
	if !st.HasStaticShape() || !slices.Equal(st.Dims, vt.Dims) {
		return verr(op, ErrShapeMismatch, "full-extent read requires static source shape %v matching %v",
			st.Dims, vt.Dims)
	}
	return nil
}

func verifyVectorWrite(g *Graph, op *Operation) error {
	vt, ok := g.ValueType(op.Operands[0]).(VectorType)
	if !ok {
		return verr(op, ErrMixedSemantics, "vector.write source must have register semantics")
	}
	st, ok := g.ValueType(op.Operands[1]).(TensorType)
	if !ok {
		return verr(op, ErrMixedSemantics, "vector.write destination must have buffer semantics")
	}
	if !slices.Equal(st.Dims, vt.Dims) {
		return verr(op, ErrShapeMismatch, "full-extent write requires matching shapes, got %v into %v",
			vt.Dims, st.Dims)
	}
	return nil
}

func verifyShapeCast(g *Graph, op *Operation) error {
	src := g.ValueType(op.Operands[0]).(VectorType)
	dst := g.ValueType(op.Results[0]).(VectorType)
	if src.NumElements() != dst.NumElements() || src.Elem != dst.Elem {
		return verr(op, ErrShapeMismatch, "shape_cast must preserve element count and type: %s to %s", src, dst)
	}
	return nil
}
