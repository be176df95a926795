package eval

import (
	"fmt"

	"github.com/smelt-ir/smelt/internal/ir"
)

// Run evaluates the named function of a verified graph and returns its
// results. Index results come back as rank-0 buffers.
func Run(g *ir.Graph, fnName string) ([]*Buffer, error) {
	if errs := g.Verify(); len(errs) > 0 {
		return nil, fmt.Errorf("refusing to evaluate an invalid program: %s", errs[0])
	}
	var fn *ir.Operation
	for _, op := range g.Root().Ops() {
		if op.Opcode == ir.OpFunc && op.Sym == fnName {
			fn = op
			break
		}
	}
	if fn == nil {
		return nil, fmt.Errorf("no function %q", fnName)
	}

	m := &machine{g: g}
	e := newEnv(nil)
	ops := fn.Body().Ops()
	if err := m.runOps(ops[:len(ops)-1], []*env{e}); err != nil {
		return nil, err
	}
	ret := ops[len(ops)-1]
	out := make([]*Buffer, len(ret.Operands))
	for i, v := range ret.Operands {
		val, err := e.resolve(v)
		if err != nil {
			return nil, err
		}
		switch x := val.(type) {
		case *Buffer:
			out[i] = x.Clone()
		case int64:
			out[i] = &Buffer{Elem: ir.Index, Data: []float64{float64(x)}}
		}
	}
	return out, nil
}

type machine struct {
	g *ir.Graph
}

// env is one lexical scope of bindings: operation results and region
// arguments to evaluated values (*Buffer or int64).
type env struct {
	parent *env
	vals   map[ir.Value]any
}

func newEnv(parent *env) *env {
	return &env{parent: parent, vals: make(map[ir.Value]any)}
}

func (e *env) bind(v ir.Value, x any) { e.vals[v] = x }

func (e *env) resolve(v ir.Value) (any, error) {
	for s := e; s != nil; s = s.parent {
		if x, ok := s.vals[v]; ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("value %d evaluated before definition", v)
}

func (e *env) buffer(v ir.Value) (*Buffer, error) {
	x, err := e.resolve(v)
	if err != nil {
		return nil, err
	}
	b, ok := x.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("value %d is not shaped", v)
	}
	return b, nil
}

func (e *env) index(v ir.Value) (int64, error) {
	x, err := e.resolve(v)
	if err != nil {
		return 0, err
	}
	i, ok := x.(int64)
	if !ok {
		return 0, fmt.Errorf("value %d is not an index", v)
	}
	return i, nil
}

func (e *env) mixed(m ir.Mixed) (int64, error) {
	if m.IsStatic() {
		return m.StaticValue(), nil
	}
	return e.index(m.DynamicValue())
}

func (e *env) mixedList(list []ir.Mixed) ([]int64, error) {
	out := make([]int64, len(list))
	for i, m := range list {
		v, err := e.mixed(m)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// runOps executes ops in order, lock-step across the worker envs: every
// worker finishes an operation before any worker starts the next.
func (m *machine) runOps(ops []*ir.Operation, envs []*env) error {
	for _, op := range ops {
		if err := m.step(op, envs); err != nil {
			return fmt.Errorf("%s: %w", op.Opcode, err)
		}
	}
	return nil
}

func (m *machine) step(op *ir.Operation, envs []*env) error {
	switch op.Opcode {
	case ir.OpYield, ir.OpReturn:
		// Handled by the enclosing region driver.
		return nil
	case ir.OpSync:
		return nil
	case ir.OpShuffle:
		return m.shuffle(op, envs)
	case ir.OpSliceInsert:
		return m.sliceInsert(op, envs)
	case ir.OpParallelInsert:
		return m.parallelInsert(op, envs)
	}
	for _, e := range envs {
		if err := m.stepOne(op, e); err != nil {
			return err
		}
	}
	return nil
}

// stepOne executes one worker's view of an operation with per-worker
// semantics.
func (m *machine) stepOne(op *ir.Operation, e *env) error {
	g := m.g
	switch op.Opcode {
	case ir.OpConstant:
		switch op.ConstKind {
		case ir.ConstIndex:
			e.bind(op.Result(0), op.Int)
		case ir.ConstSplat:
			out := newResultBuffer(g, op.Result(0))
			for i := range out.Data {
				out.Data[i] = op.Splat
			}
			e.bind(op.Result(0), out)
		case ir.ConstIota:
			out := newResultBuffer(g, op.Result(0))
			for i := range out.Data {
				out.Data[i] = float64(i)
			}
			e.bind(op.Result(0), out)
		}

	case ir.OpEmpty:
		e.bind(op.Result(0), newResultBuffer(g, op.Result(0)))

	case ir.OpAdd:
		a, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		b, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		out := a.Clone()
		for i := range out.Data {
			out.Data[i] += b.Data[i]
		}
		e.bind(op.Result(0), out)

	case ir.OpMulI, ir.OpAddI:
		a, err := e.index(op.Operands[0])
		if err != nil {
			return err
		}
		b, err := e.index(op.Operands[1])
		if err != nil {
			return err
		}
		if op.Opcode == ir.OpMulI {
			e.bind(op.Result(0), a*b)
		} else {
			e.bind(op.Result(0), a+b)
		}

	case ir.OpReduce:
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		acc, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		out := acc.Clone()
		reduced := make(map[int64]bool, len(op.Dims))
		for _, d := range op.Dims {
			reduced[d] = true
		}
		eachIndex(src.Dims, func(idx []int64) {
			kept := make([]int64, 0, len(idx))
			for d, i := range idx {
				if !reduced[int64(d)] {
					kept = append(kept, i)
				}
			}
			out.Set(out.At(kept...)+src.At(idx...), kept...)
		})
		e.bind(op.Result(0), out)

	case ir.OpMatmul, ir.OpMma:
		lhs, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		rhs, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		acc, err := e.buffer(op.Operands[2])
		if err != nil {
			return err
		}
		out := acc.Clone()
		mmaInto(out, nil, lhs, nil, rhs, nil)
		e.bind(op.Result(0), out)

	case ir.OpContract:
		return m.contract(op, e)

	case ir.OpForall:
		return m.runForall(op, e)

	case ir.OpFor:
		return m.runFor(op, e)

	case ir.OpBarrier:
		x, err := e.resolve(op.Operands[0])
		if err != nil {
			return err
		}
		e.bind(op.Result(0), x)

	case ir.OpSliceExtract:
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		off, sizes, strides, err := evalSliceLists(e, op)
		if err != nil {
			return err
		}
		out := newResultBuffer(m.g, op.Result(0))
		gather(out, src, off, sizes, strides)
		e.bind(op.Result(0), out)

	case ir.OpVectorRead, ir.OpVectorWrite:
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		out := newResultBuffer(m.g, op.Result(0))
		copy(out.Data, src.Data)
		e.bind(op.Result(0), out)

	case ir.OpVectorExtractSlice:
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		out := newResultBuffer(m.g, op.Result(0))
		off := make([]int64, len(src.Dims))
		strides := make([]int64, len(src.Dims))
		copy(off, op.StaticOffsets)
		for i := range strides {
			strides[i] = 1
		}
		gather(out, src, off, out.Dims, strides)
		e.bind(op.Result(0), out)

	case ir.OpVectorInsertSlice:
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		dest, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		out := dest.Clone()
		off := make([]int64, len(dest.Dims))
		strides := make([]int64, len(dest.Dims))
		copy(off, op.StaticOffsets)
		for i := range strides {
			strides[i] = 1
		}
		scatter(out, src, off, src.Dims, strides)
		e.bind(op.Result(0), out)

	case ir.OpVectorDropLead, ir.OpVectorBroadcast, ir.OpVectorShapeCast:
		// Row-major data is unchanged by unit-dim and layout reshapes.
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		out := newResultBuffer(m.g, op.Result(0))
		copy(out.Data, src.Data)
		e.bind(op.Result(0), out)

	case ir.OpLinearize:
		point := make([]int64, len(op.Operands))
		for i, v := range op.Operands {
			iv, err := e.index(v)
			if err != nil {
				return err
			}
			point[i] = iv
		}
		e.bind(op.Result(0), ir.LinearizeIndex(point, op.Bounds))

	case ir.OpDelinearize:
		id, err := e.index(op.Operands[0])
		if err != nil {
			return err
		}
		point := ir.DelinearizeIndex(id, op.Bounds)
		for i, res := range op.Results {
			e.bind(res, point[i])
		}

	default:
		return fmt.Errorf("unsupported opcode")
	}
	return nil
}

// contract accumulates one native tile product per iteration point,
// projecting the point onto each operand's outer dimensions.
func (m *machine) contract(op *ir.Operation, e *env) error {
	lhs, err := e.buffer(op.Operands[0])
	if err != nil {
		return err
	}
	rhs, err := e.buffer(op.Operands[1])
	if err != nil {
		return err
	}
	acc, err := e.buffer(op.Operands[2])
	if err != nil {
		return err
	}
	bounds, err := op.IterationBounds(m.g)
	if err != nil {
		return err
	}
	out := acc.Clone()
	eachIndex(bounds, func(p []int64) {
		mmaInto(out, op.IndexMaps[2].Apply(p),
			lhs, op.IndexMaps[0].Apply(p),
			rhs, op.IndexMaps[1].Apply(p))
	})
	e.bind(op.Result(0), out)
	return nil
}

// mmaInto accumulates acc[ao.., m, n] += sum_k lhs[lo.., m, k] *
// rhs[ro.., k, n]. The trailing two dimensions of each buffer beyond the
// given outer prefix form the native tile.
func mmaInto(acc *Buffer, ao []int64, lhs *Buffer, lo []int64, rhs *Buffer, ro []int64) {
	mDim := lhs.Dims[len(lo)]
	kDim := lhs.Dims[len(lo)+1]
	nDim := rhs.Dims[len(ro)+1]
	for mi := int64(0); mi < mDim; mi++ {
		for ni := int64(0); ni < nDim; ni++ {
			sum := 0.0
			for ki := int64(0); ki < kDim; ki++ {
				sum += lhs.At(append(append([]int64{}, lo...), mi, ki)...) *
					rhs.At(append(append([]int64{}, ro...), ki, ni)...)
			}
			idx := append(append([]int64{}, ao...), mi, ni)
			acc.Set(acc.At(idx...)+sum, idx...)
		}
	}
}

// runForall enumerates the worker grid and executes the body lock-step,
// each shared output backed by one buffer all workers write into.
func (m *machine) runForall(op *ir.Operation, e *env) error {
	lbs, err := e.mixedList(op.MixedLowerBounds())
	if err != nil {
		return err
	}
	ubs, err := e.mixedList(op.MixedUpperBounds())
	if err != nil {
		return err
	}
	steps, err := e.mixedList(op.MixedSteps())
	if err != nil {
		return err
	}

	var points [][]int64
	var walk func(prefix []int64, d int)
	walk = func(prefix []int64, d int) {
		if d == len(ubs) {
			points = append(points, append([]int64{}, prefix...))
			return
		}
		for i := lbs[d]; i < ubs[d]; i += steps[d] {
			walk(append(prefix, i), d+1)
		}
	}
	walk(nil, 0)

	outs := op.ForallOuts()
	shared := make([]*Buffer, len(outs))
	for i, out := range outs {
		init, err := e.buffer(out)
		if err != nil {
			return err
		}
		shared[i] = init.Clone()
	}

	workers := make([]*env, len(points))
	for w, p := range points {
		we := newEnv(e)
		for d, iv := range op.InductionVars() {
			we.bind(iv, p[d])
		}
		for i, arg := range op.SharedArgs() {
			we.bind(arg, shared[i])
		}
		workers[w] = we
	}
	if err := m.runOps(op.Body().Ops(), workers); err != nil {
		return err
	}
	for i, res := range op.Results {
		e.bind(res, shared[i])
	}
	return nil
}

// runFor executes a sequential loop for one worker.
func (m *machine) runFor(op *ir.Operation, e *env) error {
	lb, err := e.mixed(op.MixedLowerBounds()[0])
	if err != nil {
		return err
	}
	ub, err := e.mixed(op.MixedUpperBounds()[0])
	if err != nil {
		return err
	}
	step, err := e.mixed(op.MixedSteps()[0])
	if err != nil {
		return err
	}
	inits := op.Operands[len(op.Operands)-len(op.Results):]
	carried := make([]any, len(inits))
	for i, v := range inits {
		x, err := e.resolve(v)
		if err != nil {
			return err
		}
		carried[i] = x
	}
	ops := op.Body().Ops()
	body, yield := ops[:len(ops)-1], ops[len(ops)-1]
	for iv := lb; iv < ub; iv += step {
		be := newEnv(e)
		be.bind(op.InductionVars()[0], iv)
		for i, arg := range op.IterArgs() {
			be.bind(arg, carried[i])
		}
		if err := m.runOps(body, []*env{be}); err != nil {
			return err
		}
		for i, v := range yield.Operands {
			x, err := be.resolve(v)
			if err != nil {
				return err
			}
			carried[i] = x
		}
	}
	for i, res := range op.Results {
		e.bind(res, carried[i])
	}
	return nil
}

// shuffle synchronizes the exchange: all workers' sources land in one
// copy of the destination, then every worker derives its result from
// the synchronized copy.
func (m *machine) shuffle(op *ir.Operation, envs []*env) error {
	dests := make([]*Buffer, len(envs))
	for w, e := range envs {
		d, err := e.buffer(op.ShuffleDest())
		if err != nil {
			return err
		}
		dests[w] = d
	}
	allShared := true
	for _, d := range dests[1:] {
		if d != dests[0] {
			allShared = false
		}
	}

	var merged *Buffer
	if allShared {
		merged = dests[0].Clone()
	}
	for w, e := range envs {
		target := merged
		if !allShared {
			target = dests[w].Clone()
		}
		src, err := e.buffer(op.ShuffleSource())
		if err != nil {
			return err
		}
		off, sizes, strides, err := evalSliceLists(e, op)
		if err != nil {
			return err
		}
		scatter(target, src, off, sizes, strides)
		if !allShared {
			dests[w] = target
		}
	}

	ops := op.Body().Ops()
	body, yield := ops[:len(ops)-1], ops[len(ops)-1]
	for w, e := range envs {
		be := newEnv(e)
		if allShared {
			be.bind(op.Body().Arg(0), merged)
		} else {
			be.bind(op.Body().Arg(0), dests[w])
		}
		if err := m.runOps(body, []*env{be}); err != nil {
			return err
		}
		x, err := be.resolve(yield.Operands[0])
		if err != nil {
			return err
		}
		e.bind(op.Result(0), x)
	}
	return nil
}

// sliceInsert writes a tile into a destination. A destination shared by
// all workers receives every worker's tile in one copy, which every
// worker then observes; a worker-local destination stays local.
func (m *machine) sliceInsert(op *ir.Operation, envs []*env) error {
	dests := make([]*Buffer, len(envs))
	for w, e := range envs {
		d, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		dests[w] = d
	}
	allShared := len(envs) > 1
	for _, d := range dests[1:] {
		if d != dests[0] {
			allShared = false
		}
	}

	var merged *Buffer
	if allShared {
		merged = dests[0].Clone()
	}
	for w, e := range envs {
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		off, sizes, strides, err := evalSliceLists(e, op)
		if err != nil {
			return err
		}
		if allShared {
			scatter(merged, src, off, sizes, strides)
			e.bind(op.Result(0), merged)
		} else {
			out := dests[w].Clone()
			scatter(out, src, off, sizes, strides)
			e.bind(op.Result(0), out)
		}
	}
	return nil
}

// parallelInsert scatters every worker's tile into the enclosing loop's
// shared output buffer in place.
func (m *machine) parallelInsert(op *ir.Operation, envs []*env) error {
	for _, e := range envs {
		src, err := e.buffer(op.Operands[0])
		if err != nil {
			return err
		}
		dest, err := e.buffer(op.Operands[1])
		if err != nil {
			return err
		}
		off, sizes, strides, err := evalSliceLists(e, op)
		if err != nil {
			return err
		}
		scatter(dest, src, off, sizes, strides)
	}
	return nil
}

func evalSliceLists(e *env, op *ir.Operation) (off, sizes, strides []int64, err error) {
	if off, err = e.mixedList(op.MixedOffsets()); err != nil {
		return nil, nil, nil, err
	}
	if sizes, err = e.mixedList(op.MixedSizes()); err != nil {
		return nil, nil, nil, err
	}
	if strides, err = e.mixedList(op.MixedStrides()); err != nil {
		return nil, nil, nil, err
	}
	return off, sizes, strides, nil
}

// gather copies the strided window described by off/sizes/strides out of
// src into out, in row-major window order.
func gather(out *Buffer, src *Buffer, off, sizes, strides []int64) {
	i := 0
	eachIndex(sizes, func(idx []int64) {
		srcIdx := make([]int64, len(idx))
		for d := range idx {
			srcIdx[d] = off[d] + idx[d]*strides[d]
		}
		out.Data[i] = src.At(srcIdx...)
		i++
	})
}

// scatter copies src into the strided window of dst, in row-major window
// order.
func scatter(dst *Buffer, src *Buffer, off, sizes, strides []int64) {
	i := 0
	eachIndex(sizes, func(idx []int64) {
		dstIdx := make([]int64, len(idx))
		for d := range idx {
			dstIdx[d] = off[d] + idx[d]*strides[d]
		}
		dst.Data[dst.flatten(dstIdx)] = src.Data[i]
		i++
	})
}

func newResultBuffer(g *ir.Graph, v ir.Value) *Buffer {
	dims, _ := ir.ShapeOf(g.ValueType(v))
	return NewBuffer(dims, ir.ElemOf(g.ValueType(v)))
}
