package syntax

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smelt-ir/smelt/internal/ir"
)

// Print renders the whole graph in the canonical textual form.
func Print(g *ir.Graph) string {
	var sb strings.Builder
	for i, op := range g.Root().Ops() {
		if i > 0 {
			sb.WriteByte('\n')
		}
		p := &printer{g: g, names: make(map[ir.Value]string)}
		p.printFunc(&sb, op)
	}
	return sb.String()
}

// PrintOp renders a single operation (with its regions) for diagnostics.
func PrintOp(g *ir.Graph, op *ir.Operation) string {
	var sb strings.Builder
	p := &printer{g: g, names: make(map[ir.Value]string)}
	p.collectNames(op)
	p.printOp(&sb, op, 0)
	return strings.TrimSuffix(sb.String(), "\n")
}

type printer struct {
	g     *ir.Graph
	names map[ir.Value]string
	next  int
}

func (p *printer) nameResults(op *ir.Operation) string {
	if op.NumResults() == 0 {
		return ""
	}
	base := p.next
	p.next++
	if op.NumResults() == 1 {
		p.names[op.Result(0)] = fmt.Sprintf("%%%d", base)
		return fmt.Sprintf("%%%d = ", base)
	}
	for i := 0; i < op.NumResults(); i++ {
		p.names[op.Result(i)] = fmt.Sprintf("%%%d#%d", base, i)
	}
	return fmt.Sprintf("%%%d:%d = ", base, op.NumResults())
}

func (p *printer) nameArg(v ir.Value) string {
	name := fmt.Sprintf("%%%d", p.next)
	p.next++
	p.names[v] = name
	return name
}

func (p *printer) name(v ir.Value) string {
	if n, ok := p.names[v]; ok {
		return n
	}
	return fmt.Sprintf("%%<unknown:%d>", v)
}

// collectNames pre-assigns names for a standalone op print, so operand
// references outside the op still render stably.
func (p *printer) collectNames(op *ir.Operation) {
	for _, v := range op.Operands {
		if _, ok := p.names[v]; !ok {
			p.nameArg(v)
		}
	}
}

func (p *printer) printFunc(sb *strings.Builder, op *ir.Operation) {
	fmt.Fprintf(sb, "func @%s", op.Sym)
	if len(op.FuncResults) > 0 {
		sb.WriteString(" -> ")
		for i, t := range op.FuncResults {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
	}
	sb.WriteString(" {\n")
	for _, inner := range op.Body().Ops() {
		p.printOp(sb, inner, 1)
	}
	sb.WriteString("}\n")
}

func (p *printer) printOp(sb *strings.Builder, op *ir.Operation, depth int) {
	indent := strings.Repeat("  ", depth)
	g := p.g
	typ := func(v ir.Value) string { return g.ValueType(v).String() }

	// Operand references must be resolved before results are named; the
	// terminator of a region may reference results defined above it.
	switch op.Opcode {
	case ir.OpConstant:
		lead := p.nameResults(op)
		switch op.ConstKind {
		case ir.ConstIndex:
			fmt.Fprintf(sb, "%s%sconstant %d : index\n", indent, lead, op.Int)
		case ir.ConstSplat:
			fmt.Fprintf(sb, "%s%sconstant splat %s : %s\n", indent, lead, formatFloat(op.Splat), typ(op.Result(0)))
		case ir.ConstIota:
			fmt.Fprintf(sb, "%s%sconstant iota : %s\n", indent, lead, typ(op.Result(0)))
		}

	case ir.OpEmpty:
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sempty : %s\n", indent, lead, typ(op.Result(0)))

	case ir.OpAdd:
		a, b := p.name(op.Operands[0]), p.name(op.Operands[1])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sadd %s, %s : %s\n", indent, lead, a, b, typ(op.Result(0)))

	case ir.OpMulI, ir.OpAddI:
		a, b := p.name(op.Operands[0]), p.name(op.Operands[1])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%s%s %s, %s : index\n", indent, lead, op.Opcode, a, b)

	case ir.OpReduce:
		src, acc := p.name(op.Operands[0]), p.name(op.Operands[1])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sreduce %s into %s dims %s : %s into %s\n", indent, lead,
			src, acc, intList(op.Dims), typ(op.Operands[0]), typ(op.Operands[1]))

	case ir.OpMatmul:
		l, r, acc := p.name(op.Operands[0]), p.name(op.Operands[1]), p.name(op.Operands[2])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%smatmul %s, %s into %s : %s, %s into %s\n", indent, lead,
			l, r, acc, typ(op.Operands[0]), typ(op.Operands[1]), typ(op.Operands[2]))

	case ir.OpContract:
		l, r, acc := p.name(op.Operands[0]), p.name(op.Operands[1]), p.name(op.Operands[2])
		lead := p.nameResults(op)
		maps := make([]string, len(op.IndexMaps))
		for i, m := range op.IndexMaps {
			maps[i] = m.String()
		}
		iters := make([]string, len(op.Iterators))
		for i, it := range op.Iterators {
			iters[i] = it.String()
		}
		fmt.Fprintf(sb, "%s%scontract %s, %s into %s maps [%s] iterators [%s] kind %s : %s, %s into %s\n",
			indent, lead, l, r, acc, strings.Join(maps, ", "), strings.Join(iters, ", "),
			op.Kind.Name(), typ(op.Operands[0]), typ(op.Operands[1]), typ(op.Operands[2]))

	case ir.OpMma:
		l, r, acc := p.name(op.Operands[0]), p.name(op.Operands[1]), p.name(op.Operands[2])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%smma %s, %s into %s kind %s : %s, %s into %s\n", indent, lead,
			l, r, acc, op.Kind.Name(), typ(op.Operands[0]), typ(op.Operands[1]), typ(op.Operands[2]))

	case ir.OpForall:
		p.printForall(sb, op, depth)

	case ir.OpParallelInsert:
		src, dst := p.name(op.Operands[0]), p.name(op.Operands[1])
		fmt.Fprintf(sb, "%sparallel_insert %s into %s %s %s %s\n", indent, src, dst,
			p.mixedList(op.MixedOffsets()), p.mixedList(op.MixedSizes()), p.mixedList(op.MixedStrides()))

	case ir.OpFor:
		p.printFor(sb, op, depth)

	case ir.OpYield:
		if len(op.Operands) == 0 {
			fmt.Fprintf(sb, "%syield\n", indent)
			return
		}
		names := make([]string, len(op.Operands))
		types := make([]string, len(op.Operands))
		for i, v := range op.Operands {
			names[i] = p.name(v)
			types[i] = typ(v)
		}
		fmt.Fprintf(sb, "%syield %s : %s\n", indent, strings.Join(names, ", "), strings.Join(types, ", "))

	case ir.OpShuffle:
		p.printShuffle(sb, op, depth)

	case ir.OpBarrier:
		in := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sbarrier %s : %s\n", indent, lead, in, typ(op.Result(0)))

	case ir.OpSync:
		fmt.Fprintf(sb, "%ssync\n", indent)

	case ir.OpSliceExtract:
		src := p.name(op.Operands[0])
		off, sz, str := p.mixedList(op.MixedOffsets()), p.mixedList(op.MixedSizes()), p.mixedList(op.MixedStrides())
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sslice.extract %s %s %s %s : %s to %s\n", indent, lead,
			src, off, sz, str, typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpSliceInsert:
		src, dst := p.name(op.Operands[0]), p.name(op.Operands[1])
		off, sz, str := p.mixedList(op.MixedOffsets()), p.mixedList(op.MixedSizes()), p.mixedList(op.MixedStrides())
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sslice.insert %s into %s %s %s %s : %s into %s\n", indent, lead,
			src, dst, off, sz, str, typ(op.Operands[0]), typ(op.Operands[1]))

	case ir.OpVectorRead:
		src := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.read %s : %s to %s\n", indent, lead, src, typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpVectorWrite:
		vec, dst := p.name(op.Operands[0]), p.name(op.Operands[1])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.write %s, %s : %s into %s\n", indent, lead,
			vec, dst, typ(op.Operands[0]), typ(op.Operands[1]))

	case ir.OpVectorExtractSlice:
		src := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.extract_slice %s %s %s : %s to %s\n", indent, lead,
			src, intList(op.StaticOffsets), intList(op.StaticSizes), typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpVectorInsertSlice:
		src, dst := p.name(op.Operands[0]), p.name(op.Operands[1])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.insert_slice %s into %s %s : %s into %s\n", indent, lead,
			src, dst, intList(op.StaticOffsets), typ(op.Operands[0]), typ(op.Operands[1]))

	case ir.OpVectorDropLead:
		src := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.drop_lead %s, %d : %s to %s\n", indent, lead,
			src, op.Int, typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpVectorBroadcast:
		src := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.broadcast %s : %s to %s\n", indent, lead,
			src, typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpVectorShapeCast:
		src := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%svector.shape_cast %s : %s to %s\n", indent, lead,
			src, typ(op.Operands[0]), typ(op.Result(0)))

	case ir.OpLinearize:
		names := make([]string, len(op.Operands))
		for i, v := range op.Operands {
			names[i] = p.name(v)
		}
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%slinearize (%s) by %s : index\n", indent, lead,
			strings.Join(names, ", "), parenInts(op.Bounds))

	case ir.OpDelinearize:
		id := p.name(op.Operands[0])
		lead := p.nameResults(op)
		fmt.Fprintf(sb, "%s%sdelinearize %s by %s : index\n", indent, lead, id, parenInts(op.Bounds))

	case ir.OpReturn:
		if len(op.Operands) == 0 {
			fmt.Fprintf(sb, "%sreturn\n", indent)
			return
		}
		names := make([]string, len(op.Operands))
		types := make([]string, len(op.Operands))
		for i, v := range op.Operands {
			names[i] = p.name(v)
			types[i] = typ(v)
		}
		fmt.Fprintf(sb, "%sreturn %s : %s\n", indent, strings.Join(names, ", "), strings.Join(types, ", "))

	default:
		fmt.Fprintf(sb, "%s// unprintable %s\n", indent, op.Opcode)
	}
}

func (p *printer) printForall(sb *strings.Builder, op *ir.Operation, depth int) {
	indent := strings.Repeat("  ", depth)
	outs := op.ForallOuts()
	outNames := make([]string, len(outs))
	for i, out := range outs {
		outNames[i] = p.name(out)
	}
	lead := p.nameResults(op)
	ivs := make([]string, op.ForallRank())
	for i, iv := range op.InductionVars() {
		ivs[i] = p.nameArg(iv)
	}
	fmt.Fprintf(sb, "%s%sforall (%s)", indent, lead, strings.Join(ivs, ", "))
	lbs, ubs, steps := op.MixedLowerBounds(), op.MixedUpperBounds(), op.MixedSteps()
	if ir.AllConst(lbs, 0) && ir.AllConst(steps, 1) {
		fmt.Fprintf(sb, " in %s", p.parenMixed(ubs))
	} else {
		fmt.Fprintf(sb, " from %s to %s step %s", p.parenMixed(lbs), p.parenMixed(ubs), p.parenMixed(steps))
	}
	if len(op.Mapping) > 0 {
		tags := make([]string, len(op.Mapping))
		for i, m := range op.Mapping {
			tags[i] = m.String()
		}
		fmt.Fprintf(sb, " mapping [%s]", strings.Join(tags, ", "))
	}
	if len(outs) > 0 {
		binds := make([]string, len(outs))
		for i, arg := range op.SharedArgs() {
			binds[i] = fmt.Sprintf("%s = %s : %s", p.nameArg(arg), outNames[i], p.g.ValueType(arg))
		}
		fmt.Fprintf(sb, " shared (%s)", strings.Join(binds, ", "))
	}
	sb.WriteString(" {\n")
	for _, inner := range op.Body().Ops() {
		p.printOp(sb, inner, depth+1)
	}
	fmt.Fprintf(sb, "%s}\n", indent)
}

func (p *printer) printFor(sb *strings.Builder, op *ir.Operation, depth int) {
	indent := strings.Repeat("  ", depth)
	initNames := make([]string, len(op.Operands))
	for i, v := range op.Operands {
		initNames[i] = p.name(v)
	}
	lead := p.nameResults(op)
	iv := p.nameArg(op.InductionVars()[0])
	fmt.Fprintf(sb, "%s%sfor %s = %d to %d step %d", indent, lead, iv,
		op.StaticLB[0], op.StaticUB[0], op.StaticStep[0])
	if len(op.Operands) > 0 {
		binds := make([]string, len(op.Operands))
		for i, arg := range op.IterArgs() {
			binds[i] = fmt.Sprintf("%s = %s : %s", p.nameArg(arg), initNames[i], p.g.ValueType(arg))
		}
		fmt.Fprintf(sb, " iter_args(%s)", strings.Join(binds, ", "))
	}
	sb.WriteString(" {\n")
	for _, inner := range op.Body().Ops() {
		p.printOp(sb, inner, depth+1)
	}
	fmt.Fprintf(sb, "%s}\n", indent)
}

func (p *printer) printShuffle(sb *strings.Builder, op *ir.Operation, depth int) {
	indent := strings.Repeat("  ", depth)
	src, dst := p.name(op.ShuffleSource()), p.name(op.ShuffleDest())
	off, sz, str := p.mixedList(op.MixedOffsets()), p.mixedList(op.MixedSizes()), p.mixedList(op.MixedStrides())
	lead := p.nameResults(op)
	arg := p.nameArg(op.Body().Arg(0))
	fmt.Fprintf(sb, "%s%sshuffle %s into %s %s %s %s as (%s : %s) {\n", indent, lead,
		src, dst, off, sz, str, arg, p.g.ValueType(op.Body().Arg(0)))
	for _, inner := range op.Body().Ops() {
		p.printOp(sb, inner, depth+1)
	}
	fmt.Fprintf(sb, "%s} : %s\n", indent, p.g.ValueType(op.Result(0)))
}

func (p *printer) mixedList(list []ir.Mixed) string {
	parts := make([]string, len(list))
	for i, m := range list {
		if m.IsStatic() {
			parts[i] = strconv.FormatInt(m.StaticValue(), 10)
		} else {
			parts[i] = p.name(m.DynamicValue())
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (p *printer) parenMixed(list []ir.Mixed) string {
	parts := make([]string, len(list))
	for i, m := range list {
		if m.IsStatic() {
			parts[i] = strconv.FormatInt(m.StaticValue(), 10)
		} else {
			parts[i] = p.name(m.DynamicValue())
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func intList(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func parenInts(vals []int64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
