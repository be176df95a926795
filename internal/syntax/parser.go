package syntax

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smelt-ir/smelt/internal/ir"
)

// KindRegistry resolves native instruction names appearing in contract
// and mma operations. The instruction catalog implements it; a nil
// registry rejects every kind name.
type KindRegistry interface {
	Kind(name string) (ir.MmaKind, bool)
}

// Parse reads the canonical textual form back into a program graph.
// Kind names are resolved through the registry at parse time, so a
// parsed contraction carries the same capability descriptor a built one
// would.
func Parse(src string, kinds KindRegistry) (*ir.Graph, error) {
	p := &parser{lex: newLexer(src), kinds: kinds}
	if err := p.advance(); err != nil {
		return nil, err
	}
	g := ir.NewGraph()
	for p.tok.kind != tokEOF {
		if err := p.parseFunc(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MustParse is Parse for test fixtures; it panics on error.
func MustParse(src string, kinds KindRegistry) *ir.Graph {
	g, err := Parse(src, kinds)
	if err != nil {
		panic(err)
	}
	return g
}

type parser struct {
	lex   *lexer
	tok   token
	kinds KindRegistry
	b     *ir.Builder
	names map[string]ir.Value
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.tok.line, fmt.Sprintf(format, args...))
}

func (p *parser) expectPunct(s string) error {
	if p.tok.kind != tokPunct || p.tok.text != s {
		return p.errf("expected %q, found %q", s, p.tok.text)
	}
	return p.advance()
}

func (p *parser) expectIdent(s string) error {
	if p.tok.kind != tokIdent || p.tok.text != s {
		return p.errf("expected %q, found %q", s, p.tok.text)
	}
	return p.advance()
}

func (p *parser) atPunct(s string) bool {
	return p.tok.kind == tokPunct && p.tok.text == s
}

func (p *parser) atIdent(s string) bool {
	return p.tok.kind == tokIdent && p.tok.text == s
}

// consumeIdent eats the identifier if present and reports whether it did.
func (p *parser) consumeIdent(s string) (bool, error) {
	if !p.atIdent(s) {
		return false, nil
	}
	return true, p.advance()
}

func (p *parser) parseInt() (int64, error) {
	if p.tok.kind != tokNumber {
		return 0, p.errf("expected integer, found %q", p.tok.text)
	}
	v, err := strconv.ParseInt(p.tok.text, 10, 64)
	if err != nil {
		return 0, p.errf("bad integer %q", p.tok.text)
	}
	return v, p.advance()
}

func (p *parser) parseFloat() (float64, error) {
	if p.tok.kind != tokNumber {
		return 0, p.errf("expected number, found %q", p.tok.text)
	}
	v, err := strconv.ParseFloat(p.tok.text, 64)
	if err != nil {
		return 0, p.errf("bad number %q", p.tok.text)
	}
	return v, p.advance()
}

func (p *parser) parseValue() (ir.Value, error) {
	if p.tok.kind != tokValue {
		return ir.NoValue, p.errf("expected value reference, found %q", p.tok.text)
	}
	v, ok := p.names[p.tok.text]
	if !ok {
		return ir.NoValue, p.errf("undefined value %s", p.tok.text)
	}
	return v, p.advance()
}

func (p *parser) parseValueList() ([]ir.Value, error) {
	var vals []ir.Value
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if !p.atPunct(",") {
			return vals, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

// bindArg assigns a fresh block-argument name from the source text.
func (p *parser) bindArg(name string, v ir.Value) error {
	if !strings.HasPrefix(name, "%") {
		return p.errf("expected value name, found %q", name)
	}
	p.names[name] = v
	return nil
}

func (p *parser) parseType() (ir.Type, error) {
	t, err := typeFromToken(p.tok)
	if err != nil {
		return nil, p.errf("%v", err)
	}
	return t, p.advance()
}

func (p *parser) parseTensorType() (ir.TensorType, error) {
	t, err := p.parseType()
	if err != nil {
		return ir.TensorType{}, err
	}
	tt, ok := t.(ir.TensorType)
	if !ok {
		return ir.TensorType{}, p.errf("expected tensor type, found %s", t)
	}
	return tt, nil
}

func (p *parser) parseVectorType() (ir.VectorType, error) {
	t, err := p.parseType()
	if err != nil {
		return ir.VectorType{}, err
	}
	vt, ok := t.(ir.VectorType)
	if !ok {
		return ir.VectorType{}, p.errf("expected vector type, found %s", t)
	}
	return vt, nil
}

// parseTypeList reads one or more comma-separated types.
func (p *parser) parseTypeList() ([]ir.Type, error) {
	var types []ir.Type
	for {
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		types = append(types, t)
		if !p.atPunct(",") {
			return types, nil
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
}

func typeFromToken(tok token) (ir.Type, error) {
	switch tok.kind {
	case tokIdent:
		if s, ok := ir.ScalarTypeFromString(tok.text); ok {
			return s, nil
		}
		return nil, fmt.Errorf("unknown type %q", tok.text)
	case tokShaped:
		return parseShapedType(tok.text)
	default:
		return nil, fmt.Errorf("expected type, found %q", tok.text)
	}
}

func parseShapedType(text string) (ir.Type, error) {
	open := strings.IndexByte(text, '<')
	kind, inner := text[:open], text[open+1:len(text)-1]
	parts := strings.Split(inner, "x")
	elem, ok := ir.ScalarTypeFromString(parts[len(parts)-1])
	if !ok {
		return nil, fmt.Errorf("bad element type in %q", text)
	}
	dims := make([]int64, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		if part == "?" {
			dims = append(dims, ir.DynamicSize)
			continue
		}
		d, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad dimension %q in %q", part, text)
		}
		dims = append(dims, d)
	}
	if kind == "tensor" {
		return ir.TensorType{Dims: dims, Elem: elem}, nil
	}
	return ir.VectorType{Dims: dims, Elem: elem}, nil
}

// parseMixedList reads a bracketed mixed static/dynamic index list,
// e.g. [0, %3, 16].
func (p *parser) parseMixedList() ([]ir.Mixed, error) {
	return p.parseMixedSeq("[", "]")
}

// parseParenMixed reads a parenthesized mixed list, e.g. (32, %4).
func (p *parser) parseParenMixed() ([]ir.Mixed, error) {
	return p.parseMixedSeq("(", ")")
}

func (p *parser) parseMixedSeq(open, close string) ([]ir.Mixed, error) {
	if err := p.expectPunct(open); err != nil {
		return nil, err
	}
	var list []ir.Mixed
	for !p.atPunct(close) {
		if len(list) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		switch p.tok.kind {
		case tokNumber:
			v, err := p.parseInt()
			if err != nil {
				return nil, err
			}
			list = append(list, ir.Static(v))
		case tokValue:
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			list = append(list, ir.Dynamic(v))
		default:
			return nil, p.errf("expected index entry, found %q", p.tok.text)
		}
	}
	return list, p.advance()
}

// parseIntList reads a bracketed static integer list, e.g. [0, 1].
func (p *parser) parseIntList() ([]int64, error) {
	return p.parseIntSeq("[", "]")
}

// parseParenInts reads a parenthesized static integer list, e.g. (4, 8).
func (p *parser) parseParenInts() ([]int64, error) {
	return p.parseIntSeq("(", ")")
}

func (p *parser) parseIntSeq(open, close string) ([]int64, error) {
	if err := p.expectPunct(open); err != nil {
		return nil, err
	}
	var list []int64
	for !p.atPunct(close) {
		if len(list) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		v, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, p.advance()
}

// parseIndexMap reads one map, e.g. (d0, d1, d2) -> (d0, d2).
func (p *parser) parseIndexMap() (ir.IndexMap, error) {
	inputs, err := p.parseDimList()
	if err != nil {
		return ir.IndexMap{}, err
	}
	for i, d := range inputs {
		if d != i {
			return ir.IndexMap{}, p.errf("map inputs must be d0..dN in order")
		}
	}
	if p.tok.kind != tokArrow {
		return ir.IndexMap{}, p.errf("expected \"->\", found %q", p.tok.text)
	}
	if err := p.advance(); err != nil {
		return ir.IndexMap{}, err
	}
	outputs, err := p.parseDimList()
	if err != nil {
		return ir.IndexMap{}, err
	}
	m, err := ir.NewIndexMap(len(inputs), outputs...)
	if err != nil {
		return ir.IndexMap{}, p.errf("%v", err)
	}
	return m, nil
}

func (p *parser) parseDimList() ([]int, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var dims []int
	for !p.atPunct(")") {
		if len(dims) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		if p.tok.kind != tokIdent || !strings.HasPrefix(p.tok.text, "d") {
			return nil, p.errf("expected dimension, found %q", p.tok.text)
		}
		d, err := strconv.Atoi(p.tok.text[1:])
		if err != nil {
			return nil, p.errf("bad dimension %q", p.tok.text)
		}
		dims = append(dims, d)
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return dims, p.advance()
}

func (p *parser) parseKind() (ir.MmaKind, error) {
	if p.tok.kind != tokIdent {
		return nil, p.errf("expected kind name, found %q", p.tok.text)
	}
	name := p.tok.text
	if p.kinds == nil {
		return nil, p.errf("unknown kind %q: no registry", name)
	}
	kind, ok := p.kinds.Kind(name)
	if !ok {
		return nil, p.errf("unknown kind %q", name)
	}
	return kind, p.advance()
}

func (p *parser) parseFunc(g *ir.Graph) error {
	if err := p.expectIdent("func"); err != nil {
		return err
	}
	if p.tok.kind != tokSymbol {
		return p.errf("expected @symbol, found %q", p.tok.text)
	}
	name := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	var results []ir.Type
	if p.tok.kind == tokArrow {
		if err := p.advance(); err != nil {
			return err
		}
		var err error
		results, err = p.parseTypeList()
		if err != nil {
			return err
		}
	}
	// Value numbering restarts per func, matching the printer.
	p.names = make(map[string]ir.Value)
	p.b = g.NewBuilder()
	fn := p.b.Func(name, results)
	return p.parseRegion(fn.Body())
}

// parseRegion parses "{ ops... }" into body with the builder scoped to
// it for the duration.
func (p *parser) parseRegion(body *ir.Region) error {
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	saved := p.b
	p.b = ir.BuilderAtEnd(saved.Graph(), body)
	for !p.atPunct("}") {
		if p.tok.kind == tokEOF {
			return p.errf("unexpected end of input inside region")
		}
		if err := p.parseStmt(); err != nil {
			return err
		}
	}
	p.b = saved
	return p.advance()
}

// parseStmt parses one operation line, with or without a result lead.
func (p *parser) parseStmt() error {
	var lead string
	numResults := 1
	if p.tok.kind == tokValue {
		lead = p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if p.atPunct(":") {
			if err := p.advance(); err != nil {
				return err
			}
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			numResults = int(n)
		}
		if err := p.expectPunct("="); err != nil {
			return err
		}
	}
	if p.tok.kind != tokIdent {
		return p.errf("expected operation, found %q", p.tok.text)
	}
	mnemonic := p.tok.text
	if err := p.advance(); err != nil {
		return err
	}
	op, err := p.parseOp(mnemonic)
	if err != nil {
		return err
	}
	if lead == "" {
		return nil
	}
	if op == nil || op.NumResults() != numResults {
		return p.errf("%s: result count mismatch for %s", mnemonic, lead)
	}
	if numResults == 1 {
		p.names[lead] = op.Result(0)
		return nil
	}
	for i := 0; i < numResults; i++ {
		p.names[fmt.Sprintf("%s#%d", lead, i)] = op.Result(i)
	}
	return nil
}

func (p *parser) parseOp(mnemonic string) (*ir.Operation, error) {
	switch mnemonic {
	case "constant":
		return p.parseConstant()
	case "empty":
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		t, err := p.parseTensorType()
		if err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.Empty(t)), nil
	case "add":
		lhs, rhs, err := p.parseValuePair()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeClause(":"); err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.Add(lhs, rhs)), nil
	case "muli", "addi":
		lhs, rhs, err := p.parseValuePair()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeClause(":"); err != nil {
			return nil, err
		}
		if mnemonic == "muli" {
			return p.b.Graph().DefiningOp(p.b.MulI(lhs, rhs)), nil
		}
		return p.b.Graph().DefiningOp(p.b.AddI(lhs, rhs)), nil
	case "reduce":
		return p.parseReduce()
	case "matmul":
		return p.parseMatmul()
	case "contract":
		return p.parseContract()
	case "mma":
		return p.parseMma()
	case "forall":
		return p.parseForall()
	case "parallel_insert":
		return p.parseParallelInsert()
	case "for":
		return p.parseFor()
	case "yield":
		return p.parseYield()
	case "shuffle":
		return p.parseShuffle()
	case "barrier":
		in, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if err := p.skipTypeClause(":"); err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.Barrier(in)), nil
	case "sync":
		return p.b.Sync(), nil
	case "slice.extract":
		return p.parseSliceExtract()
	case "slice.insert":
		return p.parseSliceInsert()
	case "vector.read":
		return p.parseVectorRead()
	case "vector.write":
		return p.parseVectorWrite()
	case "vector.extract_slice":
		return p.parseVectorExtractSlice()
	case "vector.insert_slice":
		return p.parseVectorInsertSlice()
	case "vector.drop_lead":
		return p.parseVectorDropLead()
	case "vector.broadcast":
		return p.parseVectorBroadcast()
	case "vector.shape_cast":
		return p.parseVectorShapeCast()
	case "linearize":
		return p.parseLinearize()
	case "delinearize":
		return p.parseDelinearize()
	case "return":
		return p.parseReturn()
	default:
		return nil, p.errf("unknown operation %q", mnemonic)
	}
}

func (p *parser) parseValuePair() (ir.Value, ir.Value, error) {
	lhs, err := p.parseValue()
	if err != nil {
		return ir.NoValue, ir.NoValue, err
	}
	if err := p.expectPunct(","); err != nil {
		return ir.NoValue, ir.NoValue, err
	}
	rhs, err := p.parseValue()
	return lhs, rhs, err
}

// skipTypeClause consumes "<lead> T [to|into T]..." trailing type
// annotations that are redundant with operand types.
func (p *parser) skipTypeClause(lead string) error {
	if err := p.expectPunct(lead); err != nil {
		return err
	}
	for {
		if _, err := p.parseType(); err != nil {
			return err
		}
		switch {
		case p.atPunct(","):
			if err := p.advance(); err != nil {
				return err
			}
		case p.atIdent("to"), p.atIdent("into"):
			if err := p.advance(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *parser) parseConstant() (*ir.Operation, error) {
	switch {
	case p.atIdent("splat"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		v, err := p.parseFloat()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.Splat(t, v)), nil
	case p.atIdent("iota"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.Iota(t)), nil
	default:
		v, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		if err := p.expectIdent("index"); err != nil {
			return nil, err
		}
		return p.b.Graph().DefiningOp(p.b.ConstantIndex(v)), nil
	}
}

func (p *parser) parseReduce() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	acc, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("dims"); err != nil {
		return nil, err
	}
	dims, err := p.parseIntList()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.Reduce(src, acc, dims)), nil
}

func (p *parser) parseMatmul() (*ir.Operation, error) {
	lhs, rhs, err := p.parseValuePair()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	acc, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.Matmul(lhs, rhs, acc)), nil
}

func (p *parser) parseContract() (*ir.Operation, error) {
	lhs, rhs, err := p.parseValuePair()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	acc, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("maps"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var maps []ir.IndexMap
	for !p.atPunct("]") {
		if len(maps) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		m, err := p.parseIndexMap()
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("iterators"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var iters []ir.IteratorKind
	for !p.atPunct("]") {
		if len(iters) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		if p.tok.kind != tokIdent {
			return nil, p.errf("expected iterator kind, found %q", p.tok.text)
		}
		it, ok := ir.IteratorKindFromString(p.tok.text)
		if !ok {
			return nil, p.errf("unknown iterator kind %q", p.tok.text)
		}
		iters = append(iters, it)
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("kind"); err != nil {
		return nil, err
	}
	kind, err := p.parseKind()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.Contract(lhs, rhs, acc, maps, iters, kind)), nil
}

func (p *parser) parseMma() (*ir.Operation, error) {
	lhs, rhs, err := p.parseValuePair()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	acc, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("kind"); err != nil {
		return nil, err
	}
	kind, err := p.parseKind()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.Mma(lhs, rhs, acc, kind)), nil
}

func (p *parser) parseForall() (*ir.Operation, error) {
	ivNames, err := p.parseArgNameList()
	if err != nil {
		return nil, err
	}
	var lbs, ubs, steps []ir.Mixed
	if p.atIdent("in") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		ubs, err = p.parseParenMixed()
		if err != nil {
			return nil, err
		}
		for range ubs {
			lbs = append(lbs, ir.Static(0))
			steps = append(steps, ir.Static(1))
		}
	} else {
		if err := p.expectIdent("from"); err != nil {
			return nil, err
		}
		lbs, err = p.parseParenMixed()
		if err != nil {
			return nil, err
		}
		if err := p.expectIdent("to"); err != nil {
			return nil, err
		}
		ubs, err = p.parseParenMixed()
		if err != nil {
			return nil, err
		}
		if err := p.expectIdent("step"); err != nil {
			return nil, err
		}
		steps, err = p.parseParenMixed()
		if err != nil {
			return nil, err
		}
	}
	var mapping []ir.MappingTag
	if ok, err := p.consumeIdent("mapping"); err != nil {
		return nil, err
	} else if ok {
		mapping, err = p.parseMapping()
		if err != nil {
			return nil, err
		}
	}
	var argNames []string
	var outs []ir.Value
	if ok, err := p.consumeIdent("shared"); err != nil {
		return nil, err
	} else if ok {
		argNames, outs, err = p.parseBindList()
		if err != nil {
			return nil, err
		}
	}
	op := p.b.Forall(lbs, ubs, steps, mapping, outs)
	if len(ivNames) != op.ForallRank() {
		return nil, p.errf("forall has %d induction variables for rank %d", len(ivNames), op.ForallRank())
	}
	for i, iv := range op.InductionVars() {
		if err := p.bindArg(ivNames[i], iv); err != nil {
			return nil, err
		}
	}
	for i, arg := range op.SharedArgs() {
		if err := p.bindArg(argNames[i], arg); err != nil {
			return nil, err
		}
	}
	return op, p.parseRegion(op.Body())
}

// parseArgNameList reads "(%a, %b)" as raw names, deferring binding
// until the owning operation exists.
func (p *parser) parseArgNameList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var names []string
	for !p.atPunct(")") {
		if len(names) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		if p.tok.kind != tokValue {
			return nil, p.errf("expected value name, found %q", p.tok.text)
		}
		names = append(names, p.tok.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return names, p.advance()
}

func (p *parser) parseMapping() ([]ir.MappingTag, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	var tags []ir.MappingTag
	for !p.atPunct("]") {
		if len(tags) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		var kind ir.WorkerKind
		switch {
		case p.atIdent("thread"):
			kind = ir.Thread
		case p.atIdent("warp"):
			kind = ir.Warp
		default:
			return nil, p.errf("unknown worker kind %q", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		dim, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		tags = append(tags, ir.MappingTag{Kind: kind, Dim: int(dim)})
	}
	return tags, p.advance()
}

// parseBindList reads "(%a = %init : T, ...)" returning the argument
// names and the bound init values. The types are redundant.
func (p *parser) parseBindList() ([]string, []ir.Value, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, nil, err
	}
	var names []string
	var inits []ir.Value
	for !p.atPunct(")") {
		if len(names) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, nil, err
			}
		}
		if p.tok.kind != tokValue {
			return nil, nil, p.errf("expected value name, found %q", p.tok.text)
		}
		name := p.tok.text
		if err := p.advance(); err != nil {
			return nil, nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, nil, err
		}
		init, err := p.parseValue()
		if err != nil {
			return nil, nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, nil, err
		}
		if _, err := p.parseType(); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
		inits = append(inits, init)
	}
	return names, inits, p.advance()
}

func (p *parser) parseParallelInsert() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	dst, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	off, sz, str, err := p.parseSliceTriple()
	if err != nil {
		return nil, err
	}
	return p.b.ParallelInsert(src, dst, off, sz, str), nil
}

func (p *parser) parseSliceTriple() (off, sz, str []ir.Mixed, err error) {
	if off, err = p.parseMixedList(); err != nil {
		return nil, nil, nil, err
	}
	if sz, err = p.parseMixedList(); err != nil {
		return nil, nil, nil, err
	}
	if str, err = p.parseMixedList(); err != nil {
		return nil, nil, nil, err
	}
	return off, sz, str, nil
}

func (p *parser) parseFor() (*ir.Operation, error) {
	if p.tok.kind != tokValue {
		return nil, p.errf("expected induction variable, found %q", p.tok.text)
	}
	ivName := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	lb, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	ub, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("step"); err != nil {
		return nil, err
	}
	step, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	var argNames []string
	var inits []ir.Value
	if ok, err := p.consumeIdent("iter_args"); err != nil {
		return nil, err
	} else if ok {
		argNames, inits, err = p.parseBindList()
		if err != nil {
			return nil, err
		}
	}
	op := p.b.For(lb, ub, step, inits)
	if err := p.bindArg(ivName, op.InductionVars()[0]); err != nil {
		return nil, err
	}
	for i, arg := range op.IterArgs() {
		if err := p.bindArg(argNames[i], arg); err != nil {
			return nil, err
		}
	}
	return op, p.parseRegion(op.Body())
}

func (p *parser) parseYield() (*ir.Operation, error) {
	if p.tok.kind != tokValue {
		return p.b.Yield(), nil
	}
	vals, err := p.parseValueList()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Yield(vals...), nil
}

func (p *parser) parseShuffle() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	dst, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	off, sz, str, err := p.parseSliceTriple()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("as"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	if p.tok.kind != tokValue {
		return nil, p.errf("expected body argument, found %q", p.tok.text)
	}
	argName := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	// The result type trails the body; scan ahead for it so the op can
	// be created before its region is parsed.
	result, err := p.scanTrailingType()
	if err != nil {
		return nil, err
	}
	op := p.b.Shuffle(result, src, dst, off, sz, str)
	if err := p.bindArg(argName, op.Body().Arg(0)); err != nil {
		return nil, err
	}
	if err := p.parseRegion(op.Body()); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	return op, nil
}

// scanTrailingType looks ahead past the balanced "{...}" at the current
// position and returns the type following the closing "} :" without
// consuming any input.
func (p *parser) scanTrailingType() (ir.Type, error) {
	if !p.atPunct("{") {
		return nil, p.errf("expected \"{\", found %q", p.tok.text)
	}
	lx := *p.lex
	depth := 1
	for depth > 0 {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		switch {
		case tok.kind == tokEOF:
			return nil, p.errf("unexpected end of input inside region")
		case tok.kind == tokPunct && tok.text == "{":
			depth++
		case tok.kind == tokPunct && tok.text == "}":
			depth--
		}
	}
	colon, err := lx.next()
	if err != nil {
		return nil, err
	}
	if colon.kind != tokPunct || colon.text != ":" {
		return nil, p.errf("expected result type after shuffle body")
	}
	tok, err := lx.next()
	if err != nil {
		return nil, err
	}
	t, err := typeFromToken(tok)
	if err != nil {
		return nil, p.errf("%v", err)
	}
	return t, nil
}

func (p *parser) parseSliceExtract() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	off, sz, str, err := p.parseSliceTriple()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	result, err := p.parseType()
	if err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.SliceExtract(result, src, off, sz, str)), nil
}

func (p *parser) parseSliceInsert() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	dst, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	off, sz, str, err := p.parseSliceTriple()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.SliceInsert(src, dst, off, sz, str)), nil
}

func (p *parser) parseVectorRead() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	result, err := p.parseVectorType()
	if err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.VectorRead(result, src)), nil
}

func (p *parser) parseVectorWrite() (*ir.Operation, error) {
	vec, dst, err := p.parseValuePair()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.VectorWrite(vec, dst)), nil
}

func (p *parser) parseVectorExtractSlice() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	offsets, err := p.parseIntList()
	if err != nil {
		return nil, err
	}
	sizes, err := p.parseIntList()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.VectorExtractSlice(src, offsets, sizes)), nil
}

func (p *parser) parseVectorInsertSlice() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("into"); err != nil {
		return nil, err
	}
	dst, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	offsets, err := p.parseIntList()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.VectorInsertSlice(src, dst, offsets)), nil
}

func (p *parser) parseVectorDropLead() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	n, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, p.errf("vector.drop_lead of zero dimensions")
	}
	return p.b.Graph().DefiningOp(p.b.VectorDropLead(src, n)), nil
}

func (p *parser) parseVectorBroadcast() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	result, err := p.parseVectorType()
	if err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.VectorBroadcast(result, src)), nil
}

func (p *parser) parseVectorShapeCast() (*ir.Operation, error) {
	src, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	if _, err := p.parseType(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("to"); err != nil {
		return nil, err
	}
	result, err := p.parseVectorType()
	if err != nil {
		return nil, err
	}
	if ir.TypeEqual(p.b.Graph().ValueType(src), result) {
		return nil, p.errf("vector.shape_cast to identical type")
	}
	return p.b.Graph().DefiningOp(p.b.VectorShapeCast(result, src)), nil
}

func (p *parser) parseLinearize() (*ir.Operation, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var ivs []ir.Value
	for !p.atPunct(")") {
		if len(ivs) > 0 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, v)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectIdent("by"); err != nil {
		return nil, err
	}
	bounds, err := p.parseParenInts()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Graph().DefiningOp(p.b.Linearize(ivs, bounds)), nil
}

func (p *parser) parseDelinearize() (*ir.Operation, error) {
	id, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("by"); err != nil {
		return nil, err
	}
	bounds, err := p.parseParenInts()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	results := p.b.Delinearize(id, bounds)
	return p.b.Graph().DefiningOp(results[0]), nil
}

func (p *parser) parseReturn() (*ir.Operation, error) {
	if p.tok.kind != tokValue {
		return p.b.Return(), nil
	}
	vals, err := p.parseValueList()
	if err != nil {
		return nil, err
	}
	if err := p.skipTypeClause(":"); err != nil {
		return nil, err
	}
	return p.b.Return(vals...), nil
}
