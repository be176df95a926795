package catalog

import (
	"embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/smelt-ir/smelt/internal/ir"
)

//go:embed targets/*.cue
var targetFiles embed.FS

// Kind is one native contraction instruction: a named element type
// triple plus the register tile shapes one invocation consumes. It is
// the catalog's implementation of ir.MmaKind.
type Kind struct {
	name   string
	target string
	elems  [3]ir.ScalarType
	shapes [3][]int64
}

// Name returns the catalog name, e.g. "mfma_f32_16x16x16_f16".
func (k *Kind) Name() string { return k.name }

// Target returns the target the kind belongs to.
func (k *Kind) Target() string { return k.target }

// ElementTypes returns the (lhs, rhs, acc) element type triple.
func (k *Kind) ElementTypes() (ir.ScalarType, ir.ScalarType, ir.ScalarType) {
	return k.elems[0], k.elems[1], k.elems[2]
}

// OperandShapes returns the native (lhs, rhs, acc) register shapes.
func (k *Kind) OperandShapes() (lhs, rhs, acc []int64) {
	return k.shapes[0], k.shapes[1], k.shapes[2]
}

// BuildInstruction emits the concrete instruction for operands already
// in the kind's native register types.
func (k *Kind) BuildInstruction(b *ir.Builder, lhs, rhs, acc ir.Value) (ir.Value, error) {
	lt, rt, at := ir.ABCVectorTypes(k)
	g := b.Graph()
	for _, check := range []struct {
		v    ir.Value
		want ir.VectorType
		role string
	}{
		{lhs, lt, "lhs"}, {rhs, rt, "rhs"}, {acc, at, "acc"},
	} {
		if got := g.ValueType(check.v); !ir.TypeEqual(got, check.want) {
			return ir.NoValue, fmt.Errorf("%s: %s operand has type %s, native tile is %s",
				k.name, check.role, got, check.want)
		}
	}
	return b.Mma(lhs, rhs, acc, k), nil
}

// Catalog is an immutable set of kinds indexed by name.
type Catalog struct {
	kinds map[string]*Kind
}

// Kind resolves a kind by catalog name. It satisfies the textual-form
// registry interface.
func (c *Catalog) Kind(name string) (ir.MmaKind, bool) {
	k, ok := c.kinds[name]
	if !ok {
		return nil, false
	}
	return k, true
}

// MustKind resolves a kind known to exist; it panics otherwise.
func (c *Catalog) MustKind(name string) ir.MmaKind {
	k, ok := c.kinds[name]
	if !ok {
		panic(fmt.Sprintf("catalog: unknown kind %q", name))
	}
	return k
}

// Names returns all kind names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.kinds))
	for name := range c.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns all target names in sorted order.
func (c *Catalog) Targets() []string {
	seen := make(map[string]bool)
	for _, k := range c.kinds {
		seen[k.target] = true
	}
	targets := make([]string, 0, len(seen))
	for t := range seen {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// ForTarget returns the kinds of one target in sorted name order.
func (c *Catalog) ForTarget(target string) []*Kind {
	var kinds []*Kind
	for _, name := range c.Names() {
		if k := c.kinds[name]; k.target == target {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Load parses the embedded target descriptor files into a catalog.
func Load() (*Catalog, error) {
	entries, err := targetFiles.ReadDir("targets")
	if err != nil {
		return nil, err
	}
	ctx := cuecontext.New()
	c := &Catalog{kinds: make(map[string]*Kind)}
	for _, entry := range entries {
		data, err := targetFiles.ReadFile("targets/" + entry.Name())
		if err != nil {
			return nil, err
		}
		if err := c.loadTarget(ctx, entry.Name(), data); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns the embedded catalog. The descriptors ship with the
// binary, so a load failure is a build defect.
func Default() *Catalog {
	c, err := Load()
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded descriptors are invalid: %v", err))
	}
	return c
}

func (c *Catalog) loadTarget(ctx *cue.Context, filename string, data []byte) error {
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}

	targetVal := v.LookupPath(cue.ParsePath("target"))
	if !targetVal.Exists() {
		return &DescriptorError{Field: "target", Message: "target name is required", Pos: v.Pos()}
	}
	target, err := targetVal.String()
	if err != nil {
		return formatCUEError(err)
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return &DescriptorError{Field: "kind", Message: "at least one kind is required", Pos: v.Pos()}
	}
	iter, err := kindVal.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		k, err := parseKind(iter.Label(), target, iter.Value())
		if err != nil {
			return err
		}
		if prev, dup := c.kinds[k.name]; dup {
			return &DescriptorError{
				Field:   k.name,
				Message: fmt.Sprintf("kind already declared by target %q", prev.target),
				Pos:     iter.Value().Pos(),
			}
		}
		c.kinds[k.name] = k
	}
	return nil
}

func parseKind(name, target string, v cue.Value) (*Kind, error) {
	k := &Kind{name: name, target: target}

	elemsVal := v.LookupPath(cue.ParsePath("elements"))
	if !elemsVal.Exists() {
		return nil, &DescriptorError{Field: name + ".elements", Message: "element triple is required", Pos: v.Pos()}
	}
	for i, role := range [3]string{"lhs", "rhs", "acc"} {
		roleVal := elemsVal.LookupPath(cue.ParsePath(role))
		str, err := roleVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		elem, ok := ir.ScalarTypeFromString(str)
		if !ok {
			return nil, &DescriptorError{
				Field:   fmt.Sprintf("%s.elements.%s", name, role),
				Message: fmt.Sprintf("unknown element type %q", str),
				Pos:     roleVal.Pos(),
			}
		}
		k.elems[i] = elem
	}

	shapesVal := v.LookupPath(cue.ParsePath("shapes"))
	if !shapesVal.Exists() {
		return nil, &DescriptorError{Field: name + ".shapes", Message: "shape triple is required", Pos: v.Pos()}
	}
	for i, role := range [3]string{"lhs", "rhs", "acc"} {
		shape, err := parseShape(shapesVal.LookupPath(cue.ParsePath(role)))
		if err != nil {
			return nil, &DescriptorError{
				Field:   fmt.Sprintf("%s.shapes.%s", name, role),
				Message: err.Error(),
				Pos:     shapesVal.Pos(),
			}
		}
		k.shapes[i] = shape
	}

	// One instruction computes acc[m,n] += lhs[m,k] * rhs[k,n]; the
	// declared tiles must compose.
	ls, rs, as := k.shapes[0], k.shapes[1], k.shapes[2]
	if len(ls) != 2 || len(rs) != 2 || len(as) != 2 || ls[1] != rs[0] || ls[0] != as[0] || rs[1] != as[1] {
		return nil, &DescriptorError{
			Field:   name + ".shapes",
			Message: fmt.Sprintf("tiles do not compose: %v x %v -> %v", ls, rs, as),
			Pos:     shapesVal.Pos(),
		}
	}
	return k, nil
}

func parseShape(v cue.Value) ([]int64, error) {
	iter, err := v.List()
	if err != nil {
		return nil, err
	}
	var shape []int64
	for iter.Next() {
		d, err := iter.Value().Int64()
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("tile dimension must be positive, got %d", d)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// DescriptorError is a catalog descriptor validation error with source
// position.
type DescriptorError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DescriptorError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	if positions := errors.Positions(firstErr); len(positions) > 0 {
		return &DescriptorError{Field: "cue", Message: firstErr.Error(), Pos: positions[0]}
	}
	return err
}
