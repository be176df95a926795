package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/eval"
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
	"github.com/smelt-ir/smelt/internal/syntax"
	"github.com/smelt-ir/smelt/internal/transforms"
)

// EntryFunc is the function a scenario program must define; the numeric
// check evaluates it.
const EntryFunc = "main"

// Result is the outcome of one scenario run.
type Result struct {
	// Applied is the number of rewrites the driver performed.
	Applied int

	// Graph is the lowered program.
	Graph *ir.Graph

	// Output is the canonical textual form of the lowered program, the
	// unit of golden comparison.
	Output string

	// Errors lists every failed check. Empty means the scenario passed.
	Errors []string
}

// Passed reports whether every check held.
func (r *Result) Passed() bool { return len(r.Errors) == 0 }

// Option configures a scenario run.
type Option func(*runner)

// WithRecorder attaches a trace recorder to the driver, typically a
// tracedb session.
func WithRecorder(rec rewrite.Recorder) Option {
	return func(r *runner) {
		r.rec = rec
	}
}

// WithCatalog substitutes the instruction catalog resolving kind names
// in the program text.
func WithCatalog(c *catalog.Catalog) Option {
	return func(r *runner) {
		r.kinds = c
	}
}

type runner struct {
	rec   rewrite.Recorder
	kinds *catalog.Catalog
}

// Run executes a scenario: parse, lower, check.
//
// Each scenario runs on its own graph for isolation; the driver's
// deterministic traversal makes reruns byte-identical.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	r := &runner{kinds: catalog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	patterns, err := scenarioPatterns(scenario)
	if err != nil {
		return nil, err
	}

	g, err := syntax.Parse(scenario.Program, r.kinds)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	if errs := g.Verify(); len(errs) > 0 {
		return nil, fmt.Errorf("scenario %s: invalid program: %s", scenario.Name, errs[0])
	}

	// The numeric check needs reference values from the unlowered
	// program; a fresh parse keeps the lowering off the reference copy.
	var before []*eval.Buffer
	if hasNumericCheck(scenario) {
		ref := syntax.MustParse(scenario.Program, r.kinds)
		before, err = eval.Run(ref, EntryFunc)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: reference evaluation: %w", scenario.Name, err)
		}
	}

	var dopts []rewrite.Option
	if r.rec != nil {
		dopts = append(dopts, rewrite.WithRecorder(r.rec))
	}
	applied, err := rewrite.NewDriver(patterns, dopts...).Run(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	slog.Debug("scenario lowered", "scenario", scenario.Name, "applications", applied)

	result := &Result{
		Applied: applied,
		Graph:   g,
		Output:  syntax.Print(g),
	}
	result.Errors = evaluateChecks(scenario, result, before)
	return result, nil
}

// scenarioPatterns materializes the scenario's pattern list.
func scenarioPatterns(scenario *Scenario) ([]rewrite.Pattern, error) {
	if scenario.Pipeline != "" {
		patterns, err := transforms.Pipeline(scenario.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		return patterns, nil
	}
	patterns, err := transforms.FromConfig(transforms.PipelineConfig{
		Name:   scenario.Name,
		Passes: scenario.Passes,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	return patterns, nil
}

func hasNumericCheck(scenario *Scenario) bool {
	for _, check := range scenario.Checks {
		if check.Type == CheckNumeric {
			return true
		}
	}
	return false
}
