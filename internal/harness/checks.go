package harness

import (
	"fmt"

	"github.com/smelt-ir/smelt/internal/eval"
	"github.com/smelt-ir/smelt/internal/ir"
)

// evaluateChecks runs every check of a scenario against the lowered
// result and returns one message per failure.
func evaluateChecks(scenario *Scenario, result *Result, before []*eval.Buffer) []string {
	var errors []string
	for i, check := range scenario.Checks {
		var err error
		switch check.Type {
		case CheckOpCount:
			err = checkOpCount(result.Graph, check)
		case CheckApplied:
			err = checkApplied(result.Applied, check)
		case CheckNumeric:
			err = checkNumeric(result.Graph, before)
		}
		if err != nil {
			errors = append(errors, fmt.Sprintf("checks[%d] %s: %v", i, check.Type, err))
		}
	}
	return errors
}

func checkOpCount(g *ir.Graph, check Check) error {
	code, ok := ir.OpcodeFromString(check.Op)
	if !ok {
		return fmt.Errorf("unknown opcode %q", check.Op)
	}
	n := 0
	for _, fn := range g.Root().Ops() {
		fn.Body().Walk(func(op *ir.Operation) {
			if op.Opcode == code {
				n++
			}
		})
	}
	if n != check.Count {
		return fmt.Errorf("%d %s ops, want %d", n, check.Op, check.Count)
	}
	return nil
}

func checkApplied(applied int, check Check) error {
	if applied != check.Count {
		return fmt.Errorf("%d rewrites applied, want %d", applied, check.Count)
	}
	return nil
}

// checkNumeric evaluates the lowered program and compares every result
// buffer against the reference values, element for element.
func checkNumeric(g *ir.Graph, before []*eval.Buffer) error {
	after, err := eval.Run(g, EntryFunc)
	if err != nil {
		return fmt.Errorf("lowered evaluation: %w", err)
	}
	if len(after) != len(before) {
		return fmt.Errorf("%d results, want %d", len(after), len(before))
	}
	for i := range before {
		if len(after[i].Data) != len(before[i].Data) {
			return fmt.Errorf("result %d has %d elements, want %d",
				i, len(after[i].Data), len(before[i].Data))
		}
		for j := range before[i].Data {
			if after[i].Data[j] != before[i].Data[j] {
				return fmt.Errorf("result %d diverges at element %d: %v, want %v",
					i, j, after[i].Data[j], before[i].Data[j])
			}
		}
	}
	return nil
}
