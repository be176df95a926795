package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/transforms"
)

// Scenario defines one conformance scenario: a program, a pipeline, and
// checks over the lowered result.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the textual program to lower.
	Program string `yaml:"program"`

	// Pipeline is a preset pipeline name. Exactly one of Pipeline and
	// Passes must be set.
	Pipeline string `yaml:"pipeline,omitempty"`

	// Passes is an inline pass list with per-pass parameters.
	Passes []transforms.PassConfig `yaml:"passes,omitempty"`

	// Checks validate the lowered program.
	Checks []Check `yaml:"checks"`
}

// Check is one validation over a scenario run.
type Check struct {
	// Type is one of op_count, applied, numeric.
	Type string `yaml:"type"`

	// Op is the opcode mnemonic counted by op_count, e.g. "forall" or
	// "slice.extract".
	Op string `yaml:"op,omitempty"`

	// Count is the expected count for op_count and applied.
	Count int `yaml:"count,omitempty"`
}

// Check type constants.
const (
	CheckOpCount = "op_count"
	CheckApplied = "applied"
	CheckNumeric = "numeric"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario YAML document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields (catches typos)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if s.Pipeline == "" && len(s.Passes) == 0 {
		return fmt.Errorf("one of pipeline or passes is required")
	}
	if s.Pipeline != "" && len(s.Passes) > 0 {
		return fmt.Errorf("pipeline and passes are mutually exclusive")
	}
	if len(s.Checks) == 0 {
		return fmt.Errorf("checks list is required and must be non-empty")
	}
	for i, check := range s.Checks {
		if err := validateCheck(i, &check); err != nil {
			return err
		}
	}
	return nil
}

// validateCheck validates a single check based on its type.
func validateCheck(index int, c *Check) error {
	switch c.Type {
	case "":
		return fmt.Errorf("checks[%d]: type is required", index)
	case CheckOpCount:
		if c.Op == "" {
			return fmt.Errorf("checks[%d]: op is required for op_count", index)
		}
		if _, ok := ir.OpcodeFromString(c.Op); !ok {
			return fmt.Errorf("checks[%d]: unknown opcode %q", index, c.Op)
		}
		if c.Count < 0 {
			return fmt.Errorf("checks[%d]: count must be non-negative", index)
		}
	case CheckApplied:
		if c.Count < 0 {
			return fmt.Errorf("checks[%d]: count must be non-negative", index)
		}
	case CheckNumeric:
		// No parameters.
	default:
		return fmt.Errorf("checks[%d]: unknown check type %q", index, c.Type)
	}
	return nil
}
