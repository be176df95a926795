package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/harness"
)

// TestResult aggregates scenario outcomes for JSON output.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Applied int      `json:"applied"`
	Errors  []string `json:"errors,omitempty"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run conformance scenarios",
		Long: `Load one or more scenario files and run their pipelines against
their checks. A directory argument runs every .yaml file under it.

The command fails if any scenario check fails.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runTest(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	paths, err := collectScenarioFiles(args)
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return WrapExitError(ExitCommandError, "collect scenarios", err)
	}
	if len(paths) == 0 {
		_ = formatter.Error("E001", "no scenario files found", nil)
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	result := TestResult{}
	for _, path := range paths {
		scenario, err := harness.LoadScenario(path)
		if err != nil {
			_ = formatter.Error("E009", err.Error(), nil)
			return WrapExitError(ExitCommandError, "load scenario", err)
		}
		run, err := harness.Run(cmd.Context(), scenario)
		if err != nil {
			_ = formatter.Error("E010", err.Error(), nil)
			return WrapExitError(ExitFailure, fmt.Sprintf("scenario %s", scenario.Name), err)
		}
		sr := ScenarioResult{
			Name:    scenario.Name,
			Passed:  run.Passed(),
			Applied: run.Applied,
			Errors:  run.Errors,
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		_ = formatter.Success(result)
	} else {
		for _, sr := range result.Scenarios {
			if sr.Passed {
				fmt.Fprintf(formatter.Writer, "ok   %s (%d rewrites)\n", sr.Name, sr.Applied)
				continue
			}
			fmt.Fprintf(formatter.Writer, "FAIL %s\n", sr.Name)
			for _, msg := range sr.Errors {
				fmt.Fprintf(formatter.Writer, "     %s\n", msg)
			}
		}
		fmt.Fprintf(formatter.Writer, "%d passed, %d failed\n", result.Passed, result.Failed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// collectScenarioFiles expands directory arguments into their .yaml
// files, sorted for deterministic run order.
func collectScenarioFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".yaml") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}
