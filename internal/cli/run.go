package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/eval"
	"github.com/smelt-ir/smelt/internal/syntax"
)

// RunResult holds evaluation results for JSON output.
type RunResult struct {
	Func    string      `json:"func"`
	Results []RunBuffer `json:"results"`
}

// RunBuffer is one evaluated result buffer.
type RunBuffer struct {
	Dims []int64   `json:"dims"`
	Elem string    `json:"elem"`
	Data []float64 `json:"data"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var fnName string

	cmd := &cobra.Command{
		Use:   "run <program.smelt>",
		Short: "Evaluate a program with the reference evaluator",
		Long: `Parse a program and evaluate one of its functions.

The evaluator runs parallel loops lock-step and single-threaded, so
its output is deterministic and serves as the reference a lowering
must preserve.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, args[0], fnName, cmd)
		},
	}

	cmd.Flags().StringVar(&fnName, "func", "main", "function to evaluate")

	return cmd
}

func runEval(opts *RootOptions, path, fnName string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return WrapExitError(ExitCommandError, "read program", err)
	}
	g, err := syntax.Parse(string(data), catalog.Default())
	if err != nil {
		_ = formatter.Error("E002", err.Error(), nil)
		return WrapExitError(ExitCommandError, "parse program", err)
	}

	out, err := eval.Run(g, fnName)
	if err != nil {
		_ = formatter.Error("E007", err.Error(), nil)
		return WrapExitError(ExitFailure, "evaluation failed", err)
	}

	if opts.Format == "json" {
		result := RunResult{Func: fnName}
		for _, buf := range out {
			result.Results = append(result.Results, RunBuffer{
				Dims: buf.Dims,
				Elem: buf.Elem.String(),
				Data: buf.Data,
			})
		}
		return formatter.Success(result)
	}

	for i, buf := range out {
		fmt.Fprintf(formatter.Writer, "result %d: %s\n", i, formatBuffer(buf))
	}
	return nil
}

// formatBuffer renders a buffer as "dims : values", eliding long data.
func formatBuffer(buf *eval.Buffer) string {
	var sb strings.Builder
	if len(buf.Dims) == 0 {
		fmt.Fprintf(&sb, "%s = %v", buf.Elem, buf.Data[0])
		return sb.String()
	}
	for i, d := range buf.Dims {
		if i > 0 {
			sb.WriteByte('x')
		}
		fmt.Fprintf(&sb, "%d", d)
	}
	fmt.Fprintf(&sb, "x%s =", buf.Elem)
	const maxShown = 16
	for i, v := range buf.Data {
		if i == maxShown {
			fmt.Fprintf(&sb, " ... (%d elements)", len(buf.Data))
			break
		}
		fmt.Fprintf(&sb, " %v", v)
	}
	return sb.String()
}
