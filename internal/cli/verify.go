package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/syntax"
)

// VerifyResult holds verification results.
type VerifyResult struct {
	Valid  bool          `json:"valid"`
	Errors []VerifyIssue `json:"errors,omitempty"`
}

// VerifyIssue is one verifier diagnostic.
type VerifyIssue struct {
	Code    string `json:"code"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <program.smelt>",
		Short: "Check a program against the structural rules",
		Long: `Parse a program and run the verifier.

Every diagnostic carries a stable error code (E100-E149) naming the
violated rule, the offending operation, and a message.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, path string, cmd *cobra.Command) error {
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

	errs := g.Verify()
	if len(errs) == 0 {
		if opts.Format == "json" {
			return formatter.Success(VerifyResult{Valid: true})
		}
		fmt.Fprintln(formatter.Writer, "✓ program is valid")
		return nil
	}

	issues := make([]VerifyIssue, len(errs))
	for i, e := range errs {
		issues[i] = verifyIssue(e)
	}
	if opts.Format == "json" {
		_ = formatter.Error("E100", "verification failed", issues)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ verification failed")
		fmt.Fprintln(formatter.Writer)
		for _, issue := range issues {
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", issue.Code, issue.Op, issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("verification failed with %d error(s)", len(errs)))
}

func verifyIssue(e ir.VerifyError) VerifyIssue {
	return VerifyIssue{
		Code:    e.Code,
		Op:      fmt.Sprintf("%%op%d (%s)", e.Op, e.Opcode),
		Message: e.Message,
	}
}
