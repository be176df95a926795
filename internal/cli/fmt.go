package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/syntax"
)

// NewFmtCommand creates the fmt command.
func NewFmtCommand(rootOpts *RootOptions) *cobra.Command {
	var write bool
	var check bool

	cmd := &cobra.Command{
		Use:   "fmt <program.smelt>",
		Short: "Print a program in canonical form",
		Long: `Parse a textual program and reprint it in canonical form.

Canonical form is deterministic: values are renumbered in program
order and all spacing is normalized. With --write the file is
rewritten in place; with --check the command fails if the file is not
already canonical.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFmt(rootOpts, args[0], write, check, cmd)
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "rewrite the file in place")
	cmd.Flags().BoolVar(&check, "check", false, "fail if the file is not canonical")

	return cmd
}

func runFmt(opts *RootOptions, path string, write, check bool, cmd *cobra.Command) error {
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
	canonical := syntax.Print(g)

	switch {
	case check:
		if canonical != string(data) {
			_ = formatter.Error("E003", fmt.Sprintf("%s is not canonical", path), nil)
			return NewExitError(ExitFailure, "not canonical")
		}
		formatter.VerboseLog("%s is canonical", path)
		return nil
	case write:
		if err := os.WriteFile(path, []byte(canonical), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write program", err)
		}
		formatter.VerboseLog("rewrote %s", path)
		return nil
	default:
		fmt.Fprint(formatter.Writer, canonical)
		return nil
	}
}
