package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/catalog"
	"github.com/smelt-ir/smelt/internal/rewrite"
	"github.com/smelt-ir/smelt/internal/syntax"
	"github.com/smelt-ir/smelt/internal/tracedb"
	"github.com/smelt-ir/smelt/internal/transforms"
)

// LowerResult holds the lowering outcome for JSON output.
type LowerResult struct {
	Pipeline string `json:"pipeline"`
	Applied  int    `json:"applied"`
	Session  string `json:"session,omitempty"`
	Program  string `json:"program"`
}

// NewLowerCommand creates the lower command.
func NewLowerCommand(rootOpts *RootOptions) *cobra.Command {
	var pipeline string
	var passesFile string
	var outFile string
	var traceDB string

	cmd := &cobra.Command{
		Use:   "lower <program.smelt>",
		Short: "Run a lowering pipeline over a program",
		Long: `Parse a program, drive a pattern pipeline to fixpoint, and print
the lowered program in canonical form.

The pipeline is either a preset (--pipeline) or a YAML pass list
(--passes). With --trace-db every rewrite step is recorded in a trace
session; the session id is reported for later inspection with
"smelt trace".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLower(rootOpts, args[0], pipeline, passesFile, outFile, traceDB, cmd)
		},
	}

	cmd.Flags().StringVarP(&pipeline, "pipeline", "p", "full", "preset pipeline name")
	cmd.Flags().StringVar(&passesFile, "passes", "", "YAML pass list (overrides --pipeline)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the lowered program to a file")
	cmd.Flags().StringVar(&traceDB, "trace-db", "", "record the trace into a SQLite database")

	return cmd
}

func runLower(opts *RootOptions, path, pipeline, passesFile, outFile, traceDB string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	patterns, name, err := loadPatterns(pipeline, passesFile)
	if err != nil {
		_ = formatter.Error("E004", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load pipeline", err)
	}
	formatter.VerboseLog("pipeline %s: %d patterns", name, len(patterns))

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
	if errs := g.Verify(); len(errs) > 0 {
		_ = formatter.Error(errs[0].Code, errs[0].Error(), nil)
		return NewExitError(ExitFailure, "program is invalid")
	}

	var dopts []rewrite.Option
	sessionID := ""
	if traceDB != "" {
		store, err := tracedb.Open(traceDB)
		if err != nil {
			_ = formatter.Error("E005", err.Error(), nil)
			return WrapExitError(ExitCommandError, "open trace database", err)
		}
		defer store.Close()
		session, err := store.Begin(cmd.Context(), name)
		if err != nil {
			return WrapExitError(ExitCommandError, "begin trace session", err)
		}
		sessionID = session.ID()
		dopts = append(dopts, rewrite.WithRecorder(session))
	}

	applied, err := rewrite.NewDriver(patterns, dopts...).Run(cmd.Context(), g)
	if err != nil {
		_ = formatter.Error("E006", err.Error(), nil)
		return WrapExitError(ExitFailure, "lowering failed", err)
	}
	lowered := syntax.Print(g)

	if outFile != "" {
		if err := os.WriteFile(outFile, []byte(lowered), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write lowered program", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(LowerResult{
			Pipeline: name,
			Applied:  applied,
			Session:  sessionID,
			Program:  lowered,
		})
	}
	formatter.VerboseLog("applied %d rewrites", applied)
	if sessionID != "" {
		fmt.Fprintf(formatter.ErrWriter, "trace session: %s\n", sessionID)
	}
	if outFile == "" {
		fmt.Fprint(formatter.Writer, lowered)
	}
	return nil
}

// loadPatterns resolves the pattern list from the flags: an explicit
// pass file wins over the preset name.
func loadPatterns(pipeline, passesFile string) ([]rewrite.Pattern, string, error) {
	if passesFile != "" {
		data, err := os.ReadFile(passesFile)
		if err != nil {
			return nil, "", err
		}
		cfg, patterns, err := transforms.LoadPipeline(data)
		if err != nil {
			return nil, "", err
		}
		return patterns, cfg.Name, nil
	}
	patterns, err := transforms.Pipeline(pipeline)
	if err != nil {
		return nil, "", err
	}
	return patterns, pipeline, nil
}
