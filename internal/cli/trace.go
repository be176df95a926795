package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/rewrite"
	"github.com/smelt-ir/smelt/internal/tracedb"
)

// TraceSessionsResult lists stored sessions for JSON output.
type TraceSessionsResult struct {
	Sessions []TraceSessionInfo `json:"sessions"`
}

// TraceSessionInfo is one stored session.
type TraceSessionInfo struct {
	ID       string `json:"id"`
	Pipeline string `json:"pipeline"`
}

// TraceShowResult holds one session's trace for JSON output.
type TraceShowResult struct {
	Session string         `json:"session"`
	Steps   []TraceStep    `json:"steps"`
	Applied map[string]int `json:"applied"`
}

// TraceStep is one recorded rewrite step.
type TraceStep struct {
	Seq    int64  `json:"seq"`
	Rule   string `json:"rule"`
	Opcode string `json:"opcode"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// NewTraceCommand creates the trace command group.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded rewrite traces",
		Long: `Inspect the trace database written by "smelt lower --trace-db".

Sessions and steps are returned in a deterministic order, so the same
database always prints the same output.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "trace database path (required)")

	cmd.AddCommand(newTraceSessionsCommand(rootOpts, &dbPath))
	cmd.AddCommand(newTraceShowCommand(rootOpts, &dbPath))

	return cmd
}

func newTraceSessionsCommand(rootOpts *RootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:           "sessions",
		Short:         "List recorded sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceSessions(rootOpts, *dbPath, cmd)
		},
	}
}

func newTraceShowCommand(rootOpts *RootOptions, dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:           "show <session-id>",
		Short:         "Print one session's rewrite steps",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceShow(rootOpts, *dbPath, args[0], cmd)
		},
	}
}

func openTraceStore(formatter *OutputFormatter, dbPath string) (*tracedb.Store, error) {
	if dbPath == "" {
		_ = formatter.Error("E005", "--db is required", nil)
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	store, err := tracedb.Open(dbPath)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "open trace database", err)
	}
	return store, nil
}

func runTraceSessions(opts *RootOptions, dbPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	store, err := openTraceStore(formatter, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions(cmd.Context())
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return WrapExitError(ExitFailure, "list sessions", err)
	}

	result := TraceSessionsResult{Sessions: []TraceSessionInfo{}}
	for _, info := range sessions {
		result.Sessions = append(result.Sessions, TraceSessionInfo{
			ID:       info.ID,
			Pipeline: info.Pipeline,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	for _, info := range result.Sessions {
		fmt.Fprintf(formatter.Writer, "%s  %s\n", info.ID, info.Pipeline)
	}
	return nil
}

func runTraceShow(opts *RootOptions, dbPath, sessionID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	store, err := openTraceStore(formatter, dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	trace, err := store.ReadTrace(cmd.Context(), sessionID)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return WrapExitError(ExitFailure, "read trace", err)
	}
	counts, err := store.RuleCounts(cmd.Context(), sessionID)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return WrapExitError(ExitFailure, "read rule counts", err)
	}

	result := TraceShowResult{
		Session: sessionID,
		Steps:   []TraceStep{},
		Applied: counts,
	}
	for _, rec := range trace {
		result.Steps = append(result.Steps, TraceStep{
			Seq:    rec.Seq,
			Rule:   rec.Rule,
			Opcode: rec.Opcode,
			Status: string(rec.Status),
			Reason: rec.Reason,
			Before: rec.Before,
			After:  rec.After,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	for _, step := range result.Steps {
		line := fmt.Sprintf("%6d  %-10s %-24s %s", step.Seq, step.Status, step.Rule, step.Opcode)
		if step.Status == string(rewrite.StatusDeclined) && step.Reason != "" {
			line += "  (" + step.Reason + ")"
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	rules := make([]string, 0, len(counts))
	for rule := range counts {
		rules = append(rules, rule)
	}
	sort.Strings(rules)
	for _, rule := range rules {
		fmt.Fprintf(formatter.Writer, "applied %s: %d\n", rule, counts[rule])
	}
	return nil
}
