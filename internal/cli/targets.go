package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smelt-ir/smelt/internal/catalog"
)

// TargetsResult lists the catalog contents for JSON output.
type TargetsResult struct {
	Targets []TargetInfo `json:"targets"`
}

// TargetInfo is one target and its kinds.
type TargetInfo struct {
	Name  string     `json:"name"`
	Kinds []KindInfo `json:"kinds"`
}

// KindInfo describes one native instruction kind.
type KindInfo struct {
	Name     string  `json:"name"`
	Elements string  `json:"elements"`
	Lhs      []int64 `json:"lhs"`
	Rhs      []int64 `json:"rhs"`
	Acc      []int64 `json:"acc"`
}

// NewTargetsCommand creates the targets command.
func NewTargetsCommand(rootOpts *RootOptions) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List the native instruction catalog",
		Long: `List the targets and native contraction kinds the embedded catalog
declares. Contractions name one of these kinds to pick the
instruction they lower to.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTargets(rootOpts, target, cmd)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "show only one target")

	return cmd
}

func runTargets(opts *RootOptions, target string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	c := catalog.Default()
	names := c.Targets()
	if target != "" {
		found := false
		for _, name := range names {
			if name == target {
				found = true
			}
		}
		if !found {
			_ = formatter.Error("E008", fmt.Sprintf("unknown target %q", target), nil)
			return NewExitError(ExitCommandError, "unknown target")
		}
		names = []string{target}
	}

	result := TargetsResult{}
	for _, name := range names {
		info := TargetInfo{Name: name}
		for _, k := range c.ForTarget(name) {
			le, re, ae := k.ElementTypes()
			ls, rs, as := k.OperandShapes()
			info.Kinds = append(info.Kinds, KindInfo{
				Name:     k.Name(),
				Elements: fmt.Sprintf("%s, %s -> %s", le, re, ae),
				Lhs:      ls,
				Rhs:      rs,
				Acc:      as,
			})
		}
		result.Targets = append(result.Targets, info)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	for _, info := range result.Targets {
		fmt.Fprintf(formatter.Writer, "%s\n", info.Name)
		for _, k := range info.Kinds {
			fmt.Fprintf(formatter.Writer, "  %-28s %s  %vx%v -> %v\n",
				k.Name, k.Elements, k.Lhs, k.Rhs, k.Acc)
		}
	}
	return nil
}
