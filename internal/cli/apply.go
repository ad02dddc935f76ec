package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/config"
)

// ApplyResult lists the rules written by apply.
type ApplyResult struct {
	Rules []string `json:"rules"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <specs-dir>",
		Short: "Persist the automation rules of a specs directory",
		Long: `Compile and validate a specs directory, then upsert its rules by name.
An existing rule keeps its id; its actions are replaced.

Examples:
  bizflow apply ./specs --db bizflow.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args[0], cmd)
		},
	}
}

func runApply(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	a, err := opts.openApp(cmd, func(cfg *config.Config) { cfg.Specs = specsDir })
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := a.ApplyRules(cmd.Context(), a.Specs.Rules); err != nil {
		return f.Fail(err)
	}

	result := ApplyResult{Rules: make([]string, 0, len(a.Specs.Rules))}
	for _, r := range a.Specs.Rules {
		result.Rules = append(result.Rules, r.Name)
	}
	return f.Emit(result, func(w io.Writer) {
		for _, name := range result.Rules {
			fmt.Fprintf(w, "applied %s\n", name)
		}
		fmt.Fprintf(w, "✓ %d rule(s) applied\n", len(result.Rules))
	})
}
