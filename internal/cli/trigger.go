package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/engine"
	"github.com/roach88/bizflow/internal/model"
)

// TriggerResult reports one external rule run.
type TriggerResult struct {
	*engine.Firing
	ActionErrors []string `json:"action_errors,omitempty"`
}

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	scope := &ScopeOptions{}
	cmd := &cobra.Command{
		Use:   "trigger <rule> <type> <pk>",
		Short: "Run a rule against one entity",
		Long: `Run a rule against one entity, the entry point for ON_TIME and
ON_WEBHOOK rules driven by an external scheduler or webhook receiver.

Conditions are evaluated against the current record; actions run under a
fresh flow token.

Examples:
  bizflow trigger nightly-followup Contact c1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(rootOpts, scope, cmd, args)
		},
	}
	scope.bind(cmd)
	return cmd
}

func runTrigger(opts *RootOptions, scope *ScopeOptions, cmd *cobra.Command, args []string) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ref := model.EntityRef{Type: args[1], PK: args[2]}
	firing, err := a.Engine.RunRule(scope.scoped(cmd.Context()), args[0], ref)
	a.Wait()
	if err != nil {
		return f.Fail(err)
	}

	result := TriggerResult{Firing: firing}
	for _, e := range firing.Errors {
		result.ActionErrors = append(result.ActionErrors, e.Error())
	}
	if err := f.Emit(result, func(w io.Writer) {
		if !firing.Fired {
			fmt.Fprintf(w, "%s did not fire for %s (conditions not met)\n", firing.Rule, firing.Entity)
			return
		}
		fmt.Fprintf(w, "✓ %s fired for %s: %d action(s), flow %s\n", firing.Rule, firing.Entity, firing.Actions, firing.FlowToken)
		for _, e := range result.ActionErrors {
			fmt.Fprintf(w, "  action error: %s\n", e)
		}
	}); err != nil {
		return err
	}
	if firing.Failed() > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d action(s) failed", firing.Failed()), Reported: true}
	}
	return nil
}
