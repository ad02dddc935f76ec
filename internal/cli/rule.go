package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/bizflow/internal/model"
)

// NewRuleCommand creates the rule command group.
func NewRuleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Inspect and manage persisted automation rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules with their trigger and action count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Print persisted rules as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuleExport(rootOpts, cmd)
		},
	})
	cmd.AddCommand(ruleToggleCommand(rootOpts, "enable", true))
	cmd.AddCommand(ruleToggleCommand(rootOpts, "disable", false))
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a rule and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer a.Close()

			if err := a.Store.DeleteRule(cmd.Context(), args[0]); err != nil {
				return f.Fail(err)
			}
			return f.Emit(map[string]string{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ deleted %s\n", args[0])
			})
		},
	})
	return cmd
}

func ruleToggleCommand(rootOpts *RootOptions, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: "Mark a rule " + map[bool]string{true: "active", false: "inactive"}[active],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer a.Close()

			if err := a.Store.SetRuleActive(cmd.Context(), args[0], active); err != nil {
				return f.Fail(err)
			}
			return f.Emit(map[string]any{"rule": args[0], "active": active}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s %sd\n", args[0], verb)
			})
		},
	}
}

func runRuleList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	rules, err := a.Store.ListRules(cmd.Context())
	if err != nil {
		return f.Fail(err)
	}
	if rules == nil {
		rules = []model.AutomationRule{}
	}
	return f.Emit(rules, func(w io.Writer) {
		if len(rules) == 0 {
			fmt.Fprintln(w, "No rules.")
			return
		}
		for _, r := range rules {
			state := "active"
			if !r.Active {
				state = "inactive"
			}
			fmt.Fprintf(w, "%-24s %-16s %-16s %d action(s) %s\n", r.Name, r.Trigger, r.EntityType, len(r.Actions), state)
		}
	})
}

// exportedRule mirrors the CUE rule layout field for field.
type exportedRule struct {
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Owner        string            `yaml:"owner,omitempty" json:"owner,omitempty"`
	Active       bool              `yaml:"active" json:"active"`
	Trigger      string            `yaml:"trigger" json:"trigger"`
	Entity       string            `yaml:"entity" json:"entity"`
	TriggerField string            `yaml:"trigger_field,omitempty" json:"trigger_field,omitempty"`
	Conditions   []model.Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions      []exportedAction  `yaml:"actions" json:"actions"`
}

type exportedAction struct {
	Order  int            `yaml:"order" json:"order"`
	Type   string         `yaml:"type" json:"type"`
	Target string         `yaml:"target,omitempty" json:"target,omitempty"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

func exportRules(rules []model.AutomationRule) []exportedRule {
	out := make([]exportedRule, 0, len(rules))
	for _, r := range rules {
		er := exportedRule{
			Name:         r.Name,
			Description:  r.Description,
			Owner:        r.Owner,
			Active:       r.Active,
			Trigger:      string(r.Trigger),
			Entity:       r.EntityType,
			TriggerField: r.TriggerField,
			Conditions:   r.Conditions,
		}
		for _, act := range r.Actions {
			er.Actions = append(er.Actions, exportedAction{
				Order:  act.Order,
				Type:   string(act.Type),
				Target: act.TargetType,
				Params: act.Params,
			})
		}
		out = append(out, er)
	}
	return out
}

func runRuleExport(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	rules, err := a.Store.ListRules(cmd.Context())
	if err != nil {
		return f.Fail(err)
	}
	exported := exportRules(rules)
	if f.Format == "json" {
		return f.Success(exported)
	}

	enc := yaml.NewEncoder(f.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"rules": exported}); err != nil {
		return f.Fail(err)
	}
	return enc.Close()
}
