package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/model"
)

// AuditListOptions holds the audit list filters.
type AuditListOptions struct {
	*RootOptions
	Type      string
	Actor     string
	Operation string
	Since     string
	Until     string
	Limit     int
}

// NewAuditCommand creates the audit command group.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail and record notes",
	}

	listOpts := &AuditListOptions{RootOptions: rootOpts}
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Long: `List audit entries, newest first.

--since and --until accept RFC 3339 timestamps, dates (2024-01-02) or a
duration that is subtracted from now (24h).

Examples:
  bizflow audit list --type Opportunity --operation update
  bizflow audit list --actor u1 --since 24h --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditList(listOpts, cmd)
		},
	}
	list.Flags().StringVar(&listOpts.Type, "type", "", "entity type")
	list.Flags().StringVar(&listOpts.Actor, "actor", "", "acting user")
	list.Flags().StringVar(&listOpts.Operation, "operation", "", "CREATE, UPDATE, DELETE, LOGIN, LOGOUT or OTHER")
	list.Flags().StringVar(&listOpts.Since, "since", "", "earliest timestamp (inclusive)")
	list.Flags().StringVar(&listOpts.Until, "until", "", "latest timestamp (inclusive)")
	list.Flags().IntVar(&listOpts.Limit, "limit", 0, "maximum number of entries (0 = all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry and the entity it refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditShow(rootOpts, cmd, args[0])
		},
	}

	scope := &ScopeOptions{}
	note := &cobra.Command{
		Use:   "note <type> <pk> <text>",
		Short: "Record an OTHER entry against an entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditNote(rootOpts, scope, cmd, args)
		},
	}
	scope.bind(note)

	cmd.AddCommand(list, show, note)
	return cmd
}

func (o *AuditListOptions) filter(now time.Time) (model.AuditFilter, error) {
	f := model.AuditFilter{TypeID: o.Type, Actor: o.Actor, Limit: o.Limit}
	if o.Limit < 0 {
		return f, NewExitError(ExitCommandError, "--limit must be non-negative")
	}
	if o.Operation != "" {
		op, err := model.ParseOperation(o.Operation)
		if err != nil {
			return f, WrapExitError(ExitCommandError, "--operation", err)
		}
		f.Operation = op
	}
	var err error
	if f.Since, err = parseTimeFlag("since", o.Since, now); err != nil {
		return f, err
	}
	if f.Until, err = parseTimeFlag("until", o.Until, now); err != nil {
		return f, err
	}
	return f, nil
}

// parseTimeFlag accepts anything cast understands as a time, or a
// duration counted back from now.
func parseTimeFlag(name, v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "--"+name, err)
	}
	return t, nil
}

func runAuditList(opts *AuditListOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	filter, err := opts.filter(time.Now())
	if err != nil {
		return f.Fail(err)
	}

	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	entries, err := a.Audit.List(cmd.Context(), filter)
	if err != nil {
		return f.Fail(err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return f.Emit(entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintln(w, "No audit entries.")
			return
		}
		for _, e := range entries {
			printEntry(w, e)
		}
	})
}

// printEntry writes one entry as a summary line plus one line per change.
func printEntry(w io.Writer, e model.AuditEntry) {
	var who []string
	if e.Actor != "" {
		who = append(who, "actor="+e.Actor)
	}
	if e.IPAddress != "" {
		who = append(who, "ip="+e.IPAddress)
	}
	if e.Rule != "" {
		who = append(who, "rule="+e.Rule)
	}
	if e.FlowToken != "" {
		who = append(who, "flow="+e.FlowToken)
	}
	fmt.Fprintf(w, "#%d %s %-6s %s  %s\n",
		e.ID, e.Timestamp.UTC().Format(time.RFC3339), e.Operation, e.Description, strings.Join(who, " "))
	for _, field := range model.SortedKeys(e.Changes) {
		c := e.Changes[field]
		fmt.Fprintf(w, "    %s: %q -> %q\n", field, c.Old, c.New)
	}
}

// AuditShowResult is an entry with its resolved target.
type AuditShowResult struct {
	Entry  *model.AuditEntry `json:"entry"`
	Target *model.Record     `json:"target"`
}

func runAuditShow(opts *RootOptions, cmd *cobra.Command, rawID string) error {
	f := opts.formatter(cmd)
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return f.Fail(NewExitError(ExitCommandError, "id must be an integer"))
	}

	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	e, err := a.Audit.Get(cmd.Context(), id)
	if err != nil {
		return f.Fail(err)
	}
	result := AuditShowResult{Entry: e, Target: a.Audit.ResolveTarget(cmd.Context(), e)}
	return f.Emit(result, func(w io.Writer) {
		printEntry(w, *e)
		if result.Target == nil {
			fmt.Fprintf(w, "target %s no longer exists\n", e.Target)
			return
		}
		printRecord(w, a.Registry, result.Target)
	})
}

func runAuditNote(opts *RootOptions, scope *ScopeOptions, cmd *cobra.Command, args []string) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ref := model.EntityRef{Type: args[0], PK: args[1]}
	e, err := a.Audit.RecordOther(scope.scoped(cmd.Context()), ref, args[2])
	if err != nil {
		return f.Fail(err)
	}
	return f.Emit(e, func(w io.Writer) {
		printEntry(w, *e)
	})
}
