package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// ScopeOptions carries the request identity of a mutating command.
type ScopeOptions struct {
	Actor   string
	IP      string
	Session string
}

func (s *ScopeOptions) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&s.Actor, "actor", "", "acting user recorded in the audit trail")
	pf.StringVar(&s.IP, "ip", "", "client IP recorded in the audit trail")
	pf.StringVar(&s.Session, "session", "", "session key recorded in the audit trail")
}

// scoped starts a request scope for one command invocation.
func (s *ScopeOptions) scoped(ctx context.Context) context.Context {
	return capture.WithRequest(ctx, s.Actor, s.IP, s.Session)
}

// EntityOptions holds flags for entity mutations.
type EntityOptions struct {
	*RootOptions
	ScopeOptions
	Set []string
	PK  string
}

// NewEntityCommand creates the entity command group.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Create, update, delete and read entities",
		Long: `Mutate entities through the change-capture pipeline. Every mutation is
audited and may fire automation rules.

Entity types come from --specs (or the specs config setting).

Examples:
  bizflow entity create Opportunity --pk o1 --set name=Acme --set stage=NEW --actor u1
  bizflow entity update Opportunity o1 --set stage=WON --actor u1
  bizflow entity delete Opportunity o1`,
	}
	opts.ScopeOptions.bind(cmd)

	create := &cobra.Command{
		Use:   "create <type>",
		Short: "Create an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityMutation(opts, cmd, func(ctx context.Context, env *entityEnv) (*model.Record, error) {
				values, err := parseAssignments(opts.Set)
				if err != nil {
					return nil, err
				}
				if opts.PK != "" {
					values["pk"] = opts.PK
				}
				return env.repo.Create(ctx, args[0], values)
			})
		},
	}
	create.Flags().StringArrayVar(&opts.Set, "set", nil, "field assignment key=value (repeatable; empty value clears)")
	create.Flags().StringVar(&opts.PK, "pk", "", "primary key (generated when omitted)")

	update := &cobra.Command{
		Use:   "update <type> <pk>",
		Short: "Update fields of an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityMutation(opts, cmd, func(ctx context.Context, env *entityEnv) (*model.Record, error) {
				values, err := parseAssignments(opts.Set)
				if err != nil {
					return nil, err
				}
				if len(values) == 0 {
					return nil, NewExitError(ExitCommandError, "update needs at least one --set")
				}
				return env.repo.Update(ctx, args[0], args[1], values)
			})
		},
	}
	update.Flags().StringArrayVar(&opts.Set, "set", nil, "field assignment key=value (repeatable; empty value clears)")

	del := &cobra.Command{
		Use:   "delete <type> <pk>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityMutation(opts, cmd, func(ctx context.Context, env *entityEnv) (*model.Record, error) {
				return nil, env.repo.Delete(ctx, args[0], args[1])
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <type> <pk>",
		Short: "Print one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityMutation(opts, cmd, func(ctx context.Context, env *entityEnv) (*model.Record, error) {
				return env.repo.Get(ctx, args[0], args[1])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <type>",
		Short: "List the entities of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityList(opts, cmd, args[0])
		},
	}

	cmd.AddCommand(create, update, del, get, list)
	return cmd
}

// entityEnv is what a mutation callback needs from the application.
type entityEnv struct {
	repo *capture.Repository
}

func runEntityMutation(opts *EntityOptions, cmd *cobra.Command, fn func(context.Context, *entityEnv) (*model.Record, error)) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	ctx := opts.scoped(cmd.Context())
	rec, err := fn(ctx, &entityEnv{repo: a.Repo})
	a.Wait()
	if err != nil {
		return f.Fail(err)
	}

	if rec == nil {
		return f.Emit(map[string]bool{"ok": true}, func(w io.Writer) {
			fmt.Fprintln(w, "✓ deleted")
		})
	}
	return f.Emit(rec, func(w io.Writer) {
		printRecord(w, a.Registry, rec)
	})
}

func runEntityList(opts *EntityOptions, cmd *cobra.Command, typeID string) error {
	f := opts.formatter(cmd)
	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if _, err := a.Registry.Resolve(typeID); err != nil {
		return f.Fail(err)
	}
	recs, err := a.Store.ListEntities(cmd.Context(), typeID)
	if err != nil {
		return f.Fail(err)
	}
	return f.Emit(recs, func(w io.Writer) {
		for _, rec := range recs {
			printRecord(w, a.Registry, rec)
		}
	})
}

// printRecord writes "Type:pk" followed by one indented line per field.
func printRecord(w io.Writer, reg *registry.Registry, rec *model.Record) {
	fmt.Fprintln(w, rec.Ref())
	td, err := reg.Resolve(rec.Type)
	for _, name := range model.SortedKeys(rec.Values) {
		v := rec.Values[name]
		s := fmt.Sprint(v)
		if err == nil {
			if fd, ok := td.Lookup(name); ok {
				s = registry.Format(fd.Kind, v)
			}
		}
		fmt.Fprintf(w, "  %s: %s\n", name, s)
	}
}

// parseAssignments turns "key=value" flags into a values map. An empty
// value maps to nil.
func parseAssignments(sets []string) (map[string]any, error) {
	values := make(map[string]any, len(sets))
	for _, s := range sets {
		key, val, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --set %q: want key=value", s))
		}
		if val == "" {
			values[key] = nil
			continue
		}
		values[key] = val
	}
	return values, nil
}
