package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Record logins and logouts",
		Long: `Create and delete Session records. A login is audited as LOGIN and a
logout as LOGOUT, both carrying the session key.`,
	}
	scope := &ScopeOptions{}
	scope.bind(cmd)

	var user string
	login := &cobra.Command{
		Use:   "login <key>",
		Short: "Open a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer a.Close()

			rec, err := a.Repo.Login(scope.scoped(cmd.Context()), args[0], user)
			if err != nil {
				return f.Fail(err)
			}
			return f.Emit(rec, func(w io.Writer) {
				fmt.Fprintf(w, "✓ %s logged in (session %s)\n", user, rec.PK)
			})
		},
	}
	login.Flags().StringVar(&user, "user", "", "user opening the session")
	_ = login.MarkFlagRequired("user")

	logout := &cobra.Command{
		Use:   "logout <key>",
		Short: "Close a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(cmd)
			if err != nil {
				return f.Fail(err)
			}
			defer a.Close()

			if err := a.Repo.Logout(scope.scoped(cmd.Context()), args[0]); err != nil {
				return f.Fail(err)
			}
			return f.Emit(map[string]string{"session": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ session %s closed\n", args[0])
			})
		},
	}

	cmd.AddCommand(login, logout)
	return cmd
}
