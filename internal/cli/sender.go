package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/model"
)

// SenderOptions holds flags for sender add.
type SenderOptions struct {
	*RootOptions
	ID         string
	Owner      string
	Channel    string
	Identifier string
	Default    bool
}

// NewSenderCommand creates the sender command group.
func NewSenderCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sender",
		Short: "Manage outbound message senders",
	}

	opts := &SenderOptions{RootOptions: rootOpts}
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a sender for a rule owner",
		Long: `Register an email address or WhatsApp number a rule owner sends from.
SEND_EMAIL and SEND_WHATSAPP actions use the owner's default sender for
the channel; without one the action is skipped.

Examples:
  bizflow sender add --owner u1 --channel email --identifier sales@example.com --default`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSenderAdd(opts, cmd)
		},
	}
	add.Flags().StringVar(&opts.ID, "id", "", "sender id (defaults to <owner>-<channel>)")
	add.Flags().StringVar(&opts.Owner, "owner", "", "owning user")
	add.Flags().StringVar(&opts.Channel, "channel", "", "EMAIL or WHATSAPP")
	add.Flags().StringVar(&opts.Identifier, "identifier", "", "email address or phone number")
	add.Flags().BoolVar(&opts.Default, "default", false, "make this the owner's default for the channel")
	_ = add.MarkFlagRequired("owner")
	_ = add.MarkFlagRequired("channel")
	_ = add.MarkFlagRequired("identifier")

	cmd.AddCommand(add)
	return cmd
}

func runSenderAdd(opts *SenderOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	ch := model.Channel(strings.ToUpper(opts.Channel))
	if ch != model.ChannelEmail && ch != model.ChannelWhatsApp {
		return f.Fail(NewExitError(ExitCommandError, fmt.Sprintf("channel must be EMAIL or WHATSAPP, got %q", opts.Channel)))
	}
	snd := model.Sender{
		ID:         opts.ID,
		Owner:      opts.Owner,
		Channel:    ch,
		Identifier: opts.Identifier,
		IsDefault:  opts.Default,
	}
	if snd.ID == "" {
		snd.ID = opts.Owner + "-" + strings.ToLower(string(ch))
	}

	a, err := opts.openApp(cmd)
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := a.Store.AddSender(cmd.Context(), snd); err != nil {
		return f.Fail(err)
	}
	return f.Emit(snd, func(w io.Writer) {
		fmt.Fprintf(w, "✓ sender %s (%s %s) added\n", snd.ID, snd.Channel, snd.Identifier)
	})
}
