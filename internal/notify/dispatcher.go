package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/bizflow/internal/model"
)

var (
	// ErrNoDefaultSender means the rule owner has no default sender for the
	// channel.
	ErrNoDefaultSender = errors.New("no default sender")

	// ErrNoRecipient means no address or number could be resolved.
	ErrNoRecipient = errors.New("no recipient")
)

// SenderStore looks up senders and records the outbox. Implemented by
// *store.Store.
type SenderStore interface {
	DefaultSender(ctx context.Context, owner string, ch model.Channel) (*model.Sender, error)
	InsertCommunication(ctx context.Context, c *model.Communication) error
	SetCommunicationStatus(ctx context.Context, id string, status model.CommunicationStatus) error
}

// Message is one outbound email or WhatsApp message.
type Message struct {
	Channel   model.Channel
	Owner     string
	Recipient string
	Subject   string
	Body      string
	Contact   model.EntityRef
	Rule      string
}

// Dispatcher sends messages through the owner's default sender.
type Dispatcher struct {
	store    SenderStore
	email    EmailTransport
	whatsapp WhatsAppTransport
	now      func() time.Time
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEmailTransport replaces the log email transport.
func WithEmailTransport(t EmailTransport) DispatcherOption {
	return func(d *Dispatcher) { d.email = t }
}

// WithWhatsAppTransport replaces the log WhatsApp transport.
func WithWhatsAppTransport(t WhatsAppTransport) DispatcherOption {
	return func(d *Dispatcher) { d.whatsapp = t }
}

// WithDispatcherClock sets the outbox timestamp source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over store.
func NewDispatcher(store SenderStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.email == nil {
		d.email = LogTransport{Logger: d.logger}
	}
	if d.whatsapp == nil {
		d.whatsapp = LogTransport{Logger: d.logger}
	}
	return d
}

// Send records msg in the outbox and hands it to the channel's transport.
// It returns ErrNoDefaultSender or ErrNoRecipient (wrapped) without
// recording anything when the message cannot be addressed. A transport
// failure marks the outbox record FAILED and is returned.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (*model.Communication, error) {
	sender, err := d.store.DefaultSender(ctx, msg.Owner, msg.Channel)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("send %s for %q: %w", msg.Channel, msg.Owner, ErrNoDefaultSender)
	}
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Channel, err)
	}
	if msg.Recipient == "" {
		return nil, fmt.Errorf("send %s: %w", msg.Channel, ErrNoRecipient)
	}

	comm := &model.Communication{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Contact:   msg.Contact,
		SenderID:  sender.ID,
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Content:   msg.Body,
		Status:    model.StatusSent,
		Rule:      msg.Rule,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.InsertCommunication(ctx, comm); err != nil {
		return nil, fmt.Errorf("send %s: %w", msg.Channel, err)
	}

	switch msg.Channel {
	case model.ChannelEmail:
		err = d.email.SendEmail(ctx, sender.Identifier, msg.Recipient, msg.Subject, msg.Body)
	case model.ChannelWhatsApp:
		err = d.whatsapp.SendWhatsApp(ctx, sender.Identifier, msg.Recipient, msg.Body)
	default:
		err = fmt.Errorf("unknown channel %q", msg.Channel)
	}
	if err != nil {
		comm.Status = model.StatusFailed
		if serr := d.store.SetCommunicationStatus(ctx, comm.ID, model.StatusFailed); serr != nil {
			d.logger.Error("outbox status update failed", "communication", comm.ID, "error", serr)
		}
		return comm, fmt.Errorf("send %s to %s: %w", msg.Channel, msg.Recipient, err)
	}
	return comm, nil
}
