package notify

import (
	"context"
	"log/slog"
)

// EmailTransport delivers one email.
type EmailTransport interface {
	SendEmail(ctx context.Context, from, to, subject, body string) error
}

// WhatsAppTransport delivers one WhatsApp message.
type WhatsAppTransport interface {
	SendWhatsApp(ctx context.Context, from, to, text string) error
}

// LogTransport is the default transport for both channels. It records each
// message in the log and never fails.
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

// SendEmail logs the email.
func (t LogTransport) SendEmail(_ context.Context, from, to, subject, _ string) error {
	t.logger().Info("email sent", "from", from, "to", to, "subject", subject)
	return nil
}

// SendWhatsApp logs the message.
func (t LogTransport) SendWhatsApp(_ context.Context, from, to, _ string) error {
	t.logger().Info("whatsapp message sent", "from", from, "to", to)
	return nil
}
