package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
	"github.com/roach88/bizflow/internal/registry"
)

const (
	defaultEmailSubject = "Automated Notification"
	defaultAlertLevel   = "info"
)

func (x *Executor) sendEmail(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, params map[string]any, instance *model.Record) error {
	recipient := x.param(ctx, params, "recipient_email", instance)
	if recipient == "" {
		recipient = x.firstValue(ctx, instance, "email", "contact.email")
	}
	subject := x.param(ctx, params, "subject", instance)
	if _, ok := params["subject"]; !ok {
		subject = defaultEmailSubject
	}
	body := x.param(ctx, params, "body", instance)
	if _, ok := params["body"]; !ok {
		body = fmt.Sprintf("This is an automated email from rule %s.", rule.Name)
	}

	return x.send(ctx, log, notify.Message{
		Channel:   model.ChannelEmail,
		Owner:     rule.Owner,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Contact:   x.contactRef(ctx, instance),
		Rule:      rule.Name,
	})
}

func (x *Executor) sendWhatsApp(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, params map[string]any, instance *model.Record) error {
	recipient := x.param(ctx, params, "recipient_number", instance)
	if recipient == "" {
		recipient = x.firstValue(ctx, instance, "whatsapp_number", "contact.whatsapp_number")
	}
	text := x.param(ctx, params, "message", instance)
	if _, ok := params["message"]; !ok {
		text = fmt.Sprintf("This is an automated message from rule %s.", rule.Name)
	}

	return x.send(ctx, log, notify.Message{
		Channel:   model.ChannelWhatsApp,
		Owner:     rule.Owner,
		Recipient: recipient,
		Body:      text,
		Contact:   x.contactRef(ctx, instance),
		Rule:      rule.Name,
	})
}

func (x *Executor) send(ctx context.Context, log *slog.Logger, msg notify.Message) error {
	if x.msg == nil {
		log.Warn("no messenger configured; message skipped", "channel", string(msg.Channel))
		return nil
	}
	_, err := x.msg.Send(ctx, msg)
	switch {
	case errors.Is(err, notify.ErrNoDefaultSender):
		log.Warn("no default sender; message skipped", "channel", string(msg.Channel), "owner", msg.Owner)
		return nil
	case errors.Is(err, notify.ErrNoRecipient):
		log.Warn("no recipient; message skipped", "channel", string(msg.Channel))
		return nil
	case err != nil:
		return err
	}
	log.Info("message sent", "channel", string(msg.Channel), "recipient", msg.Recipient)
	return nil
}

func (x *Executor) sendAlert(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, params map[string]any, instance *model.Record) error {
	alert := notify.Alert{
		Rule:      rule.Name,
		Level:     x.param(ctx, params, "level", instance),
		Title:     x.param(ctx, params, "title", instance),
		Message:   x.param(ctx, params, "message", instance),
		Entity:    instance.Ref(),
		Recipient: x.param(ctx, params, "recipient", instance),
		FlowToken: capture.FromContext(ctx).FlowToken,
	}
	if alert.Level == "" {
		alert.Level = defaultAlertLevel
	}
	if alert.Title == "" {
		alert.Title = rule.Name
	}
	if alert.Message == "" {
		alert.Message = fmt.Sprintf("Alert from rule %s for %s", rule.Name, instance.Ref())
	}

	if x.alerts == nil {
		log.Info("alert raised", "title", alert.Title, "message", alert.Message)
		return nil
	}
	x.alerts.Emit(ctx, alert)
	return nil
}

// param resolves params[key] to a string; absent keys yield "".
func (x *Executor) param(ctx context.Context, params map[string]any, key string, instance *model.Record) string {
	raw, ok := params[key]
	if !ok {
		return ""
	}
	return x.resolver.ResolveString(ctx, raw, instance)
}

// firstValue returns the first non-empty value among paths on instance.
// Paths the type does not declare are skipped.
func (x *Executor) firstValue(ctx context.Context, instance *model.Record, paths ...string) string {
	for _, p := range paths {
		v, fd, err := x.reg.Walk(ctx, instance, p)
		if err != nil {
			continue
		}
		if s := registry.Format(fd.Kind, v); s != "" {
			return s
		}
	}
	return ""
}

// contactRef points at the instance's contact relation when it has one,
// otherwise at the instance itself.
func (x *Executor) contactRef(ctx context.Context, instance *model.Record) model.EntityRef {
	td, err := x.reg.Resolve(instance.Type)
	if err != nil {
		return instance.Ref()
	}
	f, ok := td.Lookup("contact")
	if !ok || !f.Kind.IsToOne() {
		return instance.Ref()
	}
	pk := registry.Format(f.Kind, instance.Values["contact"])
	if pk == "" {
		return instance.Ref()
	}
	return model.EntityRef{Type: f.Target, PK: pk}
}
