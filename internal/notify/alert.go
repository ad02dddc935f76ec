package notify

import (
	"context"
	"log/slog"

	"github.com/roach88/bizflow/internal/model"
)

// Alert is an internal notification raised by a SEND_ALERT action.
type Alert struct {
	Rule      string
	Level     string
	Title     string
	Message   string
	Entity    model.EntityRef
	Recipient string
	FlowToken string
}

// AlertSink receives alerts.
type AlertSink interface {
	Deliver(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the log.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs the alert at the level it names (warn or info).
func (s LogSink) Deliver(ctx context.Context, a Alert) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	if a.Level == "warning" || a.Level == "warn" || a.Level == "error" {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "automation alert",
		"rule", a.Rule,
		"title", a.Title,
		"message", a.Message,
		"entity", a.Entity.String(),
		"recipient", a.Recipient,
		"flow_token", a.FlowToken,
	)
	return nil
}

// Alerter delivers alerts asynchronously on a pool.
type Alerter struct {
	pool   *Pool
	sink   AlertSink
	logger *slog.Logger
}

// NewAlerter creates an alerter. A nil sink logs alerts.
func NewAlerter(pool *Pool, sink AlertSink, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	return &Alerter{pool: pool, sink: sink, logger: logger}
}

// Emit queues a for delivery and returns immediately. Submission and
// delivery failures are logged.
func (a *Alerter) Emit(ctx context.Context, alert Alert) {
	err := a.pool.Submit(ctx, func(ctx context.Context) {
		if err := a.sink.Deliver(ctx, alert); err != nil {
			a.logger.Error("alert delivery failed",
				"rule", alert.Rule,
				"entity", alert.Entity.String(),
				"error", err,
			)
		}
	})
	if err != nil {
		a.logger.Error("alert not queued", "rule", alert.Rule, "error", err)
	}
}
