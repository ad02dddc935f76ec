package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
	"github.com/roach88/bizflow/internal/registry"
)

// DefaultWebhookTimeout bounds CALL_WEBHOOK requests.
const DefaultWebhookTimeout = 5 * time.Second

// DefaultTaskType is the entity type CREATE_TASK creates when the action
// names none.
const DefaultTaskType = "Task"

// Parameter keys with special meaning.
const (
	paramTargetPK      = "target_pk_value"
	paramTargetPKField = "target_pk_field"
)

var (
	// ErrMissingTargetType means a CREATE_OBJECT or UPDATE_OBJECT action
	// has no target type.
	ErrMissingTargetType = errors.New("action requires a target type")

	// ErrUnknownActionType means the action type is not recognized.
	ErrUnknownActionType = errors.New("unknown action type")
)

// Mutator writes entities through the capture pipeline. Implemented by
// *capture.Repository.
type Mutator interface {
	Create(ctx context.Context, typeID string, values map[string]any) (*model.Record, error)
	Update(ctx context.Context, typeID, pk string, changes map[string]any) (*model.Record, error)
}

// Messenger sends email and WhatsApp messages. Implemented by
// *notify.Dispatcher.
type Messenger interface {
	Send(ctx context.Context, msg notify.Message) (*model.Communication, error)
}

// AlertEmitter raises fire-and-forget alerts. Implemented by
// *notify.Alerter.
type AlertEmitter interface {
	Emit(ctx context.Context, a notify.Alert)
}

// Executor performs automation actions.
//
// Thread-safety: Executor is safe for concurrent use; each call works on
// its own action and instance.
type Executor struct {
	reg      *registry.Registry
	mut      Mutator
	resolver *Resolver
	msg      Messenger
	alerts   AlertEmitter
	client   *http.Client
	timeout  time.Duration
	taskType string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMessenger sets the email/WhatsApp dispatcher.
func WithMessenger(m Messenger) Option {
	return func(x *Executor) { x.msg = m }
}

// WithAlerter sets the alert emitter.
func WithAlerter(a AlertEmitter) Option {
	return func(x *Executor) { x.alerts = a }
}

// WithHTTPClient sets the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(x *Executor) { x.client = c }
}

// WithWebhookTimeout sets the per-request webhook timeout.
func WithWebhookTimeout(d time.Duration) Option {
	return func(x *Executor) { x.timeout = d }
}

// WithTaskType sets the default CREATE_TASK entity type.
func WithTaskType(typeID string) Option {
	return func(x *Executor) { x.taskType = typeID }
}

// WithClock sets the time source for relative due dates.
func WithClock(now func() time.Time) Option {
	return func(x *Executor) { x.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

// NewExecutor creates an executor. mut receives CREATE/UPDATE side effects,
// which re-enter the capture pipeline.
func NewExecutor(reg *registry.Registry, mut Mutator, opts ...Option) *Executor {
	x := &Executor{
		reg:      reg,
		mut:      mut,
		resolver: NewResolver(reg),
		client:   &http.Client{},
		timeout:  DefaultWebhookTimeout,
		taskType: DefaultTaskType,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Resolver returns the placeholder resolver.
func (x *Executor) Resolver() *Resolver {
	return x.resolver
}

// Execute runs one action of rule against instance.
func (x *Executor) Execute(ctx context.Context, rule *model.AutomationRule, act model.AutomationAction, instance, prior *model.Record) error {
	if instance == nil {
		return fmt.Errorf("%s: no triggering instance", act)
	}
	log := x.logger.With(
		"rule", rule.Name,
		"action", act.String(),
		"entity", instance.Ref().String(),
	)
	log.Debug("executing action")

	params := act.Params
	if params == nil {
		params = map[string]any{}
	}

	switch act.Type {
	case model.ActionCreateObject:
		return x.createObject(ctx, log, act, params, instance)
	case model.ActionUpdateObject:
		return x.updateObject(ctx, log, act, params, instance)
	case model.ActionSendEmail:
		return x.sendEmail(ctx, log, rule, params, instance)
	case model.ActionSendWhatsApp:
		return x.sendWhatsApp(ctx, log, rule, params, instance)
	case model.ActionCreateTask:
		return x.createTask(ctx, log, rule, act, params, instance)
	case model.ActionSendAlert:
		return x.sendAlert(ctx, log, rule, params, instance)
	case model.ActionCallWebhook:
		return x.callWebhook(ctx, log, rule, params, instance)
	}
	return fmt.Errorf("%s: %w %q", act, ErrUnknownActionType, act.Type)
}
