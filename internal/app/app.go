// Package app wires the bizflow components from a Config.
//
// The wiring order matters: the audit writer subscribes to the capture
// hook before the rule engine, so a mutation is audited before any
// automation it triggers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/bizflow/internal/action"
	"github.com/roach88/bizflow/internal/audit"
	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/compiler"
	"github.com/roach88/bizflow/internal/condition"
	"github.com/roach88/bizflow/internal/config"
	"github.com/roach88/bizflow/internal/engine"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
	"github.com/roach88/bizflow/internal/registry"
	"github.com/roach88/bizflow/internal/store"
)

// auditEntryType is never audited, whatever the configuration says.
const auditEntryType = "AuditEntry"

// App holds the wired components.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      *store.Store
	Registry   *registry.Registry
	Hook       *capture.Hook
	Repo       *capture.Repository
	Audit      *audit.Writer
	Executor   *action.Executor
	Engine     *engine.Engine
	Dispatcher *notify.Dispatcher
	Alerter    *notify.Alerter

	// Specs is the bundle loaded from Config.Specs, if any.
	Specs *compiler.Bundle

	pool *notify.Pool
}

type options struct {
	now        func() time.Time
	flowGen    capture.FlowTokenGenerator
	httpClient *http.Client
	email      notify.EmailTransport
	whatsapp   notify.WhatsAppTransport
	alertSink  notify.AlertSink
	keyGen     func() string
}

// Option overrides a collaborator, mostly for tests and scenarios.
type Option func(*options)

// WithClock sets the wall clock used by every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFlowGenerator sets the flow token generator for new requests.
func WithFlowGenerator(g capture.FlowTokenGenerator) Option {
	return func(o *options) { o.flowGen = g }
}

// WithHTTPClient sets the webhook client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTransports replaces the log transports for email and WhatsApp.
func WithTransports(email notify.EmailTransport, whatsapp notify.WhatsAppTransport) Option {
	return func(o *options) {
		o.email = email
		o.whatsapp = whatsapp
	}
}

// WithAlertSink replaces the log alert sink.
func WithAlertSink(s notify.AlertSink) Option {
	return func(o *options) { o.alertSink = s }
}

// WithKeyGenerator sets the primary key generator for creates that carry
// no key.
func WithKeyGenerator(g func() string) Option {
	return func(o *options) { o.keyGen = g }
}

// New opens the store and wires every component. When cfg.Specs is set,
// its entity types are registered; rules are read from the store.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{
		now:     time.Now,
		flowGen: capture.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}

	st, err := store.Open(cfg.Database.Path, store.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Store: st}
	if err := a.wire(o); err != nil {
		st.Close()
		return nil, err
	}
	if cfg.Specs != "" {
		if a.Specs, err = a.LoadSpecs(cfg.Specs); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) wire(o *options) error {
	cfg := a.Config

	a.Registry = registry.New()
	if err := a.Registry.Register(capture.SessionDescriptor()); err != nil {
		return err
	}

	a.Hook = capture.NewHook(
		capture.WithClock(o.now),
		capture.WithFlowGenerator(o.flowGen),
		capture.WithLogger(a.Logger.With("component", "capture")),
	)
	var ropts []capture.RepositoryOption
	if o.keyGen != nil {
		ropts = append(ropts, capture.WithKeyGenerator(o.keyGen))
	}
	a.Repo = capture.NewRepository(a.Registry, a.Store, a.Hook, ropts...)
	a.Audit = audit.NewWriter(a.Registry, a.Store,
		audit.WithClock(o.now),
		audit.WithLogger(a.Logger.With("component", "audit")),
	)

	pool, err := notify.NewPool(cfg.Notify.PoolSize, a.Logger.With("component", "pool"))
	if err != nil {
		return fmt.Errorf("create notify pool: %w", err)
	}
	a.pool = pool

	notifyLog := a.Logger.With("component", "notify")
	dopts := []notify.DispatcherOption{
		notify.WithDispatcherClock(o.now),
		notify.WithDispatcherLogger(notifyLog),
	}
	if o.email != nil {
		dopts = append(dopts, notify.WithEmailTransport(o.email))
	}
	if o.whatsapp != nil {
		dopts = append(dopts, notify.WithWhatsAppTransport(o.whatsapp))
	}
	a.Dispatcher = notify.NewDispatcher(a.Store, dopts...)
	a.Alerter = notify.NewAlerter(pool, o.alertSink, notifyLog)

	xopts := []action.Option{
		action.WithMessenger(a.Dispatcher),
		action.WithAlerter(a.Alerter),
		action.WithWebhookTimeout(cfg.Automation.WebhookTimeout),
		action.WithTaskType(cfg.Automation.TaskType),
		action.WithClock(o.now),
		action.WithLogger(a.Logger.With("component", "action")),
	}
	if o.httpClient != nil {
		xopts = append(xopts, action.WithHTTPClient(o.httpClient))
	}
	a.Executor = action.NewExecutor(a.Registry, a.Repo, xopts...)

	a.Engine = engine.New(a.Store,
		condition.NewEvaluator(a.Registry, a.Logger.With("component", "condition")),
		a.Executor,
		a.Repo,
		engine.WithMaxDepth(cfg.Automation.MaxDepth),
		engine.WithMaxFiringsPerFlow(cfg.Automation.MaxFiringsPerFlow),
		engine.WithExcludedTypes(cfg.Automation.ExcludedTypes...),
		engine.WithFlowGenerator(o.flowGen),
		engine.WithLogger(a.Logger.With("component", "engine")),
	)

	auditExclude := append([]string{auditEntryType}, cfg.Audit.ExcludedTypes...)
	a.Hook.Subscribe("audit", a.Audit, auditExclude...)
	a.Hook.Subscribe("automation", a.Engine, a.Engine.ExcludedTypes()...)
	return nil
}

// LoadSpecs compiles a CUE directory, validates it against the registry
// and registers its entity types. Rules are returned, not persisted.
func (a *App) LoadSpecs(dir string) (*compiler.Bundle, error) {
	bundle, errs := compiler.LoadDir(dir)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load specs %s: %w", dir, errors.Join(errs...))
	}
	if err := bundle.Register(a.Registry); err != nil {
		return nil, fmt.Errorf("register types from %s: %w", dir, err)
	}

	var verrs []error
	for _, td := range bundle.Types {
		for _, ve := range compiler.Validate(td, a.Registry) {
			verrs = append(verrs, ve)
		}
	}
	for _, ve := range compiler.ValidateRules(bundle.Rules, a.Registry) {
		verrs = append(verrs, ve)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("validate specs %s: %w", dir, errors.Join(verrs...))
	}

	for _, w := range compiler.AnalyzeCycles(bundle.Rules, a.Config.Automation.TaskType) {
		a.Logger.Warn("rule cycle", "path", w.Path, "message", w.Message)
	}
	a.Logger.Debug("specs loaded", "dir", dir, "types", len(bundle.Types), "rules", len(bundle.Rules))
	return bundle, nil
}

// ApplyRules persists rules by name, replacing their actions.
func (a *App) ApplyRules(ctx context.Context, rules []model.AutomationRule) error {
	for i := range rules {
		if _, err := a.Store.UpsertRule(ctx, &rules[i]); err != nil {
			return err
		}
		a.Logger.Info("rule applied", "rule", rules[i].Name, "active", rules[i].Active)
	}
	return nil
}

// Wait blocks until queued alerts have been delivered.
func (a *App) Wait() {
	a.pool.Wait()
}

// Close drains background work and closes the store.
func (a *App) Close() error {
	if a.pool != nil {
		a.pool.Shutdown(5 * time.Second)
	}
	return a.Store.Close()
}
