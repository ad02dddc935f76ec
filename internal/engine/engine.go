package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/condition"
	"github.com/roach88/bizflow/internal/metrics"
	"github.com/roach88/bizflow/internal/model"
)

const (
	// DefaultMaxDepth is the default cap on nested automation. Events at
	// this depth are audited but trigger no rules.
	DefaultMaxDepth = 5

	// DefaultMaxFiringsPerFlow is the default rule firing budget per flow.
	DefaultMaxFiringsPerFlow = 100
)

// InfrastructureTypes are the automation and audit subsystem's own types.
// Mutations of these never trigger rules.
var InfrastructureTypes = []string{
	"AuditEntry",
	"AutomationRule",
	"AutomationAction",
	"Communication",
	"Sender",
	model.SessionType,
}

// RuleStore supplies rule definitions. Implemented by *store.Store.
type RuleStore interface {
	ActiveRulesFor(ctx context.Context, typeID string) ([]model.AutomationRule, error)
	RuleByName(ctx context.Context, name string) (*model.AutomationRule, error)
}

// ActionRunner performs a single action. Implemented by *action.Executor.
type ActionRunner interface {
	Execute(ctx context.Context, rule *model.AutomationRule, act model.AutomationAction, instance, prior *model.Record) error
}

// EntityLoader reads an entity for RunRule. Implemented by
// *registry.Registry and *capture.Repository.
type EntityLoader interface {
	Get(ctx context.Context, typeID, pk string) (*model.Record, error)
}

// Firing describes one rule evaluation against one entity.
type Firing struct {
	Rule      string          `json:"rule"`
	Entity    model.EntityRef `json:"entity"`
	FlowToken string          `json:"flow_token"`
	// Fired is false when the conditions did not match.
	Fired   bool    `json:"fired"`
	Actions int     `json:"actions"`
	Errors  []error `json:"-"`
}

// Failed returns the number of actions that failed.
func (f *Firing) Failed() int {
	return len(f.Errors)
}

// Engine evaluates automation rules against mutation events.
//
// Thread-safety: Engine holds no per-request state; concurrent requests
// each carry their own scope and budget in their context. Rule
// definitions are only read.
type Engine struct {
	rules    RuleStore
	eval     *condition.Evaluator
	runner   ActionRunner
	loader   EntityLoader
	flowGen  capture.FlowTokenGenerator
	excluded map[string]bool
	logger   *slog.Logger

	maxDepth   int
	maxFirings int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxDepth sets the nested automation cap.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithMaxFiringsPerFlow sets the rule firing budget per flow.
//
// Default: 100 (DefaultMaxFiringsPerFlow)
// Use WithMaxFiringsPerFlow(2) for testing budget enforcement.
func WithMaxFiringsPerFlow(n int) EngineOption {
	return func(e *Engine) {
		e.maxFirings = n
	}
}

// WithExcludedTypes adds entity types that never trigger automation, on
// top of InfrastructureTypes.
func WithExcludedTypes(types ...string) EngineOption {
	return func(e *Engine) {
		for _, t := range types {
			e.excluded[t] = true
		}
	}
}

// WithFlowGenerator sets the generator used when RunRule is called
// without a flow token in scope.
func WithFlowGenerator(g capture.FlowTokenGenerator) EngineOption {
	return func(e *Engine) {
		e.flowGen = g
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an Engine.
func New(rules RuleStore, eval *condition.Evaluator, runner ActionRunner, loader EntityLoader, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:      rules,
		eval:       eval,
		runner:     runner,
		loader:     loader,
		flowGen:    capture.UUIDv7Generator{},
		excluded:   make(map[string]bool),
		logger:     slog.Default(),
		maxDepth:   DefaultMaxDepth,
		maxFirings: DefaultMaxFiringsPerFlow,
	}
	for _, t := range InfrastructureTypes {
		e.excluded[t] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExcludedTypes returns the types that never trigger automation.
func (e *Engine) ExcludedTypes() []string {
	return model.SortedKeys(e.excluded)
}

// HandleMutation evaluates every active rule for the event's type.
// It returns an error only when the rules cannot be loaded; rule and
// action failures are logged.
func (e *Engine) HandleMutation(ctx context.Context, ev *model.MutationEvent) error {
	if ev == nil || !ev.Operation.IsMutation() || e.excluded[ev.Type] {
		return nil
	}
	log := e.logger.With(
		"entity", ev.Ref().String(),
		"operation", string(ev.Operation),
		"flow_token", ev.FlowToken,
		"depth", ev.Depth,
	)

	if ev.Depth >= e.maxDepth {
		metrics.AutomationSuppressedTotal.WithLabelValues("depth").Inc()
		log.Warn("automation suppressed: depth cap reached",
			"max_depth", e.maxDepth,
			"rule", ev.Rule,
		)
		return nil
	}

	rules, err := e.rules.ActiveRulesFor(ctx, ev.Type)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", ev.Type, err)
	}
	if len(rules) == 0 {
		return nil
	}

	ctx, quota := withQuota(ctx, e.maxFirings)
	prior := conditionPrior(ev)

	for i := range rules {
		rule := &rules[i]
		if !e.matchTrigger(ctx, rule, ev) {
			log.Debug("rule skipped: trigger did not match", "rule", rule.Name, "trigger", string(rule.Trigger))
			continue
		}
		if !e.eval.Evaluate(ctx, rule.Conditions, ev.Instance, prior) {
			log.Debug("rule skipped: conditions did not match", "rule", rule.Name)
			continue
		}
		if err := quota.Check(ev.FlowToken, rule.Name); err != nil {
			metrics.AutomationSuppressedTotal.WithLabelValues("budget").Inc()
			log.Warn("automation suppressed: firing budget exhausted",
				"rule", rule.Name,
				"max_firings", quota.MaxSteps(),
			)
			return nil
		}
		e.fire(ctx, log, rule, ev.Instance, prior, ev.FlowToken)
	}
	return nil
}

// RunRule runs a named rule against a stored entity, for ON_TIME and
// ON_WEBHOOK triggers. Conditions are evaluated without a prior snapshot.
// The returned Firing reports whether actions ran and which failed.
func (e *Engine) RunRule(ctx context.Context, name string, ref model.EntityRef) (*Firing, error) {
	rule, err := e.rules.RuleByName(ctx, name)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, &RuntimeError{Code: ErrCodeUnknownRule, Message: "no rule with this name", Rule: name}
		}
		return nil, fmt.Errorf("load rule %s: %w", name, err)
	}
	if !rule.Active {
		return nil, &RuntimeError{Code: ErrCodeInactiveRule, Message: "rule is not active", Rule: name}
	}
	if ref.Type != rule.EntityType {
		return nil, &RuntimeError{
			Code:    ErrCodeConfig,
			Message: fmt.Sprintf("rule watches %s, not %s", rule.EntityType, ref.Type),
			Rule:    name,
		}
	}

	s := capture.FromContext(ctx)
	if s.FlowToken == "" {
		s.FlowToken = e.flowGen.Generate()
		ctx = capture.WithScope(ctx, s)
	}
	if s.Depth >= e.maxDepth {
		metrics.AutomationSuppressedTotal.WithLabelValues("depth").Inc()
		err := NewDepthError(s.FlowToken, s.Depth, e.maxDepth)
		err.Rule = name
		return nil, err
	}

	instance, err := e.loader.Get(ctx, ref.Type, ref.PK)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}

	log := e.logger.With("entity", ref.String(), "flow_token", s.FlowToken, "depth", s.Depth)
	firing := &Firing{Rule: name, Entity: ref, FlowToken: s.FlowToken}
	if !e.eval.Evaluate(ctx, rule.Conditions, instance, nil) {
		log.Debug("rule skipped: conditions did not match", "rule", name)
		return firing, nil
	}

	ctx, quota := withQuota(ctx, e.maxFirings)
	if err := quota.Check(s.FlowToken, name); err != nil {
		metrics.AutomationSuppressedTotal.WithLabelValues("budget").Inc()
		return nil, &RuntimeError{Code: ErrCodeBudgetExceeded, Message: "firing budget exhausted", FlowToken: s.FlowToken, Rule: name, Err: err}
	}

	fired := e.fire(ctx, log, rule, instance, nil, s.FlowToken)
	return fired, nil
}

// fire runs a matched rule's actions in order. Each action sees the
// nested scope so the mutations it makes are attributed to the rule.
func (e *Engine) fire(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, instance, prior *model.Record, flowToken string) *Firing {
	metrics.RuleFiringsTotal.WithLabelValues(rule.Name).Inc()
	log.Info("rule fired", "rule", rule.Name, "actions", len(rule.Actions))

	firing := &Firing{Rule: rule.Name, Entity: instance.Ref(), FlowToken: flowToken, Fired: true}
	actx := capture.Nested(ctx, rule.Name)

	actions := append([]model.AutomationAction(nil), rule.Actions...)
	model.SortActions(actions)
	for _, act := range actions {
		firing.Actions++
		if err := e.runAction(actx, rule, act, instance, prior); err != nil {
			metrics.ActionFailuresTotal.WithLabelValues(string(act.Type)).Inc()
			rerr := NewActionError(flowToken, rule.Name, act.String(), instance.Ref().String(), err)
			firing.Errors = append(firing.Errors, rerr)
			log.Error("action failed",
				"rule", rule.Name,
				"action", act.String(),
				"order", act.Order,
				"error", err,
			)
		}
	}
	return firing
}

// runAction isolates a single action so a panic cannot stop the rule.
func (e *Engine) runAction(ctx context.Context, rule *model.AutomationRule, act model.AutomationAction, instance, prior *model.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("action panicked",
				"rule", rule.Name,
				"action", act.String(),
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return e.runner.Execute(ctx, rule, act, instance, prior)
}
