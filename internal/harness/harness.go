package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/bizflow/internal/app"
	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/config"
	"github.com/roach88/bizflow/internal/engine"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
	"github.com/roach88/bizflow/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger routes application logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// harness holds one scenario's application and deterministic helpers.
type harness struct {
	app    *app.App
	alerts *alertRecorder
	logger *slog.Logger
}

// Run executes a scenario against a fresh in-memory application.
//
// Execution flow:
//  1. Open an in-memory store and wire the application with a step clock,
//     sequential flow tokens and sequential primary keys
//  2. Load the scenario's CUE specs and persist its rules
//  3. Execute setup steps (any error aborts the run)
//  4. Execute flow steps, checking expect clauses
//  5. Collect the audit trail, alerts and messages and evaluate assertions
//
// The returned error reports infrastructure failures; scenario failures
// are reported through Result.Pass and Result.Errors.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	rc := &runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(rc)
	}

	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Specs = s.Specs
	if o := s.Config; o != nil {
		if o.MaxDepth > 0 {
			cfg.Automation.MaxDepth = o.MaxDepth
		}
		if o.MaxFiringsPerFlow > 0 {
			cfg.Automation.MaxFiringsPerFlow = o.MaxFiringsPerFlow
		}
		cfg.Audit.ExcludedTypes = append(cfg.Audit.ExcludedTypes, o.AuditExcludedTypes...)
		cfg.Automation.ExcludedTypes = append(cfg.Automation.ExcludedTypes, o.AutomationExcludedTypes...)
	}

	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	recorder := &alertRecorder{}
	a, err := app.New(cfg, rc.logger,
		app.WithClock(clock.Now),
		app.WithFlowGenerator(testutil.NewSequenceFlowGenerator(s.FlowToken)),
		app.WithKeyGenerator(sequentialKeys("id")),
		app.WithAlertSink(recorder),
	)
	if err != nil {
		return nil, fmt.Errorf("start application: %w", err)
	}
	defer a.Close()

	if err := a.ApplyRules(ctx, a.Specs.Rules); err != nil {
		return nil, fmt.Errorf("apply rules: %w", err)
	}

	h := &harness{app: a, alerts: recorder, logger: rc.logger}
	result := NewResult()

	for i, step := range s.Setup {
		if _, _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d] %s: %w", i, step.Op, err)
		}
	}
	for i, step := range s.Flow {
		rec, firing, err := h.execute(ctx, step)
		for _, msg := range checkExpect(a.Registry, step, rec, firing, err) {
			result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
		}
		h.logger.Debug("flow step completed", "step", i, "op", step.Op, "error", err)
	}

	a.Wait()

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Ctx: ctx, App: a}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// execute performs one step under its own request scope.
func (h *harness) execute(ctx context.Context, step Step) (*model.Record, *engine.Firing, error) {
	ctx = capture.WithRequest(ctx, step.Actor, step.IP, step.Session)
	a := h.app

	switch step.Op {
	case OpCreate:
		values := make(map[string]any, len(step.Values)+1)
		for k, v := range step.Values {
			values[k] = v
		}
		if step.PK != "" {
			values["pk"] = step.PK
		}
		rec, err := a.Repo.Create(ctx, step.Type, values)
		return rec, nil, err
	case OpUpdate:
		rec, err := a.Repo.Update(ctx, step.Type, step.PK, step.Values)
		return rec, nil, err
	case OpDelete:
		return nil, nil, a.Repo.Delete(ctx, step.Type, step.PK)
	case OpLogin:
		rec, err := a.Repo.Login(ctx, step.Key, step.User)
		return rec, nil, err
	case OpLogout:
		return nil, nil, a.Repo.Logout(ctx, step.Key)
	case OpTrigger:
		firing, err := a.Engine.RunRule(ctx, step.Rule, step.Ref())
		return nil, firing, err
	case OpNote:
		_, err := a.Audit.RecordOther(ctx, step.Ref(), step.Text)
		return nil, nil, err
	case OpSender:
		ch := model.Channel(strings.ToUpper(step.Channel))
		return nil, nil, a.Store.AddSender(ctx, model.Sender{
			ID:         step.Owner + "-" + strings.ToLower(string(ch)),
			Owner:      step.Owner,
			Channel:    ch,
			Identifier: step.Identifier,
			IsDefault:  true,
		})
	}
	return nil, nil, fmt.Errorf("unknown op %q", step.Op)
}

// collect projects the audit trail, alerts and messages into result.
func (h *harness) collect(ctx context.Context, result *Result) error {
	entries, err := h.app.Audit.List(ctx, model.AuditFilter{})
	if err != nil {
		return fmt.Errorf("read audit trail: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for i, e := range entries {
		te := TrailEntry{
			Seq:         i + 1,
			Operation:   e.Operation,
			Target:      e.Target,
			Description: e.Description,
			Actor:       e.Actor,
			IPAddress:   e.IPAddress,
			SessionID:   e.SessionID,
			FlowToken:   e.FlowToken,
			Rule:        e.Rule,
		}
		if len(e.Changes) > 0 {
			te.Changes = e.Changes
		}
		result.Trail = append(result.Trail, te)
	}

	result.Alerts = h.alerts.snapshot()

	msgs, err := h.app.Store.ListCommunications(ctx)
	if err != nil {
		return fmt.Errorf("read communications: %w", err)
	}
	result.Messages = msgs
	return nil
}

// checkExpect compares a flow step's outcome with its expect clause. A
// step without expect must succeed.
func checkExpect(reg *registry.Registry, step Step, rec *model.Record, firing *engine.Firing, err error) []string {
	exp := step.Expect
	if exp == nil || exp.Error == "" {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
	} else {
		switch {
		case err == nil:
			return []string{fmt.Sprintf("expected error containing %q, got success", exp.Error)}
		case !strings.Contains(err.Error(), exp.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %q", exp.Error, err.Error())}
		}
		return nil
	}
	if exp == nil {
		return nil
	}

	var msgs []string
	if exp.Fired != nil {
		switch {
		case firing == nil:
			msgs = append(msgs, "expected a firing result")
		case firing.Fired != *exp.Fired:
			msgs = append(msgs, fmt.Sprintf("fired = %v, want %v", firing.Fired, *exp.Fired))
		case firing.Failed() > 0:
			msgs = append(msgs, fmt.Sprintf("%d action(s) failed", firing.Failed()))
		}
	}
	if len(exp.Values) > 0 {
		if rec == nil {
			msgs = append(msgs, "expected values but the step returned no record")
		} else {
			msgs = append(msgs, compareValues(reg, rec, exp.Values)...)
		}
	}
	return msgs
}

// compareValues checks want as a subset of rec using kind-aware equality.
func compareValues(reg *registry.Registry, rec *model.Record, want map[string]any) []string {
	td, err := reg.Resolve(rec.Type)
	if err != nil {
		return []string{err.Error()}
	}
	var msgs []string
	for _, name := range model.SortedKeys(want) {
		f, ok := td.Lookup(name)
		if !ok {
			msgs = append(msgs, fmt.Sprintf("%s has no field %q", rec.Type, name))
			continue
		}
		got := fieldValue(rec, name)
		if !registry.Equal(f.Kind, got, want[name]) {
			msgs = append(msgs, fmt.Sprintf("%s.%s = %q, want %q",
				rec.Ref(), name, registry.Format(f.Kind, got), registry.Format(f.Kind, want[name])))
		}
	}
	return msgs
}

func fieldValue(rec *model.Record, name string) any {
	if name == "pk" || name == "id" {
		return rec.PK
	}
	return rec.Values[name]
}

// sequentialKeys returns a generator of "<prefix>-1", "<prefix>-2", ...
func sequentialKeys(prefix string) func() string {
	gen := testutil.NewSequenceFlowGenerator(prefix)
	return gen.Generate
}
