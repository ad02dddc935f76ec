package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

func (x *Executor) createObject(ctx context.Context, log *slog.Logger, act model.AutomationAction, params map[string]any, instance *model.Record) error {
	if act.TargetType == "" {
		return fmt.Errorf("%s: %w", act, ErrMissingTargetType)
	}
	td, err := x.reg.Resolve(act.TargetType)
	if err != nil {
		return fmt.Errorf("%s: %w", act, err)
	}

	values := x.buildFields(ctx, log, td, params, instance, false)
	created, err := x.mut.Create(ctx, td.ID, values)
	if err != nil {
		return fmt.Errorf("%s: create %s: %w", act, td.ID, err)
	}
	log.Info("object created", "created", created.Ref().String())
	return nil
}

// updateObject applies params to one record of the target type. The record
// is chosen by target_pk_value when the parameter is present, even when the
// target type is the trigger's own type, so a rule can update a sibling
// record. Without it the trigger's pk is used.
func (x *Executor) updateObject(ctx context.Context, log *slog.Logger, act model.AutomationAction, params map[string]any, instance *model.Record) error {
	if act.TargetType == "" {
		return fmt.Errorf("%s: %w", act, ErrMissingTargetType)
	}
	td, err := x.reg.Resolve(act.TargetType)
	if err != nil {
		return fmt.Errorf("%s: %w", act, err)
	}

	pk := instance.PK
	if raw, ok := params[paramTargetPK]; ok {
		pk = x.resolver.ResolveString(ctx, raw, instance)
	} else if td.ID != instance.Type {
		log.Warn("update target differs from trigger type and no target pk given; using trigger pk",
			"target_type", td.ID)
	}
	if pk == "" {
		log.Warn("update target pk resolved empty; skipped")
		return nil
	}
	if _, err := x.reg.Get(ctx, td.ID, pk); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Warn("update target not found; skipped", "target", td.ID+":"+pk)
			return nil
		}
		return fmt.Errorf("%s: load %s:%s: %w", act, td.ID, pk, err)
	}

	changes := x.buildFields(ctx, log, td, params, instance, true)
	if len(changes) == 0 {
		log.Warn("update has no applicable fields; skipped")
		return nil
	}
	if _, err := x.mut.Update(ctx, td.ID, pk, changes); err != nil {
		return fmt.Errorf("%s: update %s:%s: %w", act, td.ID, pk, err)
	}
	log.Info("object updated", "target", td.ID+":"+pk)
	return nil
}

func (x *Executor) createTask(ctx context.Context, log *slog.Logger, rule *model.AutomationRule, act model.AutomationAction, params map[string]any, instance *model.Record) error {
	typeID := act.TargetType
	if typeID == "" {
		typeID = x.taskType
	}
	td, err := x.reg.Resolve(typeID)
	if err != nil {
		return fmt.Errorf("%s: %w", act, err)
	}

	fields := make(map[string]any, len(params)+3)
	for k, v := range params {
		fields[k] = v
	}
	if _, ok := fields["title"]; !ok {
		fields["title"] = "Task from rule " + rule.Name
	}
	if raw, ok := fields["due_in_days"]; ok {
		delete(fields, "due_in_days")
		days, err := cast.ToIntE(x.resolver.ResolveValue(ctx, raw, instance))
		if err != nil {
			log.Warn("invalid due_in_days; ignored", "value", raw)
		} else {
			now := x.now().UTC()
			due := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
			fields["due_date"] = due.Format("2006-01-02")
		}
	}
	if _, ok := fields["related"]; !ok {
		fields["related"] = instance.Ref().String()
	}

	// Synthesized keys are dropped when the task type does not declare them.
	for k := range fields {
		if _, ok := td.Lookup(k); !ok {
			log.Debug("task field not declared; dropped", "field", k)
			delete(fields, k)
		}
	}

	values := x.buildFields(ctx, log, td, fields, instance, false)
	created, err := x.mut.Create(ctx, td.ID, values)
	if err != nil {
		return fmt.Errorf("%s: create %s: %w", act, td.ID, err)
	}
	log.Info("task created", "task", created.Ref().String())
	return nil
}

// buildFields resolves placeholders in params and maps them onto td.
// To-one relation values are looked up by primary key; a miss drops the
// field with a warning. With update set, fields td does not declare are
// dropped with a warning; otherwise they are kept so creation reports them.
func (x *Executor) buildFields(ctx context.Context, log *slog.Logger, td *registry.TypeDescriptor, params map[string]any, instance *model.Record, update bool) map[string]any {
	out := make(map[string]any, len(params))
	for _, name := range model.SortedKeys(params) {
		if name == paramTargetPK || name == paramTargetPKField {
			continue
		}
		value := x.resolver.ResolveValue(ctx, params[name], instance)

		f, ok := td.Lookup(name)
		if !ok {
			if update {
				log.Warn("unknown target field; skipped", "field", name, "target_type", td.ID)
				continue
			}
			out[name] = value
			continue
		}
		if update && (name == "pk" || name == "id") {
			log.Warn("primary key cannot be updated; skipped", "field", name)
			continue
		}
		if s, ok := value.(string); ok && s == "" && f.Kind != registry.KindString && f.Kind != registry.KindText && !f.Kind.IsToOne() {
			value = nil
		}
		if f.Kind.IsToOne() {
			pk := registry.Format(f.Kind, value)
			if pk == "" {
				log.Warn("related key resolved empty; field skipped", "field", name)
				continue
			}
			if _, err := x.reg.Get(ctx, f.Target, pk); err != nil {
				log.Warn("related object not found; field skipped",
					"field", name,
					"target", f.Target+":"+pk,
					"error", err,
				)
				continue
			}
			value = pk
		}
		out[name] = value
	}
	return out
}
