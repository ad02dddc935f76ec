package engine

import (
	"context"

	"github.com/roach88/bizflow/internal/model"
)

// matchTrigger checks if a mutation event matches a rule's trigger.
//
// The match is determined by:
//  1. Entity type: rule.EntityType must equal ev.Type
//  2. Operation: ON_CREATE, ON_UPDATE and ON_DELETE match their operation only
//  3. ON_FIELD_CHANGE: an UPDATE with a prior snapshot whose watched field
//     differs between prior and current
//
// ON_TIME and ON_WEBHOOK never match a mutation; they run through RunRule.
func (e *Engine) matchTrigger(ctx context.Context, rule *model.AutomationRule, ev *model.MutationEvent) bool {
	if rule.EntityType != ev.Type {
		return false
	}

	switch rule.Trigger {
	case model.TriggerOnCreate:
		return ev.Operation == model.OpCreate
	case model.TriggerOnUpdate:
		return ev.Operation == model.OpUpdate
	case model.TriggerOnDelete:
		return ev.Operation == model.OpDelete
	case model.TriggerOnFieldChange:
		if ev.Operation != model.OpUpdate || ev.Prior == nil || rule.TriggerField == "" {
			return false
		}
		return e.eval.FieldChanged(ctx, rule.TriggerField, ev.Instance, ev.Prior)
	}
	return false
}

// conditionPrior returns the snapshot the changed-family operators compare
// against. Only UPDATE carries one; on DELETE they always fail.
func conditionPrior(ev *model.MutationEvent) *model.Record {
	if ev.Operation != model.OpUpdate {
		return nil
	}
	return ev.Prior
}
