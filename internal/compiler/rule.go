package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/bizflow/internal/model"
)

// CompileRule parses a CUE value into an AutomationRule.
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "close-won": { trigger: "ON_UPDATE", entity: "Opportunity", ... }`)
//	rule, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."close-won"`)))
//
// Structural problems (missing trigger, malformed lists) are compile
// errors; semantic checks against the registry live in Validate.
func CompileRule(v cue.Value) (*model.AutomationRule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &model.AutomationRule{Name: label(v)}

	var err error
	if rule.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if rule.Owner, err = optionalString(v, "owner"); err != nil {
		return nil, err
	}
	if rule.Active, err = optionalBool(v, "active", true); err != nil {
		return nil, err
	}

	trigger, err := requiredString(v, "trigger", "trigger")
	if err != nil {
		return nil, err
	}
	rule.Trigger = model.TriggerType(trigger)

	if rule.EntityType, err = requiredString(v, "entity", "entity"); err != nil {
		return nil, err
	}
	if rule.TriggerField, err = optionalString(v, "trigger_field"); err != nil {
		return nil, err
	}

	if rule.Conditions, err = parseConditions(v); err != nil {
		return nil, err
	}
	if rule.Actions, err = parseActions(v); err != nil {
		return nil, err
	}
	return rule, nil
}

// parseConditions extracts the implicit-AND condition list.
func parseConditions(v cue.Value) ([]model.Condition, error) {
	condsVal := v.LookupPath(cue.ParsePath("conditions"))
	if !condsVal.Exists() {
		return nil, nil
	}

	iter, err := condsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var conds []model.Condition
	for i := 0; iter.Next(); i++ {
		cv := iter.Value()
		path := fmt.Sprintf("conditions[%d]", i)

		field, err := requiredString(cv, "field", path)
		if err != nil {
			return nil, err
		}
		op, err := requiredString(cv, "operator", path)
		if err != nil {
			return nil, err
		}
		cond := model.Condition{Field: field, Operator: model.Operator(op)}
		if vv := cv.LookupPath(cue.ParsePath("value")); vv.Exists() {
			if cond.Value, err = toGo(vv); err != nil {
				return nil, err
			}
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// parseActions extracts the action list. Actions without an explicit order
// take their list position (1-based).
func parseActions(v cue.Value) ([]model.AutomationAction, error) {
	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, nil
	}

	iter, err := actionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []model.AutomationAction
	for i := 0; iter.Next(); i++ {
		av := iter.Value()
		path := fmt.Sprintf("actions[%d]", i)

		typ, err := requiredString(av, "type", path)
		if err != nil {
			return nil, err
		}
		act := model.AutomationAction{Order: i + 1, Type: model.ActionType(typ)}

		if ov := av.LookupPath(cue.ParsePath("order")); ov.Exists() {
			n, err := ov.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			act.Order = int(n)
		}
		if act.TargetType, err = optionalString(av, "target"); err != nil {
			return nil, err
		}
		if pv := av.LookupPath(cue.ParsePath("params")); pv.Exists() {
			raw, err := toGo(pv)
			if err != nil {
				return nil, err
			}
			params, ok := raw.(map[string]any)
			if !ok {
				return nil, &CompileError{Field: path + ".params", Message: "params must be a struct", Pos: pv.Pos()}
			}
			act.Params = params
		}
		actions = append(actions, act)
	}
	return actions, nil
}
