package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported value passed to Validate

	// Rule errors (E101-E109)
	ErrUnknownTrigger      = "E101" // trigger type not recognized
	ErrUnknownEntityType   = "E102" // watched entity type not registered
	ErrTriggerFieldMissing = "E103" // ON_FIELD_CHANGE without a declared field
	ErrTriggerFieldIgnored = "E104" // trigger_field on a trigger that never reads it
	ErrDuplicateName       = "E105" // duplicate rule name
	ErrEmptyName           = "E106" // rule name is empty
	ErrNoActions           = "E107" // rule has no actions

	// Condition errors (E110-E119)
	ErrUnknownOperator        = "E110" // operator not recognized
	ErrMissingConditionValue  = "E111" // operator needs a value
	ErrUnknownConditionField  = "E112" // field path does not resolve on the type
	ErrChangedOperatorNoPrior = "E113" // changed-family operator on a trigger without a prior snapshot

	// Action errors (E120-E129)
	ErrUnknownActionType  = "E120" // action type not recognized
	ErrMissingTargetType  = "E121" // CREATE_OBJECT/UPDATE_OBJECT without target
	ErrUnknownTargetType  = "E122" // target type not registered
	ErrMissingWebhookURL  = "E123" // CALL_WEBHOOK without url
	ErrUnknownTargetField = "E124" // literal param names an undeclared field

	// Entity errors (E130-E139)
	ErrUnknownRelationTarget = "E130" // relation points at an unregistered type
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled rule or entity type against the registry.
// Returns all errors found (does not fail-fast).
func Validate(v any, reg *registry.Registry) []ValidationError {
	switch val := v.(type) {
	case *model.AutomationRule:
		return validateRule(val, reg)
	case model.AutomationRule:
		return validateRule(&val, reg)
	case *registry.TypeDescriptor:
		return validateEntity(val, reg)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// ValidateRules validates each rule and reports duplicate names.
func ValidateRules(rules []model.AutomationRule, reg *registry.Registry) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(rules))
	for i := range rules {
		r := &rules[i]
		if seen[r.Name] {
			errs = append(errs, ValidationError{
				Field:   "rule." + r.Name,
				Message: fmt.Sprintf("duplicate rule name: %q", r.Name),
				Code:    ErrDuplicateName,
			})
		}
		seen[r.Name] = true
		errs = append(errs, validateRule(r, reg)...)
	}
	return errs
}

func validateEntity(td *registry.TypeDescriptor, reg *registry.Registry) []ValidationError {
	var errs []ValidationError
	for _, r := range td.Relations {
		if !reg.Has(r.Target) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("entity.%s.relations.%s", td.ID, r.Name),
				Message: fmt.Sprintf("relation target %q is not a registered type", r.Target),
				Code:    ErrUnknownRelationTarget,
			})
		}
	}
	return errs
}

func validateRule(rule *model.AutomationRule, reg *registry.Registry) []ValidationError {
	var errs []ValidationError
	prefix := "rule." + rule.Name

	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   prefix + field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	if strings.TrimSpace(rule.Name) == "" {
		add("", ErrEmptyName, "rule name is required")
	}

	// E101: trigger
	if !rule.Trigger.Valid() {
		add(".trigger", ErrUnknownTrigger, "unknown trigger %q", rule.Trigger)
	}

	// E102: watched type
	td, err := reg.Resolve(rule.EntityType)
	if err != nil {
		add(".entity", ErrUnknownEntityType, "entity type %q is not registered", rule.EntityType)
	}

	// E103/E104: trigger field
	switch {
	case rule.Trigger == model.TriggerOnFieldChange && rule.TriggerField == "":
		add(".trigger_field", ErrTriggerFieldMissing, "ON_FIELD_CHANGE requires trigger_field")
	case rule.Trigger == model.TriggerOnFieldChange && td != nil:
		if _, ok := td.Lookup(rule.TriggerField); !ok {
			add(".trigger_field", ErrTriggerFieldMissing, "field %q is not declared on %s", rule.TriggerField, td.ID)
		}
	case rule.Trigger != model.TriggerOnFieldChange && rule.TriggerField != "":
		add(".trigger_field", ErrTriggerFieldIgnored, "trigger_field is only used by ON_FIELD_CHANGE")
	}

	// Conditions
	for i, c := range rule.Conditions {
		field := fmt.Sprintf(".conditions[%d]", i)
		if !c.Operator.Valid() {
			add(field+".operator", ErrUnknownOperator, "unknown operator %q", c.Operator)
			continue
		}
		if c.Operator.TakesValue() && c.Value == nil {
			add(field+".value", ErrMissingConditionValue, "operator %s requires a value", c.Operator)
		}
		if c.Operator.NeedsPrior() && rule.Trigger.Valid() && rule.Trigger != model.TriggerOnUpdate && rule.Trigger != model.TriggerOnFieldChange {
			add(field+".operator", ErrChangedOperatorNoPrior, "operator %s never matches on %s", c.Operator, rule.Trigger)
		}
		if td != nil {
			if msg := checkPath(reg, td, c.Field); msg != "" {
				add(field+".field", ErrUnknownConditionField, "%s", msg)
			}
		}
	}

	// Actions
	if len(rule.Actions) == 0 {
		add(".actions", ErrNoActions, "rule has no actions")
	}
	for i, a := range rule.Actions {
		field := fmt.Sprintf(".actions[%d]", i)
		if !a.Type.Valid() {
			add(field+".type", ErrUnknownActionType, "unknown action type %q", a.Type)
			continue
		}
		if a.Type.NeedsTargetType() && a.TargetType == "" {
			add(field+".target", ErrMissingTargetType, "%s requires a target type", a.Type)
		}
		if a.TargetType != "" {
			target, err := reg.Resolve(a.TargetType)
			if err != nil {
				add(field+".target", ErrUnknownTargetType, "target type %q is not registered", a.TargetType)
			} else if a.Type.NeedsTargetType() {
				for _, name := range model.SortedKeys(a.Params) {
					if name == "target_pk_value" || name == "target_pk_field" {
						continue
					}
					if _, ok := target.Lookup(name); !ok {
						add(field+".params."+name, ErrUnknownTargetField, "field %q is not declared on %s", name, target.ID)
					}
				}
			}
		}
		if a.Type == model.ActionCallWebhook {
			if url, _ := a.Params["url"].(string); strings.TrimSpace(url) == "" {
				add(field+".params.url", ErrMissingWebhookURL, "CALL_WEBHOOK requires a url")
			}
		}
	}

	return errs
}

// checkPath resolves a dotted condition path against descriptors only (no
// data). Returns "" when every segment is declared.
func checkPath(reg *registry.Registry, td *registry.TypeDescriptor, path string) string {
	segments := strings.Split(path, ".")
	if len(segments) > registry.MaxPathDepth {
		return fmt.Sprintf("path %q exceeds %d segments", path, registry.MaxPathDepth)
	}
	cur := td
	for i, seg := range segments {
		f, ok := cur.Lookup(seg)
		if !ok {
			return fmt.Sprintf("field %q is not declared on %s", seg, cur.ID)
		}
		if i == len(segments)-1 {
			return ""
		}
		if !f.Kind.IsToOne() {
			return fmt.Sprintf("%q is not a to-one relation and cannot be traversed", seg)
		}
		next, err := reg.Resolve(f.Target)
		if err != nil {
			return fmt.Sprintf("relation %q points at unregistered type %q", seg, f.Target)
		}
		cur = next
	}
	return ""
}
