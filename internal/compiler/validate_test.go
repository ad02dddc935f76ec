package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()

	user, err := registry.NewTypeDescriptor("User", "auth", []registry.FieldDescriptor{
		{Name: "username", Kind: registry.KindString},
	}, nil)
	require.NoError(t, err)
	opp, err := registry.NewTypeDescriptor("Opportunity", "crm", []registry.FieldDescriptor{
		{Name: "name", Kind: registry.KindString},
		{Name: "stage", Kind: registry.KindString},
		{Name: "amount", Kind: registry.KindDecimal, Nullable: true},
	}, []registry.FieldDescriptor{
		{Name: "owner", Kind: registry.KindForeignKey, Target: "User", Nullable: true},
		{Name: "watchers", Kind: registry.KindManyToMany, Target: "User"},
	})
	require.NoError(t, err)

	require.NoError(t, reg.Register(user))
	require.NoError(t, reg.Register(opp))
	return reg
}

func validRule() model.AutomationRule {
	return model.AutomationRule{
		Name:       "close-won",
		Trigger:    model.TriggerOnUpdate,
		EntityType: "Opportunity",
		Conditions: []model.Condition{
			{Field: "stage", Operator: model.OpChangedTo, Value: "WON"},
			{Field: "owner.username", Operator: model.OpIsNotEmpty},
		},
		Actions: []model.AutomationAction{
			{Order: 1, Type: model.ActionUpdateObject, TargetType: "Opportunity", Params: map[string]any{"stage": "CLOSED"}},
		},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

// =============================================================================
// Rule Validation Tests
// =============================================================================

func TestValidateRuleValid(t *testing.T) {
	reg := testRegistry(t)
	rule := validRule()

	assert.Empty(t, Validate(&rule, reg))
	assert.Empty(t, Validate(rule, reg), "value and pointer are both accepted")
}

func TestValidateRuleErrors(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name   string
		mutate func(r *model.AutomationRule)
		code   string
		field  string
	}{
		{
			name:   "empty name",
			mutate: func(r *model.AutomationRule) { r.Name = " " },
			code:   ErrEmptyName,
		},
		{
			name:   "unknown trigger",
			mutate: func(r *model.AutomationRule) { r.Trigger = "ON_SAVE" },
			code:   ErrUnknownTrigger,
			field:  "rule.close-won.trigger",
		},
		{
			name: "unknown entity",
			mutate: func(r *model.AutomationRule) {
				r.EntityType = "Invoice"
				r.Conditions = nil
			},
			code:  ErrUnknownEntityType,
			field: "rule.close-won.entity",
		},
		{
			name:   "field change without field",
			mutate: func(r *model.AutomationRule) { r.Trigger = model.TriggerOnFieldChange },
			code:   ErrTriggerFieldMissing,
		},
		{
			name: "field change on undeclared field",
			mutate: func(r *model.AutomationRule) {
				r.Trigger = model.TriggerOnFieldChange
				r.TriggerField = "probability"
			},
			code: ErrTriggerFieldMissing,
		},
		{
			name:   "trigger field ignored",
			mutate: func(r *model.AutomationRule) { r.TriggerField = "stage" },
			code:   ErrTriggerFieldIgnored,
		},
		{
			name:   "unknown operator",
			mutate: func(r *model.AutomationRule) { r.Conditions[0].Operator = "LIKE" },
			code:   ErrUnknownOperator,
			field:  "rule.close-won.conditions[0].operator",
		},
		{
			name:   "missing value",
			mutate: func(r *model.AutomationRule) { r.Conditions[0].Value = nil },
			code:   ErrMissingConditionValue,
		},
		{
			name:   "unknown condition field",
			mutate: func(r *model.AutomationRule) { r.Conditions[1].Field = "owner.email" },
			code:   ErrUnknownConditionField,
			field:  "rule.close-won.conditions[1].field",
		},
		{
			name:   "traversing to-many relation",
			mutate: func(r *model.AutomationRule) { r.Conditions[1].Field = "watchers.username" },
			code:   ErrUnknownConditionField,
		},
		{
			name:   "changed operator on create",
			mutate: func(r *model.AutomationRule) { r.Trigger = model.TriggerOnCreate },
			code:   ErrChangedOperatorNoPrior,
		},
		{
			name:   "no actions",
			mutate: func(r *model.AutomationRule) { r.Actions = nil },
			code:   ErrNoActions,
		},
		{
			name:   "unknown action type",
			mutate: func(r *model.AutomationRule) { r.Actions[0].Type = "SEND_FAX" },
			code:   ErrUnknownActionType,
		},
		{
			name:   "missing target",
			mutate: func(r *model.AutomationRule) { r.Actions[0].TargetType = "" },
			code:   ErrMissingTargetType,
		},
		{
			name:   "unknown target",
			mutate: func(r *model.AutomationRule) { r.Actions[0].TargetType = "Invoice" },
			code:   ErrUnknownTargetType,
		},
		{
			name:   "unknown target field",
			mutate: func(r *model.AutomationRule) { r.Actions[0].Params["probability"] = 10 },
			code:   ErrUnknownTargetField,
			field:  "rule.close-won.actions[0].params.probability",
		},
		{
			name: "webhook without url",
			mutate: func(r *model.AutomationRule) {
				r.Actions = append(r.Actions, model.AutomationAction{Order: 2, Type: model.ActionCallWebhook})
			},
			code: ErrMissingWebhookURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(&rule)

			errs := Validate(&rule, reg)
			require.Len(t, errs, 1, "errors: %v", errs)
			assert.Equal(t, tt.code, errs[0].Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, errs[0].Field)
			}
		})
	}
}

func TestValidateRuleTargetPKParamsAllowed(t *testing.T) {
	reg := testRegistry(t)
	rule := validRule()
	rule.Actions[0].Params["target_pk_value"] = "{owner}"
	rule.Actions[0].Params["target_pk_field"] = "pk"

	assert.Empty(t, Validate(&rule, reg))
}

func TestValidateRuleCollectsAllErrors(t *testing.T) {
	reg := testRegistry(t)
	rule := model.AutomationRule{
		Name:       "broken",
		Trigger:    "NEVER",
		EntityType: "Nope",
		Conditions: []model.Condition{{Field: "x", Operator: "LIKE"}},
	}

	errs := Validate(&rule, reg)
	assert.Equal(t, []string{ErrUnknownTrigger, ErrUnknownEntityType, ErrUnknownOperator, ErrNoActions}, codes(errs))
}

func TestValidateRulesDuplicateNames(t *testing.T) {
	reg := testRegistry(t)
	rules := []model.AutomationRule{validRule(), validRule()}

	errs := ValidateRules(rules, reg)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateName, errs[0].Code)
	assert.Contains(t, errs[0].Message, `"close-won"`)
}

// =============================================================================
// Entity Validation Tests
// =============================================================================

func TestValidateEntityRelationTargets(t *testing.T) {
	reg := testRegistry(t)
	td, err := registry.NewTypeDescriptor("Contact", "crm", []registry.FieldDescriptor{
		{Name: "email", Kind: registry.KindString},
	}, []registry.FieldDescriptor{
		{Name: "account", Kind: registry.KindForeignKey, Target: "Account"},
		{Name: "owner", Kind: registry.KindForeignKey, Target: "User"},
	})
	require.NoError(t, err)

	errs := Validate(td, reg)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownRelationTarget, errs[0].Code)
	assert.Equal(t, "entity.Contact.relations.account", errs[0].Field)
}

func TestValidateUnsupportedType(t *testing.T) {
	errs := Validate("nope", testRegistry(t))
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnsupportedType, errs[0].Code)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "rule.r.trigger", Message: "unknown trigger", Code: ErrUnknownTrigger}
	assert.Equal(t, "[E101] rule.r.trigger: unknown trigger", e.Error())

	e.Line = 12
	assert.Equal(t, "[E101] line 12: rule.r.trigger: unknown trigger", e.Error())
}
