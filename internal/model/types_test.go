package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityRef(t *testing.T) {
	ref, err := ParseEntityRef("Opportunity:42")
	require.NoError(t, err)
	assert.Equal(t, EntityRef{Type: "Opportunity", PK: "42"}, ref)
	assert.Equal(t, "Opportunity:42", ref.String())

	for _, bad := range []string{"", "Opportunity", ":42", "Opportunity:"} {
		_, err := ParseEntityRef(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("update")
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, op)
	assert.True(t, op.IsMutation())
	assert.False(t, OpLogin.IsMutation())

	_, err = ParseOperation("upsert")
	assert.Error(t, err)
}

func TestRecordClone_Independent(t *testing.T) {
	r := &Record{Type: "Deal", PK: "1", Values: map[string]any{"stage": "A", "tags": []string{"x"}}}
	c := r.Clone()
	c.Values["stage"] = "B"
	c.Values["tags"].([]string)[0] = "y"

	assert.Equal(t, "A", r.Values["stage"])
	assert.Equal(t, []string{"x"}, r.Values["tags"])
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestSortActions_OrderThenInsertion(t *testing.T) {
	actions := []AutomationAction{
		{ID: 3, Order: 2},
		{ID: 2, Order: 1},
		{ID: 1, Order: 2},
		{ID: 0, Order: 1},
	}
	SortActions(actions)
	var ids []int64
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []int64{0, 2, 1, 3}, ids)
}

func TestEnumsValid(t *testing.T) {
	assert.True(t, TriggerOnFieldChange.Valid())
	assert.False(t, TriggerType("ON_SAVE").Valid())
	assert.True(t, TriggerOnWebhook.External())
	assert.True(t, ActionCallWebhook.Valid())
	assert.True(t, ActionUpdateObject.NeedsTargetType())
	assert.False(t, ActionSendEmail.NeedsTargetType())
	assert.True(t, OpChangedTo.NeedsPrior())
	assert.False(t, OpIsEmpty.TakesValue())
	assert.False(t, Operator("matches").Valid())
}
