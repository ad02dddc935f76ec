package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
)

func testEntry(op model.Operation, typeID, pk, actor string, ts time.Time) *model.AuditEntry {
	return &model.AuditEntry{
		Timestamp:   ts,
		Actor:       actor,
		Operation:   op,
		Target:      model.EntityRef{Type: typeID, PK: pk},
		Description: string(op) + " " + typeID,
		TypeID:      typeID,
		Module:      "crm",
	}
}

func TestAudit_AppendAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 9, 0, 0, 123, time.UTC)

	e := testEntry(model.OpUpdate, "Deal", "d1", "u1", ts)
	e.Changes = map[string]model.FieldChange{"stage": {Old: "NEW", New: "WON"}}
	e.IPAddress = "10.0.0.1"
	e.SessionID = "sess"
	e.FlowToken = "flow-1"
	e.Rule = "close-won"

	id, err := s.AppendAudit(ctx, e)
	require.NoError(t, err)

	got, err := s.GetAudit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ts, got.Timestamp)
	assert.Equal(t, model.OpUpdate, got.Operation)
	assert.Equal(t, model.EntityRef{Type: "Deal", PK: "d1"}, got.Target)
	assert.Equal(t, map[string]model.FieldChange{"stage": {Old: "NEW", New: "WON"}}, got.Changes)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
	assert.Equal(t, "sess", got.SessionID)
	assert.Equal(t, "flow-1", got.FlowToken)
	assert.Equal(t, "close-won", got.Rule)

	_, err = s.GetAudit(ctx, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAudit_Immutable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.AppendAudit(ctx, testEntry(model.OpCreate, "Deal", "d1", "", time.Now()))
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE audit_entries SET description = 'x' WHERE id = ?`, id)
	assert.Error(t, err)
	_, err = s.db.Exec(`DELETE FROM audit_entries WHERE id = ?`, id)
	assert.Error(t, err)
}

func TestAudit_ListNewestFirstWithFilters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	entries := []*model.AuditEntry{
		testEntry(model.OpCreate, "Deal", "d1", "u1", base),
		testEntry(model.OpUpdate, "Deal", "d1", "u2", base.Add(time.Hour)),
		testEntry(model.OpCreate, "Ticket", "t1", "u1", base.Add(2*time.Hour)),
		testEntry(model.OpDelete, "Deal", "d1", "u1", base.Add(3*time.Hour)),
	}
	for _, e := range entries {
		_, err := s.AppendAudit(ctx, e)
		require.NoError(t, err)
	}

	all, err := s.ListAudit(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, model.OpDelete, all[0].Operation, "newest first")
	assert.Equal(t, model.OpCreate, all[3].Operation)

	deals, err := s.ListAudit(ctx, model.AuditFilter{TypeID: "Deal"})
	require.NoError(t, err)
	assert.Len(t, deals, 3)

	byActor, err := s.ListAudit(ctx, model.AuditFilter{Actor: "u1", Operation: model.OpCreate})
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	window, err := s.ListAudit(ctx, model.AuditFilter{Since: base.Add(time.Hour), Until: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "Ticket", window[0].TypeID)

	limited, err := s.ListAudit(ctx, model.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListAudit(ctx, model.AuditFilter{TypeID: "Invoice"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAudit_SameTimestampOrderedByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.AppendAudit(ctx, testEntry(model.OpCreate, "Deal", "d1", "", ts))
	require.NoError(t, err)
	second, err := s.AppendAudit(ctx, testEntry(model.OpUpdate, "Deal", "d1", "", ts))
	require.NoError(t, err)

	all, err := s.ListAudit(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, first, all[1].ID)
}
