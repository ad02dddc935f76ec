package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
)

func TestEntity_InsertLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &model.Record{Type: "Deal", PK: "d1", Values: map[string]any{
		"name":   "Acme",
		"amount": int64(9007199254740993),
		"owner":  nil,
	}}
	require.NoError(t, s.InsertEntity(ctx, rec))

	got, err := s.LoadEntity(ctx, "Deal", "d1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Values["name"])
	assert.Equal(t, json.Number("9007199254740993"), got.Values["amount"], "large ints survive")
	assert.Contains(t, got.Values, "owner")
	assert.Nil(t, got.Values["owner"])
}

func TestEntity_InsertDuplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &model.Record{Type: "Deal", PK: "d1", Values: map[string]any{}}
	require.NoError(t, s.InsertEntity(ctx, rec))
	assert.Error(t, s.InsertEntity(ctx, rec))
}

func TestEntity_UpdateDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := &model.Record{Type: "Deal", PK: "d1", Values: map[string]any{"stage": "NEW"}}
	require.NoError(t, s.InsertEntity(ctx, rec))

	rec.Values["stage"] = "WON"
	require.NoError(t, s.UpdateEntity(ctx, rec))
	got, err := s.LoadEntity(ctx, "Deal", "d1")
	require.NoError(t, err)
	assert.Equal(t, "WON", got.Values["stage"])

	require.NoError(t, s.DeleteEntity(ctx, "Deal", "d1"))
	_, err = s.LoadEntity(ctx, "Deal", "d1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, s.DeleteEntity(ctx, "Deal", "d1"), model.ErrNotFound)
	assert.ErrorIs(t, s.UpdateEntity(ctx, rec), model.ErrNotFound)
}

func TestEntity_ListOrderedByPK(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, pk := range []string{"b", "a", "c"} {
		require.NoError(t, s.InsertEntity(ctx, &model.Record{Type: "Deal", PK: pk, Values: map[string]any{}}))
	}
	require.NoError(t, s.InsertEntity(ctx, &model.Record{Type: "User", PK: "u", Values: map[string]any{}}))

	recs, err := s.ListEntities(ctx, "Deal")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].PK)
	assert.Equal(t, "c", recs[2].PK)

	empty, err := s.ListEntities(ctx, "Ticket")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}
