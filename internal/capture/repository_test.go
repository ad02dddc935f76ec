package capture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
	"github.com/roach88/bizflow/internal/store"
	"github.com/roach88/bizflow/internal/testutil"
)

type recorder struct {
	events []*model.MutationEvent
}

func (r *recorder) HandleMutation(_ context.Context, ev *model.MutationEvent) error {
	r.events = append(r.events, ev)
	return nil
}

func createTestRepository(t *testing.T) (*Repository, *recorder) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	deal, err := registry.NewTypeDescriptor("Deal", "crm", []registry.FieldDescriptor{
		{Name: "name", Kind: registry.KindString},
		{Name: "amount", Kind: registry.KindDecimal, Nullable: true},
		{Name: "stage", Kind: registry.KindString, Default: "NEW"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Register(deal))
	require.NoError(t, reg.Register(SessionDescriptor()))

	hook := NewHook(WithFlowGenerator(testutil.NewSequenceFlowGenerator("flow")))
	rec := &recorder{}
	hook.Subscribe("recorder", rec)

	return NewRepository(reg, st, hook), rec
}

// =============================================================================
// Create
// =============================================================================

func TestRepository_CreateEmitsOneEvent(t *testing.T) {
	repo, rec := createTestRepository(t)
	ctx := WithRequest(context.Background(), "u1", "", "")

	created, err := repo.Create(ctx, "Deal", map[string]any{"pk": "d1", "name": "Acme", "amount": "100.50"})
	require.NoError(t, err)
	assert.Equal(t, "d1", created.PK)
	assert.Equal(t, "NEW", created.Values["stage"], "default applied")

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, model.OpCreate, ev.Operation)
	assert.Equal(t, "Deal", ev.Type)
	assert.Nil(t, ev.Prior)
	assert.Equal(t, "u1", ev.Actor)
	assert.True(t, decimal.RequireFromString("100.5").Equal(ev.Instance.Values["amount"].(decimal.Decimal)))
}

func TestRepository_CreateAssignsPK(t *testing.T) {
	repo, _ := createTestRepository(t)

	created, err := repo.Create(context.Background(), "Deal", map[string]any{"name": "Acme"})
	require.NoError(t, err)
	assert.Len(t, created.PK, 36)

	loaded, err := repo.Get(context.Background(), "Deal", created.PK)
	require.NoError(t, err)
	assert.Equal(t, "Acme", loaded.Values["name"])
}

func TestRepository_CreateInvalidEmitsNothing(t *testing.T) {
	repo, rec := createTestRepository(t)

	_, err := repo.Create(context.Background(), "Deal", map[string]any{"amount": "1"})
	require.Error(t, err, "name is required")

	_, err = repo.Create(context.Background(), "Deal", map[string]any{"name": "x", "color": "red"})
	require.Error(t, err)

	_, err = repo.Create(context.Background(), "Invoice", map[string]any{})
	assert.True(t, registry.IsUnknownType(err))

	assert.Empty(t, rec.events)
}

func TestRepository_CreateDuplicatePK(t *testing.T) {
	repo, rec := createTestRepository(t)

	_, err := repo.Create(context.Background(), "Deal", map[string]any{"id": "d1", "name": "a"})
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), "Deal", map[string]any{"id": "d1", "name": "b"})
	require.Error(t, err)
	assert.Len(t, rec.events, 1)
}

// =============================================================================
// Update
// =============================================================================

func TestRepository_UpdateCarriesPrior(t *testing.T) {
	repo, rec := createTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "Deal", map[string]any{"pk": "d1", "name": "Acme"})
	require.NoError(t, err)

	updated, err := repo.Update(ctx, "Deal", "d1", map[string]any{"stage": "WON"})
	require.NoError(t, err)
	assert.Equal(t, "WON", updated.Values["stage"])
	assert.Equal(t, "Acme", updated.Values["name"])

	require.Len(t, rec.events, 2)
	ev := rec.events[1]
	assert.Equal(t, model.OpUpdate, ev.Operation)
	require.NotNil(t, ev.Prior)
	assert.Equal(t, "NEW", ev.Prior.Values["stage"])
	assert.Equal(t, "WON", ev.Instance.Values["stage"])
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo, rec := createTestRepository(t)

	_, err := repo.Update(context.Background(), "Deal", "nope", map[string]any{"stage": "WON"})
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, rec.events)
}

func TestRepository_UpdateRejectsPKChange(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "Deal", map[string]any{"pk": "d1", "name": "Acme"})
	require.NoError(t, err)

	_, err = repo.Update(ctx, "Deal", "d1", map[string]any{"pk": "d2"})
	assert.ErrorContains(t, err, "primary key cannot change")
}

// =============================================================================
// Delete / Sessions
// =============================================================================

func TestRepository_DeleteCarriesInstance(t *testing.T) {
	repo, rec := createTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, "Deal", map[string]any{"pk": "d1", "name": "Acme"})
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "Deal", "d1"))

	require.Len(t, rec.events, 2)
	ev := rec.events[1]
	assert.Equal(t, model.OpDelete, ev.Operation)
	assert.Equal(t, "Acme", ev.Instance.Values["name"])

	_, err = repo.Get(ctx, "Deal", "d1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "Deal", "d1"), model.ErrNotFound)
	assert.Len(t, rec.events, 2)
}

func TestRepository_LoginLogout(t *testing.T) {
	repo, rec := createTestRepository(t)
	ctx := WithRequest(context.Background(), "", "10.0.0.7", "")

	_, err := repo.Login(ctx, "sess-1", "u1")
	require.NoError(t, err)
	require.NoError(t, repo.Logout(WithRequest(context.Background(), "u1", "", "sess-1"), "sess-1"))

	require.Len(t, rec.events, 2)
	assert.Equal(t, model.SessionType, rec.events[0].Type)
	assert.Equal(t, model.OpCreate, rec.events[0].Operation)
	assert.Equal(t, "u1", rec.events[0].Actor)
	assert.Equal(t, "sess-1", rec.events[0].SessionID)
	assert.Equal(t, "10.0.0.7", rec.events[0].IPAddress)
	assert.Equal(t, model.OpDelete, rec.events[1].Operation)
}
