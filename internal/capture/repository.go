package capture

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// EntityStore persists entity records. Implemented by *store.Store.
type EntityStore interface {
	LoadEntity(ctx context.Context, typeID, pk string) (*model.Record, error)
	InsertEntity(ctx context.Context, rec *model.Record) error
	UpdateEntity(ctx context.Context, rec *model.Record) error
	DeleteEntity(ctx context.Context, typeID, pk string) error
}

// Repository is the persistence boundary for registered entity types.
// Every successful write is announced to the Hook exactly once, after the
// write commits.
type Repository struct {
	reg   *registry.Registry
	store EntityStore
	hook  *Hook
	newPK func() string
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithKeyGenerator replaces the UUIDv7 primary key generator used when a
// create carries no key.
func WithKeyGenerator(g func() string) RepositoryOption {
	return func(r *Repository) {
		r.newPK = g
	}
}

// NewRepository creates a repository. The registry is bound to store for
// instance-by-pk access.
func NewRepository(reg *registry.Registry, store EntityStore, hook *Hook, opts ...RepositoryOption) *Repository {
	reg.Bind(store)
	r := &Repository{
		reg:   reg,
		store: store,
		hook:  hook,
		newPK: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get loads a hydrated record.
func (r *Repository) Get(ctx context.Context, typeID, pk string) (*model.Record, error) {
	return r.reg.Get(ctx, typeID, pk)
}

// Create validates values against the type descriptor, inserts the record
// and announces a CREATE. A "pk" or "id" entry supplies the primary key;
// otherwise a UUIDv7 is assigned.
func (r *Repository) Create(ctx context.Context, typeID string, values map[string]any) (*model.Record, error) {
	td, err := r.reg.Resolve(typeID)
	if err != nil {
		return nil, err
	}

	fields, pk, err := splitPK(values)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", typeID, err)
	}
	if pk == "" {
		pk = r.newPK()
	}
	normalized, err := td.Normalize(fields, false)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", typeID, err)
	}

	rec := &model.Record{Type: typeID, PK: pk, Values: normalized}
	if err := r.store.InsertEntity(ctx, rec); err != nil {
		return nil, err
	}

	r.hook.RecordMutation(ctx, &model.MutationEvent{
		Type:      typeID,
		Operation: model.OpCreate,
		Instance:  rec.Clone(),
	})
	return rec, nil
}

// Update applies changes to an existing record and announces an UPDATE
// carrying the pre-mutation snapshot.
func (r *Repository) Update(ctx context.Context, typeID, pk string, changes map[string]any) (*model.Record, error) {
	td, err := r.reg.Resolve(typeID)
	if err != nil {
		return nil, err
	}

	fields, newPK, err := splitPK(changes)
	if err != nil {
		return nil, fmt.Errorf("update %s:%s: %w", typeID, pk, err)
	}
	if newPK != "" && newPK != pk {
		return nil, fmt.Errorf("update %s:%s: primary key cannot change", typeID, pk)
	}
	normalized, err := td.Normalize(fields, true)
	if err != nil {
		return nil, fmt.Errorf("update %s:%s: %w", typeID, pk, err)
	}

	prior, err := r.reg.Get(ctx, typeID, pk)
	if err != nil {
		return nil, fmt.Errorf("update %s:%s: %w", typeID, pk, err)
	}

	rec := prior.Clone()
	for k, v := range normalized {
		rec.Values[k] = v
	}
	if err := r.store.UpdateEntity(ctx, rec); err != nil {
		return nil, err
	}

	r.hook.RecordMutation(ctx, &model.MutationEvent{
		Type:      typeID,
		Operation: model.OpUpdate,
		Instance:  rec.Clone(),
		Prior:     prior,
	})
	return rec, nil
}

// Delete removes a record and announces a DELETE carrying the removed
// instance.
func (r *Repository) Delete(ctx context.Context, typeID, pk string) error {
	if _, err := r.reg.Resolve(typeID); err != nil {
		return err
	}
	instance, err := r.reg.Get(ctx, typeID, pk)
	if err != nil {
		return fmt.Errorf("delete %s:%s: %w", typeID, pk, err)
	}
	if err := r.store.DeleteEntity(ctx, typeID, pk); err != nil {
		return err
	}

	r.hook.RecordMutation(ctx, &model.MutationEvent{
		Type:      typeID,
		Operation: model.OpDelete,
		Instance:  instance,
	})
	return nil
}

// splitPK removes the "pk"/"id" keys from values and returns the primary
// key they carried.
func splitPK(values map[string]any) (map[string]any, string, error) {
	fields := make(map[string]any, len(values))
	var pk string
	for k, v := range values {
		if k != "pk" && k != "id" {
			fields[k] = v
			continue
		}
		if v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, "", fmt.Errorf("invalid primary key: %w", err)
		}
		if pk != "" && s != pk {
			return nil, "", fmt.Errorf("conflicting pk and id values")
		}
		pk = s
	}
	return fields, pk, nil
}
