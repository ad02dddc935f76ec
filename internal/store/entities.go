package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bizflow/internal/model"
)

// LoadEntity returns the persisted record for (typeID, pk). Values are
// returned as decoded JSON; callers hydrate them through the registry.
// Implements registry.Loader.
func (s *Store) LoadEntity(ctx context.Context, typeID, pk string) (*model.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM entities WHERE type_id = ? AND pk = ?
	`, typeID, pk).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load entity %s:%s: %w", typeID, pk, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load entity %s:%s: %w", typeID, pk, err)
	}

	values, err := unmarshalValues(data)
	if err != nil {
		return nil, fmt.Errorf("load entity %s:%s: %w", typeID, pk, err)
	}
	return &model.Record{Type: typeID, PK: pk, Values: values}, nil
}

// InsertEntity writes a new record. Inserting an existing (type, pk) is an
// error.
func (s *Store) InsertEntity(ctx context.Context, rec *model.Record) error {
	data, err := marshalJSON(rec.Values)
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", rec.Ref(), err)
	}
	now := s.nowNanos()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (type_id, pk, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Type, rec.PK, data, now, now)
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", rec.Ref(), err)
	}
	return nil
}

// UpdateEntity replaces the values of an existing record.
func (s *Store) UpdateEntity(ctx context.Context, rec *model.Record) error {
	data, err := marshalJSON(rec.Values)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", rec.Ref(), err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET data = ?, updated_at = ?
		WHERE type_id = ? AND pk = ?
	`, data, s.nowNanos(), rec.Type, rec.PK)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", rec.Ref(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update entity %s: %w", rec.Ref(), model.ErrNotFound)
	}
	return nil
}

// DeleteEntity removes a record.
func (s *Store) DeleteEntity(ctx context.Context, typeID, pk string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM entities WHERE type_id = ? AND pk = ?
	`, typeID, pk)
	if err != nil {
		return fmt.Errorf("delete entity %s:%s: %w", typeID, pk, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete entity %s:%s: %w", typeID, pk, model.ErrNotFound)
	}
	return nil
}

// ListEntities returns all records of a type ordered by pk.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListEntities(ctx context.Context, typeID string) ([]*model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, data FROM entities WHERE type_id = ?
		ORDER BY pk COLLATE BINARY ASC
	`, typeID)
	if err != nil {
		return nil, fmt.Errorf("list entities %s: %w", typeID, err)
	}
	defer rows.Close()

	out := []*model.Record{}
	for rows.Next() {
		var pk, data string
		if err := rows.Scan(&pk, &data); err != nil {
			return nil, fmt.Errorf("list entities %s: %w", typeID, err)
		}
		values, err := unmarshalValues(data)
		if err != nil {
			return nil, fmt.Errorf("list entities %s: %w", typeID, err)
		}
		out = append(out, &model.Record{Type: typeID, PK: pk, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entities %s: %w", typeID, err)
	}
	return out, nil
}
