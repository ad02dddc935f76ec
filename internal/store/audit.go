package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/bizflow/internal/model"
)

// AppendAudit inserts an audit entry and returns its id. Entries are never
// updated or deleted afterwards.
func (s *Store) AppendAudit(ctx context.Context, e *model.AuditEntry) (int64, error) {
	changes, err := marshalChanges(e.Changes)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(timestamp, actor, operation, target_type, target_key, description, changes,
		 module, model_name, ip_address, session_key, flow_token, rule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Timestamp.UTC().UnixNano(),
		toNullString(e.Actor),
		string(e.Operation),
		e.Target.Type,
		e.Target.PK,
		e.Description,
		changes,
		toNullString(e.Module),
		e.TypeID,
		toNullString(e.IPAddress),
		toNullString(e.SessionID),
		toNullString(e.FlowToken),
		toNullString(e.Rule),
	)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}
	return id, nil
}

const auditColumns = `id, timestamp, actor, operation, target_type, target_key, description,
	changes, module, model_name, ip_address, session_key, flow_token, rule`

// ListAudit returns entries matching filter, newest first.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.TypeID != "" {
		where = append(where, "model_name = ?")
		args = append(args, f.TypeID)
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, string(f.Operation))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC().UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp <= ?")
		args = append(args, f.Until.UTC().UnixNano())
	}

	query := "SELECT " + auditColumns + " FROM audit_entries"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	out := []model.AuditEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}

// GetAudit returns one entry by id.
func (s *Store) GetAudit(ctx context.Context, id int64) (*model.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_entries WHERE id = ?", id)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get audit %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get audit %d: %w", id, err)
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAudit(row scanner) (model.AuditEntry, error) {
	var (
		e                                              model.AuditEntry
		ts                                             int64
		op, changes                                    string
		actor, module, ip, session, flowToken, ruleCol sql.NullString
	)
	err := row.Scan(&e.ID, &ts, &actor, &op, &e.Target.Type, &e.Target.PK, &e.Description,
		&changes, &module, &e.TypeID, &ip, &session, &flowToken, &ruleCol)
	if err != nil {
		return e, err
	}
	e.Timestamp = fromNanos(ts)
	e.Operation = model.Operation(op)
	e.Actor = actor.String
	e.Module = module.String
	e.IPAddress = ip.String
	e.SessionID = session.String
	e.FlowToken = flowToken.String
	e.Rule = ruleCol.String
	e.Changes, err = unmarshalChanges(changes)
	if err != nil {
		return e, err
	}
	return e, nil
}
