package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/bizflow/internal/model"
)

// UpsertRule creates or replaces a rule by name. The rule's actions are
// replaced wholesale in their slice order, so insertion order breaks ties
// in action order. Returns the rule id.
func (s *Store) UpsertRule(ctx context.Context, r *model.AutomationRule) (int64, error) {
	conds, err := marshalConditions(r.Conditions)
	if err != nil {
		return 0, fmt.Errorf("upsert rule %s: %w", r.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert rule %s: %w", r.Name, err)
	}
	defer tx.Rollback()

	now := s.nowNanos()
	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO automation_rules
		(name, description, owner, is_active, trigger_type, entity_type, trigger_field, conditions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			owner = excluded.owner,
			is_active = excluded.is_active,
			trigger_type = excluded.trigger_type,
			entity_type = excluded.entity_type,
			trigger_field = excluded.trigger_field,
			conditions = excluded.conditions,
			updated_at = excluded.updated_at
		RETURNING id
	`,
		r.Name, r.Description, toNullString(r.Owner), r.Active, string(r.Trigger),
		r.EntityType, toNullString(r.TriggerField), conds, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert rule %s: %w", r.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_actions WHERE rule_id = ?`, id); err != nil {
		return 0, fmt.Errorf("upsert rule %s: clear actions: %w", r.Name, err)
	}
	for i, a := range r.Actions {
		params, err := marshalJSON(nonNilParams(a.Params))
		if err != nil {
			return 0, fmt.Errorf("upsert rule %s: action %d: %w", r.Name, i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO automation_actions (rule_id, action_order, action_type, target_type, parameters)
			VALUES (?, ?, ?, ?, ?)
		`, id, a.Order, string(a.Type), toNullString(a.TargetType), params)
		if err != nil {
			return 0, fmt.Errorf("upsert rule %s: action %d: %w", r.Name, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert rule %s: %w", r.Name, err)
	}
	return id, nil
}

func nonNilParams(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

const ruleColumns = `id, name, description, owner, is_active, trigger_type, entity_type,
	trigger_field, conditions, created_at, updated_at`

// ActiveRulesFor returns the active rules watching typeID, ordered by name,
// with their actions ordered by (order, insertion).
func (s *Store) ActiveRulesFor(ctx context.Context, typeID string) ([]model.AutomationRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		WHERE entity_type = ? AND is_active = 1
		ORDER BY name COLLATE BINARY ASC
	`, typeID)
}

// ListRules returns every rule ordered by name.
func (s *Store) ListRules(ctx context.Context) ([]model.AutomationRule, error) {
	return s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules
		ORDER BY name COLLATE BINARY ASC
	`)
}

// RuleByName returns one rule with its actions.
func (s *Store) RuleByName(ctx context.Context, name string) (*model.AutomationRule, error) {
	rules, err := s.queryRules(ctx, `
		SELECT `+ruleColumns+` FROM automation_rules WHERE name = ?
	`, name)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule %q: %w", name, model.ErrNotFound)
	}
	return &rules[0], nil
}

// DeleteRule removes a rule; its actions cascade.
func (s *Store) DeleteRule(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete rule %s: %w", name, model.ErrNotFound)
	}
	return nil
}

// SetRuleActive toggles is_active.
func (s *Store) SetRuleActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules SET is_active = ?, updated_at = ? WHERE name = ?
	`, active, s.nowNanos(), name)
	if err != nil {
		return fmt.Errorf("set rule active %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set rule active %s: %w", name, model.ErrNotFound)
	}
	return nil
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]model.AutomationRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}

	rules := []model.AutomationRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("query rules: %w", err)
	}
	// Close before loading actions: the pool has a single connection.
	rows.Close()

	for i := range rules {
		actions, err := s.actionsFor(ctx, rules[i].ID)
		if err != nil {
			return nil, err
		}
		rules[i].Actions = actions
	}
	return rules, nil
}

func scanRule(row scanner) (model.AutomationRule, error) {
	var (
		r                    model.AutomationRule
		owner, field         sql.NullString
		trigger, conds       string
		createdAt, updatedAt int64
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &owner, &r.Active, &trigger, &r.EntityType,
		&field, &conds, &createdAt, &updatedAt)
	if err != nil {
		return r, fmt.Errorf("scan rule: %w", err)
	}
	r.Owner = owner.String
	r.Trigger = model.TriggerType(trigger)
	r.TriggerField = field.String
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)
	r.Conditions, err = unmarshalConditions(conds)
	if err != nil {
		return r, fmt.Errorf("scan rule %s: %w", r.Name, err)
	}
	return r, nil
}

func (s *Store) actionsFor(ctx context.Context, ruleID int64) ([]model.AutomationAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_order, action_type, target_type, parameters
		FROM automation_actions WHERE rule_id = ?
		ORDER BY action_order ASC, id ASC
	`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	actions := []model.AutomationAction{}
	for rows.Next() {
		var (
			a           model.AutomationAction
			typ, params string
			target      sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Order, &typ, &target, &params); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Type = model.ActionType(typ)
		a.TargetType = target.String
		a.Params, err = unmarshalParams(params)
		if err != nil {
			return nil, fmt.Errorf("scan action %d: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	return actions, nil
}
