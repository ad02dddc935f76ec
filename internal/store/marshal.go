package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/bizflow/internal/model"
)

// marshalJSON converts a payload to canonical JSON TEXT for storage.
func marshalJSON(v any) (string, error) {
	data, err := model.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalValues parses entity values. Numbers stay json.Number so the
// registry can coerce them to int64 or decimal without float rounding.
func unmarshalValues(data string) (map[string]any, error) {
	values := map[string]any{}
	if data == "" || data == "{}" {
		return values, nil
	}
	if err := model.DecodeJSON([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return values, nil
}

// unmarshalParams parses action parameters, converting numbers to int64 or
// float64 for placeholder resolution.
func unmarshalParams(data string) (map[string]any, error) {
	params := map[string]any{}
	if data == "" || data == "{}" {
		return params, nil
	}
	if err := model.DecodeJSON([]byte(data), &params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}
	model.NormalizeNumbers(params)
	return params, nil
}

func unmarshalConditions(data string) ([]model.Condition, error) {
	var raw []map[string]any
	if data == "" || data == "[]" {
		return []model.Condition{}, nil
	}
	if err := model.DecodeJSON([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	out := make([]model.Condition, 0, len(raw))
	for _, c := range raw {
		field, _ := c["field"].(string)
		op, _ := c["operator"].(string)
		out = append(out, model.Condition{
			Field:    field,
			Operator: model.Operator(op),
			Value:    model.NormalizeNumbers(c["value"]),
		})
	}
	return out, nil
}

func marshalConditions(conds []model.Condition) (string, error) {
	arr := make([]any, 0, len(conds))
	for _, c := range conds {
		obj := map[string]any{"field": c.Field, "operator": string(c.Operator)}
		if c.Value != nil {
			obj["value"] = c.Value
		}
		arr = append(arr, obj)
	}
	return marshalJSON(arr)
}

func marshalChanges(changes map[string]model.FieldChange) (string, error) {
	if changes == nil {
		changes = map[string]model.FieldChange{}
	}
	return marshalJSON(changes)
}

func unmarshalChanges(data string) (map[string]model.FieldChange, error) {
	raw := map[string]map[string]string{}
	if data != "" && data != "{}" {
		if err := model.DecodeJSON([]byte(data), &raw); err != nil {
			return nil, fmt.Errorf("unmarshal changes: %w", err)
		}
	}
	out := make(map[string]model.FieldChange, len(raw))
	for k, c := range raw {
		out[k] = model.FieldChange{Old: c["old"], New: c["new"]}
	}
	return out, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
