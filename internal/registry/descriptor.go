package registry

import (
	"fmt"
)

// FieldDescriptor describes one field or relation of an entity type.
type FieldDescriptor struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Nullable bool   `json:"nullable,omitempty"`
	Default  any    `json:"default,omitempty"`
	// Target is the related entity type. Set only for relation kinds.
	Target string `json:"target,omitempty"`
}

// pkField describes the implicit primary key available on every type as
// "pk" or "id".
var pkField = FieldDescriptor{Name: "pk", Kind: KindString}

// TypeDescriptor is the registry metadata for one entity type.
type TypeDescriptor struct {
	ID     string `json:"id"`
	Module string `json:"module"`
	// Fields are scalar fields in declaration order.
	Fields []FieldDescriptor `json:"fields"`
	// Relations are foreign-key, one-to-one and many-to-many relations in
	// declaration order.
	Relations []FieldDescriptor `json:"relations"`

	index map[string]FieldDescriptor
}

// NewTypeDescriptor builds and validates a descriptor. Module defaults to
// "core".
func NewTypeDescriptor(id, module string, fields, relations []FieldDescriptor) (*TypeDescriptor, error) {
	if id == "" {
		return nil, fmt.Errorf("type id is required")
	}
	if module == "" {
		module = "core"
	}
	td := &TypeDescriptor{
		ID:        id,
		Module:    module,
		Fields:    fields,
		Relations: relations,
		index:     make(map[string]FieldDescriptor, len(fields)+len(relations)),
	}
	for _, f := range fields {
		if f.Kind.IsRelation() || !f.Kind.Valid() {
			return nil, &ValidationError{Type: id, Field: f.Name, Message: fmt.Sprintf("invalid field kind %q", f.Kind)}
		}
		if err := td.add(f); err != nil {
			return nil, err
		}
	}
	for _, r := range relations {
		if !r.Kind.IsRelation() {
			return nil, &ValidationError{Type: id, Field: r.Name, Message: fmt.Sprintf("invalid relation kind %q", r.Kind)}
		}
		if r.Target == "" {
			return nil, &ValidationError{Type: id, Field: r.Name, Message: "relation target is required"}
		}
		if err := td.add(r); err != nil {
			return nil, err
		}
	}
	return td, nil
}

func (t *TypeDescriptor) add(f FieldDescriptor) error {
	if f.Name == "" {
		return &ValidationError{Type: t.ID, Message: "field name is required"}
	}
	if f.Name == "pk" || f.Name == "id" {
		return &ValidationError{Type: t.ID, Field: f.Name, Message: "name is reserved for the primary key"}
	}
	if _, dup := t.index[f.Name]; dup {
		return &ValidationError{Type: t.ID, Field: f.Name, Message: "duplicate field name"}
	}
	if f.Default != nil {
		v, err := Coerce(f.Kind, f.Default)
		if err != nil {
			return &ValidationError{Type: t.ID, Field: f.Name, Message: fmt.Sprintf("invalid default: %v", err)}
		}
		f.Default = v
	}
	t.index[f.Name] = f
	return nil
}

// Lookup finds a field or relation by name. "pk" and "id" resolve to the
// implicit primary key.
func (t *TypeDescriptor) Lookup(name string) (FieldDescriptor, bool) {
	if name == "pk" || name == "id" {
		return pkField, true
	}
	f, ok := t.index[name]
	return f, ok
}

// Tracked returns the fields an audit diff compares: scalar fields followed
// by to-one relations, in declaration order.
func (t *TypeDescriptor) Tracked() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(t.Fields)+len(t.Relations))
	out = append(out, t.Fields...)
	for _, r := range t.Relations {
		if r.Kind.IsToOne() {
			out = append(out, r)
		}
	}
	return out
}

// Normalize coerces values to their declared kinds. With partial=false the
// result is a complete record: defaults are applied and every non-nullable
// field without a default must be present.
func (t *TypeDescriptor) Normalize(values map[string]any, partial bool) (map[string]any, error) {
	out := make(map[string]any, len(t.index))
	for name, raw := range values {
		f, ok := t.index[name]
		if !ok {
			return nil, &ValidationError{Type: t.ID, Field: name, Message: "unknown field"}
		}
		v, err := Coerce(f.Kind, raw)
		if err != nil {
			return nil, &ValidationError{Type: t.ID, Field: name, Message: err.Error()}
		}
		if v == nil && !f.Nullable {
			return nil, &ValidationError{Type: t.ID, Field: name, Message: "may not be null"}
		}
		out[name] = v
	}
	if partial {
		return out, nil
	}
	for _, f := range append(append([]FieldDescriptor{}, t.Fields...), t.Relations...) {
		if _, ok := out[f.Name]; ok {
			continue
		}
		f = t.index[f.Name]
		switch {
		case f.Default != nil:
			out[f.Name] = f.Default
		case f.Nullable || f.Kind == KindManyToMany:
			out[f.Name] = nil
		default:
			return nil, &ValidationError{Type: t.ID, Field: f.Name, Message: "required field missing"}
		}
	}
	return out, nil
}

// Hydrate coerces persisted raw values in place. Values that no longer
// match the descriptor are kept as loaded.
func (t *TypeDescriptor) Hydrate(values map[string]any) {
	for name, raw := range values {
		f, ok := t.index[name]
		if !ok {
			continue
		}
		if v, err := Coerce(f.Kind, raw); err == nil {
			values[name] = v
		}
	}
}
