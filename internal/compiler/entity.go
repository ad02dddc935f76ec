package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/bizflow/internal/registry"
)

// CompileEntity parses a CUE value into an entity TypeDescriptor.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Opportunity: { fields: { name: kind: "string" } }`)
//	td, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Opportunity")))
func CompileEntity(v cue.Value) (*registry.TypeDescriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	id := label(v)
	module, err := optionalString(v, "module")
	if err != nil {
		return nil, err
	}

	fields, err := parseFields(v, "fields", false)
	if err != nil {
		return nil, err
	}
	relations, err := parseFields(v, "relations", true)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 && len(relations) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: fmt.Sprintf("entity %s declares no fields", id),
			Pos:     v.Pos(),
		}
	}

	td, err := registry.NewTypeDescriptor(id, module, fields, relations)
	if err != nil {
		return nil, &CompileError{Field: "entity." + id, Message: err.Error(), Pos: v.Pos()}
	}
	return td, nil
}

// parseFields reads a struct of field declarations in source order. Each
// declaration is either a bare kind string or a struct with kind,
// nullable, default and (for relations) target.
func parseFields(v cue.Value, section string, relations bool) ([]registry.FieldDescriptor, error) {
	sectionVal := v.LookupPath(cue.ParsePath(section))
	if !sectionVal.Exists() {
		return nil, nil
	}

	iter, err := sectionVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []registry.FieldDescriptor
	for iter.Next() {
		name := iter.Label()
		fv := iter.Value()
		path := section + "." + name

		fd := registry.FieldDescriptor{Name: name}
		if kind, err := fv.String(); err == nil {
			fd.Kind = registry.Kind(kind)
		} else {
			kind, err := requiredString(fv, "kind", path)
			if err != nil {
				return nil, err
			}
			fd.Kind = registry.Kind(kind)
			if fd.Nullable, err = optionalBool(fv, "nullable", false); err != nil {
				return nil, err
			}
			if fd.Target, err = optionalString(fv, "target"); err != nil {
				return nil, err
			}
			if dv := fv.LookupPath(cue.ParsePath("default")); dv.Exists() {
				if fd.Default, err = toGo(dv); err != nil {
					return nil, err
				}
			}
		}

		if !fd.Kind.Valid() {
			return nil, &CompileError{
				Field:   path,
				Message: fmt.Sprintf("unknown kind %q", fd.Kind),
				Pos:     fv.Pos(),
			}
		}
		if fd.Kind.IsRelation() != relations {
			msg := "relation kinds belong under relations"
			if relations {
				msg = "scalar kinds belong under fields"
			}
			return nil, &CompileError{Field: path, Message: msg, Pos: fv.Pos()}
		}
		if relations && fd.Target == "" {
			return nil, &CompileError{Field: path, Message: "relation target is required", Pos: fv.Pos()}
		}
		out = append(out, fd)
	}
	return out, nil
}
