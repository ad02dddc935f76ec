package audit

import (
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// Diff compares prior and cur field by field and returns the changed
// fields with both sides stringified. With a descriptor, the tracked fields
// (scalars and to-one relations) are compared; without one, the union of
// stored keys is. A nil prior yields an empty diff.
func Diff(td *registry.TypeDescriptor, prior, cur *model.Record) map[string]model.FieldChange {
	changes := map[string]model.FieldChange{}
	if prior == nil || cur == nil {
		return changes
	}

	if td != nil {
		for _, f := range td.Tracked() {
			compare(changes, f.Name, f.Kind, prior.Values[f.Name], cur.Values[f.Name])
		}
		return changes
	}

	seen := make(map[string]bool, len(cur.Values))
	for name, v := range cur.Values {
		seen[name] = true
		compare(changes, name, "", prior.Values[name], v)
	}
	for name, v := range prior.Values {
		if !seen[name] {
			compare(changes, name, "", v, nil)
		}
	}
	return changes
}

func compare(changes map[string]model.FieldChange, name string, k registry.Kind, old, cur any) {
	o, n := registry.Format(k, old), registry.Format(k, cur)
	if o != n {
		changes[name] = model.FieldChange{Old: o, New: n}
	}
}
