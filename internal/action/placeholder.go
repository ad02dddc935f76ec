package action

import (
	"context"
	"regexp"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*instance\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// Resolver substitutes {{instance.path}} placeholders.
type Resolver struct {
	reg *registry.Registry
}

// NewResolver creates a resolver over reg.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve replaces every placeholder in s with the stringified value at its
// path. Each placeholder resolves independently; substituted text is never
// rescanned.
func (r *Resolver) Resolve(ctx context.Context, s string, instance *model.Record) string {
	if instance == nil {
		return placeholderRe.ReplaceAllString(s, "")
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		v, fd, err := r.reg.Walk(ctx, instance, path)
		if err != nil {
			return ""
		}
		return registry.Format(fd.Kind, v)
	})
}

// ResolveValue resolves placeholders in every string inside v, descending
// into maps and slices. Other values are returned unchanged.
func (r *Resolver) ResolveValue(ctx context.Context, v any, instance *model.Record) any {
	switch val := v.(type) {
	case string:
		return r.Resolve(ctx, val, instance)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = r.ResolveValue(ctx, elem, instance)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = r.ResolveValue(ctx, elem, instance)
		}
		return out
	}
	return v
}

// ResolveString resolves v and renders it as a string. Nil renders empty.
func (r *Resolver) ResolveString(ctx context.Context, v any, instance *model.Record) string {
	return registry.Format("", r.ResolveValue(ctx, v, instance))
}
