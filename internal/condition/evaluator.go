// Package condition evaluates a rule's flat condition list against an
// entity instance and its prior snapshot.
package condition

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// Evaluator interprets condition clauses. Field paths are resolved through
// the registry, so ordering operators compare in the field's declared kind.
//
// Thread-safety: Evaluator is stateless and safe for concurrent use.
type Evaluator struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil logger uses slog.Default().
func NewEvaluator(reg *registry.Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{reg: reg, logger: logger}
}

// Evaluate reports whether every clause holds. An empty list holds
// vacuously. Evaluation stops at the first failing clause. Clauses that
// cannot be evaluated (unknown field, unordered kind, missing prior for the
// changed operators) fail.
func (e *Evaluator) Evaluate(ctx context.Context, clauses []model.Condition, instance, prior *model.Record) bool {
	for i, c := range clauses {
		if !e.clause(ctx, c, instance, prior) {
			e.logger.Debug("condition failed",
				"index", i,
				"field", c.Field,
				"operator", string(c.Operator),
			)
			return false
		}
	}
	return true
}

func (e *Evaluator) clause(ctx context.Context, c model.Condition, instance, prior *model.Record) bool {
	if instance == nil {
		return false
	}
	v, fd, err := e.reg.Walk(ctx, instance, c.Field)
	if err != nil {
		e.logger.Debug("condition field unresolved",
			"entity", instance.Ref().String(),
			"field", c.Field,
			"error", err,
		)
		return false
	}
	k := fd.Kind

	switch c.Operator {
	case model.OpEquals:
		return registry.Equal(k, v, c.Value)
	case model.OpNotEquals:
		return !registry.Equal(k, v, c.Value)

	case model.OpGT, model.OpLT, model.OpGTE, model.OpLTE:
		cmp, err := registry.Compare(k, v, c.Value)
		if err != nil {
			e.logger.Debug("condition not comparable",
				"field", c.Field,
				"kind", string(k),
				"error", err,
			)
			return false
		}
		switch c.Operator {
		case model.OpGT:
			return cmp > 0
		case model.OpLT:
			return cmp < 0
		case model.OpGTE:
			return cmp >= 0
		default:
			return cmp <= 0
		}

	case model.OpContains:
		return strings.Contains(registry.Format(k, v), registry.Format("", c.Value))
	case model.OpStartsWith:
		return strings.HasPrefix(registry.Format(k, v), registry.Format("", c.Value))
	case model.OpEndsWith:
		return strings.HasSuffix(registry.Format(k, v), registry.Format("", c.Value))

	case model.OpIsEmpty:
		return registry.IsEmpty(v)
	case model.OpIsNotEmpty:
		return !registry.IsEmpty(v)

	case model.OpChanged, model.OpChangedTo:
		if prior == nil {
			return false
		}
		old, _, err := e.reg.Walk(ctx, prior, c.Field)
		if err != nil {
			return false
		}
		if registry.Equal(k, old, v) {
			return false
		}
		if c.Operator == model.OpChanged {
			return true
		}
		return registry.Equal(k, v, c.Value)
	}

	e.logger.Debug("unknown condition operator", "operator", string(c.Operator))
	return false
}

// FieldChanged reports whether the top-level field differs between prior
// and instance. A nil prior means the change cannot be detected.
func (e *Evaluator) FieldChanged(ctx context.Context, field string, instance, prior *model.Record) bool {
	return e.clause(ctx, model.Condition{Field: field, Operator: model.OpChanged}, instance, prior)
}
