package engine

import (
	"context"
	"fmt"
	"sync"
)

// QuotaEnforcer counts rule firings within one flow and enforces a maximum.
//
// One enforcer is attached to the context the first time a flow reaches
// the engine; nested mutations made by actions inherit it, so every firing
// caused by the originating request draws from the same budget.
//
// The depth cap catches a chain that re-triggers itself (A → A → A); the
// budget catches a wide fan-out of distinct rules that stays shallow.
type QuotaEnforcer struct {
	mu       sync.Mutex
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the firing counter and validates against the limit.
// Returns BudgetExceededError once the limit is passed.
func (q *QuotaEnforcer) Check(flowToken, rule string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current++
	if q.current > q.maxSteps {
		return &BudgetExceededError{
			FlowToken: flowToken,
			Rule:      rule,
			Firings:   q.current,
			Limit:     q.maxSteps,
		}
	}
	return nil
}

// Current returns the current firing count.
func (q *QuotaEnforcer) Current() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

type quotaKey struct{}

func quotaFrom(ctx context.Context) *QuotaEnforcer {
	q, _ := ctx.Value(quotaKey{}).(*QuotaEnforcer)
	return q
}

// withQuota returns ctx carrying a quota enforcer, creating one with the
// given limit when ctx has none.
func withQuota(ctx context.Context, limit int) (context.Context, *QuotaEnforcer) {
	if q := quotaFrom(ctx); q != nil {
		return ctx, q
	}
	q := NewQuotaEnforcer(limit)
	return context.WithValue(ctx, quotaKey{}, q), q
}

// BudgetExceededError is returned when a flow fires more rules than its
// budget allows. Further automation in the flow is suppressed; audit
// logging continues.
type BudgetExceededError struct {
	FlowToken string
	Rule      string // the rule that would have fired
	Firings   int
	Limit     int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded rule firing budget: %d firings > %d limit (rule %s)",
		e.FlowToken, e.Firings, e.Limit, e.Rule)
}
