package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// RuntimeError represents an error detected while running automation.
//
// Runtime errors include:
//   - Depth exceeded: automation nested past the configured cap
//   - Budget exceeded: a flow fired more rules than allowed
//   - Unknown or inactive rule passed to RunRule
//   - Action failure: an action returned an error or panicked
//   - Configuration error: a rule that cannot run against the given entity
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FlowToken identifies the affected flow.
	FlowToken string

	// Rule names the affected rule.
	Rule string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDepthExceeded indicates nested automation reached the depth cap.
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeBudgetExceeded indicates a flow exhausted its firing budget.
	ErrCodeBudgetExceeded RuntimeErrorCode = "BUDGET_EXCEEDED"

	// ErrCodeUnknownRule indicates no rule has the requested name.
	ErrCodeUnknownRule RuntimeErrorCode = "UNKNOWN_RULE"

	// ErrCodeInactiveRule indicates the rule exists but is switched off.
	ErrCodeInactiveRule RuntimeErrorCode = "INACTIVE_RULE"

	// ErrCodeActionFailed indicates an action returned an error.
	ErrCodeActionFailed RuntimeErrorCode = "ACTION_FAILED"

	// ErrCodeConfig indicates a rule that cannot be applied as configured.
	ErrCodeConfig RuntimeErrorCode = "CONFIG_ERROR"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)

	var attrs []string
	if e.FlowToken != "" {
		attrs = append(attrs, "flow="+e.FlowToken)
	}
	if e.Rule != "" {
		attrs = append(attrs, "rule="+e.Rule)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k+"="+e.Details[k])
	}
	if len(attrs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(attrs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsDepthError returns true if the error is a depth exceeded error.
// Uses errors.As to handle wrapped errors.
func IsDepthError(err error) bool {
	return hasCode(err, ErrCodeDepthExceeded)
}

// IsBudgetError returns true if the error is a budget exceeded error.
// Matches both RuntimeError with ErrCodeBudgetExceeded and
// BudgetExceededError.
func IsBudgetError(err error) bool {
	if hasCode(err, ErrCodeBudgetExceeded) {
		return true
	}
	var be *BudgetExceededError
	return errors.As(err, &be)
}

// IsUnknownRule reports whether err is an UNKNOWN_RULE error.
func IsUnknownRule(err error) bool {
	return hasCode(err, ErrCodeUnknownRule)
}

// IsInactiveRule reports whether err is an INACTIVE_RULE error.
func IsInactiveRule(err error) bool {
	return hasCode(err, ErrCodeInactiveRule)
}

// IsConfigError reports whether err is a CONFIG_ERROR.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

// NewDepthError creates a RuntimeError for the depth cap.
func NewDepthError(flowToken string, depth, maxDepth int) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeDepthExceeded,
		Message:   fmt.Sprintf("automation depth %d reached the cap of %d", depth, maxDepth),
		FlowToken: flowToken,
		Details: map[string]string{
			"depth":     fmt.Sprintf("%d", depth),
			"max_depth": fmt.Sprintf("%d", maxDepth),
		},
	}
}

// NewActionError wraps an action failure with the context needed to retry
// it by hand.
func NewActionError(flowToken, rule, action, entity string, err error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeActionFailed,
		Message:   "action failed",
		FlowToken: flowToken,
		Rule:      rule,
		Details: map[string]string{
			"action": action,
			"entity": entity,
		},
		Err: err,
	}
}
