package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/bizflow/internal/app"
	"github.com/roach88/bizflow/internal/model"
)

// AssertionContext gives assertions access to the scenario's application.
type AssertionContext struct {
	Ctx context.Context
	App *app.App
}

// AssertionError is returned when an assertion fails. It carries the trail
// so the failure can be read without rerunning the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trail    []TrailEntry
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trail) > 0 {
		fmt.Fprintf(&buf, "\nAudit trail:\n")
		for _, entry := range e.Trail {
			fmt.Fprintf(&buf, "  [%d] %s", entry.Seq, entry.Key())
			if entry.Rule != "" {
				fmt.Fprintf(&buf, " (rule %s)", entry.Rule)
			}
			fmt.Fprintf(&buf, " flow=%s\n", entry.FlowToken)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertAuditContains:
		return assertAuditContains(result.Trail, a)
	case AssertAuditCount:
		return assertAuditCount(result.Trail, a)
	case AssertAuditOrder:
		return assertAuditOrder(result.Trail, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	case AssertAlertCount:
		if got := len(result.Alerts); got != *a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d alerts", *a.Count), Actual: fmt.Sprintf("%d alerts", got)}
		}
		return nil
	case AssertMessageCount:
		return assertMessageCount(result.Messages, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matches reports whether e satisfies every filter set on a. Changes are
// compared on the new value only.
func matches(e TrailEntry, a Assertion) bool {
	if a.Operation != "" && !strings.EqualFold(string(e.Operation), a.Operation) {
		return false
	}
	if a.Target != "" && e.Target.String() != a.Target {
		return false
	}
	if a.Rule != "" && e.Rule != a.Rule {
		return false
	}
	if a.Actor != "" && e.Actor != a.Actor {
		return false
	}
	for field, want := range a.Changes {
		c, ok := e.Changes[field]
		if !ok || c.New != want {
			return false
		}
	}
	return true
}

func describeFilter(a Assertion) string {
	var parts []string
	if a.Operation != "" {
		parts = append(parts, "operation="+a.Operation)
	}
	if a.Target != "" {
		parts = append(parts, "target="+a.Target)
	}
	if a.Rule != "" {
		parts = append(parts, "rule="+a.Rule)
	}
	if a.Actor != "" {
		parts = append(parts, "actor="+a.Actor)
	}
	for _, k := range model.SortedKeys(a.Changes) {
		parts = append(parts, fmt.Sprintf("changes.%s=%s", k, a.Changes[k]))
	}
	return strings.Join(parts, " ")
}

func assertAuditContains(trail []TrailEntry, a Assertion) error {
	for _, e := range trail {
		if matches(e, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: "entry with " + describeFilter(a),
		Actual:   "not found in audit trail",
		Trail:    trail,
	}
}

func assertAuditCount(trail []TrailEntry, a Assertion) error {
	count := 0
	for _, e := range trail {
		if matches(e, a) {
			count++
		}
	}
	if count != *a.Count {
		filter := describeFilter(a)
		if filter == "" {
			filter = "any"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d entries with %s", *a.Count, filter),
			Actual:   fmt.Sprintf("%d entries", count),
			Trail:    trail,
		}
	}
	return nil
}

// assertAuditOrder checks that the listed entries appear in order.
// Intervening entries are allowed.
func assertAuditOrder(trail []TrailEntry, a Assertion) error {
	next := 0
	for _, e := range trail {
		if next < len(a.Entries) && e.Key() == a.Entries[next] {
			next++
		}
	}
	if next < len(a.Entries) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entries in order: %v", a.Entries),
			Actual:   fmt.Sprintf("%q not found after %v", a.Entries[next], a.Entries[:next]),
			Trail:    trail,
		}
	}
	return nil
}

func assertFinalState(actx *AssertionContext, a Assertion) error {
	ref, err := model.ParseEntityRef(a.Entity)
	if err != nil {
		return err
	}
	rec, err := actx.App.Repo.Get(actx.Ctx, ref.Type, ref.PK)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if a.Absent {
			return nil
		}
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s to exist", ref), Actual: "not found"}
	case err != nil:
		return fmt.Errorf("load %s: %w", ref, err)
	case a.Absent:
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s to be absent", ref), Actual: "exists"}
	}

	if msgs := compareValues(actx.App.Registry, rec, a.Expect); len(msgs) > 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s with %v", ref, a.Expect),
			Actual:   strings.Join(msgs, "; "),
		}
	}
	return nil
}

func assertMessageCount(msgs []model.Communication, a Assertion) error {
	count := 0
	for _, m := range msgs {
		if a.Channel != "" && !strings.EqualFold(string(m.Channel), a.Channel) {
			continue
		}
		if a.Status != "" && !strings.EqualFold(string(m.Status), a.Status) {
			continue
		}
		count++
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d messages (channel=%q status=%q)", *a.Count, a.Channel, a.Status),
			Actual:   fmt.Sprintf("%d messages", count),
		}
	}
	return nil
}
