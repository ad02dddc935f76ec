package harness

import (
	"context"
	"sync"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
)

// TrailEntry is the deterministic projection of one audit entry. Wall
// clock timestamps and row ids are left out.
type TrailEntry struct {
	Seq         int                          `json:"seq"`
	Operation   model.Operation              `json:"operation"`
	Target      model.EntityRef              `json:"target"`
	Description string                       `json:"description"`
	Actor       string                       `json:"actor,omitempty"`
	IPAddress   string                       `json:"ip,omitempty"`
	SessionID   string                       `json:"session,omitempty"`
	FlowToken   string                       `json:"flow_token"`
	Rule        string                       `json:"rule,omitempty"`
	Changes     map[string]model.FieldChange `json:"changes,omitempty"`
}

// Key renders the entry as "OPERATION Type:pk", the form used by
// audit_order assertions.
func (e TrailEntry) Key() string {
	return string(e.Operation) + " " + e.Target.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trail is the audit trail, oldest first.
	Trail []TrailEntry `json:"trail"`

	// Alerts raised during the run, in delivery order.
	Alerts []notify.Alert `json:"alerts,omitempty"`

	// Messages are the communications written during the run.
	Messages []model.Communication `json:"messages,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trail:  []TrailEntry{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// alertRecorder is the scenario alert sink.
type alertRecorder struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *alertRecorder) Deliver(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *alertRecorder) snapshot() []notify.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Alert(nil), r.alerts...)
}
