package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned (wrapped) when a referenced entity, rule, audit
// entry or sender does not exist.
var ErrNotFound = errors.New("not found")

// Operation identifies the kind of change an audit entry or mutation event
// describes.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpLogin  Operation = "LOGIN"
	OpLogout Operation = "LOGOUT"
	OpOther  Operation = "OTHER"
)

// IsMutation reports whether op is one of the three entity lifecycle
// operations carried by a MutationEvent.
func (op Operation) IsMutation() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// ParseOperation converts a user-supplied string (case-insensitive) into an
// Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpLogin, OpLogout, OpOther:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// SessionType is the reserved entity type for login sessions. Creating a
// session is audited as LOGIN and deleting it as LOGOUT, keyed by the
// session key.
const SessionType = "Session"

// EntityRef is a weak reference to any entity. It never owns the entity and
// may dangle once the entity is deleted.
type EntityRef struct {
	Type string `json:"type" yaml:"type"`
	PK   string `json:"pk" yaml:"pk"`
}

// String renders the reference as "Type:pk".
func (r EntityRef) String() string {
	return r.Type + ":" + r.PK
}

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.PK == ""
}

// ParseEntityRef parses the "Type:pk" form produced by EntityRef.String.
func ParseEntityRef(s string) (EntityRef, error) {
	typ, pk, ok := strings.Cut(s, ":")
	if !ok || typ == "" || pk == "" {
		return EntityRef{}, fmt.Errorf("malformed entity reference %q", s)
	}
	return EntityRef{Type: typ, PK: pk}, nil
}

// Record is one entity instance: its type, primary key, and field values.
//
// Values hold native Go values after registry coercion: string, int64,
// decimal.Decimal, bool, time.Time, a primary key string for to-one
// relations, []string for many-to-many relations, or nil.
type Record struct {
	Type   string         `json:"type"`
	PK     string         `json:"pk"`
	Values map[string]any `json:"values"`
}

// Ref returns the weak reference to this record.
func (r *Record) Ref() EntityRef {
	return EntityRef{Type: r.Type, PK: r.PK}
}

// Clone returns a copy whose Values map can be modified independently.
// Slice values are copied; other values are immutable.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	values := make(map[string]any, len(r.Values))
	for k, v := range r.Values {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		values[k] = v
	}
	return &Record{Type: r.Type, PK: r.PK, Values: values}
}

// MutationEvent is the ephemeral record of a single create, update or
// delete. It is produced by the capture hook and consumed by the audit
// writer and rule engine within one request; it is never persisted.
type MutationEvent struct {
	Type      string
	Operation Operation
	Instance  *Record
	// Prior is the pre-mutation snapshot. Present only for UPDATE when the
	// previous state could be read.
	Prior *Record

	Actor     string
	IPAddress string
	SessionID string
	Timestamp time.Time

	// FlowToken correlates every event caused by one external request.
	FlowToken string
	// Rule names the automation rule whose action produced this event.
	Rule string
	// Depth is the automation re-entrancy depth at which the event occurred.
	Depth int
}

// Ref returns the reference to the mutated entity.
func (e *MutationEvent) Ref() EntityRef {
	if e.Instance == nil {
		return EntityRef{Type: e.Type}
	}
	return e.Instance.Ref()
}

// FieldChange is one entry of an audit diff. Both sides are stringified;
// null renders as the empty string.
type FieldChange struct {
	Old string `json:"old" yaml:"old"`
	New string `json:"new" yaml:"new"`
}

// AuditEntry is a persisted, append-only record of one mutation.
type AuditEntry struct {
	ID          int64                  `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Actor       string                 `json:"actor,omitempty"`
	Operation   Operation              `json:"operation"`
	Target      EntityRef              `json:"target"`
	Description string                 `json:"description"`
	Changes     map[string]FieldChange `json:"changes"`
	Module      string                 `json:"module,omitempty"`
	TypeID      string                 `json:"type_id"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	FlowToken   string                 `json:"flow_token,omitempty"`
	Rule        string                 `json:"rule,omitempty"`
}

// AuditFilter narrows an audit history query. Zero values mean "any".
type AuditFilter struct {
	TypeID    string
	Actor     string
	Operation Operation
	Since     time.Time
	Until     time.Time
	Limit     int
}
