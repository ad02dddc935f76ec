package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/metrics"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// Store persists and queries audit entries. Implemented by *store.Store.
type Store interface {
	AppendAudit(ctx context.Context, e *model.AuditEntry) (int64, error)
	ListAudit(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error)
	GetAudit(ctx context.Context, id int64) (*model.AuditEntry, error)
}

// Writer turns mutation events into audit entries.
//
// Thread-safety: Writer holds no per-event state and is safe for concurrent
// use.
type Writer struct {
	reg    *registry.Registry
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the timestamp source for entries whose event carries none.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// NewWriter creates an audit writer.
func NewWriter(reg *registry.Registry, store Store, opts ...Option) *Writer {
	w := &Writer{
		reg:    reg,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleMutation implements capture.Handler.
func (w *Writer) HandleMutation(ctx context.Context, ev *model.MutationEvent) error {
	_, err := w.Record(ctx, ev)
	return err
}

// Record writes the audit entry for ev. It returns (nil, nil) when the
// event produces no entry: an UPDATE with no changed field, or a session
// update.
func (w *Writer) Record(ctx context.Context, ev *model.MutationEvent) (*model.AuditEntry, error) {
	if ev.Type == model.SessionType {
		return w.recordSession(ctx, ev)
	}

	ref := ev.Ref()
	entry := w.newEntry(ev, ref)

	switch ev.Operation {
	case model.OpCreate:
		entry.Description = fmt.Sprintf("Created %s %s", ref.Type, ref.PK)
	case model.OpDelete:
		entry.Description = fmt.Sprintf("Deleted %s %s", ref.Type, ref.PK)
	case model.OpUpdate:
		entry.Changes = Diff(w.descriptor(ev.Type), ev.Prior, ev.Instance)
		if len(entry.Changes) == 0 {
			metrics.AuditSuppressedTotal.Inc()
			w.logger.Debug("audit suppressed: no field changed",
				"entity", ref.String(),
				"has_prior", ev.Prior != nil,
			)
			return nil, nil
		}
		entry.Description = fmt.Sprintf("Updated %s %s", ref.Type, ref.PK)
	default:
		return nil, fmt.Errorf("record %s: unsupported operation %q", ref, ev.Operation)
	}

	if err := w.append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (w *Writer) recordSession(ctx context.Context, ev *model.MutationEvent) (*model.AuditEntry, error) {
	ref := ev.Ref()
	entry := w.newEntry(ev, ref)
	entry.SessionID = ref.PK

	switch ev.Operation {
	case model.OpCreate:
		entry.Operation = model.OpLogin
		entry.Description = "User logged in"
	case model.OpDelete:
		entry.Operation = model.OpLogout
		entry.Description = "User logged out"
	default:
		return nil, nil
	}
	if err := w.append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordOther writes a manual OTHER entry against ref, attributed to the
// scope carried by ctx.
func (w *Writer) RecordOther(ctx context.Context, ref model.EntityRef, description string) (*model.AuditEntry, error) {
	s := capture.FromContext(ctx)
	entry := w.newEntry(&model.MutationEvent{
		Actor:     s.Actor,
		IPAddress: s.IPAddress,
		SessionID: s.SessionID,
		FlowToken: s.FlowToken,
		Rule:      s.Rule,
	}, ref)
	entry.Operation = model.OpOther
	entry.Description = description
	if err := w.append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (w *Writer) newEntry(ev *model.MutationEvent, ref model.EntityRef) *model.AuditEntry {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	entry := &model.AuditEntry{
		Timestamp: ts.UTC(),
		Actor:     ev.Actor,
		Operation: ev.Operation,
		Target:    ref,
		Changes:   map[string]model.FieldChange{},
		TypeID:    ref.Type,
		IPAddress: ev.IPAddress,
		SessionID: ev.SessionID,
		FlowToken: ev.FlowToken,
		Rule:      ev.Rule,
	}
	if td := w.descriptor(ref.Type); td != nil {
		entry.Module = td.Module
	}
	return entry
}

func (w *Writer) descriptor(typeID string) *registry.TypeDescriptor {
	td, err := w.reg.Resolve(typeID)
	if err != nil {
		return nil
	}
	return td
}

func (w *Writer) append(ctx context.Context, entry *model.AuditEntry) error {
	id, err := w.store.AppendAudit(ctx, entry)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", entry.Operation, entry.Target, err)
	}
	entry.ID = id
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Operation)).Inc()
	w.logger.Info("audit entry recorded",
		"id", id,
		"operation", string(entry.Operation),
		"entity", entry.Target.String(),
		"actor", entry.Actor,
		"flow_token", entry.FlowToken,
	)
	return nil
}

// List returns entries matching f, newest first.
func (w *Writer) List(ctx context.Context, f model.AuditFilter) ([]model.AuditEntry, error) {
	return w.store.ListAudit(ctx, f)
}

// Get returns one entry by id.
func (w *Writer) Get(ctx context.Context, id int64) (*model.AuditEntry, error) {
	return w.store.GetAudit(ctx, id)
}

// ResolveTarget loads the entity an entry refers to. It returns nil when
// the reference is broken: unregistered type, deleted row, or malformed
// key.
func (w *Writer) ResolveTarget(ctx context.Context, e *model.AuditEntry) *model.Record {
	if e == nil || e.Target.Type == "" || e.Target.PK == "" {
		return nil
	}
	rec, err := w.reg.Get(ctx, e.Target.Type, e.Target.PK)
	if err != nil {
		w.logger.Debug("audit target unresolved",
			"entry", e.ID,
			"entity", e.Target.String(),
			"error", err,
		)
		return nil
	}
	return rec
}
