package action

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
	"github.com/roach88/bizflow/internal/registry"
	"github.com/roach88/bizflow/internal/store"
)

type fakeMessenger struct {
	sent []notify.Message
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, msg notify.Message) (*model.Communication, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &model.Communication{Recipient: msg.Recipient, Status: model.StatusSent}, nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (f *fakeAlerts) Emit(_ context.Context, a notify.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

type eventLog struct {
	events []*model.MutationEvent
}

func (e *eventLog) HandleMutation(_ context.Context, ev *model.MutationEvent) error {
	e.events = append(e.events, ev)
	return nil
}

type fixture struct {
	reg      *registry.Registry
	repo     *capture.Repository
	exec     *Executor
	messages *fakeMessenger
	alerts   *fakeAlerts
	events   *eventLog
}

var testNow = time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)

func mustType(t *testing.T, reg *registry.Registry, id string, fields, relations []registry.FieldDescriptor) {
	t.Helper()
	td, err := registry.NewTypeDescriptor(id, "crm", fields, relations)
	require.NoError(t, err)
	require.NoError(t, reg.Register(td))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	mustType(t, reg, "User", []registry.FieldDescriptor{
		{Name: "username", Kind: registry.KindString},
	}, nil)
	mustType(t, reg, "Contact", []registry.FieldDescriptor{
		{Name: "name", Kind: registry.KindString},
		{Name: "email", Kind: registry.KindString, Nullable: true},
		{Name: "whatsapp_number", Kind: registry.KindString, Nullable: true},
	}, nil)
	mustType(t, reg, "Opportunity", []registry.FieldDescriptor{
		{Name: "name", Kind: registry.KindString},
		{Name: "stage", Kind: registry.KindString, Default: "NEW"},
		{Name: "status", Kind: registry.KindString, Nullable: true},
		{Name: "amount", Kind: registry.KindDecimal, Nullable: true},
	}, []registry.FieldDescriptor{
		{Name: "owner", Kind: registry.KindForeignKey, Target: "User", Nullable: true},
		{Name: "contact", Kind: registry.KindForeignKey, Target: "Contact", Nullable: true},
	})
	mustType(t, reg, "Note", []registry.FieldDescriptor{
		{Name: "text", Kind: registry.KindText},
		{Name: "amount", Kind: registry.KindDecimal, Nullable: true},
	}, []registry.FieldDescriptor{
		{Name: "author", Kind: registry.KindForeignKey, Target: "User", Nullable: true},
		{Name: "opportunity", Kind: registry.KindForeignKey, Target: "Opportunity", Nullable: true},
	})
	mustType(t, reg, "Task", []registry.FieldDescriptor{
		{Name: "title", Kind: registry.KindString},
		{Name: "description", Kind: registry.KindText, Nullable: true},
		{Name: "due_date", Kind: registry.KindDate, Nullable: true},
		{Name: "related", Kind: registry.KindString, Nullable: true},
	}, nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hook := capture.NewHook(capture.WithLogger(logger))
	events := &eventLog{}
	hook.Subscribe("events", events)
	repo := capture.NewRepository(reg, st, hook)

	f := &fixture{reg: reg, repo: repo, messages: &fakeMessenger{}, alerts: &fakeAlerts{}, events: events}
	base := []Option{
		WithMessenger(f.messages),
		WithAlerter(f.alerts),
		WithClock(func() time.Time { return testNow }),
		WithLogger(logger),
	}
	f.exec = NewExecutor(reg, repo, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, typeID string, values map[string]any) *model.Record {
	t.Helper()
	rec, err := f.repo.Create(context.Background(), typeID, values)
	require.NoError(t, err)
	return rec
}

func (f *fixture) get(t *testing.T, typeID, pk string) *model.Record {
	t.Helper()
	rec, err := f.repo.Get(context.Background(), typeID, pk)
	require.NoError(t, err)
	return rec
}

// seed creates a user, a contact and an opportunity linked to both.
func (f *fixture) seed(t *testing.T) *model.Record {
	t.Helper()
	f.create(t, "User", map[string]any{"pk": "u1", "username": "ada"})
	f.create(t, "Contact", map[string]any{"pk": "c1", "name": "Bob", "email": "bob@example.com", "whatsapp_number": "+15550111"})
	opp := f.create(t, "Opportunity", map[string]any{
		"pk": "o1", "name": "Acme renewal", "stage": "NEGOTIATION", "amount": "1500", "owner": "u1", "contact": "c1",
	})
	f.events.events = nil
	return opp
}

func testRule(name string) *model.AutomationRule {
	return &model.AutomationRule{Name: name, Owner: "u1", Active: true, Trigger: model.TriggerOnUpdate, EntityType: "Opportunity"}
}
