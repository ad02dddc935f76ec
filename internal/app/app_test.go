package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/config"
	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/notify"
	"github.com/roach88/bizflow/internal/testutil"
)

type alertSink struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (s *alertSink) Deliver(_ context.Context, a notify.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func newTestApp(t *testing.T, mutate func(*config.Config), opts ...Option) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "bizflow.db")
	cfg.Specs = filepath.Join("..", "..", "testdata", "specs")
	if mutate != nil {
		mutate(cfg)
	}

	clock := testutil.NewStepClock(testutil.Epoch, time.Second)
	opts = append([]Option{
		WithClock(clock.Now),
		WithFlowGenerator(testutil.NewSequenceFlowGenerator("flow")),
	}, opts...)

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// =============================================================================
// Wiring
// =============================================================================

func TestNew_RegistersSpecTypes(t *testing.T) {
	a := newTestApp(t, nil)

	for _, id := range []string{"User", "Contact", "Opportunity", "Task", model.SessionType} {
		assert.True(t, a.Registry.Has(id), id)
	}
}

func TestNew_BadSpecsDir(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "bizflow.db")
	cfg.Specs = filepath.Join(t.TempDir(), "missing")

	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "E005")
}

func TestApp_EndToEnd(t *testing.T) {
	sink := &alertSink{}
	a := newTestApp(t, nil, WithAlertSink(sink))
	ctx := capture.WithRequest(context.Background(), "u1", "10.0.0.1", "s1")

	require.NoError(t, a.ApplyRules(ctx, a.Specs.Rules))

	opp, err := a.Repo.Create(ctx, "Opportunity", map[string]any{"pk": "o1", "name": "Acme", "amount": "25000"})
	require.NoError(t, err)
	_, err = a.Repo.Update(ctx, "Opportunity", opp.PK, map[string]any{"stage": "WON"})
	require.NoError(t, err)
	a.Wait()

	// big-deal-alert fired on create
	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "big-deal-alert", sink.alerts[0].Rule)
	assert.Equal(t, "Acme is worth 25000", sink.alerts[0].Message)

	// close-won closed the opportunity and created a task
	got, err := a.Repo.Get(ctx, "Opportunity", "o1")
	require.NoError(t, err)
	assert.Equal(t, "CLOSED_WON", got.Values["status"])

	tasks, err := a.Store.ListEntities(ctx, "Task")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Kick off Acme", tasks[0].Values["title"])
	assert.Equal(t, "Opportunity:o1", tasks[0].Values["related"])

	entries, err := a.Audit.List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// newest first
	assert.Equal(t, model.OpCreate, entries[0].Operation)
	assert.Equal(t, "Task", entries[0].TypeID)
	assert.Equal(t, "close-won", entries[0].Rule)
	assert.Equal(t, "close-won", entries[1].Rule)
	assert.Equal(t, model.FieldChange{Old: "", New: "CLOSED_WON"}, entries[1].Changes["status"])
	assert.Empty(t, entries[2].Rule)
	assert.Equal(t, model.FieldChange{Old: "NEW", New: "WON"}, entries[2].Changes["stage"])
	assert.Equal(t, model.OpCreate, entries[3].Operation)

	for _, e := range entries[:3] {
		assert.Equal(t, "u1", e.Actor)
		assert.Equal(t, "10.0.0.1", e.IPAddress)
		assert.Equal(t, entries[0].FlowToken, e.FlowToken, "automation shares the update's flow")
	}
	assert.NotEqual(t, entries[0].FlowToken, entries[3].FlowToken, "each request mints its own flow")
}

// =============================================================================
// Concurrency
// =============================================================================

func TestApp_ConcurrentRequestsKeepTheirScope(t *testing.T) {
	const workers = 16

	sink := &alertSink{}
	a := newTestApp(t, nil, WithAlertSink(sink))
	require.NoError(t, a.ApplyRules(context.Background(), a.Specs.Rules))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := fmt.Sprintf("u%d", i)
			ctx := capture.WithRequest(context.Background(), actor, fmt.Sprintf("10.0.0.%d", i), "s-"+actor)
			pk := fmt.Sprintf("o%d", i)

			if _, err := a.Repo.Create(ctx, "Opportunity", map[string]any{"pk": pk, "name": "Deal " + actor, "amount": "25000"}); err != nil {
				errs <- err
				return
			}
			if _, err := a.Repo.Update(ctx, "Opportunity", pk, map[string]any{"stage": "WON"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	a.Wait()

	ctx := context.Background()
	for i := range workers {
		got, err := a.Repo.Get(ctx, "Opportunity", fmt.Sprintf("o%d", i))
		require.NoError(t, err)
		assert.Equal(t, "CLOSED_WON", got.Values["status"])
	}

	tasks, err := a.Store.ListEntities(ctx, "Task")
	require.NoError(t, err)
	assert.Len(t, tasks, workers)
	assert.Len(t, sink.alerts, workers)

	entries, err := a.Audit.List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4*workers)

	flowOwner := map[string]string{}
	for _, e := range entries {
		require.NotEmpty(t, e.Actor, "entry #%d", e.ID)
		var i int
		_, err := fmt.Sscanf(e.Actor, "u%d", &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("10.0.0.%d", i), e.IPAddress, "entry #%d", e.ID)
		assert.Equal(t, "s-"+e.Actor, e.SessionID, "entry #%d", e.ID)

		if owner, seen := flowOwner[e.FlowToken]; seen {
			assert.Equal(t, owner, e.Actor, "flow %s crosses requests", e.FlowToken)
		}
		flowOwner[e.FlowToken] = e.Actor

		if e.TypeID == "Opportunity" {
			assert.Equal(t, fmt.Sprintf("o%d", i), e.Target.PK, "entry #%d", e.ID)
		}
		if e.TypeID == "Task" {
			assert.Equal(t, "close-won", e.Rule)
		}
	}
}

func TestApp_AuditExcludedTypes(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Audit.ExcludedTypes = []string{"Task"}
	})
	ctx := context.Background()

	_, err := a.Repo.Create(ctx, "Task", map[string]any{"title": "quiet"})
	require.NoError(t, err)
	_, err = a.Repo.Create(ctx, "User", map[string]any{"username": "ann"})
	require.NoError(t, err)

	entries, err := a.Audit.List(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "User", entries[0].TypeID)
}

func TestApp_AutomationExcludedTypes(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Automation.ExcludedTypes = []string{"Opportunity"}
	})
	ctx := context.Background()

	require.NoError(t, a.ApplyRules(ctx, a.Specs.Rules))

	_, err := a.Repo.Create(ctx, "Opportunity", map[string]any{"pk": "o1", "name": "Acme"})
	require.NoError(t, err)
	_, err = a.Repo.Update(ctx, "Opportunity", "o1", map[string]any{"stage": "WON"})
	require.NoError(t, err)

	tasks, err := a.Store.ListEntities(ctx, "Task")
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Contains(t, a.Engine.ExcludedTypes(), "Opportunity")
}
