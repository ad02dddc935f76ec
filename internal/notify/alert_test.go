package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func TestAlerter_EmitIsAsync(t *testing.T) {
	p, err := NewPool(2, discardLogger())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	sink := &recordingSink{}
	a := NewAlerter(p, sink, discardLogger())

	a.Emit(context.Background(), Alert{Rule: "big-deal", Title: "Large deal", Entity: model.EntityRef{Type: "Deal", PK: "d1"}})
	p.Wait()

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "big-deal", sink.alerts[0].Rule)
}

func TestAlerter_DeliveryFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p, err := NewPool(1, logger)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	a := NewAlerter(p, &recordingSink{err: errors.New("sink down")}, logger)
	assert.NotPanics(t, func() { a.Emit(context.Background(), Alert{Rule: "r"}) })
	p.Wait()

	assert.Contains(t, buf.String(), "alert delivery failed")
	assert.Contains(t, buf.String(), "sink down")
}

func TestAlerter_ClosedPoolLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p, err := NewPool(1, logger)
	require.NoError(t, err)
	p.Shutdown(time.Second)

	NewAlerter(p, nil, logger).Emit(context.Background(), Alert{Rule: "r"})
	assert.Contains(t, buf.String(), "alert not queued")
}

func TestLogSink_Levels(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	require.NoError(t, sink.Deliver(context.Background(), Alert{Rule: "r", Level: "warning", Title: "careful"}))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "title=careful")
}
