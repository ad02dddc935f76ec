package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/bizflow/internal/model"
)

// Handler consumes mutation events.
type Handler interface {
	HandleMutation(ctx context.Context, ev *model.MutationEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *model.MutationEvent) error

// HandleMutation calls f.
func (f HandlerFunc) HandleMutation(ctx context.Context, ev *model.MutationEvent) error {
	return f(ctx, ev)
}

type subscription struct {
	name    string
	handler Handler
	exclude map[string]bool
}

// Hook is the single point where committed writes are announced. It fills
// ambient context into each event and dispatches it to subscribers in
// subscription order.
type Hook struct {
	mu      sync.RWMutex
	subs    []subscription
	flowGen FlowTokenGenerator
	now     func() time.Time
	logger  *slog.Logger
}

// HookOption configures a Hook.
type HookOption func(*Hook)

// WithFlowGenerator sets the flow token generator (default UUIDv7).
func WithFlowGenerator(g FlowTokenGenerator) HookOption {
	return func(h *Hook) { h.flowGen = g }
}

// WithClock sets the event timestamp source (default time.Now).
func WithClock(now func() time.Time) HookOption {
	return func(h *Hook) { h.now = now }
}

// WithLogger sets the logger used for subscriber failures.
func WithLogger(l *slog.Logger) HookOption {
	return func(h *Hook) { h.logger = l }
}

// NewHook creates a hook with no subscribers.
func NewHook(opts ...HookOption) *Hook {
	h := &Hook{
		flowGen: UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a handler. Events whose type is listed in exclude are
// never delivered to it.
func (h *Hook) Subscribe(name string, handler Handler, exclude ...string) {
	set := make(map[string]bool, len(exclude))
	for _, t := range exclude {
		set[t] = true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, subscription{name: name, handler: handler, exclude: set})
}

// EnsureFlow returns ctx with a flow token, minting one when the scope has
// none.
func (h *Hook) EnsureFlow(ctx context.Context) context.Context {
	s := FromContext(ctx)
	if s.FlowToken != "" {
		return ctx
	}
	s.FlowToken = h.flowGen.Generate()
	return WithScope(ctx, s)
}

// RecordMutation announces a committed create, update or delete. It never
// fails: subscriber errors and panics are logged.
func (h *Hook) RecordMutation(ctx context.Context, ev *model.MutationEvent) {
	ctx = h.EnsureFlow(ctx)
	s := FromContext(ctx)

	if ev.Type == "" && ev.Instance != nil {
		ev.Type = ev.Instance.Type
	}
	if ev.Actor == "" {
		ev.Actor = s.Actor
	}
	if ev.IPAddress == "" {
		ev.IPAddress = s.IPAddress
	}
	if ev.SessionID == "" {
		ev.SessionID = s.SessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	ev.FlowToken = s.FlowToken
	ev.Rule = s.Rule
	ev.Depth = s.Depth

	h.mu.RLock()
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.exclude[ev.Type] {
			continue
		}
		if err := h.dispatch(ctx, sub, ev); err != nil {
			h.logger.Error("mutation subscriber failed",
				"subscriber", sub.name,
				"entity", ev.Ref().String(),
				"operation", string(ev.Operation),
				"flow_token", ev.FlowToken,
				"error", err,
			)
		}
	}
}

func (h *Hook) dispatch(ctx context.Context, sub subscription, ev *model.MutationEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return sub.handler.HandleMutation(ctx, ev)
}
