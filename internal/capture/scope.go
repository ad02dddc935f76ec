package capture

import "context"

// Scope is the ambient state of one logical request.
type Scope struct {
	Actor     string
	IPAddress string
	SessionID string

	// FlowToken correlates all mutations caused by one request. Minted by
	// the Hook on the first mutation when empty.
	FlowToken string

	// Rule names the automation rule currently executing actions, empty
	// for direct mutations.
	Rule string

	// Depth counts nested automation: 0 for a direct mutation, n for a
	// mutation made by an action that was itself triggered at depth n-1.
	Depth int
}

type scopeKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx, or the zero Scope.
func FromContext(ctx context.Context) Scope {
	if s, ok := ctx.Value(scopeKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}

// WithRequest starts a fresh request scope with the given identity.
func WithRequest(ctx context.Context, actor, ip, session string) context.Context {
	return WithScope(ctx, Scope{Actor: actor, IPAddress: ip, SessionID: session})
}

// Nested returns a context for mutations performed by rule's actions: the
// depth is incremented and the rule recorded. Identity and flow token are
// inherited, so automation-driven changes keep the original actor.
func Nested(ctx context.Context, rule string) context.Context {
	s := FromContext(ctx)
	s.Rule = rule
	s.Depth++
	return WithScope(ctx, s)
}
