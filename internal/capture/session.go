package capture

import (
	"context"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// SessionDescriptor describes the built-in Session type. Its primary key is
// the session key.
func SessionDescriptor() *registry.TypeDescriptor {
	td, err := registry.NewTypeDescriptor(model.SessionType, "sessions", []registry.FieldDescriptor{
		{Name: "user", Kind: registry.KindString, Nullable: true},
		{Name: "ip_address", Kind: registry.KindString, Nullable: true},
	}, nil)
	if err != nil {
		panic(err)
	}
	return td
}

// Login creates a session record, which is audited as LOGIN.
func (r *Repository) Login(ctx context.Context, key, user string) (*model.Record, error) {
	s := FromContext(ctx)
	values := map[string]any{"pk": key, "user": user}
	if s.IPAddress != "" {
		values["ip_address"] = s.IPAddress
	}
	if s.Actor == "" {
		ctx = WithScope(ctx, Scope{Actor: user, IPAddress: s.IPAddress, SessionID: key, FlowToken: s.FlowToken})
	}
	return r.Create(ctx, model.SessionType, values)
}

// Logout deletes a session record, which is audited as LOGOUT.
func (r *Repository) Logout(ctx context.Context, key string) error {
	return r.Delete(ctx, model.SessionType, key)
}
