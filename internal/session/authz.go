package session

import (
	"context"
	"strings"
)

// Backend answers raw permission checks, typically from the JWT claims.
type Backend interface {
	HasPerm(ctx context.Context, username, perm string) (bool, error)
}

// Gate enforces the change discipline on top of an inner permission backend:
// write permissions are denied unless the user currently has an open change
// session. Read permissions and the change app's own permissions (which are
// needed to open a session in the first place) always fall through, with the
// exception of rollback, which stays gated like any other write.
type Gate struct {
	inner    Backend
	sessions SetStore

	// needChangeForWrite disables the gate entirely when false.
	needChangeForWrite bool
}

// NewGate wraps the inner backend with the change discipline.
func NewGate(inner Backend, sessions SetStore, needChangeForWrite bool) *Gate {
	return &Gate{inner: inner, sessions: sessions, needChangeForWrite: needChangeForWrite}
}

// HasPerm implements Backend. Permission names follow the "app.action_model"
// convention, e.g. "dcim.change_device".
func (g *Gate) HasPerm(ctx context.Context, username, perm string) (bool, error) {
	if !g.needChangeForWrite || passesUngated(perm) {
		return g.inner.HasPerm(ctx, username, perm)
	}

	active, err := g.sessions.ActiveForUser(ctx, username)
	if err != nil {
		return false, err
	}
	if active == nil {
		return false, nil
	}
	return g.inner.HasPerm(ctx, username, perm)
}

// passesUngated reports whether the permission bypasses the change gate.
func passesUngated(perm string) bool {
	app, action, ok := strings.Cut(perm, ".")
	if !ok {
		return false
	}
	if strings.HasPrefix(action, "view") {
		return true
	}
	return app == "change" && !strings.HasPrefix(action, "rollback")
}
