// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Identity is the user a request acts for.
type Identity struct {
	UserID      string
	DisplayName string
	// Via is the bridge subject when a bridge token acts for the user.
	Via string
}

// Bridged reports whether the request arrived through a bridge.
func (i *Identity) Bridged() bool {
	return i.Via != ""
}

type identityKey struct{}

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the Identity in ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
