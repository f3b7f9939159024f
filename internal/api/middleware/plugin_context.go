// Package middleware provides HTTP middleware components for the metabeak API.
package middleware

import (
	"context"
	"time"
)

// ownerContextKey is the context key for the authenticated upload owner.
// Using a struct type ensures type safety and prevents collisions with
// other context keys.
type ownerContextKey struct{}

// OwnerContext carries the authenticated handler-upload owner, enriched
// into the request context by AuthenticatePlugin after a successful API
// key validation.
type OwnerContext struct {
	// OwnerID is the owning identity the API key was issued to.
	OwnerID string

	// KeyID is the API key id used for authentication (for audit logging).
	KeyID string

	// AuthTime is the timestamp when authentication occurred.
	AuthTime time.Time
}

// GetOwnerContext extracts the owner context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
func GetOwnerContext(ctx context.Context) (OwnerContext, bool) {
	ownerCtx, ok := ctx.Value(ownerContextKey{}).(OwnerContext)

	return ownerCtx, ok
}

// SetOwnerContext adds the owner context to the request context. Used by
// the authentication middleware after successful API key validation.
func SetOwnerContext(ctx context.Context, ownerCtx OwnerContext) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, ownerCtx)
}
