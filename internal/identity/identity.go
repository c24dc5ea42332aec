package identity

import (
	"context"
	"errors"
)

// ErrNoCurrentUser is returned when an entitlement operation runs with no
// resolved identity.
var ErrNoCurrentUser = errors.New("no current user")

// Provider resolves the current user id. Entitlement operations fail
// immediately when no identity is resolved.
type Provider interface {
	CurrentUserID(ctx context.Context) (string, error)
}

type contextKey struct{}

// WithUserID returns a context carrying the authenticated user id. The auth
// middleware calls this after verifying the bearer token.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// FromContext extracts the authenticated user id, if any.
func FromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextKey{}).(string)
	return userID, ok && userID != ""
}

// ContextProvider resolves identity from the request context populated by the
// auth middleware.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, error) {
	userID, ok := FromContext(ctx)
	if !ok {
		return "", ErrNoCurrentUser
	}
	return userID, nil
}

// Static returns a provider that always resolves the given user id. An empty
// id resolves to ErrNoCurrentUser. Used in tests.
func Static(userID string) Provider {
	return staticProvider(userID)
}

type staticProvider string

func (p staticProvider) CurrentUserID(ctx context.Context) (string, error) {
	if p == "" {
		return "", ErrNoCurrentUser
	}
	return string(p), nil
}
