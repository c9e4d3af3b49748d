// Package auth answers one question for the rest of the service: who is the
// current user. How the identity got established is the middleware's concern.
package auth

import "context"

type contextKey struct{}

// Provider reports the current user id; ok is false when nobody is signed in.
type Provider interface {
	CurrentUserID(ctx context.Context) (id string, ok bool)
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the user id stored by WithUserID, or "".
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(contextKey{}).(string)
	return v
}

// FromContext reads the identity placed on the request context by the auth
// middleware.
type FromContext struct{}

func (FromContext) CurrentUserID(ctx context.Context) (string, bool) {
	id := UserID(ctx)
	return id, id != ""
}

// Static always reports the same user. An empty Static means signed out.
type Static string

func (s Static) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}
