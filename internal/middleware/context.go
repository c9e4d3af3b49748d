package middleware

import (
	"context"

	"github.com/inbox/internal/auth"
)

// GetUserID returns the user id set by RemoteAuth or HeaderAuth.
func GetUserID(ctx context.Context) string {
	return auth.UserID(ctx)
}
