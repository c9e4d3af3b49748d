package storage

import (
	"context"
)

// PushSubscription is a browser Web Push subscription.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PresenceStore tracks which users have at least one open UI session.
// A user stays online until every session of theirs has left.
type PresenceStore interface {
	Join(ctx context.Context, sessionID, userID string) error
	Leave(ctx context.Context, sessionID, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

// PushStore keeps Web Push subscriptions per user, newest last.
type PushStore interface {
	AddPushSubscription(ctx context.Context, userID string, sub PushSubscription) error
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error
	PushSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error)
}

// SessionStore is the shared, cross-session state of the service.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionStore interface {
	PresenceStore
	PushStore
	Close() error
}
