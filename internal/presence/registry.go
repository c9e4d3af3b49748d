// Package presence tracks which users have an open UI session. A Registry is
// owned by one session; the backend is shared by all of them.
package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/inbox/internal/errs"
	"github.com/inbox/internal/logger"
	"github.com/inbox/internal/storage"
)

var ErrNotStarted = errors.New("presence: registry not started")

type Registry struct {
	backend storage.PresenceStore

	mu        sync.Mutex
	sessionID string
	userID    string
}

func NewRegistry(backend storage.PresenceStore) *Registry {
	return &Registry{backend: backend}
}

// Start marks userID online for sessionID. Starting again under another
// identity leaves the previous one first.
func (r *Registry) Start(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return errs.ErrAuthRequired
	}
	r.mu.Lock()
	prevSession, prevUser := r.sessionID, r.userID
	r.sessionID, r.userID = sessionID, userID
	r.mu.Unlock()

	if prevUser != "" && (prevSession != sessionID || prevUser != userID) {
		if err := r.backend.Leave(ctx, prevSession, prevUser); err != nil {
			logger.Errorf("presence: leave %s: %v", prevUser, err)
		}
	}
	if err := r.backend.Join(ctx, sessionID, userID); err != nil {
		return errs.Write("presence.Start", err)
	}
	return nil
}

// Heartbeat re-joins the current session, extending backends that expire
// idle sessions.
func (r *Registry) Heartbeat(ctx context.Context) error {
	r.mu.Lock()
	sessionID, userID := r.sessionID, r.userID
	r.mu.Unlock()
	if userID == "" {
		return ErrNotStarted
	}
	if err := r.backend.Join(ctx, sessionID, userID); err != nil {
		return errs.Write("presence.Heartbeat", err)
	}
	return nil
}

// Stop removes this session. The user stays online while other sessions of
// theirs remain. Stop on a registry that is not started is a no-op.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	sessionID, userID := r.sessionID, r.userID
	r.sessionID, r.userID = "", ""
	r.mu.Unlock()
	if userID == "" {
		return nil
	}
	if err := r.backend.Leave(ctx, sessionID, userID); err != nil {
		return errs.Write("presence.Stop", err)
	}
	return nil
}

func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := r.backend.IsOnline(ctx, userID)
	if err != nil {
		return false, errs.Fetch("presence.IsOnline", err)
	}
	return ok, nil
}

// Online lists every user with at least one session.
func (r *Registry) Online(ctx context.Context) ([]string, error) {
	users, err := r.backend.Online(ctx)
	if err != nil {
		return nil, errs.Fetch("presence.Online", err)
	}
	return users, nil
}
