package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/inbox/internal/storage"
)

const maxSubsPerUser = 10

var _ storage.SessionStore = (*Client)(nil)

// Client is the in-process SessionStore used with -dev and in tests.
type Client struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
	subs     map[string][]storage.PushSubscription
}

func New() *Client {
	return &Client{
		sessions: make(map[string]map[string]struct{}),
		subs:     make(map[string][]storage.PushSubscription),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Join(ctx context.Context, sessionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		c.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
	return nil
}

func (c *Client) Leave(ctx context.Context, sessionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.sessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(c.sessions, userID)
	}
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions[userID]) > 0, nil
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := make([]string, 0, len(c.sessions))
	for u := range c.sessions {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID string, sub storage.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := withoutEndpoint(c.subs[userID], sub.Endpoint)
	list = append(list, sub)
	if len(list) > maxSubsPerUser {
		list = list[len(list)-maxSubsPerUser:]
	}
	c.subs[userID] = list
	return nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[userID] = withoutEndpoint(c.subs[userID], endpoint)
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([]storage.PushSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]storage.PushSubscription(nil), c.subs[userID]...), nil
}

func withoutEndpoint(list []storage.PushSubscription, endpoint string) []storage.PushSubscription {
	kept := make([]storage.PushSubscription, 0, len(list))
	for _, s := range list {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	return kept
}
