package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inbox/internal/storage"
)

const (
	onlineKey        = "presence:online"
	sessionKeyPrefix = "presence:sessions:"
	pushKeyPrefix    = "push:subs:"

	// A crashed process never sends Leave; its sessions age out.
	SessionTTL      = 24 * time.Hour
	MaxSubsPerUser  = 10
	SubscriptionTTL = 30 * 24 * time.Hour
)

var _ storage.SessionStore = (*Client)(nil)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Join adds sessionID to presence:sessions:{user} and the user to presence:online.
func (c *Client) Join(ctx context.Context, sessionID, userID string) error {
	key := sessionKeyPrefix + userID
	pipe := c.cli.TxPipeline()
	pipe.SAdd(ctx, key, sessionID)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.SAdd(ctx, onlineKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Leave removes sessionID; the user goes offline when no session is left.
func (c *Client) Leave(ctx context.Context, sessionID, userID string) error {
	key := sessionKeyPrefix + userID
	if err := c.cli.SRem(ctx, key, sessionID).Err(); err != nil {
		return err
	}
	n, err := c.cli.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return c.cli.SRem(ctx, onlineKey, userID).Err()
	}
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.cli.Exists(ctx, sessionKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	users, err := c.cli.SMembers(ctx, onlineKey).Result()
	if err != nil {
		return nil, err
	}
	// presence:online outlives expired session sets; filter those out.
	online := users[:0]
	for _, u := range users {
		ok, err := c.IsOnline(ctx, u)
		if err != nil {
			return nil, err
		}
		if ok {
			online = append(online, u)
		}
	}
	return online, nil
}

// AddPushSubscription appends to push:subs:{user}, keeping the newest MaxSubsPerUser.
func (c *Client) AddPushSubscription(ctx context.Context, userID string, sub storage.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscription encode: %w", err)
	}
	if err := c.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
		return err
	}
	key := pushKeyPrefix + userID
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -MaxSubsPerUser, -1)
	pipe.Expire(ctx, key, SubscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	key := pushKeyPrefix + userID
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub storage.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, userID string) ([]storage.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, pushKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]storage.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub storage.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// FlushDB clears the current Redis database (tests, dev resets).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
