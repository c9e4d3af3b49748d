package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inbox/internal/storage"
)

func TestClient_PresenceAcrossSessions(t *testing.T) {
	c := New()
	ctx := context.Background()

	require.NoError(t, c.Join(ctx, "s1", "ann"))
	require.NoError(t, c.Join(ctx, "s2", "ann"))
	require.NoError(t, c.Leave(ctx, "s1", "ann"))

	ok, err := c.IsOnline(ctx, "ann")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Leave(ctx, "s2", "ann"))
	ok, err = c.IsOnline(ctx, "ann")
	require.NoError(t, err)
	assert.False(t, ok)

	online, err := c.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestClient_PushSubscriptions(t *testing.T) {
	c := New()
	ctx := context.Background()
	sub := storage.PushSubscription{Endpoint: "https://push/1"}

	require.NoError(t, c.AddPushSubscription(ctx, "ann", sub))
	require.NoError(t, c.AddPushSubscription(ctx, "ann", sub))
	subs, err := c.PushSubscriptions(ctx, "ann")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, c.RemovePushSubscription(ctx, "ann", sub.Endpoint))
	subs, err = c.PushSubscriptions(ctx, "ann")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
