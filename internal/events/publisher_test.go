package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher_EmptyURLIsNoop(t *testing.T) {
	p := NewPublisher("", "inbox.events")

	assert.Equal(t, "noop", Mode(p))
	assert.Equal(t, "empty amqp url", NoopReason(p))
	require.NoError(t, p.Publish(context.Background(), MessageSent, NewEnvelope(MessageSent, "api", "u1", nil)))
	require.NoError(t, p.Close())
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(ChatCreated, "api", "u1", map[string]string{"chat_id": "c1"})

	assert.Equal(t, 1, env.SchemaVersion)
	assert.Equal(t, ChatCreated, env.EventType)
	assert.Equal(t, "u1", env.UserID)
	assert.NotEmpty(t, env.OccurredAt)
}
