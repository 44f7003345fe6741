package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/livekit/pubsub"
)

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) Invalidate(ids ...string) int {
	r.ids = append(r.ids, ids...)
	return 0
}

func TestAddMessagePublishesAndInvalidates(t *testing.T) {
	ch := pubsub.New[Message]("chat")
	sub := ch.Subscribe()
	defer sub.Cancel()
	inv := &recordingInvalidator{}
	c := New(10, ch, inv)

	msg := c.AddMessage("ada", "hello")
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.IsOperational)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
	assert.Equal(t, []string{RootField}, inv.ids)
}

func TestHistoryIsBounded(t *testing.T) {
	c := New(2, nil, nil)
	c.AddMessage("a", "1")
	c.AddOperationalMessage("2")
	c.AddMessage("b", "3")

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "2", msgs[0].RawContent)
	assert.True(t, msgs[0].IsOperational)
	assert.Equal(t, "3", msgs[1].RawContent)
}
