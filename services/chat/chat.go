// Package chat keeps the recent chat history shared by every connection.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/panyam/livekit/pubsub"
)

// RootField is the query field listing messages.
const RootField = "Query.chat"

// DefaultHistory is how many messages are kept when no limit is given.
const DefaultHistory = 100

// Message is one chat line. Operational messages are produced by the server
// (connects, disconnects) and have no author.
type Message struct {
	ID            string    `json:"id"`
	AuthorName    string    `json:"authorName,omitempty"`
	RawContent    string    `json:"rawContent"`
	CreatedAt     time.Time `json:"createdAt"`
	IsOperational bool      `json:"isOperational"`
}

// Invalidator is told which live query identifiers changed.
type Invalidator interface {
	Invalidate(ids ...string) int
}

// Chat is a bounded, in-memory message log.
type Chat struct {
	mu       sync.RWMutex
	messages []Message
	limit    int

	channel     *pubsub.Channel[Message]
	invalidator Invalidator
	now         func() time.Time
}

// New creates a chat. channel and invalidator may be nil.
func New(limit int, channel *pubsub.Channel[Message], invalidator Invalidator) *Chat {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Chat{
		limit:       limit,
		channel:     channel,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// AddMessage appends a message written by authorName.
func (c *Chat) AddMessage(authorName, content string) Message {
	return c.add(Message{AuthorName: authorName, RawContent: content})
}

// AddOperationalMessage appends a server message.
func (c *Chat) AddOperationalMessage(content string) Message {
	return c.add(Message{RawContent: content, IsOperational: true})
}

func (c *Chat) add(msg Message) Message {
	msg.ID = uuid.NewString()
	msg.CreatedAt = c.now()

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - c.limit; over > 0 {
		c.messages = append([]Message(nil), c.messages[over:]...)
	}
	c.mu.Unlock()

	if c.channel != nil {
		c.channel.Publish(msg)
	}
	if c.invalidator != nil {
		c.invalidator.Invalidate(RootField)
	}
	return msg
}

// Messages returns a copy of the history, oldest first.
func (c *Chat) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}
