package pubsub

import (
	"context"
	"sync"

	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/metrics"
)

// DefaultBuffer is the per-subscription queue size used when none is given.
const DefaultBuffer = 256

// Option configures a Channel.
type Option func(*options)

type options struct {
	buffer  int
	logger  logging.Logger
	metrics *metrics.Metrics
}

// WithBuffer sets the per-subscription queue size.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records publishes and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Channel fans payloads of type T out to its subscriptions.
type Channel[T any] struct {
	name string
	opts options

	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// New creates a channel. name shows up in logs and metrics.
func New[T any](name string, opts ...Option) *Channel[T] {
	o := options{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	return &Channel[T]{
		name: name,
		opts: o,
		subs: make(map[uint64]*Subscription[T]),
	}
}

// Name returns the channel name.
func (c *Channel[T]) Name() string {
	return c.name
}

// Publish queues v on every active subscription and returns how many
// accepted it. It never blocks on a consumer.
func (c *Channel[T]) Publish(v T) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	c.opts.metrics.Published(c.name)

	delivered := 0
	for id, sub := range c.subs {
		if sub.queue.Push(v) {
			delivered++
			continue
		}
		select {
		case <-sub.queue.Done():
			// canceled, removal is in flight
		default:
			c.opts.metrics.Dropped(c.name)
			c.opts.logger.WithFields(logging.Fields{
				"channel":      c.name,
				"subscription": id,
				"dropped":      sub.queue.Dropped(),
			}).Warn("Subscriber queue full, dropping payload")
		}
	}
	return delivered
}

// Subscribe registers a new subscription. Only values published after it
// returns are delivered to it. Subscribing to a closed channel returns a
// subscription that is already canceled.
func (c *Channel[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	sub := &Subscription[T]{
		id:      c.nextID,
		channel: c,
		queue:   NewQueue[T](c.opts.buffer, DropNewest),
	}
	if c.closed {
		sub.queue.Cancel()
		return sub
	}
	c.subs[sub.id] = sub
	return sub
}

// SubscriberCount returns the number of active subscriptions.
func (c *Channel[T]) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Close cancels every subscription. Later publishes are ignored.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[uint64]*Subscription[T])
	c.closed = true
	c.mu.Unlock()

	for _, sub := range subs {
		sub.queue.Cancel()
	}
}

func (c *Channel[T]) remove(id uint64) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Subscription is one consumer's view of a Channel.
type Subscription[T any] struct {
	id      uint64
	channel *Channel[T]
	queue   *Queue[T]
}

// Next returns the next payload. It fails with ErrCanceled after Cancel and
// with ctx.Err() when ctx is done first.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	return s.queue.Next(ctx)
}

// Done is closed once the subscription is canceled.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.queue.Done()
}

// Cancel stops delivery and detaches from the channel. Safe to call twice.
func (s *Subscription[T]) Cancel() {
	if s.queue.Cancel() {
		s.channel.remove(s.id)
	}
}

// Dropped returns how many payloads this subscription missed because its
// queue was full.
func (s *Subscription[T]) Dropped() uint64 {
	return s.queue.Dropped()
}

// Len returns the number of payloads waiting to be read.
func (s *Subscription[T]) Len() int {
	return s.queue.Len()
}
