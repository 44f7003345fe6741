package livequery

import (
	"context"
	"sync"
)

type collectorKey struct{}

// collector gathers the identifiers touched by one execution. Resolvers may
// run concurrently, hence the lock.
type collector struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func withCollector(ctx context.Context) (context.Context, *collector) {
	c := &collector{ids: map[string]struct{}{}}
	return context.WithValue(ctx, collectorKey{}, c), c
}

func (c *collector) touch(ids ...string) {
	c.mu.Lock()
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	c.mu.Unlock()
}

// snapshot returns a fresh set; the registration replaces its own set with it.
func (c *collector) snapshot() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.ids))
	for id := range c.ids {
		out[id] = struct{}{}
	}
	return out
}

// Touch records that the running execution read the data named by ids. It
// is a no-op outside a live execution.
func Touch(ctx context.Context, ids ...string) {
	if c, ok := ctx.Value(collectorKey{}).(*collector); ok {
		c.touch(ids...)
	}
}

// IsLive reports whether ctx belongs to a live execution.
func IsLive(ctx context.Context) bool {
	_, ok := ctx.Value(collectorKey{}).(*collector)
	return ok
}
