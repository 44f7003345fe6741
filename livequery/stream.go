package livequery

import (
	"context"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/panyam/livekit/pubsub"
)

// Stream is the sequence of results of one operation. One-shot streams
// yield a single result; live streams yield one result per delivered
// execution until canceled; subscription streams yield one result per event.
// Next returns io.EOF when the source is exhausted and pubsub.ErrCanceled
// after Cancel.
type Stream struct {
	mode    Mode
	results *pubsub.Queue[*graphql.Result]
	release func()
	once    sync.Once
}

func newStream(mode Mode, results *pubsub.Queue[*graphql.Result], release func()) *Stream {
	return &Stream{mode: mode, results: results, release: release}
}

// Mode returns how the operation behind the stream is run.
func (s *Stream) Mode() Mode {
	return s.mode
}

// Next blocks for the next result.
func (s *Stream) Next(ctx context.Context) (*graphql.Result, error) {
	return s.results.Next(ctx)
}

// Cancel releases everything the stream holds. Results produced after
// Cancel are never returned by Next. Safe to call more than once.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		s.results.Cancel()
		if s.release != nil {
			s.release()
		}
	})
}
