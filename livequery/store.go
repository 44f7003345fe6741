package livequery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/graphql-go/graphql"

	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/metrics"
	"github.com/panyam/livekit/pubsub"
)

var (
	// ErrDuplicateKey is returned when a live key is already registered.
	ErrDuplicateKey = errors.New("live query already registered")
	// ErrSubscriptionsUnsupported is returned for subscription documents when
	// the store has no SubscribeFunc.
	ErrSubscriptionsUnsupported = errors.New("subscriptions are not supported")
	// ErrClosed is returned once the store has been shut down.
	ErrClosed = errors.New("live query store closed")
)

// Invalidation is the payload of the store's invalidation channel: the
// identifiers whose data changed.
type Invalidation []string

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records registrations and re-executions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithSubscriber enables subscription documents.
func WithSubscriber(fn SubscribeFunc) Option {
	return func(s *Store) { s.subscribe = fn }
}

// WithResultBuffer bounds the number of undelivered results a live stream
// keeps. When the consumer falls behind the oldest result is dropped, which
// keeps the newest state and the delivery order.
func WithResultBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.resultBuffer = n
		}
	}
}

// Store runs operations and keeps live queries up to date. One Store is
// shared by every connection in the process.
type Store struct {
	exec          ExecuteFunc
	subscribe     SubscribeFunc
	invalidations *pubsub.Channel[Invalidation]
	logger        logging.Logger
	metrics       *metrics.Metrics
	resultBuffer  int

	mu     sync.Mutex
	regs   map[string]*registration
	closed bool
}

// NewStore creates a store executing with exec and listening for
// invalidations on invalidations.
func NewStore(exec ExecuteFunc, invalidations *pubsub.Channel[Invalidation], opts ...Option) *Store {
	s := &Store{
		exec:          exec,
		invalidations: invalidations,
		logger:        logging.Discard(),
		resultBuffer:  64,
		regs:          make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate reports that the data named by ids changed. Every live query
// that touched one of them re-executes.
func (s *Store) Invalidate(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	payload := make(Invalidation, len(ids))
	copy(payload, ids)
	return s.invalidations.Publish(payload)
}

// Len returns the number of registered live queries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regs)
}

// Execute classifies req and runs it. See ExecuteDocument.
func (s *Store) Execute(ctx context.Context, key string, req Request) (*Stream, error) {
	doc, err := Classify(req)
	if err != nil {
		return nil, err
	}
	return s.ExecuteDocument(ctx, key, doc)
}

// ExecuteDocument runs doc. One-shot documents execute before it returns.
// Live documents are registered under key, which must be unique across the
// process, and execute in the background. Canceling ctx has the same effect
// as canceling the returned stream.
func (s *Store) ExecuteDocument(ctx context.Context, key string, doc *Document) (*Stream, error) {
	switch doc.Mode {
	case ModeLive:
		return s.executeLive(ctx, key, doc)
	case ModeStream:
		return s.executeSubscription(ctx, doc)
	default:
		results := pubsub.NewQueue[*graphql.Result](1, pubsub.DropNewest)
		results.Push(safeExecute(ctx, s.exec, doc.Request))
		results.Finish()
		return newStream(ModeOneShot, results, nil), nil
	}
}

func (s *Store) executeSubscription(ctx context.Context, doc *Document) (*Stream, error) {
	if s.subscribe == nil {
		return nil, ErrSubscriptionsUnsupported
	}
	ctx, cancel := context.WithCancel(ctx)
	source := s.subscribe(ctx, doc.Request)
	results := pubsub.NewQueue[*graphql.Result](s.resultBuffer, pubsub.DropOldest)
	go func() {
		defer results.Finish()
		for {
			select {
			case res, ok := <-source:
				if !ok {
					return
				}
				results.Push(res)
			case <-ctx.Done():
				return
			}
		}
	}()
	return newStream(ModeStream, results, cancel), nil
}

func (s *Store) executeLive(ctx context.Context, key string, doc *Document) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	reg := &registration{
		key:     key,
		store:   s,
		doc:     doc,
		ctx:     ctx,
		cancel:  cancel,
		results: pubsub.NewQueue[*graphql.Result](s.resultBuffer, pubsub.DropOldest),
		touched: map[string]struct{}{},
		// Subscribed before the first execution so that changes made while it
		// runs are queued and checked against its touched set.
		invalidations: s.invalidations.Subscribe(),
	}

	s.mu.Lock()
	var err error
	if s.closed {
		err = ErrClosed
	} else if _, exists := s.regs[key]; exists {
		err = fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	} else {
		s.regs[key] = reg
	}
	s.mu.Unlock()
	if err != nil {
		reg.invalidations.Cancel()
		cancel()
		return nil, err
	}
	s.metrics.LiveRegistered()

	go reg.run()

	s.logger.WithFields(logging.Fields{
		"key":         key,
		"root_fields": doc.RootFields,
	}).Debug("Registered live query")
	return newStream(ModeLive, reg.results, reg.release), nil
}

// Close releases every registration. Used at process shutdown.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	regs := make([]*registration, 0, len(s.regs))
	for _, reg := range s.regs {
		regs = append(regs, reg)
	}
	s.mu.Unlock()

	for _, reg := range regs {
		reg.release()
	}
}

func (s *Store) unregister(key string, reg *registration) {
	s.mu.Lock()
	if cur, ok := s.regs[key]; ok && cur == reg {
		delete(s.regs, key)
	}
	s.mu.Unlock()
}

// registration is the state kept for one live query.
type registration struct {
	key    string
	store  *Store
	doc    *Document
	ctx    context.Context
	cancel context.CancelFunc

	invalidations *pubsub.Subscription[Invalidation]
	results       *pubsub.Queue[*graphql.Result]

	mu        sync.Mutex
	touched   map[string]struct{}
	started   uint64
	delivered uint64
	inFlight  int
	dirty     bool
	released  bool
}

// maxInFlight bounds the concurrent executions of one live query. Two lets
// a newer execution overtake a slow one; anything beyond that is coalesced
// into a single rerun.
const maxInFlight = 2

// reserve allocates the next execution version and an in-flight slot. When
// every slot is taken it marks the registration dirty and returns 0, and
// the execution finishing next reruns once for all changes seen meanwhile.
func (r *registration) reserve() (version uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return 0, false
	}
	if r.inFlight >= maxInFlight {
		r.dirty = true
		return 0, true
	}
	r.inFlight++
	r.started++
	return r.started, true
}

func (r *registration) run() {
	defer r.release()
	first, ok := r.reserve()
	if !ok {
		return
	}
	r.drain(first)

	for {
		ids, err := r.invalidations.Next(r.ctx)
		if err != nil {
			return
		}
		if !r.affectedBy(ids) {
			continue
		}
		v, ok := r.reserve()
		if !ok {
			return
		}
		if v != 0 {
			go r.drain(v)
		}
	}
}

// drain executes version and keeps rerunning while changes were coalesced
// into the registration, then frees its slot.
func (r *registration) drain(version uint64) {
	for {
		r.execute(version)

		r.mu.Lock()
		if r.released || !r.dirty {
			r.inFlight--
			r.mu.Unlock()
			return
		}
		r.dirty = false
		r.started++
		version = r.started
		r.mu.Unlock()
	}
}

func (r *registration) affectedBy(ids Invalidation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.touched[id]; ok {
			return true
		}
	}
	return false
}

func (r *registration) execute(version uint64) {
	if version == 0 {
		return
	}
	ctx, col := withCollector(r.ctx)
	col.touch(r.doc.RootIdentifiers()...)
	res := safeExecute(ctx, r.store.exec, r.doc.Request)
	touched := col.snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released || version != r.started || version <= r.delivered {
		if !r.released {
			r.store.metrics.ReExecution("stale")
			r.store.logger.WithFields(logging.Fields{
				"key":     r.key,
				"version": version,
				"latest":  r.started,
			}).Debug("Discarding superseded live query result")
		}
		return
	}
	r.touched = touched
	r.delivered = version
	r.results.Push(res)
	if version > 1 {
		r.store.metrics.ReExecution("delivered")
	}
}

func (r *registration) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.touched = nil
	r.mu.Unlock()

	r.cancel()
	r.invalidations.Cancel()
	r.results.Cancel()
	r.store.unregister(r.key, r)
	r.store.metrics.LiveReleased()
	r.store.logger.WithField("key", r.key).Debug("Released live query")
}
