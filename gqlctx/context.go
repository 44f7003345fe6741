// Package gqlctx builds the values injected into every operation executed
// on a connection.
package gqlctx

import (
	"context"
	"errors"
	"sync"

	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/pubsub"
	"github.com/panyam/livekit/services/chat"
	"github.com/panyam/livekit/services/notes"
	"github.com/panyam/livekit/services/splash"
	"github.com/panyam/livekit/services/user"
	"github.com/panyam/livekit/session"
)

// ErrNoSession is returned when a connection has no resolved session.
var ErrNoSession = errors.New("Unexpected error occurred. WebSocket has no session.")

// Values is the per-connection execution context.
type Values struct {
	ConnID  string
	Session *session.Record

	Chat   *chat.Chat
	Users  *user.Presence
	Notes  *notes.Service
	Splash *splash.State

	NotesUpdates *pubsub.Channel[notes.NotesUpdatesPayload]
	NoteUpdate   *pubsub.Channel[notes.NoteUpdatePayload]
	ChatMessages *pubsub.Channel[chat.Message]

	LiveQueries *livequery.Store
}

// Shared holds the process-wide instances every connection's Values point at.
type Shared struct {
	Chat   *chat.Chat
	Users  *user.Presence
	Notes  *notes.Service
	Splash *splash.State

	NotesUpdates *pubsub.Channel[notes.NotesUpdatesPayload]
	NoteUpdate   *pubsub.Channel[notes.NoteUpdatePayload]
	ChatMessages *pubsub.Channel[chat.Message]

	LiveQueries *livequery.Store
}

// Builder assembles Values for a connection.
type Builder struct {
	Sessions session.Store
	Shared   Shared
}

// Build fails with ErrNoSession before anything else when connID has no
// session.
func (b *Builder) Build(connID string) (*Values, error) {
	if b.Sessions == nil {
		return nil, ErrNoSession
	}
	rec, ok := b.Sessions.Get(connID)
	if !ok || rec == nil {
		return nil, ErrNoSession
	}
	return &Values{
		ConnID:       connID,
		Session:      rec,
		Chat:         b.Shared.Chat,
		Users:        b.Shared.Users,
		Notes:        b.Shared.Notes,
		Splash:       b.Shared.Splash,
		NotesUpdates: b.Shared.NotesUpdates,
		NoteUpdate:   b.Shared.NoteUpdate,
		ChatMessages: b.Shared.ChatMessages,
		LiveQueries:  b.Shared.LiveQueries,
	}, nil
}

// Lazy memoizes the Values of one connection. The first successful Get is
// cached for the life of the connection; failures are not, so a later Get
// can succeed once the session exists.
type Lazy struct {
	connID  string
	builder *Builder

	mu     sync.Mutex
	values *Values
}

func NewLazy(builder *Builder, connID string) *Lazy {
	return &Lazy{connID: connID, builder: builder}
}

// Get returns the cached Values or builds them.
func (l *Lazy) Get() (*Values, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.values != nil {
		return l.values, nil
	}
	values, err := l.builder.Build(l.connID)
	if err != nil {
		return nil, err
	}
	l.values = values
	return values, nil
}

// Built reports whether Values have been built.
func (l *Lazy) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.values != nil
}

type valuesKey struct{}

// With returns a context carrying v.
func With(ctx context.Context, v *Values) context.Context {
	return context.WithValue(ctx, valuesKey{}, v)
}

// From returns the Values carried by ctx.
func From(ctx context.Context) (*Values, bool) {
	v, ok := ctx.Value(valuesKey{}).(*Values)
	return v, ok && v != nil
}
