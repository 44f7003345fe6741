package gqlws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/pubsub"
	"github.com/panyam/livekit/schema"
	"github.com/panyam/livekit/services/chat"
	"github.com/panyam/livekit/services/notes"
	"github.com/panyam/livekit/services/splash"
	"github.com/panyam/livekit/services/user"
	"github.com/panyam/livekit/session"
)

type fixture struct {
	store         *livequery.Store
	invalidations *pubsub.Channel[livequery.Invalidation]
	notesUpdates  *pubsub.Channel[notes.NotesUpdatesPayload]
	sessions      *session.MemoryStore
	builder       *gqlctx.Builder
	notes         *notes.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := schema.New()
	require.NoError(t, err)

	f := &fixture{
		invalidations: pubsub.New[livequery.Invalidation]("invalidations"),
		notesUpdates:  pubsub.New[notes.NotesUpdatesPayload]("notesUpdates"),
		sessions:      session.NewMemoryStore(),
	}
	noteUpdate := pubsub.New[notes.NoteUpdatePayload]("noteUpdate")
	chatMessages := pubsub.New[chat.Message]("chatMessages")
	f.store = livequery.NewStore(livequery.SchemaExecutor(s), f.invalidations,
		livequery.WithSubscriber(livequery.SchemaSubscriber(s)))

	db, err := notes.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	f.notes = notes.NewService(db, notes.Deps{
		NotesUpdates: f.notesUpdates,
		NoteUpdate:   noteUpdate,
		Invalidator:  f.store,
	})
	t.Cleanup(func() {
		f.store.Close()
		f.invalidations.Close()
		f.notesUpdates.Close()
		noteUpdate.Close()
		chatMessages.Close()
		db.Close()
	})

	f.builder = &gqlctx.Builder{
		Sessions: f.sessions,
		Shared: gqlctx.Shared{
			Chat:         chat.New(0, chatMessages, f.store),
			Users:        user.NewPresence(user.Hooks{}, f.store),
			Notes:        f.notes,
			Splash:       splash.New(f.store),
			NotesUpdates: f.notesUpdates,
			NoteUpdate:   noteUpdate,
			ChatMessages: chatMessages,
			LiveQueries:  f.store,
		},
	}
	return f
}

func (f *fixture) createNotes(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.notes.Create(context.Background(), "note", "")
		require.NoError(t, err)
	}
}

// mux opens a multiplexer for connID, bound to a session unless anonymous.
func (f *fixture) mux(t *testing.T, connID string, anonymous bool) (*Mux, *recorder) {
	t.Helper()
	if !anonymous {
		f.sessions.Bind(connID, &session.Record{ID: "s-" + connID, Name: connID})
	}
	rec := newRecorder()
	m := NewMux(connID, rec.emit, MuxConfig{
		Store:   f.store,
		Context: gqlctx.NewLazy(f.builder, connID),
	})
	t.Cleanup(m.Close)
	return m, rec
}

type recorder struct {
	mu   sync.Mutex
	all  []Message
	msgs chan Message
}

func newRecorder() *recorder {
	return &recorder{msgs: make(chan Message, 1024)}
}

func (r *recorder) emit(msg Message) {
	r.mu.Lock()
	r.all = append(r.all, msg)
	r.mu.Unlock()
	r.msgs <- msg
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.all {
		if msg.ID == id {
			n++
		}
	}
	return n
}

// next waits for the next message tagged with id, skipping others.
func (r *recorder) next(t *testing.T, id string) Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-r.msgs:
			if msg.ID == id {
				return msg
			}
		case <-timeout:
			t.Fatalf("no message for %q", id)
			return Message{}
		}
	}
}

func execute(id, query string) Envelope {
	return Envelope{Type: TypeExecute, ID: id, Payload: &livequery.Request{Query: query}}
}

func data(t *testing.T, msg Message) map[string]interface{} {
	t.Helper()
	require.Equal(t, TypeResult, msg.Type, "message: %+v", msg)
	require.NotNil(t, msg.Payload)
	require.Empty(t, msg.Payload.Errors)
	d, ok := msg.Payload.Data.(map[string]interface{})
	require.True(t, ok, "data: %#v", msg.Payload.Data)
	return d
}
