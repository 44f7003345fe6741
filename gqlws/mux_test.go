package gqlws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/session"
)

const liveNoteCount = "query @live { noteCount }"

func TestOneShotThenLive(t *testing.T) {
	f := newFixture(t)
	f.createNotes(t, 3)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("Q1", "{ time }"))
	msg := rec.next(t, "Q1")
	assert.True(t, msg.Final)
	assert.NotEmpty(t, data(t, msg)["time"])
	assert.False(t, m.Has("Q1"), "one-shot ids are forgotten once answered")

	m.Handle(execute("L1", liveNoteCount))
	msg = rec.next(t, "L1")
	assert.False(t, msg.Final)
	assert.EqualValues(t, 3, data(t, msg)["noteCount"])

	f.createNotes(t, 1)
	msg = rec.next(t, "L1")
	assert.EqualValues(t, 4, data(t, msg)["noteCount"])

	assert.Equal(t, 1, rec.count("Q1"))
	assert.True(t, m.Has("L1"))
}

func TestOneShotIdReusable(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	for i := 0; i < 3; i++ {
		m.Handle(execute("Q", "{ noteCount }"))
		msg := rec.next(t, "Q")
		assert.EqualValues(t, 0, data(t, msg)["noteCount"])
	}
}

func TestDuplicateID(t *testing.T) {
	f := newFixture(t)
	f.createNotes(t, 1)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("X", liveNoteCount))
	m.Handle(execute("X", "{ time }"))

	var first, rejected *Message
	for first == nil || rejected == nil {
		msg := rec.next(t, "X")
		if msg.Type == TypeError {
			rejected = &msg
		} else {
			first = &msg
		}
	}
	assert.Equal(t, codes.AlreadyExists.String(), rejected.Code)
	assert.EqualValues(t, 1, data(t, *first)["noteCount"])

	// The original operation is untouched.
	f.createNotes(t, 1)
	msg := rec.next(t, "X")
	assert.EqualValues(t, 2, data(t, msg)["noteCount"])
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("L1", liveNoteCount))
	rec.next(t, "L1")
	require.Equal(t, 1, f.store.Len())

	m.Handle(Envelope{Type: TypeStop, ID: "L1"})
	m.Handle(Envelope{Type: TypeStop, ID: "L1"})
	m.Handle(Envelope{Type: TypeStop, ID: "unknown"})
	assert.Equal(t, 0, f.store.Len())
	assert.False(t, m.Has("L1"))

	f.createNotes(t, 1)
	assert.Never(t, func() bool { return rec.count("L1") > 1 }, 200*time.Millisecond, 20*time.Millisecond)
	assert.Equal(t, 0, rec.count("unknown"))
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("L1", liveNoteCount))
	m.Handle(execute("L2", "query @live { notes { id title } }"))
	m.Handle(execute("S1", "subscription { notesUpdates { kind noteId } }"))
	rec.next(t, "L1")
	rec.next(t, "L2")
	require.Eventually(t, func() bool { return f.notesUpdates.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, f.store.Len())

	m.Close()
	m.Close()

	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, f.store.Len())
	assert.Eventually(t, func() bool {
		return f.invalidations.SubscriberCount() == 0 && f.notesUpdates.SubscriberCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	before := len(rec.msgs)
	f.createNotes(t, 1)
	m.Handle(execute("L3", liveNoteCount))
	assert.Never(t, func() bool { return len(rec.msgs) > before }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestConnectionIsolation(t *testing.T) {
	f := newFixture(t)
	m1, rec1 := f.mux(t, "c1", false)
	m2, rec2 := f.mux(t, "c2", false)

	m1.Handle(execute("L1", liveNoteCount))
	m2.Handle(execute("L1", liveNoteCount))
	rec1.next(t, "L1")
	rec2.next(t, "L1")
	require.Equal(t, 2, f.store.Len())

	// A bad operation on one connection does not disturb the other.
	m1.Handle(execute("bad", "{ nope"))
	assert.Equal(t, TypeError, rec1.next(t, "bad").Type)

	m1.Stop("L1")
	f.createNotes(t, 1)
	msg := rec2.next(t, "L1")
	assert.EqualValues(t, 1, data(t, msg)["noteCount"])
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 0, rec2.count("bad"))
}

func TestNoSessionPolicy(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "anon", true)

	for _, env := range []Envelope{
		execute("Q1", "{ time }"),
		execute("L1", liveNoteCount),
	} {
		m.Handle(env)
		msg := rec.next(t, env.ID)
		assert.Equal(t, TypeError, msg.Type)
		assert.Equal(t, codes.FailedPrecondition.String(), msg.Code)
		assert.Equal(t, gqlctx.ErrNoSession.Error(), msg.Error)
		assert.False(t, m.Has(env.ID))
	}
	assert.Equal(t, 0, f.store.Len())

	// The connection stays usable once a session exists.
	f.sessions.Bind("anon", &session.Record{ID: "s-anon", Name: "anon"})
	m.Handle(execute("L1", liveNoteCount))
	assert.EqualValues(t, 0, data(t, rec.next(t, "L1"))["noteCount"])
}

func TestRejectedEnvelopes(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	tests := []struct {
		name string
		env  Envelope
		id   string
		code codes.Code
	}{
		{name: "missing id", env: Envelope{Type: TypeExecute, Payload: &livequery.Request{Query: "{ time }"}}, code: codes.InvalidArgument},
		{name: "missing payload", env: Envelope{Type: TypeExecute, ID: "p"}, id: "p", code: codes.InvalidArgument},
		{name: "syntax error", env: execute("s", "{ time"), id: "s", code: codes.InvalidArgument},
		{name: "unknown type", env: Envelope{Type: "bogus", ID: "u"}, id: "u", code: codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Handle(tt.env)
			msg := rec.next(t, tt.id)
			assert.Equal(t, TypeError, msg.Type)
			assert.Equal(t, tt.code.String(), msg.Code)
		})
	}
	assert.Equal(t, 0, m.Active())
}

func TestValidationErrorsAreResults(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("Q", "{ missingField }"))
	msg := rec.next(t, "Q")
	assert.Equal(t, TypeResult, msg.Type)
	assert.True(t, msg.Final)
	require.NotNil(t, msg.Payload)
	assert.NotEmpty(t, msg.Payload.Errors)
}

func TestSubscriptionForwardsEvents(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	m.Handle(execute("S1", "subscription { notesUpdates { kind noteId } }"))
	require.Eventually(t, func() bool { return f.notesUpdates.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.createNotes(t, 1)
	msg := rec.next(t, "S1")
	update, ok := data(t, msg)["notesUpdates"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "NOTE_CREATED", update["kind"])

	m.Stop("S1")
	assert.Eventually(t, func() bool { return f.notesUpdates.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPingAnsweredWithPong(t *testing.T) {
	f := newFixture(t)
	m, rec := f.mux(t, "c1", false)

	m.Handle(Envelope{Type: TypePing, PingId: 7})
	msg := rec.next(t, "")
	assert.Equal(t, TypePong, msg.Type)
	assert.EqualValues(t, 7, msg.PingId)
}
