package schema

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/pubsub"
	"github.com/panyam/livekit/services/chat"
	"github.com/panyam/livekit/services/notes"
	"github.com/panyam/livekit/services/splash"
	"github.com/panyam/livekit/services/user"
	"github.com/panyam/livekit/session"
)

type harness struct {
	exec   livequery.ExecuteFunc
	values *gqlctx.Values
}

func newHarness(t *testing.T, role string) *harness {
	t.Helper()
	s, err := New()
	require.NoError(t, err)

	db, err := notes.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &harness{
		exec: livequery.SchemaExecutor(s),
		values: &gqlctx.Values{
			ConnID:       "c1",
			Session:      &session.Record{ID: "s1", Name: "ada", Role: role},
			Chat:         chat.New(0, nil, nil),
			Users:        user.NewPresence(user.Hooks{}, nil),
			Notes:        notes.NewService(db, notes.Deps{}),
			Splash:       splash.New(nil),
			NotesUpdates: pubsub.New[notes.NotesUpdatesPayload]("notesUpdates"),
			NoteUpdate:   pubsub.New[notes.NoteUpdatePayload]("noteUpdate"),
			ChatMessages: pubsub.New[chat.Message]("chatMessages"),
		},
	}
}

func (h *harness) do(t *testing.T, query string, vars map[string]interface{}) *graphql.Result {
	t.Helper()
	ctx := gqlctx.With(context.Background(), h.values)
	return h.exec(ctx, livequery.Request{Query: query, Variables: vars})
}

func (h *harness) data(t *testing.T, query string, vars map[string]interface{}) map[string]interface{} {
	t.Helper()
	res := h.do(t, query, vars)
	require.Empty(t, res.Errors)
	d, ok := res.Data.(map[string]interface{})
	require.True(t, ok)
	return d
}

func TestNotesRoundTrip(t *testing.T) {
	h := newHarness(t, "")

	d := h.data(t, `mutation { addNote(title: "first", content: "hello") { id title content } }`, nil)
	added := d["addNote"].(map[string]interface{})
	assert.Equal(t, "first", added["title"])
	id := added["id"].(string)

	d = h.data(t, `{ noteCount notes { id } }`, nil)
	assert.EqualValues(t, 1, d["noteCount"])
	assert.Len(t, d["notes"], 1)

	d = h.data(t, `query Get($id: ID!) { note(id: $id) { title } }`, map[string]interface{}{"id": id})
	assert.Equal(t, "first", d["note"].(map[string]interface{})["title"])

	d = h.data(t, `mutation Del($id: ID!) { deleteNote(id: $id) }`, map[string]interface{}{"id": id})
	assert.Equal(t, true, d["deleteNote"])

	d = h.data(t, `query Get($id: ID!) { note(id: $id) { title } }`, map[string]interface{}{"id": id})
	assert.Nil(t, d["note"])
}

func TestMeAndChat(t *testing.T) {
	h := newHarness(t, "")

	d := h.data(t, `{ me { name } }`, nil)
	assert.Equal(t, "ada", d["me"].(map[string]interface{})["name"])

	d = h.data(t, `mutation { sendMessage(content: "hi") { authorName rawContent isOperational } }`, nil)
	msg := d["sendMessage"].(map[string]interface{})
	assert.Equal(t, "ada", msg["authorName"])
	assert.Equal(t, false, msg["isOperational"])

	d = h.data(t, `{ chat { rawContent } }`, nil)
	assert.Len(t, d["chat"], 1)

	res := h.do(t, `mutation { sendMessage(content: "") { id } }`, nil)
	assert.NotEmpty(t, res.Errors)
}

func TestSplashImageRequiresAdmin(t *testing.T) {
	h := newHarness(t, "")
	res := h.do(t, `mutation { setSplashImage(url: "https://example.com/a.png") }`, nil)
	assert.NotEmpty(t, res.Errors)
	assert.Nil(t, h.data(t, `{ splashImage }`, nil)["splashImage"])

	admin := newHarness(t, "admin")
	admin.data(t, `mutation { setSplashImage(url: "https://example.com/a.png") }`, nil)
	assert.Equal(t, "https://example.com/a.png", admin.data(t, `{ splashImage }`, nil)["splashImage"])
}

func TestLiveDirectiveAccepted(t *testing.T) {
	h := newHarness(t, "")
	d := h.data(t, `query @live { noteCount }`, nil)
	assert.EqualValues(t, 0, d["noteCount"])
}

func TestWithoutContext(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	res := livequery.SchemaExecutor(s)(context.Background(), livequery.Request{Query: "{ noteCount }"})
	assert.NotEmpty(t, res.Errors)

	// Fields that need no collaborators still resolve.
	res = livequery.SchemaExecutor(s)(context.Background(), livequery.Request{Query: "{ time }"})
	assert.Empty(t, res.Errors)
}

func TestLiveNoteListFollowsUpdatesWithoutSelectingID(t *testing.T) {
	h := newHarness(t, "")
	store := livequery.NewStore(h.exec, pubsub.New[livequery.Invalidation]("invalidations"))
	defer store.Close()

	db, err := notes.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	h.values.Notes = notes.NewService(db, notes.Deps{Invalidator: store})

	ctx := context.Background()
	n, err := h.values.Notes.Create(ctx, "draft", "body")
	require.NoError(t, err)

	stream, err := store.Execute(gqlctx.With(ctx, h.values), "c1/L1",
		livequery.Request{Query: `query @live { notes { title } }`})
	require.NoError(t, err)
	defer stream.Cancel()

	next := func() []interface{} {
		t.Helper()
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		res, err := stream.Next(ctx)
		require.NoError(t, err)
		require.Empty(t, res.Errors)
		return res.Data.(map[string]interface{})["notes"].([]interface{})
	}
	list := next()
	require.Len(t, list, 1)
	assert.Equal(t, "draft", list[0].(map[string]interface{})["title"])

	_, err = h.values.Notes.Update(ctx, n.ID, "final", "body")
	require.NoError(t, err)
	list = next()
	require.Len(t, list, 1)
	assert.Equal(t, "final", list[0].(map[string]interface{})["title"])
}
