package notes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/livekit/pubsub"
)

type recordingInvalidator struct {
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(ids ...string) int {
	r.calls = append(r.calls, ids)
	return 0
}

func newTestService(t *testing.T) (*Service, *recordingInvalidator, Deps) {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inv := &recordingInvalidator{}
	deps := Deps{
		NotesUpdates: pubsub.New[NotesUpdatesPayload]("notesUpdates"),
		NoteUpdate:   pubsub.New[NoteUpdatePayload]("noteUpdate"),
		Invalidator:  inv,
	}
	return NewService(db, deps), inv, deps
}

func TestCreateListCount(t *testing.T) {
	svc, inv, deps := newTestService(t)
	ctx := context.Background()
	updates := deps.NotesUpdates.Subscribe()
	defer updates.Cancel()

	n, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	a, err := svc.Create(ctx, "first", "a")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "second", "b")
	require.NoError(t, err)

	n, err = svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Title)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	payload, err := updates.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, NotesUpdatesPayload{Kind: KindCreated, NoteID: a.ID}, payload)

	require.Len(t, inv.calls, 2)
	assert.Equal(t, []string{CountField, ListField}, inv.calls[0])
}

func TestUpdateAndDelete(t *testing.T) {
	svc, inv, deps := newTestService(t)
	ctx := context.Background()
	noteUpdates := deps.NoteUpdate.Subscribe()
	defer noteUpdates.Cancel()

	n, err := svc.Create(ctx, "draft", "")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, n.ID, "final", "body")
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Title)
	assert.Equal(t, "body", updated.Content)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	payload, err := noteUpdates.Next(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, n.ID, payload.NoteID)
	require.NotNil(t, payload.Note)
	assert.Equal(t, "final", payload.Note.Title)

	require.NoError(t, svc.Delete(ctx, n.ID))
	assert.Equal(t, []string{CountField, ListField, Identifier(n.ID)}, inv.calls[len(inv.calls)-1])

	_, err = svc.Get(ctx, n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, n.ID), ErrNotFound)
	_, err = svc.Update(ctx, n.ID, "x", "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "Note:42", Identifier("42"))
}
