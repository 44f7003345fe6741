package gqlctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/livekit/services/splash"
	"github.com/panyam/livekit/session"
)

func TestBuildWithoutSession(t *testing.T) {
	b := &Builder{Sessions: session.NewMemoryStore()}
	_, err := b.Build("c1")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = (&Builder{}).Build("c1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBuildCopiesShared(t *testing.T) {
	sessions := session.NewMemoryStore()
	sessions.Bind("c1", &session.Record{ID: "s1", Name: "ada"})
	state := splash.New(nil)
	b := &Builder{Sessions: sessions, Shared: Shared{Splash: state}}

	v, err := b.Build("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", v.ConnID)
	assert.Equal(t, "ada", v.Session.Name)
	assert.Same(t, state, v.Splash)
}

func TestLazyCachesSuccessOnly(t *testing.T) {
	sessions := session.NewMemoryStore()
	l := NewLazy(&Builder{Sessions: sessions}, "c1")

	_, err := l.Get()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, l.Built())

	sessions.Bind("c1", &session.Record{ID: "s1", Name: "ada"})
	first, err := l.Get()
	require.NoError(t, err)
	assert.True(t, l.Built())

	// Built once for the life of the connection.
	sessions.Unbind("c1")
	second, err := l.Get()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	v := &Values{ConnID: "c1"}
	got, ok := From(With(context.Background(), v))
	require.True(t, ok)
	assert.Same(t, v, got)
}
