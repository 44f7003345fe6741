package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.Operation("live", "ok")
		m.LiveRegistered()
		m.LiveReleased()
		m.ReExecution("stale")
		m.Published("notes")
		m.Dropped("notes")
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ReExecution("stale")
	m.ReExecution("stale")
	m.Dropped("chat")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReExecutions.WithLabelValues("stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelDropped.WithLabelValues("chat")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Operation("one-shot", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `livekit_operations_total{mode="one-shot",outcome="ok"} 1`))
}
