package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BoardLoaded(1)
		m.BoardEvicted(0, nil)
		m.SessionOpened()
		m.SessionClosed()
		m.EventAdmitted()
		m.EventRejected("rate_limited")
		m.EventInvalid()
		m.HandlerFault()
	})
	assert.Nil(t, m.Registry())
}

func TestCollectors(t *testing.T) {
	m := New()
	m.BoardLoaded(1)
	m.BoardLoaded(2)
	m.BoardEvicted(1, nil)
	m.BoardEvicted(0, errors.New("boom"))
	m.EventRejected("tool_blocked")
	m.EventRejected("tool_blocked")
	m.EventAdmitted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.boardLoads))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.residentBoards))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boardSaves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boardSaves.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues("tool_blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsAdmitted))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "easel_sessions 1")
}
