package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/easel/pkg/board"
)

func getHealth(t *testing.T, s *Server) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req.WithContext(ctx))

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w, response
}

func TestHealthCheckEndpoint(t *testing.T) {
	t.Run("unhealthy when Redis unavailable", func(t *testing.T) {
		// Port 9 is the discard protocol: connections fail immediately.
		client, err := board.NewClient(&redis.Options{
			Addr:         "localhost:9",
			DialTimeout:  50 * time.Millisecond,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
			MaxRetries:   -1,
		}, "test", nil)
		require.NoError(t, err)
		defer client.Close()

		s, _ := newTestServer(t, client)
		w, response := getHealth(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "disconnected", response.Store)
		assert.NotEmpty(t, response.Error)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("healthy with Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test", nil)
		require.NoError(t, err)
		defer client.Close()

		s, _ := newTestServer(t, client)
		w, response := getHealth(t, s)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "connected", response.Store)
	})

	t.Run("memory store has nothing to ping", func(t *testing.T) {
		s, _ := newTestServer(t, board.NewMemoryStore())
		w, response := getHealth(t, s)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", response.Status)
		assert.Empty(t, response.Store)
	})
}

func TestHealthCheckMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, board.NewMemoryStore())
	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
