package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/easel/internal/registry"
)

func statsServer(t *testing.T, status int, stats registry.Stats) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(stats)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStats(t *testing.T) {
	want := registry.Stats{
		Boards:  2,
		Members: 3,
		Detail: []registry.BoardStats{
			{Name: "alpha", Members: 2, Objects: 5},
			{Name: "beta", Members: 1, Objects: 0},
		},
	}
	srv := statsServer(t, http.StatusOK, want)

	got, raw, err := fetchStats(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Contains(t, string(raw), `"alpha"`)
}

func TestFetchStats_ServerError(t *testing.T) {
	srv := statsServer(t, http.StatusServiceUnavailable, registry.Stats{})

	_, _, err := fetchStats(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFetchStats_Unreachable(t *testing.T) {
	_, _, err := fetchStats(context.Background(), "http://127.0.0.1:9")
	assert.Error(t, err)
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	writeStats(&buf, registry.Stats{
		Boards:  1,
		Members: 2,
		Detail:  []registry.BoardStats{{Name: "alpha", Members: 2, Objects: 7}},
	})

	out := buf.String()
	assert.Contains(t, out, "Boards: 1. Members (non-unique): 2")
	assert.Contains(t, out, " -- alpha : 2 members, 7 objects")
}

func TestWriteStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	writeStats(&buf, registry.Stats{Detail: []registry.BoardStats{}})
	assert.Contains(t, buf.String(), "Boards: 0")
	assert.NotContains(t, buf.String(), " -- ")
}
