package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer upgrades every request and hands the Conn to the test.
func echoServer(t *testing.T, opts Options) (*httptest.Server, <-chan *Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	up := NewUpgrader(opts)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestConnRoundTrip(t *testing.T) {
	srv, conns := echoServer(t, Options{})
	header := http.Header{}
	header.Set("User-Agent", "easel-test")
	header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	client := dial(t, srv, header)

	var conn *Conn
	select {
	case conn = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted the connection")
	}
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "easel-test", conn.Meta().UserAgent)
	assert.Equal(t, "203.0.113.9", conn.Meta().OriginalIP)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, client.WriteJSON(Frame{Event: "getboard", Data: []byte(`"sketch"`)}))

	select {
	case f := <-conn.Inbound():
		assert.Equal(t, "getboard", f.Event)
		assert.JSONEq(t, `"sketch"`, string(f.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("no inbound frame")
	}

	require.NoError(t, conn.Emit("broadcast", map[string]string{"id": "x"}))
	var out Frame
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, client.ReadJSON(&out))
	assert.Equal(t, "broadcast", out.Event)
	assert.JSONEq(t, `{"id":"x"}`, string(out.Data))

	require.NoError(t, client.Close())
	select {
	case _, ok := <-conn.Inbound():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("inbound not closed after client left")
	}
	assert.ErrorIs(t, conn.Emit("broadcast", nil), ErrClosed)
}

func TestUpgraderRejectsForeignOrigin(t *testing.T) {
	srv, _ := echoServer(t, Options{AllowedOrigins: []string{"https://easel.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://easel.example")
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = ws.Close()
}

func TestMetaFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", MetaFromRequest(r).OriginalIP)

	r.Header.Set("Forwarded", `for="[2001:db8::1]";proto=https, for=198.51.100.2`)
	assert.Equal(t, "2001:db8::1", MetaFromRequest(r).OriginalIP)
}
