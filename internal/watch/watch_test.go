package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/easel/pkg/board"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    *board.Event
		expected string
	}{
		{
			name: "create with user object",
			event: &board.Event{
				Board: "sketch",
				User:  json.RawMessage(`{"name":"ada"}`),
				Data:  json.RawMessage(`{"type":"line","tool":"Pencil","id":"l1"}`),
			},
			expected: "🖊️ [sketch] line id=l1 tool=Pencil by=ada",
		},
		{
			name: "untyped create",
			event: &board.Event{
				Board: "sketch",
				Data:  json.RawMessage(`{"tool":"Text","id":"t1"}`),
			},
			expected: "🖊️ [sketch] create id=t1 tool=Text",
		},
		{
			name: "delete with string user",
			event: &board.Event{
				Board: "sketch",
				User:  json.RawMessage(`"grace"`),
				Data:  json.RawMessage(`{"type":"delete","tool":"Eraser","id":"l1"}`),
			},
			expected: "🗑️ [sketch] delete id=l1 tool=Eraser by=grace",
		},
		{
			name: "child",
			event: &board.Event{
				Board: "sketch",
				Data:  json.RawMessage(`{"type":"child","tool":"Pencil","parent":"l1"}`),
			},
			expected: "➕ [sketch] child parent=l1 tool=Pencil",
		},
		{
			name: "batch",
			event: &board.Event{
				Board: "sketch",
				Data:  json.RawMessage(`{"type":"array","tool":"Hand","events":[{"type":"delete","id":"a"},{"type":"delete","id":"b"}]}`),
			},
			expected: "📦 [sketch] array events=2 tool=Hand",
		},
		{
			name: "undecodable",
			event: &board.Event{
				Board:  "sketch",
				Origin: "conn-1",
				Data:   json.RawMessage(`[1,2]`),
			},
			expected: "⚠️  [sketch] undecodable mutation from conn-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatEvent(tt.event))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.ErrorContains(t, err, "unknown format: yaml")
}

func streamFixture(t *testing.T) (*board.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := board.NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// waitForSubscriber blocks until Stream has subscribed to boardName, or to
// every board when boardName is empty.
func waitForSubscriber(t *testing.T, mr *miniredis.Miniredis, boardName string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if boardName == "" {
			return mr.PubSubNumPat() > 0
		}
		channel := board.EventsChannel("test-ns", boardName)
		return mr.PubSubNumSub(channel)[channel] > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStreamDefaultFormat(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	client, mr := streamFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- Stream(ctx, client, "sketch", OutputFormatDefault, out) }()
	waitForSubscriber(t, mr, "sketch")

	created := time.Date(2026, 3, 4, 10, 11, 12, 0, time.UTC)
	require.NoError(t, client.Publish(ctx, &board.Event{
		ID:          "e1",
		Board:       "sketch",
		Origin:      "conn-1",
		Data:        json.RawMessage(`{"type":"update","tool":"Hand","id":"r1"}`),
		CreatedAtMs: created.UnixMilli(),
	}))
	// Other boards are not shown.
	require.NoError(t, client.Publish(ctx, &board.Event{ID: "e2", Board: "other", Data: json.RawMessage(`{"id":"x"}`)}))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "✏️ [sketch] update id=r1 tool=Hand")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "10:11:12.000 ")

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, out.String(), "[other]")
}

func TestStreamJSONAllBoards(t *testing.T) {
	client, mr := streamFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &lockedBuffer{}
	done := make(chan error, 1)
	go func() { done <- Stream(ctx, client, "", OutputFormatJSON, out) }()
	waitForSubscriber(t, mr, "")

	for _, name := range []string{"one", "two"} {
		require.NoError(t, client.Publish(ctx, &board.Event{ID: name, Board: name, Data: json.RawMessage(`{"id":"x"}`)}))
	}

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 2
	}, 5*time.Second, 10*time.Millisecond)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var first board.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "one", first.Board)

	cancel()
	require.NoError(t, <-done)
}
