package board

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardSetGetDelete(t *testing.T) {
	b := New("sketch")
	assert.Equal(t, "sketch", b.Name())

	b.Set("a1", json.RawMessage(`{"id":"a1","type":"line"}`))
	obj, ok := b.Get("a1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"a1","type":"line"}`, string(obj))

	prior, ok := b.Delete("a1")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"a1","type":"line"}`, string(prior))

	_, ok = b.Get("a1")
	assert.False(t, ok)

	prior, ok = b.Delete("a1")
	assert.False(t, ok)
	assert.Nil(t, prior)
}

func TestBoardUpdate(t *testing.T) {
	b := New("sketch")
	b.Set("r1", json.RawMessage(`{"id":"r1","type":"rect","x":1,"y":2,"color":"#000"}`))

	err := b.Update("r1", json.RawMessage(`{"type":"update","tool":"Hand","id":"r1","x":10,"transform":{"a":1}}`))
	require.NoError(t, err)

	obj, _ := b.Get("r1")
	assert.JSONEq(t, `{"id":"r1","type":"rect","x":10,"y":2,"color":"#000","transform":{"a":1}}`, string(obj))

	t.Run("missing object", func(t *testing.T) {
		err := b.Update("nope", json.RawMessage(`{"x":1}`))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("non-object patch", func(t *testing.T) {
		err := b.Update("r1", json.RawMessage(`[1,2]`))
		assert.ErrorIs(t, err, ErrNotObject)
	})

	t.Run("fields are overwritten, not merged", func(t *testing.T) {
		b.Set("r2", json.RawMessage(`{"id":"r2","color":"red","style":{"w":1,"h":2}}`))
		require.NoError(t, b.Update("r2", json.RawMessage(`{"color":null,"style":{"w":5}}`)))

		obj, _ := b.Get("r2")
		assert.JSONEq(t, `{"id":"r2","color":null,"style":{"w":5}}`, string(obj))
	})

	t.Run("keys needing pointer escapes", func(t *testing.T) {
		b.Set("r3", json.RawMessage(`{"id":"r3"}`))
		require.NoError(t, b.Update("r3", json.RawMessage(`{"a/b":1,"c~d":2}`)))

		obj, _ := b.Get("r3")
		assert.JSONEq(t, `{"id":"r3","a/b":1,"c~d":2}`, string(obj))
	})
}

func TestBoardAddChild(t *testing.T) {
	b := New("sketch")
	b.Set("p", json.RawMessage(`{"id":"p","type":"line"}`))

	require.NoError(t, b.AddChild("p", json.RawMessage(`{"x":1,"y":1}`)))
	require.NoError(t, b.AddChild("p", json.RawMessage(`{"x":2,"y":2}`)))

	obj, _ := b.Get("p")
	assert.JSONEq(t, `{"id":"p","type":"line","_children":[{"x":1,"y":1},{"x":2,"y":2}]}`, string(obj))

	assert.ErrorIs(t, b.AddChild("missing", json.RawMessage(`{}`)), ErrNotFound)
}

func TestBoardClearAllAndAll(t *testing.T) {
	b := New("sketch")
	b.Set("b", json.RawMessage(`{"id":"b"}`))
	b.Set("a", json.RawMessage(`{"id":"a"}`))

	all := b.All()
	require.Len(t, all, 2)
	assert.JSONEq(t, `{"id":"a"}`, string(all[0]))
	assert.Equal(t, 2, b.Len())

	b.ClearAll()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.All())
}

func TestBoardSnapshotRoundTrip(t *testing.T) {
	b := New("sketch")
	b.Set("d1", json.RawMessage(`{"id":"d1","type":"doc"}`))
	b.Set("l1", json.RawMessage(`{"id":"l1","type":"line"}`))
	b.SetBackground(json.RawMessage(`{"color":"white"}`))

	snap := b.Snapshot()
	assert.Equal(t, 1, b.ImageCount())

	restored := FromSnapshot(snap)
	assert.Equal(t, "sketch", restored.Name())
	assert.Equal(t, 2, restored.Len())
	assert.JSONEq(t, `{"color":"white"}`, string(restored.Background()))

	// Snapshots are copies.
	b.ClearAll()
	assert.Equal(t, 2, restored.Len())
}

func TestIsDocument(t *testing.T) {
	assert.True(t, IsDocument(json.RawMessage(`{"type":"doc"}`)))
	assert.False(t, IsDocument(json.RawMessage(`{"type":"line"}`)))
	assert.False(t, IsDocument(json.RawMessage(`not json`)))
}
