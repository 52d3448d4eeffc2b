package s3

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/easel/pkg/board"
)

func setupFakeS3(t *testing.T) Config {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)
	bucket := "easel-test"
	require.NoError(t, backend.CreateBucket(bucket))
	return Config{
		Endpoint:  strings.TrimPrefix(server.URL, "http://"),
		Region:    "us-east-1",
		Bucket:    bucket,
		Prefix:    "/boards/",
		AccessKey: "test",
		SecretKey: "test",
		Insecure:  true,
	}
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store, err := New(setupFakeS3(t), nil)
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	empty, err := store.Load(ctx, "never saved")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	b := board.New("team/sketch 1")
	b.Set("d1", json.RawMessage(`{"id":"d1","type":"doc"}`))
	b.Set("l1", json.RawMessage(`{"id":"l1","type":"line"}`))
	b.SetBackground(json.RawMessage(`{"grid":true}`))
	require.NoError(t, store.Save(ctx, b))

	loaded, err := store.Load(ctx, "team/sketch 1")
	require.NoError(t, err)
	assert.Equal(t, "team/sketch 1", loaded.Name())
	assert.Equal(t, 2, loaded.Len())
	assert.JSONEq(t, `{"grid":true}`, string(loaded.Background()))
	assert.Equal(t, 1, loaded.ImageCount())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Bucket: "b"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	s := &Store{cfg: Config{Prefix: "boards"}}
	assert.Equal(t, "boards/a%2Fb.json", s.objectKey("a/b"))
	s.cfg.Prefix = ""
	assert.Equal(t, "plain.json", s.objectKey("plain"))
}

func TestPingMissingBucket(t *testing.T) {
	cfg := setupFakeS3(t)
	cfg.Bucket = "absent"
	store, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, store.Ping(context.Background()))
}
