package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/easel/internal/config"
	"github.com/dyluth/easel/pkg/board"
)

func resetViper(t *testing.T) {
	t.Helper()
	t.Cleanup(viper.Reset)
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := loadServeConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.False(t, cfg.Relay.Enabled)
	assert.Empty(t, cfg.Store.RedisURL)
}

func TestLoadServeConfig_FlagOverrides(t *testing.T) {
	resetViper(t)
	viper.Set(serveListenKey, ":9999")
	viper.Set(serveStoreKey, config.BackendRedis)
	viper.Set(serveRelayKey, true)
	viper.Set(serveNamespaceKey, "team")

	cfg, err := loadServeConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, config.BackendRedis, cfg.Store.Backend)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "team", cfg.Server.Namespace)
	assert.Equal(t, config.DefaultRedisURL, cfg.Store.RedisURL)
}

func TestLoadServeConfig_FileThenOverride(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "easel.yml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
server:
  listen: ":7000"
  namespace: "fromfile"
admission:
  max_events: 10
`), 0o600))
	viper.Set(serveConfigKey, path)
	viper.Set(serveNamespaceKey, "fromflag")

	cfg, err := loadServeConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Listen)
	assert.Equal(t, "fromflag", cfg.Server.Namespace)
	assert.Equal(t, 10, cfg.Admission.MaxEvents)
}

func TestLoadServeConfig_Invalid(t *testing.T) {
	resetViper(t)
	viper.Set(serveStoreKey, "postgres")

	_, err := loadServeConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store.backend")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(context.Background(), "debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(context.Background(), "chatty")
	assert.Error(t, err)
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.Default()

	store, relay, closer, err := openStore(cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	assert.IsType(t, &board.MemoryStore{}, store)
	assert.Nil(t, relay)
}

func TestOpenStore_RedisWithRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.Relay.Enabled = true

	store, relay, closer, err := openStore(cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	client, ok := store.(*board.Client)
	require.True(t, ok)
	assert.Same(t, client, relay)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestOpenStore_MemoryWithRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Store.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.Relay.Enabled = true

	store, relay, closer, err := openStore(cfg, nil)
	require.NoError(t, err)
	defer closer.Close()

	assert.IsType(t, &board.MemoryStore{}, store)
	require.NotNil(t, relay)
	assert.NoError(t, relay.Ping(context.Background()))
}

func TestOpenStore_BadRedisURL(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.RedisURL = "not-a-url"

	_, _, _, err := openStore(cfg, nil)
	assert.Error(t, err)
}
