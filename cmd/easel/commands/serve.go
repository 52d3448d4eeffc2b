package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/clock"
	"github.com/dyluth/easel/internal/config"
	"github.com/dyluth/easel/internal/fanout"
	"github.com/dyluth/easel/internal/metrics"
	"github.com/dyluth/easel/internal/mutation"
	"github.com/dyluth/easel/internal/printer"
	"github.com/dyluth/easel/internal/registry"
	"github.com/dyluth/easel/internal/server"
	"github.com/dyluth/easel/internal/session"
	"github.com/dyluth/easel/internal/storage/s3"
	"github.com/dyluth/easel/internal/transport"
	"github.com/dyluth/easel/pkg/board"
)

const (
	serveConfigKey    = "config"
	serveListenKey    = "listen"
	serveNamespaceKey = "namespace"
	serveStoreKey     = "store"
	serveRedisURLKey  = "redis-url"
	serveRelayKey     = "relay"
	serveLogLevelKey  = "log-level"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the whiteboard sync server",
	Long: `Run the whiteboard sync server.

Settings come from an optional easel.yml (--config), then EASEL_* environment
variables, then flags. Logging honours EASEL_LOG_* variables.

Examples:
  # In-memory boards on :8080
  easel serve

  # Persist boards in Redis and relay events for 'easel watch'
  easel serve --store redis --redis-url redis://localhost:6379/0 --relay`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP(serveConfigKey, "c", "", "Path to easel.yml")
	f.String(serveListenKey, "", "Listen address (default "+config.DefaultListen+")")
	f.String(serveNamespaceKey, "", "Key namespace for Redis storage and relay")
	f.String(serveStoreKey, "", "Board store backend: memory, redis or s3")
	f.String(serveRedisURLKey, "", "Redis URL for the redis store and the relay")
	f.Bool(serveRelayKey, false, "Publish accepted mutations to Redis for 'easel watch'")
	f.String(serveLogLevelKey, "", "Log level (trace, debug, info, warn, error)")

	mustBindFlag(serveConfigKey, "EASEL_CONFIG", f.Lookup(serveConfigKey))
	mustBindFlag(serveListenKey, "EASEL_LISTEN", f.Lookup(serveListenKey))
	mustBindFlag(serveNamespaceKey, "EASEL_NAMESPACE", f.Lookup(serveNamespaceKey))
	mustBindFlag(serveStoreKey, "EASEL_STORE", f.Lookup(serveStoreKey))
	mustBindFlag(serveRedisURLKey, "EASEL_REDIS_URL", f.Lookup(serveRedisURLKey))
	mustBindFlag(serveRelayKey, "EASEL_RELAY", f.Lookup(serveRelayKey))
	mustBindFlag(serveLogLevelKey, "EASEL_LOG_LEVEL", f.Lookup(serveLogLevelKey))

	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig merges the config file with environment and flag
// overrides, then validates the result.
func loadServeConfig() (*config.EaselConfig, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(viper.GetString(serveConfigKey)); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if viper.IsSet(serveListenKey) {
		cfg.Server.Listen = viper.GetString(serveListenKey)
	}
	if viper.IsSet(serveNamespaceKey) {
		cfg.Server.Namespace = viper.GetString(serveNamespaceKey)
	}
	if viper.IsSet(serveStoreKey) {
		cfg.Store.Backend = viper.GetString(serveStoreKey)
	}
	if viper.IsSet(serveRedisURLKey) {
		cfg.Store.RedisURL = viper.GetString(serveRedisURLKey)
	}
	if viper.IsSet(serveRelayKey) {
		cfg.Relay.Enabled = viper.GetBool(serveRelayKey)
	}
	if viper.IsSet(serveLogLevelKey) {
		cfg.Log.Level = viper.GetString(serveLogLevelKey)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(ctx context.Context, level string) (pslog.Logger, error) {
	logger := pslog.LoggerFromEnv(ctx,
		pslog.WithEnvPrefix("EASEL_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "easel")
	if level == "" {
		return logger, nil
	}
	parsed, ok := pslog.ParseLevel(level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return logger.LogLevel(parsed), nil
}

// openStore builds the configured board store. The returned closer releases
// backend connections; relay is non-nil only when the relay is enabled.
func openStore(cfg *config.EaselConfig, logger pslog.Logger) (board.Store, *board.Client, io.Closer, error) {
	var redisClient *board.Client
	if cfg.Store.Backend == config.BackendRedis || cfg.Relay.Enabled {
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient, err = board.NewClient(opts, cfg.Server.Namespace, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create board client: %w", err)
		}
	}
	closer := io.Closer(nopCloser{})
	if redisClient != nil {
		closer = redisClient
	}

	var relay *board.Client
	if cfg.Relay.Enabled {
		relay = redisClient
	}

	switch cfg.Store.Backend {
	case config.BackendRedis:
		return redisClient, relay, closer, nil
	case config.BackendS3:
		store, err := s3.New(cfg.S3Store(), logger)
		if err != nil {
			_ = closer.Close()
			return nil, nil, nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		return store, relay, closer, nil
	default:
		return board.NewMemoryStore(), relay, closer, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{"Check easel.yml and the EASEL_* environment variables"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(ctx, cfg.Log.Level)
	if err != nil {
		return printer.Error("invalid log level", err.Error(), []string{"Valid levels: trace, debug, info, warn, error"})
	}

	store, relay, closer, err := openStore(cfg, logger)
	if err != nil {
		return printer.Error("failed to open board store", err.Error(), nil)
	}
	defer closer.Close()

	if pinger, ok := store.(board.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return printer.ErrorWithContext(
				"board store unreachable",
				err.Error(),
				map[string]string{"Backend": cfg.Store.Backend},
				[]string{"Check that the store is running and reachable"},
			)
		}
	}

	m := metrics.New()
	clk := clock.Real{}
	rooms := transport.NewRooms(logger)
	var publisher fanout.Publisher
	if relay != nil {
		publisher = relay
	}
	reg := registry.New(store, logger, m)
	sessions := session.NewHandler(session.Config{
		Registry:  reg,
		Router:    mutation.NewRouter(),
		Fanout:    fanout.New(rooms, publisher, clk, logger),
		Rooms:     rooms,
		Admission: cfg.AdmissionLimits(),
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
	})
	srv := server.New(server.Config{
		Addr:     cfg.Server.Listen,
		Sessions: sessions,
		Upgrader: transport.NewUpgrader(transport.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			SendBuffer:     cfg.Server.SendBuffer,
			Logger:         logger,
		}),
		Registry: reg,
		Store:    store,
		Metrics:  m,
		Logger:   logger,
	})

	printer.Success("easel %s serving on %s (store: %s, relay: %t)\n", version, cfg.Server.Listen, cfg.Store.Backend, cfg.Relay.Enabled)
	if err := srv.ListenAndServe(ctx); err != nil {
		return printer.Error("server stopped with an error", err.Error(), nil)
	}
	printer.Step("boards saved, bye\n")
	return nil
}
