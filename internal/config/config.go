package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/easel/internal/admission"
	"github.com/dyluth/easel/internal/storage/s3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListen          = ":8080"
	DefaultNamespace       = "default"
	DefaultSendBuffer      = 256
	DefaultWindowMs        = 4096
	DefaultMaxEvents       = 192
	DefaultMaxDocumentSize = 1 << 20
	DefaultRedisURL        = "redis://localhost:6379/0"
)

// EaselConfig represents the top-level easel.yml configuration
type EaselConfig struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Admission AdmissionConfig `yaml:"admission"`
	Relay     RelayConfig     `yaml:"relay"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig specifies the HTTP/WebSocket listener
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	Namespace      string   `yaml:"namespace"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	SendBuffer     int      `yaml:"send_buffer,omitempty"` // Outbound frames queued per connection
}

// StoreConfig selects where boards are persisted between sessions
type StoreConfig struct {
	Backend  string   `yaml:"backend"` // memory, redis or s3
	RedisURL string   `yaml:"redis_url,omitempty"`
	S3       S3Config `yaml:"s3,omitempty"`
}

// S3Config specifies an S3-compatible bucket for board snapshots
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region,omitempty"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Insecure  bool   `yaml:"insecure,omitempty"`
}

// AdmissionConfig specifies per-connection admission limits
type AdmissionConfig struct {
	WindowMs        int      `yaml:"window_ms"`
	MaxEvents       int      `yaml:"max_events"`
	MaxDocumentSize int      `yaml:"max_document_size"`
	BlockedTools    []string `yaml:"blocked_tools,omitempty"`
}

// RelayConfig enables the Redis event relay used by `easel watch`
type RelayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig specifies logging
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *EaselConfig {
	c := &EaselConfig{Version: "1.0"}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values with defaults.
func (c *EaselConfig) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.Namespace == "" {
		c.Server.Namespace = DefaultNamespace
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
	if c.Store.RedisURL == "" && (c.Store.Backend == BackendRedis || c.Relay.Enabled) {
		c.Store.RedisURL = DefaultRedisURL
	}
	if c.Admission.WindowMs == 0 {
		c.Admission.WindowMs = DefaultWindowMs
	}
	if c.Admission.MaxEvents == 0 {
		c.Admission.MaxEvents = DefaultMaxEvents
	}
	if c.Admission.MaxDocumentSize == 0 {
		c.Admission.MaxDocumentSize = DefaultMaxDocumentSize
	}
}

// Validate performs strict validation on the configuration
func (c *EaselConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Server.SendBuffer < 1 {
		return fmt.Errorf("server.send_buffer must be >= 1, got %d", c.Server.SendBuffer)
	}
	if strings.ContainsAny(c.Server.Namespace, ":* ") {
		return fmt.Errorf("server.namespace %q must not contain ':', '*' or spaces", c.Server.Namespace)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
	case BackendS3:
		if c.Store.S3.Endpoint == "" {
			return fmt.Errorf("store.s3.endpoint is required for the s3 backend")
		}
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("store.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'memory', 'redis' or 's3')", c.Store.Backend)
	}

	if c.Relay.Enabled && c.Store.RedisURL == "" {
		return fmt.Errorf("relay.enabled requires store.redis_url")
	}

	if c.Admission.WindowMs < 1 {
		return fmt.Errorf("admission.window_ms must be >= 1, got %d", c.Admission.WindowMs)
	}
	if c.Admission.MaxEvents < 1 {
		return fmt.Errorf("admission.max_events must be >= 1, got %d", c.Admission.MaxEvents)
	}
	if c.Admission.MaxDocumentSize < 1 {
		return fmt.Errorf("admission.max_document_size must be >= 1, got %d", c.Admission.MaxDocumentSize)
	}
	for _, tool := range c.Admission.BlockedTools {
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("admission.blocked_tools must not contain empty entries")
		}
	}

	return nil
}

// AdmissionLimits converts the admission section.
func (c *EaselConfig) AdmissionLimits() admission.Config {
	return admission.Config{
		Window:          time.Duration(c.Admission.WindowMs) * time.Millisecond,
		MaxEvents:       c.Admission.MaxEvents,
		MaxDocumentSize: c.Admission.MaxDocumentSize,
		BlockedTools:    append([]string(nil), c.Admission.BlockedTools...),
	}
}

// S3Store converts the s3 section.
func (c *EaselConfig) S3Store() s3.Config {
	return s3.Config{
		Endpoint:  c.Store.S3.Endpoint,
		Region:    c.Store.S3.Region,
		Bucket:    c.Store.S3.Bucket,
		Prefix:    c.Store.S3.Prefix,
		AccessKey: c.Store.S3.AccessKey,
		SecretKey: c.Store.S3.SecretKey,
		Insecure:  c.Store.S3.Insecure,
	}
}

// Load reads and validates easel.yml from the specified path
func Load(path string) (*EaselConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config EaselConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
