package cache

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxSize              = 64 << 20 // 64 MiB
	DefaultTTL                  = 5 * time.Minute
	DefaultCompressionThreshold = 1 << 10 // 1 KiB
	DefaultCleanupInterval      = time.Minute
	DefaultSyncInterval         = 5 * time.Minute
)

// Config configures a single-node cache. Zero values are safe; sane
// defaults are applied in New():
//   - MaxSize <= 0          => DefaultMaxSize
//   - DefaultTTL <= 0       => 5 minutes
//   - CleanupInterval <= 0  => 1 minute
//   - nil Metrics           => NoopMetrics
//   - nil Logger            => zap.NewNop()
//   - empty EvictionPolicy  => "lru"
type Config struct {
	// MaxSize is the byte budget for stored payloads. Inserts that would
	// exceed it trigger eviction according to EvictionPolicy.
	MaxSize int64 `yaml:"max_size"`

	// DefaultTTL applies when neither the Set call nor a matching pattern
	// specifies a TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// Compression. Payloads at or above CompressionThreshold bytes are
	// s2-compressed when compression is in effect for the entry.
	EnableCompression    bool `yaml:"enable_compression"`
	CompressionThreshold int  `yaml:"compression_threshold"`

	// Encryption (AES-GCM). EncryptionKey must be 16, 24 or 32 bytes when
	// encryption is in effect for any entry.
	EnableEncryption bool   `yaml:"enable_encryption"`
	EncryptionKey    []byte `yaml:"encryption_key"`

	// EvictionPolicy is one of lru, lfu, ttl, fifo.
	EvictionPolicy string `yaml:"eviction_policy"`

	// CleanupInterval is the period of the backstop sweep that removes
	// expired entries missed by their one-shot timers.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Best-effort persistence: snapshot to PersistPath every SyncInterval
	// and reload on construction. Not a durability guarantee.
	PersistToDisk bool          `yaml:"persist_to_disk"`
	PersistPath   string        `yaml:"persist_path"`
	SyncInterval  time.Duration `yaml:"sync_interval"`

	// Patterns are consulted in order at Set time for keys whose call
	// options leave TTL/tags/compression/encryption unspecified.
	Patterns []Pattern `yaml:"patterns"`

	// Observability and time injection (not configurable from YAML).
	Metrics Metrics     `yaml:"-"`
	Logger  *zap.Logger `yaml:"-"`
	Clock   Clock       `yaml:"-"`
}

// withDefaults returns a copy of c with defaults filled in.
func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.EvictionPolicy == "" {
		c.EvictionPolicy = "lru"
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// validate reports configuration errors that must fail construction.
func (c Config) validate() error {
	if c.EnableEncryption {
		switch len(c.EncryptionKey) {
		case 16, 24, 32:
		default:
			return ErrEncryptionKey
		}
	}
	if c.PersistToDisk && c.PersistPath == "" {
		return fmt.Errorf("cache: persist_to_disk requires persist_path")
	}
	return nil
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cache: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cache: parse config: %w", err)
	}
	return cfg, nil
}
