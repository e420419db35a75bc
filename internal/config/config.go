// Package config declares the chuncker configuration shape and loads it
// from a JSON file with environment variable overrides. Loading is a
// collaborator concern; this package only declares the shape and the
// load mechanics, never global state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Chunking holds the adaptive chunk-size policy and compression settings.
type Chunking struct {
	MinChunkSizeInBytes     int64 `json:"minChunkSizeInBytes"`
	MaxChunkSizeInBytes     int64 `json:"maxChunkSizeInBytes"`
	DefaultChunkSizeInBytes int64 `json:"defaultChunkSizeInBytes"`
	CompressionEnabled      bool  `json:"compressionEnabled"`
	CompressionLevel        int   `json:"compressionLevel"`
	ChecksumAlgorithm       string `json:"checksumAlgorithm"`
	MaxParallelTasks        int   `json:"maxParallelTasks"`
}

// ProviderConfig is one entry in the ordered provider list. Order fixes
// round-robin placement order.
type ProviderConfig struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"` // "local" | "gridfs" | "s3" | "azureblob"
	Params map[string]string `json:"params"`
}

// Store holds document-store connection and collection naming.
type Store struct {
	ConnectionString string `json:"connectionString"`
	Database         string `json:"database"`
	FilesCollection  string `json:"filesCollection"`
	ChunksCollection string `json:"chunksCollection"`
	LogsCollection   string `json:"logsCollection"`
	LogsTTLDays      int    `json:"logsTtlDays"`
}

// Cache holds cache layer tuning.
type Cache struct {
	ConnectionString    string `json:"connectionString"`
	DefaultExpiryMinutes int   `json:"defaultExpiryInMinutes"`
	DeleteBatchMax       int   `json:"deleteBatchMax"`
	DeleteBatchCooldownMs int  `json:"deleteBatchCooldownMs"`
}

// TTL returns the cache's default expiry as a time.Duration.
func (c Cache) TTL() time.Duration {
	return time.Duration(c.DefaultExpiryMinutes) * time.Minute
}

// DeleteCooldown returns the cache's batched-delete cooldown as a
// time.Duration.
func (c Cache) DeleteCooldown() time.Duration {
	return time.Duration(c.DeleteBatchCooldownMs) * time.Millisecond
}

// Config is the complete declarative configuration for one chuncker
// process.
type Config struct {
	Chunking  Chunking         `json:"chunking"`
	Providers []ProviderConfig `json:"providers"`
	Store     Store            `json:"store"`
	Cache     Cache            `json:"cache"`
}

// Default returns the configuration defaults named in spec §6.
func Default() Config {
	return Config{
		Chunking: Chunking{
			MinChunkSizeInBytes:     32 * 1024,
			MaxChunkSizeInBytes:     4 * 1024 * 1024,
			DefaultChunkSizeInBytes: 1024 * 1024,
			CompressionEnabled:      true,
			CompressionLevel:        6,
			ChecksumAlgorithm:       "SHA256",
			MaxParallelTasks:        4,
		},
		Store: Store{
			FilesCollection:  "files",
			ChunksCollection: "chunks",
			LogsCollection:   "logs",
			LogsTTLDays:      30,
		},
		Cache: Cache{
			DefaultExpiryMinutes:  30,
			DeleteBatchMax:        100,
			DeleteBatchCooldownMs: 50,
		},
	}
}

// Load reads a JSON configuration file, applies defaults for unset
// fields, then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

// applyEnvOverrides reads a small set of CHUNCKER_* environment variables
// that operators commonly need to override without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHUNCKER_STORE_CONNECTION_STRING"); v != "" {
		cfg.Store.ConnectionString = v
	}
	if v := os.Getenv("CHUNCKER_CACHE_CONNECTION_STRING"); v != "" {
		cfg.Cache.ConnectionString = v
	}
	if v := os.Getenv("CHUNCKER_MAX_PARALLEL_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Chunking.MaxParallelTasks = n
		}
	}
}

// Validate checks invariants that must hold before the config is used to
// construct components.
func (c Config) Validate() error {
	if c.Chunking.MinChunkSizeInBytes <= 0 {
		return fmt.Errorf("chunking.minChunkSizeInBytes must be positive")
	}
	if c.Chunking.MaxChunkSizeInBytes < c.Chunking.MinChunkSizeInBytes {
		return fmt.Errorf("chunking.maxChunkSizeInBytes must be >= minChunkSizeInBytes")
	}
	if c.Chunking.MaxParallelTasks <= 0 {
		return fmt.Errorf("chunking.maxParallelTasks must be positive")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one storage provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider entries must have a non-empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
