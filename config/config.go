// Package config loads the configuration surface described in spec §6
// from a TOML file. Bendo declares BurntSushi/toml in its go.mod but never
// calls it; here it finally does the job it was brought in for.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/weaveserver/syncstorage/bso"
)

// Shard describes one physical database shard.
type Shard struct {
	DSN            string `toml:"dsn"`
	MaxConnections int    `toml:"max_connections"`
}

// Config is the full configuration surface. Zero values are valid
// defaults where noted.
type Config struct {
	// Port the server listens on.
	Port string `toml:"port"`

	// Shards is the list of physical databases, indexed 0..N-1. UserID
	// mod len(Shards) selects the shard a user's rows live on. A single
	// entry means no sharding.
	Shards []Shard `toml:"shard"`

	// Driver selects the SQL backend: "mysql" or "ql". "ql" is intended
	// for local development and tests; it needs no Shards configured and
	// keeps everything in an embedded, optionally in-memory, database.
	Driver string `toml:"driver"`

	// CacheBackendURI is accepted in the configuration file but nothing
	// reads it: the collection cache is always in-process (see cache.New).
	CacheBackendURI string `toml:"cache_backend_uri"`

	// DefaultQuotaKB is the per-user quota in kilobytes applied to users
	// with no explicit override. Zero means unlimited.
	DefaultQuotaKB int64 `toml:"default_quota_kb"`

	// EphemeralCollections lists collection names that are memory
	// resident only (spec §4.3's "tabs" special case, generalized).
	EphemeralCollections []string `toml:"ephemeral_collections"`

	// DailyWriteCapBytes bounds how many payload bytes one user may
	// write per rolling day before writes start failing "server busy"
	// (spec §4.3).
	DailyWriteCapBytes int64 `toml:"daily_write_cap_bytes"`

	// CollectionCacheSize bounds how many users' collection-cache entries
	// are held in memory at once (LRU eviction beyond this).
	CollectionCacheSize int `toml:"collection_cache_size"`

	// WriteTransactionTimeoutSeconds is loaded from the file (default 30)
	// but no component reads it: write transactions are not bounded in
	// time and are never rolled back on account of their duration.
	WriteTransactionTimeoutSeconds int `toml:"write_transaction_timeout_seconds"`

	BSOLimits bso.Limits `toml:"-"`

	MaxPayloadBytes int `toml:"max_payload_bytes"`
	MaxPostBytes    int `toml:"max_post_bytes"`
	MaxPostRecords  int `toml:"max_post_records"`
	MaxTotalBytes   int `toml:"max_total_bytes"`
	MaxTotalRecords int `toml:"max_total_records"`
	MaxRecordIDSize int `toml:"max_record_id_size"`
}

// Default returns a Config usable for local development: a single
// embedded "ql" shard, no quota, no ephemeral collections.
func Default() Config {
	limits := bso.DefaultLimits
	cfg := Config{
		Port:                           "8000",
		Driver:                         "ql",
		CollectionCacheSize:            10000,
		WriteTransactionTimeoutSeconds: 30,
		MaxPayloadBytes:                limits.MaxPayloadBytes,
		MaxPostBytes:                   limits.MaxPostBytes,
		MaxPostRecords:                 limits.MaxPostRecords,
		MaxTotalBytes:                  limits.MaxTotalBytes,
		MaxTotalRecords:                limits.MaxTotalRecords,
		MaxRecordIDSize:                limits.MaxRecordIDSize,
	}
	cfg.normalize()
	return cfg
}

// Load reads and parses a TOML configuration file, filling in any field
// left zero with its Default() value.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.BSOLimits = bso.Limits{
		MaxPayloadBytes: c.MaxPayloadBytes,
		MaxPostBytes:    c.MaxPostBytes,
		MaxPostRecords:  c.MaxPostRecords,
		MaxTotalBytes:   c.MaxTotalBytes,
		MaxTotalRecords: c.MaxTotalRecords,
		MaxRecordIDSize: c.MaxRecordIDSize,
	}
}

// IsEphemeral reports whether name is configured as a memory-resident
// collection.
func (c Config) IsEphemeral(name string) bool {
	for _, n := range c.EphemeralCollections {
		if n == name {
			return true
		}
	}
	return false
}

// ShardFor returns the index into Shards that owns userID.
func ShardFor(userID int64, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	m := userID % int64(numShards)
	if m < 0 {
		m += int64(numShards)
	}
	return int(m)
}
