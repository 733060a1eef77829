package graphstore

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var identityIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("identityid", validateIdentityIDField)
}

func validateIdentityIDField(fl validator.FieldLevel) bool {
	return identityIDRegex.MatchString(fl.Field().String())
}

// Config selects and tunes the Graph Store backend.
type Config struct {
	// Backend is "memory", "sqlite" (default) or "rocksdb" (requires the
	// rocksdb build tag).
	Backend string `json:"backend" validate:"required,oneof=memory sqlite rocksdb"`

	SQLite  SQLiteConfig  `json:"sqlite" validate:"required_if=Backend sqlite"`
	RocksDB RocksDBConfig `json:"rocksdb" validate:"required_if=Backend rocksdb"`

	Cache CacheConfig `json:"cache"`
}

// SQLiteConfig configures the modernc.org/sqlite-backed store.
type SQLiteConfig struct {
	Path string `json:"path" validate:"required"`
}

// RocksDBConfig configures the optional RocksDB-backed store, one column
// family per index named in §4.1.
type RocksDBConfig struct {
	Path                  string `json:"path" validate:"required"`
	BlockCacheSizeMB      int    `json:"block_cache_size_mb" validate:"min=0"`
	BloomFilterBitsPerKey int    `json:"bloom_filter_bits_per_key" validate:"min=0"`
}

// CacheConfig holds a size setting for the rank LRU cache. Nothing reads
// RankCacheSize: the score engine's computeRankFromScratch cache always
// has the fixed size scoreengine.rankCacheSize (4096).
type CacheConfig struct {
	RankCacheSize int `json:"rank_cache_size" validate:"min=0"`
}

// DefaultConfig returns the default SQLite-backed configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: "sqlite",
		SQLite: SQLiteConfig{
			Path: "./data/wot.db",
		},
		RocksDB: RocksDBConfig{
			Path:                  "./data/wot-rocksdb",
			BlockCacheSizeMB:      64,
			BloomFilterBitsPerKey: 10,
		},
		Cache: CacheConfig{
			RankCacheSize: 4096,
		},
	}
}

func (c *Config) Validate() error {
	return validate.Struct(c)
}

// TransactionConflictBackoff is the bounded exponential backoff schedule
// applied when a write transaction collides, per §7's TransactionConflict
// handling.
var TransactionConflictBackoff = []time.Duration{
	10 * time.Millisecond,
	40 * time.Millisecond,
	160 * time.Millisecond,
	640 * time.Millisecond,
}
