package graphstore

import "fmt"

// Open builds the configured Store backend.
func Open(cfg *Config, opts ...Option) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph store config: %w", err)
	}
	switch cfg.Backend {
	case "memory":
		return NewMemStore(opts...), nil
	case "sqlite":
		return NewSQLiteStore(&cfg.SQLite, opts...)
	case "rocksdb":
		return NewRocksDBStore(&cfg.RocksDB, opts...)
	default:
		return nil, fmt.Errorf("unknown graph store backend %q", cfg.Backend)
	}
}
