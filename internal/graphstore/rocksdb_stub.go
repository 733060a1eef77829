//go:build !rocksdb

package graphstore

import (
	"context"
	"fmt"
)

// RocksDBStore stub used when the repo is built without the "rocksdb" tag.
type RocksDBStore struct{}

func NewRocksDBStore(cfg *RocksDBConfig, opts ...Option) (*RocksDBStore, error) {
	return nil, fmt.Errorf("rocksdb backend not compiled in - build with -tags rocksdb")
}

func (s *RocksDBStore) Close() error { return nil }

func (s *RocksDBStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return fmt.Errorf("rocksdb backend not compiled in - build with -tags rocksdb")
}

func (s *RocksDBStore) Defragment(ctx context.Context) error {
	return fmt.Errorf("rocksdb backend not compiled in - build with -tags rocksdb")
}
