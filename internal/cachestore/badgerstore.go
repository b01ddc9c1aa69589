package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is set.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites makes each commit durable before it returns. Matches the
	// durability the file store gets from fsync+rename.
	SyncWrites bool
}

// BadgerStore persists records in an embedded BadgerDB, one key per output
// identity. Per-key transactional writes give the same atomic-replace
// guarantee the file store gets from rename.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a Badger-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger cache store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Load implements Store.
func (s *BadgerStore) Load(ctx context.Context) (map[string]*Record, error) {
	records := make(map[string]*Record)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				rec := &Record{}
				if err := json.Unmarshal(val, rec); err != nil {
					return fmt.Errorf("%w: record for '%s': %v", ErrCorrupt, key, err)
				}
				records[rec.Output] = rec
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordFor implements Store.
func (s *BadgerStore) RecordFor(ctx context.Context, output string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(output))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &Record{}
			if err := json.Unmarshal(val, rec); err != nil {
				rec = nil
				return fmt.Errorf("%w: record for '%s': %v", ErrCorrupt, output, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Commit implements Store.
func (s *BadgerStore) Commit(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record for '%s': %w", rec.Output, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.Output), data)
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
