// Drivebackup - Scheduled Site Backups with Resumable Remote Upload
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/drivebackup

// Package settings is the durable key/value store behind job records, upload
// resume records, the job lock and stored credentials.
//
// Values are JSON documents stored in BadgerDB with synchronous writes, so a
// record written before a process is killed is still there on the next run.
// Multi-key read-modify-write sequences go through Update, which runs in a
// single serializable badger transaction.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/drivebackup/internal/logging"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("settings: key not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("settings: store is closed")

	// ErrConflict is returned when a concurrent transaction touched the same keys.
	ErrConflict = errors.New("settings: transaction conflict")
)

// Options configures the store.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// GCRatio is the value-log rewrite threshold for RunGC. Default: 0.5
	GCRatio float64
}

// Store is a JSON document store on top of BadgerDB.
type Store struct {
	db      *badger.DB
	gcRatio float64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, fmt.Errorf("settings: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
		bopts.SyncWrites = true
	}
	bopts.Compression = options.Snappy
	bopts.NumCompactors = 2
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	gcRatio := opts.GCRatio
	if gcRatio <= 0 {
		gcRatio = 0.5
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Msg("Settings store opened")

	return &Store{db: db, gcRatio: gcRatio}, nil
}

// OpenInMemory opens an ephemeral store.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Tx is a read-write view of the store inside one transaction.
type Tx struct {
	txn *badger.Txn
}

// Get decodes the value at key into v.
func (tx *Tx) Get(key string, v interface{}) error {
	item, err := tx.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return nil
	})
}

// Put encodes v and stores it at key.
func (tx *Tx) Put(key string, v interface{}) error {
	return tx.PutWithTTL(key, v, 0)
}

// PutWithTTL stores v at key; badger expires the entry after ttl when ttl > 0.
func (tx *Tx) PutWithTTL(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	e := badger.NewEntry([]byte(key), data)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := tx.txn.SetEntry(e); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (tx *Tx) Delete(key string) error {
	if err := tx.txn.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan calls fn for every key with the given prefix, in key order.
// fn receives the key and a decoder for its value.
func (tx *Tx) Scan(prefix string, fn func(key string, decode func(v interface{}) error) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		decode := func(v interface{}) error {
			return item.Value(func(val []byte) error {
				if err := json.Unmarshal(val, v); err != nil {
					return fmt.Errorf("unmarshal %s: %w", key, err)
				}
				return nil
			})
		}
		if err := fn(key, decode); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
}

// Update runs fn in a read-write transaction that commits atomically.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx{txn: txn})
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Get decodes the value at key into v.
func (s *Store) Get(ctx context.Context, key string, v interface{}) error {
	return s.View(ctx, func(tx *Tx) error {
		return tx.Get(key, v)
	})
}

// Put stores v at key.
func (s *Store) Put(ctx context.Context, key string, v interface{}) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Put(key, v)
	})
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// Keys returns all keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.View(ctx, func(tx *Tx) error {
		return tx.Scan(prefix, func(key string, _ func(interface{}) error) error {
			keys = append(keys, key)
			return nil
		})
	})
	return keys, err
}

// RunGC reclaims value-log space until badger reports nothing left to rewrite.
func (s *Store) RunGC() error {
	if err := s.checkOpen(context.Background()); err != nil {
		return err
	}
	for {
		err := s.db.RunValueLogGC(s.gcRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the underlying database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Settings store closed")
	return nil
}
