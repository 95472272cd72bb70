// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens and manages the embedded BadgerDB instances used by
// the assistant.
//
// Two stores sit on top of it:
//   - Session checkpoints (conversation history per session)
//   - The LLM response cache (TTL-bound entries)
//
// Values are JSON documents; GetJSON and SetJSON cover the common
// read/decode and encode/write paths so callers never handle badger items
// directly.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite (0-1).
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for the given path.
//
// # Outputs
//
//   - Config: SyncWrites on, GC every 5 minutes at a 0.5 discard ratio.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// =============================================================================
// Logger Adapter
// =============================================================================

// slogAdapter adapts slog.Logger to badger.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// =============================================================================
// DB
// =============================================================================

// DB wraps a BadgerDB instance with GC and lifecycle management.
//
// # Thread Safety
//
// Safe for concurrent use. Close is idempotent.
type DB struct {
	db        *badger.DB
	path      string
	inMemory  bool
	gcStop    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
	logger    *slog.Logger
}

// Open opens a BadgerDB and starts value log GC when configured.
//
// # Description
//
// Creates the directory for persistent databases. GC never runs for
// in-memory databases.
//
// # Inputs
//
//   - cfg: Database configuration.
//
// # Outputs
//
//   - *DB: The managed database. Caller must Close it.
//   - error: Non-nil if the path is missing or the database cannot open.
//
// # Examples
//
//	db, err := badger.Open(badger.DefaultConfig("~/.ccnl-assistant/checkpoints"))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db := &DB{
		db:       bdb,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
		logger:   logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		db.gcStop = make(chan struct{})
		db.gcDone = make(chan struct{})
		go db.runGC(cfg.GCInterval, ratio)
	}

	return db, nil
}

// OpenInMemory opens an in-memory database. Data is lost on Close.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.gcStop != nil {
			close(d.gcStop)
			<-d.gcDone
		}
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

// Path returns the database path, or "" for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether this is an in-memory database.
func (d *DB) InMemory() bool {
	return d.inMemory
}

func (d *DB) runGC(interval time.Duration, ratio float64) {
	defer close(d.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.gcStop:
			return
		case <-ticker.C:
			err := d.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Warn("badger value log GC failed",
					slog.String("path", d.path),
					slog.String("error", err.Error()))
			}
		}
	}
}

// =============================================================================
// Transactions
// =============================================================================

// Update runs fn in a read-write transaction and commits on success.
func (d *DB) Update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction.
func (d *DB) View(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// =============================================================================
// JSON Values
// =============================================================================

// GetJSON reads key and decodes its JSON value into out.
//
// # Outputs
//
//   - bool: False when the key does not exist or has expired.
//   - error: Non-nil on read or decode failure.
func (d *DB) GetJSON(ctx context.Context, key string, out any) (bool, error) {
	found := false
	err := d.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		found = true
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, out); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// SetJSON encodes value as JSON and stores it under key.
//
// # Inputs
//
//   - ctx: Checked before the transaction starts.
//   - key: Storage key.
//   - value: Any JSON-serializable value.
//   - ttl: Expiry. Zero stores the entry without expiry.
func (d *DB) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	return d.Update(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(ctx context.Context, key string) error {
	return d.Update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// CountPrefix returns the number of live keys starting with prefix.
func (d *DB) CountPrefix(ctx context.Context, prefix string) (int, error) {
	count := 0
	err := d.View(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
