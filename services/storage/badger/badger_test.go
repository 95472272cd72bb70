// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestOpenInMemory verifies in-memory database creation works.
func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	ctx := context.Background()
	require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	}))

	require.NoError(t, db.View(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("key"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("value"), val)
			return nil
		})
	}))
}

// TestOpen_PersistsAcrossReopen verifies on-disk databases survive Close.
func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, db.SetJSON(ctx, "k", sample{Name: "ferie", Count: 26}, 0))
	require.NoError(t, db.Close())

	db2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db2.Close()

	var got sample
	found, err := db2.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "ferie", Count: 26}, got)
}

// TestOpenRequiresPath verifies that persistent mode requires a path.
func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/x")
	assert.Equal(t, "/tmp/x", cfg.Path)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 5*time.Minute, cfg.GCInterval)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCInterval)
}

func TestJSONHelpers(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		var got sample
		found, err := db.GetJSON(ctx, "absent", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, db.SetJSON(ctx, "p:1", sample{Name: "a"}, 0))
		require.NoError(t, db.SetJSON(ctx, "p:2", sample{Name: "b"}, time.Hour))
		require.NoError(t, db.SetJSON(ctx, "q:1", sample{Name: "c"}, 0))

		n, err := db.CountPrefix(ctx, "p:")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, db.Delete(ctx, "p:1"))
		var got sample
		found, err := db.GetJSON(ctx, "p:1", &got)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, db.Update(ctx, func(txn *badger.Txn) error {
			return txn.Set([]byte("bad"), []byte("{not json"))
		}))
		var got sample
		_, err := db.GetJSON(ctx, "bad", &got)
		assert.Error(t, err)
	})
}

func TestTransactions_RespectCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.Update(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	err = db.View(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_Idempotent(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = 10 * time.Millisecond
	db, err := Open(cfg)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
