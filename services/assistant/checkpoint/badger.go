// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/ccnl-assistant/services/storage/badger"
)

// keyPrefix namespaces checkpoint entries inside a shared database.
const keyPrefix = "checkpoint:session:"

// BadgerStore persists checkpoints in BadgerDB as JSON documents.
//
// # Description
//
// Entries never expire; retention is handled outside this service. The
// store does not own the database and never closes it.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates a BadgerStore. Panics if db is nil.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	if db == nil {
		panic("checkpoint.NewBadgerStore: db must not be nil")
	}
	return &BadgerStore{db: db}
}

// GetState implements Store.
func (s *BadgerStore) GetState(ctx context.Context, sessionID string) (*State, error) {
	var state State
	found, err := s.db.GetJSON(ctx, keyPrefix+sessionID, &state)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}
	return &state, nil
}

// PutState implements Store.
func (s *BadgerStore) PutState(ctx context.Context, state *State) error {
	if state == nil || state.SessionID == "" {
		return ErrInvalidState
	}

	stored := state.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	if err := s.db.SetJSON(ctx, keyPrefix+state.SessionID, stored, 0); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", state.SessionID, err)
	}
	return nil
}

// Count returns the number of persisted sessions.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	return s.db.CountPrefix(ctx, keyPrefix)
}
