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
	"sync"
	"time"
)

// MemoryStore is a process-local Store. States are copied on the way in
// and out, so callers can never alias stored slices.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// GetState implements Store.
func (m *MemoryStore) GetState(ctx context.Context, sessionID string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[sessionID].Clone(), nil
}

// PutState implements Store.
func (m *MemoryStore) PutState(ctx context.Context, state *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.SessionID == "" {
		return ErrInvalidState
	}

	stored := state.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.SessionID] = stored
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}
