// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists per-session conversation state.
//
// The agent graph is the only writer. The streaming layer only reads, through
// the conversation package, which converts the store-native StoredMessage
// records into datatypes.ConversationTurn.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidState is returned by PutState for a nil state or empty session ID.
var ErrInvalidState = errors.New("checkpoint: state must have a session id")

// StoredMessage is the store-native message record.
//
// # Description
//
// Two historical encodings exist. Current records carry Role
// ("system", "user", "assistant"). Legacy records carry Type ("system",
// "human", "ai") instead. Readers must handle both; writers only set Role.
type StoredMessage struct {
	Role    string `json:"role,omitempty"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// State is the durable record of one conversation.
type State struct {
	SessionID   string          `json:"session_id"`
	Messages    []StoredMessage `json:"messages"`
	Attachments []string        `json:"attachments,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]StoredMessage(nil), s.Messages...)
	out.Attachments = append([]string(nil), s.Attachments...)
	return &out
}

// Store is the checkpoint store contract.
//
// # Description
//
// Read/put are atomic at turn granularity. Turns of one session are
// sequential by client contract, so no cross-turn locking is provided.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across sessions.
type Store interface {
	// GetState returns the stored state, or (nil, nil) when the session has
	// no entry.
	GetState(ctx context.Context, sessionID string) (*State, error)

	// PutState replaces the state for state.SessionID.
	PutState(ctx context.Context, state *State) error
}
