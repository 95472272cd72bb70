// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation reconciles persisted session history with newly
// submitted turns.
//
// History is read through checkpoint.Store and converted at the boundary
// into datatypes.ConversationTurn. Loading is best-effort: callers receive
// a typed *StateLoadError and choose whether to continue with empty state.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
)

// ErrStoreNotInitialized is wrapped by StateLoadError when the merger has
// no checkpoint store to read from.
var ErrStoreNotInitialized = errors.New("checkpoint store not initialized")

// =============================================================================
// Types
// =============================================================================

// PriorState is the history loaded for a session.
type PriorState struct {
	Messages    []datatypes.ConversationTurn
	Attachments []datatypes.AttachmentRef
}

// IsEmpty reports whether no prior history or attachments exist.
func (p PriorState) IsEmpty() bool {
	return len(p.Messages) == 0 && len(p.Attachments) == 0
}

// StateLoadError reports a failure to read prior state.
type StateLoadError struct {
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *StateLoadError) Error() string {
	return fmt.Sprintf("load prior state for session %s: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StateLoadError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Merger
// =============================================================================

// Merger loads prior session state from a checkpoint store.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state.
type Merger struct {
	store  checkpoint.Store
	logger *slog.Logger
}

// NewMerger creates a Merger.
//
// # Inputs
//
//   - store: Checkpoint store. May be nil while the graph is not yet
//     initialised; every load then fails with ErrStoreNotInitialized.
//   - logger: Logger for degraded loads. Nil uses slog.Default().
func NewMerger(store checkpoint.Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, logger: logger}
}

// LoadPriorState reads the stored history for sessionID.
//
// # Description
//
// Returns empty state and a nil error when sessionID is empty or the store
// has no entry. Returns empty state and a *StateLoadError when the store is
// missing or the read fails. Stored messages with unknown role tags are
// skipped. System turns are kept.
//
// # Inputs
//
//   - ctx: Context for the store read.
//   - sessionID: Session to load.
//
// # Outputs
//
//   - PriorState: Loaded history, empty on any failure.
//   - error: *StateLoadError on failure.
//
// # Examples
//
//	prior, err := merger.LoadPriorState(ctx, sessionID)
//	var loadErr *conversation.StateLoadError
//	if errors.As(err, &loadErr) {
//	    // continue with a fresh context
//	}
func (m *Merger) LoadPriorState(ctx context.Context, sessionID string) (PriorState, error) {
	if sessionID == "" {
		return PriorState{}, nil
	}
	if m.store == nil {
		return PriorState{}, &StateLoadError{SessionID: sessionID, Err: ErrStoreNotInitialized}
	}

	state, err := m.store.GetState(ctx, sessionID)
	if err != nil {
		return PriorState{}, &StateLoadError{SessionID: sessionID, Err: err}
	}
	if state == nil {
		return PriorState{}, nil
	}

	return PriorState{
		Messages:    TurnsFromStored(state.Messages, m.logger.With(slog.String("session_id", sessionID))),
		Attachments: AttachmentsFromStored(state.Attachments),
	}, nil
}

// LoadPriorStateOrEmpty is LoadPriorState with the empty default chosen.
// Failures are logged at warn level and never returned.
func (m *Merger) LoadPriorStateOrEmpty(ctx context.Context, sessionID string) PriorState {
	prior, err := m.LoadPriorState(ctx, sessionID)
	if err != nil {
		m.logger.Warn("continuing without prior conversation state",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return PriorState{}
	}
	return prior
}

// =============================================================================
// Pure Merge Rules
// =============================================================================

// Merge combines prior history with the submitted turns.
//
// # Description
//
//   - prior empty: current is returned unchanged.
//   - last prior content equals last current content: prior is returned
//     unchanged. This absorbs client retries that resend a recorded turn.
//   - otherwise: prior followed by current.
//
// Dedup compares content only, never identity or time, so applying the same
// current turns twice gives the same result.
//
// # Examples
//
//	prior := []ConversationTurn{{user, "Q1"}, {assistant, "A1"}}
//	Merge(prior, []ConversationTurn{{user, "Q2"}})      // Q1, A1, Q2
//	Merge(prior, []ConversationTurn{{assistant, "A1"}}) // Q1, A1
func Merge(prior, current []datatypes.ConversationTurn) []datatypes.ConversationTurn {
	if len(prior) == 0 {
		return current
	}
	if len(current) > 0 && prior[len(prior)-1].Content == current[len(current)-1].Content {
		return prior
	}

	merged := make([]datatypes.ConversationTurn, 0, len(prior)+len(current))
	merged = append(merged, prior...)
	merged = append(merged, current...)
	return merged
}

// ResolveAttachments returns current when non-empty, otherwise prior.
// The two lists are never combined.
func ResolveAttachments(current, prior []datatypes.AttachmentRef) []datatypes.AttachmentRef {
	if len(current) > 0 {
		return current
	}
	return prior
}

// DisplayTurns returns the turns meant for display, hiding system turns.
// The input slice is not modified.
func DisplayTurns(turns []datatypes.ConversationTurn) []datatypes.ConversationTurn {
	out := make([]datatypes.ConversationTurn, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == datatypes.RoleSystem {
			continue
		}
		out = append(out, turn)
	}
	return out
}
