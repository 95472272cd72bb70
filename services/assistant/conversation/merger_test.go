// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func user(content string) datatypes.ConversationTurn {
	return datatypes.ConversationTurn{Role: datatypes.RoleUser, Content: content}
}

func assistant(content string) datatypes.ConversationTurn {
	return datatypes.ConversationTurn{Role: datatypes.RoleAssistant, Content: content}
}

func system(content string) datatypes.ConversationTurn {
	return datatypes.ConversationTurn{Role: datatypes.RoleSystem, Content: content}
}

// failingStore always fails reads.
type failingStore struct {
	err error
}

func (s *failingStore) GetState(context.Context, string) (*checkpoint.State, error) {
	return nil, s.err
}

func (s *failingStore) PutState(context.Context, *checkpoint.State) error {
	return s.err
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// =============================================================================
// Adapter Tests
// =============================================================================

func TestTurnFromStored(t *testing.T) {
	tests := []struct {
		name    string
		msg     checkpoint.StoredMessage
		want    datatypes.ConversationTurn
		wantErr bool
	}{
		{"role user", checkpoint.StoredMessage{Role: "user", Content: "Q"}, user("Q"), false},
		{"role assistant", checkpoint.StoredMessage{Role: "assistant", Content: "A"}, assistant("A"), false},
		{"role system", checkpoint.StoredMessage{Role: "system", Content: "S"}, system("S"), false},
		{"role upper", checkpoint.StoredMessage{Role: "USER", Content: "Q"}, user("Q"), false},
		{"legacy human", checkpoint.StoredMessage{Type: "human", Content: "Q"}, user("Q"), false},
		{"legacy ai", checkpoint.StoredMessage{Type: "ai", Content: "A"}, assistant("A"), false},
		{"legacy system", checkpoint.StoredMessage{Type: "system", Content: "S"}, system("S"), false},
		{"role wins over type", checkpoint.StoredMessage{Role: "assistant", Type: "human", Content: "A"}, assistant("A"), false},
		{"unknown role", checkpoint.StoredMessage{Role: "tool", Content: "x"}, datatypes.ConversationTurn{}, true},
		{"unknown type", checkpoint.StoredMessage{Type: "function", Content: "x"}, datatypes.ConversationTurn{}, true},
		{"no tag", checkpoint.StoredMessage{Content: "x"}, datatypes.ConversationTurn{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TurnFromStored(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTurnsFromStored_SkipsUnknownWithWarning(t *testing.T) {
	var buf bytes.Buffer
	msgs := []checkpoint.StoredMessage{
		{Type: "system", Content: "S"},
		{Type: "human", Content: "Q1"},
		{Type: "tool", Content: "?"},
		{Role: "assistant", Content: "A1"},
	}

	turns := TurnsFromStored(msgs, newTestLogger(&buf))

	assert.Equal(t, []datatypes.ConversationTurn{system("S"), user("Q1"), assistant("A1")}, turns)
	assert.Contains(t, buf.String(), "skipping stored message")
}

func TestToStored_UsesRoleForm(t *testing.T) {
	stored := ToStoredAll([]datatypes.ConversationTurn{user("Q"), assistant("A")})
	assert.Equal(t, []checkpoint.StoredMessage{
		{Role: "user", Content: "Q"},
		{Role: "assistant", Content: "A"},
	}, stored)

	back := TurnsFromStored(stored, slog.Default())
	assert.Equal(t, []datatypes.ConversationTurn{user("Q"), assistant("A")}, back)
}

func TestAttachmentConversions(t *testing.T) {
	assert.Nil(t, AttachmentsFromStored(nil))
	assert.Nil(t, AttachmentsToStored(nil))
	refs := AttachmentsFromStored([]string{"a", "b"})
	assert.Equal(t, []datatypes.AttachmentRef{"a", "b"}, refs)
	assert.Equal(t, []string{"a", "b"}, AttachmentsToStored(refs))
}

// =============================================================================
// LoadPriorState Tests
// =============================================================================

func TestLoadPriorState(t *testing.T) {
	ctx := context.Background()

	t.Run("no entry returns empty without error", func(t *testing.T) {
		m := NewMerger(checkpoint.NewMemoryStore(), nil)
		prior, err := m.LoadPriorState(ctx, "missing")
		require.NoError(t, err)
		assert.True(t, prior.IsEmpty())
	})

	t.Run("empty session id returns empty", func(t *testing.T) {
		m := NewMerger(nil, nil)
		prior, err := m.LoadPriorState(ctx, "")
		require.NoError(t, err)
		assert.True(t, prior.IsEmpty())
	})

	t.Run("store not initialised", func(t *testing.T) {
		m := NewMerger(nil, nil)
		prior, err := m.LoadPriorState(ctx, "s1")

		var loadErr *StateLoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, "s1", loadErr.SessionID)
		assert.ErrorIs(t, err, ErrStoreNotInitialized)
		assert.True(t, prior.IsEmpty())
	})

	t.Run("store unreachable", func(t *testing.T) {
		boom := errors.New("connection refused")
		m := NewMerger(&failingStore{err: boom}, nil)
		prior, err := m.LoadPriorState(ctx, "s1")

		var loadErr *StateLoadError
		require.True(t, errors.As(err, &loadErr))
		assert.ErrorIs(t, err, boom)
		assert.True(t, prior.IsEmpty())
	})

	t.Run("converts both encodings and keeps system turns", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.PutState(ctx, &checkpoint.State{
			SessionID: "s1",
			Messages: []checkpoint.StoredMessage{
				{Type: "system", Content: "Sei un assistente."},
				{Type: "human", Content: "Q1"},
				{Role: "assistant", Content: "A1"},
			},
			Attachments: []string{"doc"},
		}))

		prior, err := NewMerger(store, nil).LoadPriorState(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []datatypes.ConversationTurn{
			system("Sei un assistente."), user("Q1"), assistant("A1"),
		}, prior.Messages)
		assert.Equal(t, []datatypes.AttachmentRef{"doc"}, prior.Attachments)
	})
}

func TestLoadPriorStateOrEmpty_LogsAndDegrades(t *testing.T) {
	var buf bytes.Buffer
	m := NewMerger(&failingStore{err: errors.New("timeout")}, newTestLogger(&buf))

	prior := m.LoadPriorStateOrEmpty(context.Background(), "s1")

	assert.True(t, prior.IsEmpty())
	assert.Contains(t, buf.String(), "continuing without prior conversation state")
	assert.Contains(t, buf.String(), "timeout")
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge(t *testing.T) {
	prior := []datatypes.ConversationTurn{user("Q1"), assistant("A1")}

	tests := []struct {
		name    string
		prior   []datatypes.ConversationTurn
		current []datatypes.ConversationTurn
		want    []datatypes.ConversationTurn
	}{
		{"empty prior returns current", nil, []datatypes.ConversationTurn{user("Q1")}, []datatypes.ConversationTurn{user("Q1")}},
		{"new turn appended", prior, []datatypes.ConversationTurn{user("Q2")}, []datatypes.ConversationTurn{user("Q1"), assistant("A1"), user("Q2")}},
		{"resent tail deduplicated", prior, []datatypes.ConversationTurn{assistant("A1")}, prior},
		{"tail equality is content only", prior, []datatypes.ConversationTurn{user("A1")}, prior},
		{"empty current keeps prior", prior, nil, prior},
		{"both empty", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.prior, tt.current))
		})
	}
}

func TestMerge_IdempotentUnderRetry(t *testing.T) {
	prior := []datatypes.ConversationTurn{system("S"), user("Q1"), assistant("A1")}
	current := []datatypes.ConversationTurn{user("Q2")}

	once := Merge(prior, current)
	twice := Merge(once, current)

	assert.Equal(t, once, twice)
}

func TestMerge_DoesNotAliasPrior(t *testing.T) {
	prior := make([]datatypes.ConversationTurn, 1, 4)
	prior[0] = user("Q1")

	a := Merge(prior, []datatypes.ConversationTurn{user("Q2")})
	b := Merge(prior, []datatypes.ConversationTurn{user("Q3")})

	assert.Equal(t, "Q2", a[1].Content)
	assert.Equal(t, "Q3", b[1].Content)
}

func TestResolveAttachments(t *testing.T) {
	a := []datatypes.AttachmentRef{"A"}
	b := []datatypes.AttachmentRef{"B"}

	assert.Equal(t, a, ResolveAttachments(a, b))
	assert.Equal(t, b, ResolveAttachments(nil, b))
	assert.Equal(t, b, ResolveAttachments([]datatypes.AttachmentRef{}, b))
	assert.Empty(t, ResolveAttachments(nil, nil))
}

func TestDisplayTurns_HidesSystem(t *testing.T) {
	history := []datatypes.ConversationTurn{system("S"), user("Q1"), assistant("A1")}

	shown := DisplayTurns(history)

	assert.Equal(t, []datatypes.ConversationTurn{user("Q1"), assistant("A1")}, shown)
	assert.Len(t, history, 3)
}
