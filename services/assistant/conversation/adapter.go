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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
)

// ErrUnknownRole is returned for stored messages whose role or type tag is
// not recognised.
var ErrUnknownRole = errors.New("conversation: unknown message role")

// legacyTypes maps legacy type tags onto roles.
var legacyTypes = map[string]datatypes.Role{
	"human":  datatypes.RoleUser,
	"ai":     datatypes.RoleAssistant,
	"system": datatypes.RoleSystem,
}

// TurnFromStored converts a store-native message into a ConversationTurn.
//
// # Description
//
// This is the only place that knows about the two stored encodings:
//   - Role form: role is "system", "user" or "assistant" and used as-is.
//   - Legacy type form: "human" -> user, "ai" -> assistant, "system" -> system.
//
// Role wins when both are set. Tags are matched case-insensitively.
//
// # Outputs
//
//   - datatypes.ConversationTurn: The canonical turn.
//   - error: ErrUnknownRole when neither tag maps to a role.
func TurnFromStored(msg checkpoint.StoredMessage) (datatypes.ConversationTurn, error) {
	if msg.Role != "" {
		role := datatypes.Role(strings.ToLower(strings.TrimSpace(msg.Role)))
		if !role.IsValid() {
			return datatypes.ConversationTurn{}, fmt.Errorf("%w: role %q", ErrUnknownRole, msg.Role)
		}
		return datatypes.ConversationTurn{Role: role, Content: msg.Content}, nil
	}

	if role, ok := legacyTypes[strings.ToLower(strings.TrimSpace(msg.Type))]; ok {
		return datatypes.ConversationTurn{Role: role, Content: msg.Content}, nil
	}
	return datatypes.ConversationTurn{}, fmt.Errorf("%w: type %q", ErrUnknownRole, msg.Type)
}

// TurnsFromStored converts a stored history, skipping records with unknown
// tags. Each skipped record is logged at warn level.
func TurnsFromStored(msgs []checkpoint.StoredMessage, logger *slog.Logger) []datatypes.ConversationTurn {
	turns := make([]datatypes.ConversationTurn, 0, len(msgs))
	for i, msg := range msgs {
		turn, err := TurnFromStored(msg)
		if err != nil {
			logger.Warn("skipping stored message",
				slog.Int("index", i),
				slog.String("error", err.Error()))
			continue
		}
		turns = append(turns, turn)
	}
	return turns
}

// ToStored converts a turn into the current stored encoding (role form).
func ToStored(turn datatypes.ConversationTurn) checkpoint.StoredMessage {
	return checkpoint.StoredMessage{Role: string(turn.Role), Content: turn.Content}
}

// ToStoredAll converts a turn list into stored messages.
func ToStoredAll(turns []datatypes.ConversationTurn) []checkpoint.StoredMessage {
	out := make([]checkpoint.StoredMessage, len(turns))
	for i, turn := range turns {
		out[i] = ToStored(turn)
	}
	return out
}

// AttachmentsFromStored converts stored attachment IDs.
func AttachmentsFromStored(ids []string) []datatypes.AttachmentRef {
	if len(ids) == 0 {
		return nil
	}
	out := make([]datatypes.AttachmentRef, len(ids))
	for i, id := range ids {
		out[i] = datatypes.AttachmentRef(id)
	}
	return out
}

// AttachmentsToStored converts attachment references for storage.
func AttachmentsToStored(refs []datatypes.AttachmentRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = string(ref)
	}
	return out
}
