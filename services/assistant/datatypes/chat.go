// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the request, response and conversation types
// exchanged by the assistant's HTTP surface and its core components.
package datatypes

import "github.com/AleutianAI/ccnl-assistant/pkg/validation"

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultMaxContentChars is the default maximum turn length in runes.
	DefaultMaxContentChars = 16000

	// MaxMessagesPerRequest bounds the turn list of a single request.
	MaxMessagesPerRequest = 100

	// MaxAttachmentsPerRequest bounds the attachment reference list.
	MaxAttachmentsPerRequest = validation.MaxAttachmentIDs
)

// =============================================================================
// Conversation Types
// =============================================================================

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// ConversationTurn is one message in a conversation.
//
// # Description
//
// The single canonical turn shape used everywhere past the checkpoint-store
// boundary. Turns are never mutated after creation. System turns stay in
// the authoritative history and are only hidden by the display view.
//
// # Fields
//
//   - Role: Author of the turn.
//   - Content: Turn text. Non-empty, bounded, free of script blocks and NUL.
type ConversationTurn struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required,maxrunes,safecontent"`
}

// AttachmentRef is the identifier of an uploaded document (a UUID).
type AttachmentRef string

// =============================================================================
// Request and Response Types
// =============================================================================

// ChatRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// Unknown JSON fields are ignored so older and newer clients can share the
// endpoint. When SessionID is empty the handler starts a new session.
//
// # Fields
//
//   - SessionID: Optional canonical UUID of an existing session.
//   - Messages: Turns submitted with this request. At least one.
//   - AttachmentIDs: Optional documents to scope retrieval to. At most 5.
//
// # Examples
//
//	{
//	  "session_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "messages": [{"role": "user", "content": "Quanti giorni di ferie spettano?"}],
//	  "attachment_ids": []
//	}
type ChatRequest struct {
	SessionID     string             `json:"session_id,omitempty" validate:"omitempty,identifier"`
	Messages      []ConversationTurn `json:"messages" validate:"required,min=1,maxturns,dive"`
	AttachmentIDs []AttachmentRef    `json:"attachment_ids,omitempty" validate:"maxattachments,dive,identifier"`
}

// HistoryResponse is the body of GET /v1/sessions/:sessionId/history.
type HistoryResponse struct {
	SessionID   string             `json:"session_id"`
	Messages    []ConversationTurn `json:"messages"`
	Attachments []AttachmentRef    `json:"attachments"`
}

// ErrorResponse is the JSON body of non-streaming error replies.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
