// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ccnl-assistant/pkg/validation"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/checkpoint"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/conversation"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/datatypes"
	"github.com/AleutianAI/ccnl-assistant/services/assistant/middleware"
)

// GetSessionHistory serves GET /v1/sessions/:sessionId/history.
//
// # Description
//
// Returns the display view of a session: system turns are hidden, every
// other turn is returned in order. Responds 400 for a malformed ID, 404
// when the session has no checkpoint and 500 when the store fails.
func GetSessionHistory(store checkpoint.Store, logger *slog.Logger) gin.HandlerFunc {
	if store == nil {
		panic("handlers.GetSessionHistory: store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := validation.ValidateIdentifier(sessionID); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid session id"})
			return
		}

		state, err := store.GetState(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error("failed to read session history",
				slog.String("session_id", sessionID),
				slog.String("request_id", middleware.GetRequestID(c)),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to read session"})
			return
		}
		if state == nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "session not found"})
			return
		}

		turns := conversation.TurnsFromStored(state.Messages, logger.With(slog.String("session_id", sessionID)))
		attachments := conversation.AttachmentsFromStored(state.Attachments)
		if attachments == nil {
			attachments = []datatypes.AttachmentRef{}
		}
		c.JSON(http.StatusOK, datatypes.HistoryResponse{
			SessionID:   sessionID,
			Messages:    conversation.DisplayTurns(turns),
			Attachments: attachments,
		})
	}
}
