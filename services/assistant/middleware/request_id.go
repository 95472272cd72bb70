// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides gin middleware for the assistant service.
//
//	Request
//	   │
//	   ▼
//	RequestID ──► assigns or propagates X-Request-Id
//	   │
//	   ▼
//	RateLimit ──► 429 when the client exceeds its token bucket
//	   │
//	   ▼
//	Handler (reads the ID via GetRequestID)
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID is the request ID header, read and echoed.
const HeaderRequestID = "X-Request-Id"

// requestIDKey is the gin context key holding the request ID.
const requestIDKey = "request_id"

// maxRequestIDLength bounds client-supplied IDs.
const maxRequestIDLength = 128

// RequestID assigns each request an ID.
//
// # Description
//
// A client-supplied X-Request-Id is kept when it is non-empty and at most
// 128 bytes; otherwise a new UUID is generated. The ID is stored in the gin
// context and echoed in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the request ID, or "" outside RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
