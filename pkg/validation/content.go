// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// chat transcripts, checkpoint keys or retrieval filters. Transcripts may be
// rendered as HTML downstream, so script markers and control bytes are
// rejected at ingress rather than escaped later.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MaxAttachmentIDs is the maximum number of attachment references per request.
const MaxAttachmentIDs = 5

// scriptPattern matches an opening script tag (with or without attributes)
// followed anywhere later by a closing tag. Case-insensitive and dot-all so
// payloads split across lines still match.
var scriptPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)

// ContainsScriptTag reports whether content holds a <script ...>...</script> block.
//
// Example:
//
//	validation.ContainsScriptTag("<SCRIPT src=x>alert(1)</script>") // true
//	validation.ContainsScriptTag("script tag without brackets")      // false
func ContainsScriptTag(content string) bool {
	return scriptPattern.MatchString(content)
}

// ContainsNullByte reports whether content holds a NUL character.
func ContainsNullByte(content string) bool {
	return strings.IndexByte(content, 0) >= 0
}

// ValidateSafeContent rejects content carrying a script block or a null byte.
//
// Returns an error describing the first problem found.
func ValidateSafeContent(content string) error {
	if ContainsNullByte(content) {
		return fmt.Errorf("content contains a null byte")
	}
	if ContainsScriptTag(content) {
		return fmt.Errorf("content contains a script block")
	}
	return nil
}

// ValidateIdentifier validates a UUID identifier (session or attachment).
//
// Accepts the canonical 36-character hyphenated form only; braces, URN
// prefixes and bare 32-hex forms are rejected so identifiers stay stable as
// store keys.
//
// Example:
//
//	if err := validation.ValidateIdentifier(sessionID); err != nil {
//	    return fmt.Errorf("invalid session id: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) != 36 {
		return fmt.Errorf("invalid identifier %q: must be a canonical UUID", id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid identifier %q: %w", id, err)
	}
	return nil
}

// ValidateAttachmentCount rejects an attachment list of n references when n
// exceeds MaxAttachmentIDs.
func ValidateAttachmentCount(n int) error {
	if n > MaxAttachmentIDs {
		return fmt.Errorf("too many attachments: %d (max %d)", n, MaxAttachmentIDs)
	}
	return nil
}
