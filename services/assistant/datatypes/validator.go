// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/ccnl-assistant/pkg/validation"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Validation Errors
// =============================================================================

// FieldError describes one rejected field.
type FieldError struct {
	// Field is the JSON path, e.g. "messages[0].content".
	Field string

	// Message is a client-safe description of the violation.
	Message string
}

// ValidationError reports a malformed or unsafe chat request.
//
// # Description
//
// Returned before any orchestration begins. The handler maps it to a 400
// response; no partial processing has occurred when it is returned.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Details returns the field errors keyed by field path.
func (e *ValidationError) Details() map[string]string {
	details := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		details[f.Field] = f.Message
	}
	return details
}

// =============================================================================
// Validator
// =============================================================================

// ChatValidator validates chat requests and turns.
//
// # Description
//
// Wraps a go-playground validator with these custom tags:
//   - maxrunes: content length in runes must not exceed the configured max
//   - safecontent: rejects <script>...</script> blocks and NUL bytes
//   - identifier: canonical UUID
//   - maxturns: at most MaxMessagesPerRequest turns
//   - maxattachments: at most MaxAttachmentsPerRequest references
//
// Each ChatValidator owns its validator instance, so different endpoints
// can run with different content limits.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type ChatValidator struct {
	validate        *validator.Validate
	maxContentChars int
}

// NewChatValidator creates a ChatValidator.
//
// # Inputs
//
//   - maxContentChars: Maximum turn length in runes. Values <= 0 use
//     DefaultMaxContentChars.
//
// # Outputs
//
//   - *ChatValidator: Ready for use.
//
// # Examples
//
//	v := datatypes.NewChatValidator(16000)
//	if err := v.ValidateRequest(&req); err != nil {
//	    var verr *datatypes.ValidationError
//	    if errors.As(err, &verr) { ... }
//	}
func NewChatValidator(maxContentChars int) *ChatValidator {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}

	cv := &ChatValidator{
		validate:        validator.New(),
		maxContentChars: maxContentChars,
	}

	cv.validate.RegisterTagNameFunc(jsonFieldName)
	_ = cv.validate.RegisterValidation("maxrunes", cv.validateMaxRunes)
	_ = cv.validate.RegisterValidation("safecontent", validateSafeContent)
	_ = cv.validate.RegisterValidation("identifier", validateIdentifier)
	_ = cv.validate.RegisterValidation("maxturns", validateMaxTurns)
	_ = cv.validate.RegisterValidation("maxattachments", validateMaxAttachments)

	return cv
}

// MaxContentChars returns the configured content limit.
func (cv *ChatValidator) MaxContentChars() int {
	return cv.maxContentChars
}

// ValidateRequest validates a full chat request.
//
// # Outputs
//
//   - error: *ValidationError listing every rejected field, nil if valid.
func (cv *ChatValidator) ValidateRequest(req *ChatRequest) error {
	if req == nil {
		return &ValidationError{Fields: []FieldError{{Field: "body", Message: "request body is required"}}}
	}
	return cv.translate(cv.validate.Struct(req))
}

// ValidateTurn validates a single conversation turn.
func (cv *ChatValidator) ValidateTurn(turn ConversationTurn) error {
	return cv.translate(cv.validate.Struct(turn))
}

func (cv *ChatValidator) translate(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []FieldError{{Field: "body", Message: err.Error()}}}
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: cv.message(fe),
		})
	}
	return out
}

func (cv *ChatValidator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must contain at most %s item(s)", fe.Param())
	case "maxrunes":
		return fmt.Sprintf("must be at most %d characters", cv.maxContentChars)
	case "safecontent":
		if s, ok := fe.Value().(string); ok {
			if err := validation.ValidateSafeContent(s); err != nil {
				return err.Error()
			}
		}
		return "contains unsafe content"
	case "identifier":
		return "must be a valid UUID"
	case "maxturns":
		return fmt.Sprintf("must contain at most %d item(s)", MaxMessagesPerRequest)
	case "maxattachments":
		return fmt.Sprintf("must contain at most %d item(s)", MaxAttachmentsPerRequest)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// =============================================================================
// Custom Validators
// =============================================================================

func (cv *ChatValidator) validateMaxRunes(fl validator.FieldLevel) bool {
	return utf8.RuneCountInString(fl.Field().String()) <= cv.maxContentChars
}

func validateSafeContent(fl validator.FieldLevel) bool {
	return validation.ValidateSafeContent(fl.Field().String()) == nil
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return validation.ValidateIdentifier(fl.Field().String()) == nil
}

func validateMaxTurns(fl validator.FieldLevel) bool {
	return fl.Field().Len() <= MaxMessagesPerRequest
}

func validateMaxAttachments(fl validator.FieldLevel) bool {
	return validation.ValidateAttachmentCount(fl.Field().Len()) == nil
}

// jsonFieldName reports fields by their JSON name.
func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldPath drops the leading struct name from a validator namespace:
// "ChatRequest.messages[0].content" becomes "messages[0].content".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
