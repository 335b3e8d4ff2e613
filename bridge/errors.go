// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"net/http"
)

// Category classifies a bridge failure for HTTP status mapping and
// operator diagnostics.
type Category string

const (
	// CategoryValidation marks bad caller input, rejected before any
	// network call. HTTP 400.
	CategoryValidation Category = "validation"
	// CategoryAuth marks rejected bot credentials. HTTP 401.
	CategoryAuth Category = "auth"
	// CategoryNotFound marks a room the bot is not joined to. HTTP 404.
	CategoryNotFound Category = "not_found"
	// CategoryUpstream marks homeserver failures: transport errors,
	// unexpected response shapes, protocol-level rejections. HTTP 502.
	CategoryUpstream Category = "upstream"
	// CategoryConfig marks unresolvable settings or secrets. HTTP 500.
	CategoryConfig Category = "config"
)

// Error is a categorized bridge failure. Message is safe to return to
// callers; it never contains secret material.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a categorized error from a format string.
func Errorf(category Category, format string, args ...any) *Error {
	message := fmt.Sprintf(format, args...)
	var wrapped error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			wrapped = err
		}
	}
	return &Error{Category: category, Message: message, Err: wrapped}
}

// CategoryOf extracts the category of err, or CategoryUpstream when err
// carries none: an unclassified failure past the validation boundary is
// by definition an upstream problem.
func CategoryOf(err error) Category {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Category
	}
	return CategoryUpstream
}

// HTTPStatus maps an operation error to the response status code.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConfig:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// Detail returns the caller-facing message for the JSON error body.
func Detail(err error) string {
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr.Message
	}
	return "internal error"
}
