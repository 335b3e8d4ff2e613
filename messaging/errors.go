// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
)

// MatrixError is a structured error response from the homeserver.
// Callers extract it with errors.As:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeForbidden { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the human-readable description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes the bridge dispatches on.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown       = "M_UNKNOWN"
)

// IsMatrixError checks whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsAuthRejection reports whether err is the homeserver refusing the
// caller's credentials: M_FORBIDDEN, M_UNKNOWN_TOKEN, or a bare
// 401/403 status. Anything else — transport failures, parse failures,
// other error codes — is a protocol-level problem, not an
// authentication one.
func IsAuthRejection(err error) bool {
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	switch matrixErr.Code {
	case ErrCodeForbidden, ErrCodeUnknownToken:
		return true
	}
	return matrixErr.StatusCode == 401 || matrixErr.StatusCode == 403
}
