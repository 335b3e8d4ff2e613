// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O helpers shared by the messaging
// client and the bridge handlers.
//
// Response reads are bounded at MaxResponseSize so a misbehaving
// homeserver cannot trigger unbounded memory allocation. The helpers
// target JSON API responses; streaming bodies should be copied
// incrementally instead.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response body reads: 64 MB. Matrix
// client-server responses are orders of magnitude smaller; the limit is
// generous enough never to interfere with normal operation.
const MaxResponseSize int64 = 64 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll on HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a bounded response body and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}
