// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix identifiers.
//
// Identifiers arrive as strings at process boundaries (environment
// variables, query parameters, homeserver responses) and are parsed
// into these types exactly once. Code past the boundary can rely on
// structural validity: a RoomID starts with '!', a UserID with '@',
// an EventID with '$', and each carries a ':server' suffix where the
// protocol requires one.
//
// All types are immutable values; the zero value is invalid and
// reports true from IsZero. Text(Un)Marshaler implementations let
// encoding/json validate identifiers during deserialization, including
// map keys in /sync payloads.
package ref

import (
	"fmt"
	"strings"
)

// parseMatrixID splits a sigil-prefixed Matrix identifier of the form
// <sigil>localpart:server into its localpart and server name.
func parseMatrixID(raw string, sigil byte, kind string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty %s", kind)
	}
	if raw[0] != sigil {
		return "", "", fmt.Errorf("%s must start with %q: %q", kind, string(sigil), raw)
	}

	rest := raw[1:]
	colonIndex := strings.IndexByte(rest, ':')
	if colonIndex < 0 {
		return "", "", fmt.Errorf("%s missing ':server' suffix: %q", kind, raw)
	}
	if colonIndex == 0 {
		return "", "", fmt.Errorf("%s has empty localpart: %q", kind, raw)
	}
	if rest[colonIndex+1:] == "" {
		return "", "", fmt.Errorf("%s has empty server name: %q", kind, raw)
	}
	return rest[:colonIndex], rest[colonIndex+1:], nil
}

// UserID is a validated Matrix user ID (e.g., "@gabe:hippocamp.ai").
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if _, _, err := parseMatrixID(raw, '@', "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// String returns the full user ID string.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value.
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the portion between the '@' sigil and the ':server'
// suffix. Panics on a zero-value UserID.
func (u UserID) Localpart() string {
	if u.id == "" {
		panic("UserID.Localpart called on zero value")
	}
	localpart, _, err := parseMatrixID(u.id, '@', "user ID")
	if err != nil {
		// Validated at construction — unreachable.
		panic(fmt.Sprintf("UserID.Localpart: internal error parsing %q: %v", u.id, err))
	}
	return localpart
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// identifier during JSON deserialization.
func (u *UserID) UnmarshalText(text []byte) error {
	parsed, err := ParseUserID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// RoomID is a validated Matrix room ID (e.g., "!abc123:hippocamp.ai").
// Room IDs are server-assigned opaque identifiers; this code never
// constructs them, only parses them at the boundary.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parseMatrixID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Used by
// encoding/json for the room-keyed maps in /sync responses.
func (r *RoomID) UnmarshalText(text []byte) error {
	parsed, err := ParseRoomID(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// EventID is a validated Matrix event ID (e.g., "$0123abcd"). Room v3+
// event IDs are a '$' sigil followed by an opaque hash with no server
// part, so only the sigil is checked.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("empty event ID")
	}
	if raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID must start with '$': %q", raw)
	}
	if len(raw) == 1 {
		return EventID{}, fmt.Errorf("event ID has no content after '$'")
	}
	return EventID{id: raw}, nil
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) {
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
