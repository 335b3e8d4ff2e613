// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseUserID(t *testing.T) {
	valid := []string{
		"@gabe:hippocamp.ai",
		"@bot:example.org",
		"@a:b",
	}
	for _, raw := range valid {
		userID, err := ParseUserID(raw)
		if err != nil {
			t.Errorf("ParseUserID(%q) failed: %v", raw, err)
			continue
		}
		if userID.String() != raw {
			t.Errorf("ParseUserID(%q).String() = %q", raw, userID.String())
		}
	}

	invalid := []string{
		"",
		"gabe:hippocamp.ai",
		"@gabe",
		"@:hippocamp.ai",
		"@gabe:",
	}
	for _, raw := range invalid {
		if _, err := ParseUserID(raw); err == nil {
			t.Errorf("ParseUserID(%q) should have failed", raw)
		}
	}
}

func TestUserIDLocalpart(t *testing.T) {
	userID, err := ParseUserID("@gabe:hippocamp.ai")
	if err != nil {
		t.Fatalf("ParseUserID failed: %v", err)
	}
	if userID.Localpart() != "gabe" {
		t.Errorf("Localpart = %q, want %q", userID.Localpart(), "gabe")
	}
}

func TestParseRoomID(t *testing.T) {
	roomID, err := ParseRoomID("!abc:example.org")
	if err != nil {
		t.Fatalf("ParseRoomID failed: %v", err)
	}
	if roomID.String() != "!abc:example.org" {
		t.Errorf("unexpected String: %q", roomID.String())
	}

	for _, raw := range []string{"", "abc:example.org", "!abc", "!:example.org"} {
		if _, err := ParseRoomID(raw); err == nil {
			t.Errorf("ParseRoomID(%q) should have failed", raw)
		}
	}
}

func TestParseEventID(t *testing.T) {
	eventID, err := ParseEventID("$0123abcd")
	if err != nil {
		t.Fatalf("ParseEventID failed: %v", err)
	}
	if eventID.String() != "$0123abcd" {
		t.Errorf("unexpected String: %q", eventID.String())
	}

	for _, raw := range []string{"", "0123", "$"} {
		if _, err := ParseEventID(raw); err == nil {
			t.Errorf("ParseEventID(%q) should have failed", raw)
		}
	}
}

func TestRoomIDMapKey(t *testing.T) {
	// /sync responses key rooms by ID; UnmarshalText must validate keys.
	var decoded map[RoomID]struct {
		Name string `json:"name"`
	}
	payload := `{"!abc:example.org": {"name": "clearing"}}`
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	roomID, _ := ParseRoomID("!abc:example.org")
	if _, ok := decoded[roomID]; !ok {
		t.Error("room key missing after unmarshal")
	}

	if err := json.Unmarshal([]byte(`{"bogus": {}}`), &decoded); err == nil {
		t.Error("expected unmarshal failure for invalid room key")
	}
}

func TestZeroValues(t *testing.T) {
	if !(UserID{}).IsZero() || !(RoomID{}).IsZero() || !(EventID{}).IsZero() {
		t.Error("zero values should report IsZero")
	}
}
