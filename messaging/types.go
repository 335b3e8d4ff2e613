// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/hippocamp/matrix-actions/lib/ref"

// loginRequest is the body of POST /login with m.login.password.
type loginRequest struct {
	Type                     string          `json:"type"`
	Identifier               loginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

type loginIdentifier struct {
	Type string `json:"type"` // always "m.id.user"
	User string `json:"user"`
}

// loginResponse is the success body of POST /login.
type loginResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// whoAmIResponse is the body of GET /account/whoami.
type whoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ServerVersions describes the homeserver's supported spec versions,
// from GET /_matrix/client/versions. Used for connectivity diagnostics
// only; the bridge does not negotiate versions.
type ServerVersions struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage builds plain-text m.text content.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// sendEventResponse is the success body of PUT /rooms/{id}/send.
type sendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// SyncOptions controls a call to Session.Sync.
type SyncOptions struct {
	// Since is the batch token from a previous sync. Empty requests an
	// initial sync.
	Since string
	// TimeoutMS is the server-side long-poll timeout in milliseconds.
	// Zero asks the server to return immediately.
	TimeoutMS int
}

// SyncResponse is the subset of the /sync response the bridge consumes:
// the next batch token and per-room timelines for joined and left rooms.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups sync data by the caller's membership. Keys are
// validated room IDs; a malformed key fails the whole decode rather
// than smuggling an invalid ID into the index.
type RoomsSection struct {
	Join  map[ref.RoomID]JoinedRoom `json:"join"`
	Leave map[ref.RoomID]LeftRoom   `json:"leave"`
}

// JoinedRoom carries the timeline of a room the user is joined to.
type JoinedRoom struct {
	Timeline Timeline `json:"timeline"`
}

// LeftRoom marks a room the user has left since the previous sync. The
// bridge only needs its presence in the leave map.
type LeftRoom struct{}

// Timeline is a chronological chunk of room events, oldest first.
type Timeline struct {
	Events []Event `json:"events"`
	// Limited indicates the server truncated the chunk; earlier events
	// exist beyond PrevBatch.
	Limited   bool   `json:"limited"`
	PrevBatch string `json:"prev_batch,omitempty"`
}

// Event is a room event from a sync timeline. Content stays loosely
// typed: timelines mix message events with state and ephemeral types.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
}

// TextBody extracts the body of a plain-text chat message. Only
// m.room.message events with msgtype "m.text" qualify: notices, emotes,
// images and files are m.room.message too, but their body is not chat
// text (an image's body is its filename).
func (e Event) TextBody() (string, bool) {
	if e.Type != "m.room.message" {
		return "", false
	}
	if msgType, ok := e.Content["msgtype"].(string); !ok || msgType != "m.text" {
		return "", false
	}
	body, ok := e.Content["body"].(string)
	return body, ok
}

// RoomMember is one entry from a room's member list.
type RoomMember struct {
	UserID      ref.UserID
	DisplayName string
}

// membersResponse is the body of GET /rooms/{id}/members. Chunk order
// is the server's order, which JoinedMembers preserves.
type membersResponse struct {
	Chunk []memberEvent `json:"chunk"`
}

type memberEvent struct {
	StateKey string        `json:"state_key"`
	Content  memberContent `json:"content"`
}

type memberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname"`
}
