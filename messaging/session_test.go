// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

const testRoomID = "!ops:hippocamp.ai"

// loginTestSession logs into a fake homeserver whose non-login routes
// are served by handler.
func loginTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_matrix/client/v3/login" {
			json.NewEncoder(w).Encode(map[string]string{
				"user_id":      "@gabe:hippocamp.ai",
				"access_token": "syt_test",
				"device_id":    "DEV",
			})
			return
		}
		if r.Header.Get("Authorization") != "Bearer syt_test" {
			t.Errorf("missing bearer token on %s", r.URL.Path)
		}
		handler(w, r)
	}))

	session, err := client.Login(context.Background(),
		mustUserID(t, "@gabe:hippocamp.ai"), mustPassword(t, "pw"), "DEV", "test")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSendMessage(t *testing.T) {
	var paths []string
	session := loginTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("send must use PUT, got %s", r.Method)
		}
		paths = append(paths, r.URL.Path)

		var content MessageContent
		if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
			t.Errorf("decoding content: %v", err)
		}
		if content.MsgType != "m.text" || content.Body != "deploy finished" {
			t.Errorf("unexpected content: %+v", content)
		}
		json.NewEncoder(w).Encode(map[string]string{"event_id": "$evt1:hippocamp.ai"})
	})

	eventID, err := session.SendMessage(context.Background(),
		mustRoomID(t, testRoomID), NewTextMessage("deploy finished"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID.String() != "$evt1:hippocamp.ai" {
		t.Errorf("event ID = %q", eventID)
	}

	// A second send must use a fresh transaction ID.
	if _, err := session.SendMessage(context.Background(),
		mustRoomID(t, testRoomID), NewTextMessage("deploy finished")); err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(paths))
	}
	for _, path := range paths {
		if !strings.Contains(path, "/send/m.room.message/") {
			t.Errorf("unexpected send path: %s", path)
		}
	}
	if paths[0] == paths[1] {
		t.Errorf("transaction IDs must differ: %s", paths[0])
	}
}

func TestSync(t *testing.T) {
	var gotQueries []string
	session := loginTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQueries = append(gotQueries, r.URL.RawQuery)
		w.Write([]byte(`{
			"next_batch": "s2",
			"rooms": {
				"join": {
					"!ops:hippocamp.ai": {
						"timeline": {
							"events": [
								{"event_id":"$a:h","type":"m.room.message","sender":"@amy:h","origin_server_ts":1000,"content":{"msgtype":"m.text","body":"hi"}},
								{"event_id":"$b:h","type":"m.room.member","sender":"@bob:h","origin_server_ts":2000,"content":{"membership":"join"}}
							],
							"limited": true,
							"prev_batch": "p1"
						}
					}
				},
				"leave": {"!old:hippocamp.ai": {}}
			}
		}`))
	})

	response, err := session.Sync(context.Background(), SyncOptions{TimeoutMS: 5000})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s2" {
		t.Errorf("next batch = %q", response.NextBatch)
	}

	joined, ok := response.Rooms.Join[mustRoomID(t, testRoomID)]
	if !ok {
		t.Fatalf("joined room missing: %v", response.Rooms.Join)
	}
	if len(joined.Timeline.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(joined.Timeline.Events))
	}
	if !joined.Timeline.Limited || joined.Timeline.PrevBatch != "p1" {
		t.Errorf("timeline pagination fields lost: %+v", joined.Timeline)
	}

	body, ok := joined.Timeline.Events[0].TextBody()
	if !ok || body != "hi" {
		t.Errorf("TextBody = %q, %v", body, ok)
	}
	if _, ok := joined.Timeline.Events[1].TextBody(); ok {
		t.Error("member event must not expose a text body")
	}

	if _, ok := response.Rooms.Leave[mustRoomID(t, "!old:hippocamp.ai")]; !ok {
		t.Error("left room missing from leave section")
	}

	// Incremental sync carries the since token.
	if _, err := session.Sync(context.Background(), SyncOptions{Since: response.NextBatch, TimeoutMS: 5000}); err != nil {
		t.Fatalf("incremental Sync failed: %v", err)
	}
	if len(gotQueries) != 2 {
		t.Fatalf("expected 2 syncs, got %d", len(gotQueries))
	}
	if strings.Contains(gotQueries[0], "since=") {
		t.Errorf("initial sync must not send since: %s", gotQueries[0])
	}
	if !strings.Contains(gotQueries[1], "since=s2") || !strings.Contains(gotQueries[1], "timeout=5000") {
		t.Errorf("incremental sync query = %s", gotQueries[1])
	}
}

func TestSyncRejectsMalformedRoomKey(t *testing.T) {
	session := loginTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"next_batch":"s1","rooms":{"join":{"not-a-room-id":{}}}}`))
	})

	if _, err := session.Sync(context.Background(), SyncOptions{}); err == nil {
		t.Error("expected decode failure for malformed room ID key")
	}
}

func TestJoinedMembers(t *testing.T) {
	session := loginTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/_matrix/client/v3/rooms/" + testRoomID + "/members"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if r.URL.Query().Get("membership") != "join" {
			t.Errorf("membership filter missing: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"chunk":[
			{"state_key":"@zara:h","content":{"membership":"join","displayname":"Zara"}},
			{"state_key":"@amy:h","content":{"membership":"join"}},
			{"state_key":"@left:h","content":{"membership":"leave","displayname":"Gone"}},
			{"state_key":"broken","content":{"membership":"join"}}
		]}`))
	})

	members, err := session.JoinedMembers(context.Background(), mustRoomID(t, testRoomID))
	if err != nil {
		t.Fatalf("JoinedMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d: %v", len(members), members)
	}
	// Server order is preserved, not sorted.
	if members[0].UserID.String() != "@zara:h" || members[0].DisplayName != "Zara" {
		t.Errorf("first member = %+v", members[0])
	}
	if members[1].UserID.String() != "@amy:h" || members[1].DisplayName != "" {
		t.Errorf("second member = %+v", members[1])
	}
}

func TestEventTextBody(t *testing.T) {
	cases := []struct {
		name     string
		event    Event
		wantBody string
		wantOK   bool
	}{
		{
			name:     "plain text",
			event:    Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.text", "body": "hi"}},
			wantBody: "hi",
			wantOK:   true,
		},
		{
			name:  "notice",
			event: Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.notice", "body": "bot notice"}},
		},
		{
			name:  "image body is a filename, not chat text",
			event: Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.image", "body": "cat.jpg"}},
		},
		{
			name:  "emote",
			event: Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.emote", "body": "waves"}},
		},
		{
			name:  "missing msgtype",
			event: Event{Type: "m.room.message", Content: map[string]any{"body": "hi"}},
		},
		{
			name:  "missing body",
			event: Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.text"}},
		},
		{
			name:  "state event",
			event: Event{Type: "m.room.member", Content: map[string]any{"membership": "join", "body": "hi"}},
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			body, ok := testCase.event.TextBody()
			if ok != testCase.wantOK || body != testCase.wantBody {
				t.Errorf("TextBody = %q, %v; want %q, %v", body, ok, testCase.wantBody, testCase.wantOK)
			}
		})
	}
}

func TestSessionClose(t *testing.T) {
	session := loginTestSession(t, func(w http.ResponseWriter, r *http.Request) {})
	if err := session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if session.Valid() {
		t.Error("closed session should not report valid")
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
}
