// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hippocamp/matrix-actions/lib/ref"
	"github.com/hippocamp/matrix-actions/lib/secret"
)

func mustUserID(t *testing.T, raw string) ref.UserID {
	t.Helper()
	userID, err := ref.ParseUserID(raw)
	if err != nil {
		t.Fatalf("parsing user ID %q: %v", raw, err)
	}
	return userID
}

func mustRoomID(t *testing.T, raw string) ref.RoomID {
	t.Helper()
	roomID, err := ref.ParseRoomID(raw)
	if err != nil {
		t.Fatalf("parsing room ID %q: %v", raw, err)
	}
	return roomID
}

func mustPassword(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating password buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.CloseIdleConnections)
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error for empty homeserver URL")
	}
	if _, err := NewClient(ClientConfig{HomeserverURL: "matrix.example.com"}); err == nil {
		t.Error("expected error for URL without scheme")
	}

	client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.example.com/"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.HomeserverURL() != "https://matrix.example.com" {
		t.Errorf("trailing slash not trimmed: %q", client.HomeserverURL())
	}
}

func TestLogin(t *testing.T) {
	var gotRequest loginRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/_matrix/client/v3/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decoding login request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"user_id":      "@gabe:hippocamp.ai",
			"access_token": "syt_token_1",
			"device_id":    "ACTIONS_DEVICE",
		})
	}))

	session, err := client.Login(context.Background(),
		mustUserID(t, "@gabe:hippocamp.ai"), mustPassword(t, "hunter2"),
		"ACTIONS_DEVICE", "Actions Bridge")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	defer session.Close()

	if gotRequest.Type != "m.login.password" {
		t.Errorf("login type = %q, want m.login.password", gotRequest.Type)
	}
	if gotRequest.Identifier.User != "@gabe:hippocamp.ai" {
		t.Errorf("identifier user = %q", gotRequest.Identifier.User)
	}
	if gotRequest.Password != "hunter2" {
		t.Errorf("password not forwarded")
	}
	if gotRequest.DeviceID != "ACTIONS_DEVICE" || gotRequest.InitialDeviceDisplayName != "Actions Bridge" {
		t.Errorf("device fields = %q / %q", gotRequest.DeviceID, gotRequest.InitialDeviceDisplayName)
	}

	if session.UserID().String() != "@gabe:hippocamp.ai" {
		t.Errorf("session user = %q", session.UserID())
	}
	if session.DeviceID() != "ACTIONS_DEVICE" {
		t.Errorf("session device = %q", session.DeviceID())
	}
	if session.AccessToken() != "syt_token_1" {
		t.Errorf("access token not retained")
	}
	if !session.Valid() {
		t.Error("fresh session should be valid")
	}
}

func TestLoginForbidden(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"Invalid password"}`))
	}))

	_, err := client.Login(context.Background(),
		mustUserID(t, "@gabe:hippocamp.ai"), mustPassword(t, "wrong"), "", "")
	if err == nil {
		t.Fatal("expected login to fail")
	}

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("expected *MatrixError, got %T: %v", err, err)
	}
	if matrixErr.Code != ErrCodeForbidden || matrixErr.StatusCode != 403 {
		t.Errorf("got %s (%d), want M_FORBIDDEN (403)", matrixErr.Code, matrixErr.StatusCode)
	}
	if !IsAuthRejection(err) {
		t.Error("M_FORBIDDEN should classify as auth rejection")
	}
}

func TestLoginNonJSONError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))

	_, err := client.Login(context.Background(),
		mustUserID(t, "@gabe:hippocamp.ai"), mustPassword(t, "pw"), "", "")

	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("expected *MatrixError, got %v", err)
	}
	if matrixErr.Code != ErrCodeUnknown || matrixErr.StatusCode != 502 {
		t.Errorf("got %s (%d), want M_UNKNOWN (502)", matrixErr.Code, matrixErr.StatusCode)
	}
	if IsAuthRejection(err) {
		t.Error("502 should not classify as auth rejection")
	}
}

func TestLoginEmptyPassword(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the server")
	}))

	if _, err := client.Login(context.Background(), mustUserID(t, "@gabe:hippocamp.ai"), nil, "", ""); err == nil {
		t.Error("expected error for nil password")
	}
}

func TestSessionFromToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer saved_token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(map[string]string{
			"user_id":   "@gabe:hippocamp.ai",
			"device_id": "RESTORED_DEVICE",
		})
	}))

	session, err := client.SessionFromToken(mustUserID(t, "@gabe:hippocamp.ai"), "saved_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	defer session.Close()

	userID, err := session.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI failed: %v", err)
	}
	if userID.String() != "@gabe:hippocamp.ai" {
		t.Errorf("whoami user = %q", userID)
	}
	if session.DeviceID() != "RESTORED_DEVICE" {
		t.Errorf("device not learned from whoami: %q", session.DeviceID())
	}
}

func TestSessionFromTokenEmpty(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "https://matrix.example.com"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.SessionFromToken(ref.UserID{}, ""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestServerVersions(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/versions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("versions probe must not send credentials")
		}
		w.Write([]byte(`{"versions":["v1.10","v1.11"]}`))
	}))

	versions, err := client.ServerVersions(context.Background())
	if err != nil {
		t.Fatalf("ServerVersions failed: %v", err)
	}
	if len(versions.Versions) != 2 || versions.Versions[0] != "v1.10" {
		t.Errorf("unexpected versions: %v", versions.Versions)
	}
}

func TestIsMatrixError(t *testing.T) {
	wrapped := &MatrixError{Code: ErrCodeNotFound, StatusCode: 404, Message: "gone"}
	if !IsMatrixError(wrapped, ErrCodeNotFound) {
		t.Error("IsMatrixError should match the code")
	}
	if IsMatrixError(wrapped, ErrCodeForbidden) {
		t.Error("IsMatrixError should reject other codes")
	}
	if IsMatrixError(errors.New("plain"), ErrCodeNotFound) {
		t.Error("IsMatrixError should reject non-Matrix errors")
	}
	if !strings.Contains(wrapped.Error(), "M_NOT_FOUND") {
		t.Errorf("error text should carry the code: %v", wrapped)
	}
}
