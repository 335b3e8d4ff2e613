// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/hippocamp/matrix-actions/lib/ref"
	"github.com/hippocamp/matrix-actions/lib/secret"
)

// Session is an authenticated Matrix connection. Construct one through
// Client.Login or Client.SessionFromToken. Methods are safe for
// concurrent use; Close must not race with in-flight calls.
type Session struct {
	client      *Client
	userID      ref.UserID
	deviceID    string
	accessToken *secret.Buffer
	closed      atomic.Bool

	// txnCounter feeds transaction IDs for idempotent event sends.
	txnCounter atomic.Int64
	// txnEpoch distinguishes this process's transaction IDs from a
	// previous run reusing the same device.
	txnEpoch int64
}

// UserID returns the authenticated user.
func (s *Session) UserID() ref.UserID {
	return s.userID
}

// DeviceID returns the device the session is bound to. Empty for
// sessions restored from a saved token until WhoAmI fills it in.
func (s *Session) DeviceID() string {
	return s.deviceID
}

// Valid reports whether the session still holds an access token, i.e.
// Close has not been called.
func (s *Session) Valid() bool {
	return !s.closed.Load()
}

// AccessToken returns the raw token as a heap string. Only for
// persisting the session to the on-disk store.
func (s *Session) AccessToken() string {
	return s.accessToken.String()
}

// Close destroys the protected token memory. The session is unusable
// afterwards. Idempotent.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.accessToken.Close()
}

// WhoAmI validates the access token against GET /account/whoami and
// returns the user the server thinks we are. Restored sessions call
// this before first use; a stale token surfaces as M_UNKNOWN_TOKEN.
func (s *Session) WhoAmI(ctx context.Context) (ref.UserID, error) {
	var response whoAmIResponse
	err := s.client.doRequest(ctx, http.MethodGet, clientAPIPrefix+"/account/whoami", s.accessToken.String(), nil, &response)
	if err != nil {
		return ref.UserID{}, err
	}
	if s.deviceID == "" {
		s.deviceID = response.DeviceID
	}
	return response.UserID, nil
}

// SendMessage posts plain-text content to a room via the idempotent
// PUT /rooms/{id}/send/m.room.message/{txnId} endpoint and returns the
// event ID the server assigned.
func (s *Session) SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: encoding message content: %w", err)
	}

	path := fmt.Sprintf("%s/rooms/%s/send/m.room.message/%s",
		clientAPIPrefix, url.PathEscape(roomID.String()), s.nextTxnID())

	var response sendEventResponse
	if err := s.client.doRequest(ctx, http.MethodPut, path, s.accessToken.String(), bytes.NewReader(body), &response); err != nil {
		return ref.EventID{}, err
	}

	s.client.logger.Debug("sent message",
		"room_id", roomID,
		"event_id", response.EventID)
	return response.EventID, nil
}

// Sync performs one GET /sync round-trip. An empty Since requests an
// initial sync; the returned NextBatch feeds the next call.
func (s *Session) Sync(ctx context.Context, opts SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	query.Set("timeout", strconv.Itoa(opts.TimeoutMS))
	if opts.Since != "" {
		query.Set("since", opts.Since)
	}

	var response SyncResponse
	err := s.client.doRequest(ctx, http.MethodGet, clientAPIPrefix+"/sync?"+query.Encode(), s.accessToken.String(), nil, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// JoinedMembers lists the currently joined members of a room via
// GET /rooms/{id}/members?membership=join, preserving the server's
// ordering of the member list.
func (s *Session) JoinedMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error) {
	path := fmt.Sprintf("%s/rooms/%s/members?membership=join",
		clientAPIPrefix, url.PathEscape(roomID.String()))

	var response membersResponse
	if err := s.client.doRequest(ctx, http.MethodGet, path, s.accessToken.String(), nil, &response); err != nil {
		return nil, err
	}

	members := make([]RoomMember, 0, len(response.Chunk))
	for _, event := range response.Chunk {
		if event.Content.Membership != "join" {
			continue
		}
		userID, err := ref.ParseUserID(event.StateKey)
		if err != nil {
			// Tolerate junk state keys rather than failing the listing.
			s.client.logger.Warn("skipping member with malformed state key",
				"room_id", roomID,
				"state_key", event.StateKey)
			continue
		}
		members = append(members, RoomMember{
			UserID:      userID,
			DisplayName: event.Content.DisplayName,
		})
	}
	return members, nil
}

// nextTxnID produces a transaction ID unique within this session. The
// epoch is the session's creation time, so restarting the process never
// collides with a previous run's IDs on the same device.
func (s *Session) nextTxnID() string {
	return fmt.Sprintf("actions-%d-%d", s.txnEpoch, s.txnCounter.Add(1))
}
