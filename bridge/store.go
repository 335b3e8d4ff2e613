// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hippocamp/matrix-actions/lib/ref"
)

const sessionFileName = "session.json"

// savedSession is the on-disk session record. Only the access token is
// persisted across restarts; sync tokens are deliberately not saved, so
// every process rebuilds its joined-room index from an initial sync.
type savedSession struct {
	UserID      ref.UserID `json:"user_id"`
	DeviceID    string     `json:"device_id,omitempty"`
	Homeserver  string     `json:"homeserver"`
	AccessToken string     `json:"access_token"`
}

// sessionStore reads and writes the session record under the
// session-store directory. The directory is created 0700 by
// LoadSettings; the file itself is written 0600 since it holds a live
// access token.
type sessionStore struct {
	dir string
}

func (s sessionStore) path() string {
	return filepath.Join(s.dir, sessionFileName)
}

// Load returns the saved session, or (nil, nil) when none exists. A
// corrupt file is an error so the caller can log and discard it.
func (s sessionStore) Load() (*savedSession, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if saved.AccessToken == "" {
		return nil, fmt.Errorf("session file has no access token")
	}
	return &saved, nil
}

// Save writes the session record with owner-only permissions.
func (s sessionStore) Save(saved savedSession) error {
	data, err := json.Marshal(saved)
	if err != nil {
		return fmt.Errorf("encoding session file: %w", err)
	}
	if err := os.WriteFile(s.path(), data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Remove deletes the saved session. Missing file is not an error.
func (s sessionStore) Remove() error {
	err := os.Remove(s.path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
