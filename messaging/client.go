// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hippocamp/matrix-actions/lib/netutil"
	"github.com/hippocamp/matrix-actions/lib/ref"
	"github.com/hippocamp/matrix-actions/lib/secret"
)

const clientAPIPrefix = "/_matrix/client/v3"

// ClientConfig configures a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver, without a
	// trailing slash (e.g., "https://matrix.hippocamp.ai").
	HomeserverURL string
	// HTTPClient overrides the transport. Defaults to a client with a
	// 60 second timeout, long enough for sync long-polls.
	HTTPClient *http.Client
	// Logger receives request-level debug logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client: it can log in, restore a
// saved session, and probe the server, nothing more. Authenticated
// operations live on Session.
type Client struct {
	homeserverURL string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewClient validates the configuration and builds a Client.
func NewClient(config ClientConfig) (*Client, error) {
	base := strings.TrimRight(config.HomeserverURL, "/")
	if base == "" {
		return nil, fmt.Errorf("messaging: homeserver URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("messaging: homeserver URL %q must start with http:// or https://", base)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		homeserverURL: base,
		httpClient:    httpClient,
		logger:        logger,
	}, nil
}

// HomeserverURL returns the configured base URL.
func (c *Client) HomeserverURL() string {
	return c.homeserverURL
}

// CloseIdleConnections releases pooled transport connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// Login authenticates with m.login.password and returns a Session
// holding the access token in protected memory. The password buffer is
// only read, never retained; the caller keeps ownership.
//
// The transient heap copies of the login body are zeroed before return
// regardless of outcome.
func (c *Client) Login(ctx context.Context, userID ref.UserID, password *secret.Buffer, deviceID, deviceName string) (*Session, error) {
	if password == nil || password.Len() == 0 {
		return nil, fmt.Errorf("messaging: login password is empty")
	}

	body, err := json.Marshal(loginRequest{
		Type:                     "m.login.password",
		Identifier:               loginIdentifier{Type: "m.id.user", User: userID.String()},
		Password:                 password.String(),
		DeviceID:                 deviceID,
		InitialDeviceDisplayName: deviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: encoding login request: %w", err)
	}
	defer secret.Zero(body)

	var response loginResponse
	if err := c.doRequest(ctx, http.MethodPost, clientAPIPrefix+"/login", "", bytes.NewReader(body), &response); err != nil {
		return nil, err
	}
	if response.AccessToken == "" {
		return nil, fmt.Errorf("messaging: login response carried no access token")
	}

	token, err := secret.NewFromBytes([]byte(response.AccessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	response.AccessToken = ""

	c.logger.Debug("logged in",
		"user_id", response.UserID,
		"device_id", response.DeviceID)

	return &Session{
		client:      c,
		userID:      response.UserID,
		deviceID:    response.DeviceID,
		accessToken: token,
		txnEpoch:    time.Now().UnixMilli(),
	}, nil
}

// SessionFromToken restores a Session from a previously saved access
// token without a network round-trip. The token is moved into protected
// memory; validate the result with Session.WhoAmI before trusting it.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("messaging: saved access token is empty")
	}

	token, err := secret.NewFromBytes([]byte(accessToken))
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}

	return &Session{
		client:      c,
		userID:      userID,
		accessToken: token,
		txnEpoch:    time.Now().UnixMilli(),
	}, nil
}

// ServerVersions probes GET /_matrix/client/versions. Works without
// authentication; used as a connectivity diagnostic.
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersions, error) {
	var versions ServerVersions
	if err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/versions", "", nil, &versions); err != nil {
		return nil, err
	}
	return &versions, nil
}

// doRequest performs one API call. Paths are concatenated strings, not
// url.URL joins, so pre-escaped segments (room and user IDs) pass
// through untouched. A non-2xx response is decoded into *MatrixError;
// when the error body is not valid JSON, a synthetic M_UNKNOWN error
// carries the status instead.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body io.Reader, result any) error {
	request, err := http.NewRequestWithContext(ctx, method, c.homeserverURL+path, body)
	if err != nil {
		return fmt.Errorf("messaging: building request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("messaging: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("messaging: reading %s %s response: %w", method, path, err)
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		matrixErr := &MatrixError{StatusCode: response.StatusCode}
		if json.Unmarshal(data, matrixErr) != nil || matrixErr.Code == "" {
			matrixErr.Code = ErrCodeUnknown
			matrixErr.Message = fmt.Sprintf("%s %s returned status %d", method, path, response.StatusCode)
		}
		return matrixErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("messaging: decoding %s %s response: %w", method, path, err)
		}
	}
	return nil
}
