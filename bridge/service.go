// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hippocamp/matrix-actions/lib/ref"
	"github.com/hippocamp/matrix-actions/lib/secret"
	"github.com/hippocamp/matrix-actions/lib/vault"
	"github.com/hippocamp/matrix-actions/messaging"
)

// syncTimeoutMS is the server-side long-poll timeout for read syncs.
const syncTimeoutMS = 5000

// Read limits. Out-of-range values are rejected, not clamped.
const (
	MinReadLimit     = 1
	MaxReadLimit     = 50
	DefaultReadLimit = 20
)

// secretState tracks the password source through its lifecycle, so the
// retry semantics are observable: a failure is recorded but never
// cached — the next authentication attempt resolves again.
type secretState int

const (
	secretUnresolved secretState = iota
	secretResolved
	secretFailed
)

// passwordSource lazily resolves the bot password: environment variable
// first (which always wins and never invokes the CLI), then the
// 1Password CLI when a secret reference is configured. Successful
// resolution is cached for the process lifetime.
//
// Callers must hold the session gate's lock; the source has no locking
// of its own.
type passwordSource struct {
	envName   string
	reference string
	cli       vault.CLI

	state   secretState
	buffer  *secret.Buffer
	lastErr error
}

func (p *passwordSource) resolve(ctx context.Context) (*secret.Buffer, error) {
	if p.state == secretResolved {
		return p.buffer, nil
	}

	if value := os.Getenv(p.envName); value != "" {
		buffer, err := secret.NewFromBytes([]byte(value))
		if err != nil {
			return p.fail(Errorf(CategoryConfig, "protecting %s value: %v", p.envName, err))
		}
		return p.succeed(buffer)
	}

	if p.reference != "" {
		buffer, err := p.cli.Read(ctx, p.reference)
		if err != nil {
			return p.fail(Errorf(CategoryConfig, "resolving %s via 1Password CLI: %v", p.envName, err))
		}
		if buffer != nil {
			return p.succeed(buffer)
		}
		// Zero exit, empty output: fall through to the missing-variable
		// error rather than accepting an empty password.
	}

	return p.fail(Errorf(CategoryConfig, "secret %s is not set and could not be resolved", p.envName))
}

func (p *passwordSource) succeed(buffer *secret.Buffer) (*secret.Buffer, error) {
	p.state = secretResolved
	p.buffer = buffer
	p.lastErr = nil
	return buffer, nil
}

func (p *passwordSource) fail(err error) (*secret.Buffer, error) {
	p.state = secretFailed
	p.lastErr = err
	return nil, err
}

func (p *passwordSource) close() {
	if p.buffer != nil {
		p.buffer.Close()
		p.buffer = nil
	}
	p.state = secretUnresolved
}

// Service owns the single authenticated Matrix session and implements
// the three bridge operations. Construct one at startup and inject it
// into the handler set; Close it once at shutdown.
type Service struct {
	settings *Settings
	logger   *slog.Logger
	client   *messaging.Client
	store    sessionStore

	// gate serializes check-and-login. At most one login attempt is in
	// flight at any time; concurrent callers block here and re-check.
	gate         sync.Mutex
	session      *messaging.Session
	password     *passwordSource
	restoreTried bool

	// syncMu serializes the sync-and-apply step of read operations, so
	// the sync position only ever moves forward. Sends and member
	// listings are unaffected.
	syncMu sync.Mutex

	// indexMu guards the joined-room index and the sync position for
	// readers that do not hold syncMu.
	indexMu   sync.Mutex
	joined    map[ref.RoomID]bool
	nextBatch string
}

// NewService validates the settings and builds the service. No network
// traffic happens here; authentication is deferred to first use.
func NewService(settings *Settings, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: settings.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return nil, Errorf(CategoryConfig, "building Matrix client: %v", err)
	}

	return &Service{
		settings: settings,
		logger:   logger,
		client:   client,
		store:    sessionStore{dir: settings.SessionStore},
		password: &passwordSource{
			envName:   EnvPassword,
			reference: settings.OPPasswordPath,
			cli:       vault.CLI{Path: settings.OPCLIPath},
		},
		joined: make(map[ref.RoomID]bool),
	}, nil
}

// ensureAuthenticated is the session gate: it returns the live session,
// logging in first if needed. The whole check-and-login sequence runs
// under one lock, so concurrent callers either observe an established
// session or wait for the single in-flight attempt.
func (s *Service) ensureAuthenticated(ctx context.Context) (*messaging.Session, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	if s.session != nil && s.session.Valid() {
		return s.session, nil
	}

	if session := s.tryRestore(ctx); session != nil {
		s.session = session
		return session, nil
	}

	password, err := s.password.resolve(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.client.Login(ctx, s.settings.UserID, password,
		s.settings.DeviceID, s.settings.DeviceName)
	if err != nil {
		if messaging.IsAuthRejection(err) {
			s.logger.Warn("login rejected", "user_id", s.settings.UserID)
			return nil, Errorf(CategoryAuth, "homeserver rejected the bot credentials")
		}
		s.logger.Error("login failed", "user_id", s.settings.UserID, "error", err)
		return nil, Errorf(CategoryUpstream, "login failed: %v", err)
	}

	s.logger.Info("logged in", "user_id", session.UserID(), "device_id", session.DeviceID())
	if err := s.store.Save(savedSession{
		UserID:      session.UserID(),
		DeviceID:    session.DeviceID(),
		Homeserver:  s.settings.Homeserver,
		AccessToken: session.AccessToken(),
	}); err != nil {
		// Losing the saved session only costs a re-login next restart.
		s.logger.Warn("saving session", "error", err)
	}

	s.session = session
	return session, nil
}

// tryRestore attempts to resume the saved on-disk session instead of
// logging in. Runs at most once per process, under the gate lock. Any
// failure — missing file, user or homeserver mismatch, token no longer
// valid — falls through to password login, removing the stale file.
func (s *Service) tryRestore(ctx context.Context) *messaging.Session {
	if s.restoreTried {
		return nil
	}
	s.restoreTried = true

	saved, err := s.store.Load()
	if err != nil {
		s.logger.Warn("discarding unreadable session file", "error", err)
		s.store.Remove()
		return nil
	}
	if saved == nil {
		return nil
	}
	if saved.UserID != s.settings.UserID || saved.Homeserver != s.settings.Homeserver {
		s.logger.Info("saved session is for a different account, ignoring",
			"saved_user_id", saved.UserID)
		s.store.Remove()
		return nil
	}

	session, err := s.client.SessionFromToken(saved.UserID, saved.AccessToken)
	if err != nil {
		s.store.Remove()
		return nil
	}

	userID, err := session.WhoAmI(ctx)
	if err != nil || userID != s.settings.UserID {
		s.logger.Info("saved session no longer valid, falling back to login")
		session.Close()
		s.store.Remove()
		return nil
	}

	s.logger.Info("restored saved session", "user_id", userID, "device_id", session.DeviceID())
	return session
}

// SendResult is the success payload of the send operation.
type SendResult struct {
	EventID ref.EventID `json:"event_id"`
	RoomID  ref.RoomID  `json:"room_id"`
	Status  string      `json:"status"`
}

// Message is a normalized text message from a room timeline.
type Message struct {
	Body    string      `json:"body"`
	EventID ref.EventID `json:"event_id"`
	Sender  ref.UserID  `json:"sender"`
	// Timestamp is the homeserver's origin timestamp in epoch ms.
	Timestamp int64 `json:"timestamp"`
}

// Member is a normalized room member.
type Member struct {
	UserID      ref.UserID `json:"user_id"`
	DisplayName string     `json:"display_name,omitempty"`
}

// SendMessage posts a plain-text message to a room. Input is validated
// before any network call; past authentication, a single send attempt
// is made and any failure surfaces as an upstream error.
func (s *Service) SendMessage(ctx context.Context, rawRoomID, message string) (*SendResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, Errorf(CategoryValidation, "message must not be empty")
	}
	roomID, err := ref.ParseRoomID(rawRoomID)
	if err != nil {
		return nil, Errorf(CategoryValidation, "invalid room_id: %v", err)
	}

	session, err := s.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	eventID, err := session.SendMessage(ctx, roomID, messaging.NewTextMessage(message))
	if err != nil {
		s.logger.Error("send failed", "room_id", roomID, "error", err)
		return nil, Errorf(CategoryUpstream, "sending message: %v", err)
	}

	s.logger.Info("message sent", "room_id", roomID, "event_id", eventID)
	return &SendResult{EventID: eventID, RoomID: roomID, Status: "sent"}, nil
}

// ReadMessages returns up to limit recent text messages from a room,
// newest first. One sync round-trip per call; no pagination into older
// history. A room the bot has never joined is a not-found error; a
// joined room with no fresh timeline events yields an empty list.
func (s *Service) ReadMessages(ctx context.Context, rawRoomID string, limit int) ([]Message, error) {
	if limit < MinReadLimit || limit > MaxReadLimit {
		return nil, Errorf(CategoryValidation, "limit must be between %d and %d", MinReadLimit, MaxReadLimit)
	}
	roomID, err := ref.ParseRoomID(rawRoomID)
	if err != nil {
		return nil, Errorf(CategoryValidation, "invalid room_id: %v", err)
	}

	session, err := s.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	response, err := s.syncOnce(ctx, session)
	if err != nil {
		s.logger.Error("sync failed", "room_id", roomID, "error", err)
		return nil, Errorf(CategoryUpstream, "syncing with homeserver: %v", err)
	}

	if !s.isJoined(roomID) {
		return nil, Errorf(CategoryNotFound, "room %s is not in the bot's joined rooms", roomID)
	}

	// A joined room absent from this sync window simply had no updates.
	room, ok := response.Rooms.Join[roomID]
	if !ok {
		return []Message{}, nil
	}

	events := room.Timeline.Events
	messages := make([]Message, 0, limit)
	for i := len(events) - 1; i >= 0 && len(messages) < limit; i-- {
		body, ok := events[i].TextBody()
		if !ok {
			continue
		}
		messages = append(messages, Message{
			Body:      body,
			EventID:   events[i].EventID,
			Sender:    events[i].Sender,
			Timestamp: events[i].OriginServerTS,
		})
	}

	s.logger.Info("messages read", "room_id", roomID, "count", len(messages))
	return messages, nil
}

// RoomMembers lists the currently joined members of a room in the
// server's order.
func (s *Service) RoomMembers(ctx context.Context, rawRoomID string) ([]Member, error) {
	roomID, err := ref.ParseRoomID(rawRoomID)
	if err != nil {
		return nil, Errorf(CategoryValidation, "invalid room_id: %v", err)
	}

	session, err := s.ensureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	roomMembers, err := session.JoinedMembers(ctx, roomID)
	if err != nil {
		s.logger.Error("member listing failed", "room_id", roomID, "error", err)
		return nil, Errorf(CategoryUpstream, "listing room members: %v", err)
	}

	members := make([]Member, 0, len(roomMembers))
	for _, member := range roomMembers {
		members = append(members, Member{
			UserID:      member.UserID,
			DisplayName: member.DisplayName,
		})
	}

	s.logger.Info("members listed", "room_id", roomID, "count", len(members))
	return members, nil
}

// syncOnce performs one sync round-trip and folds the result into the
// joined-room index. Serialized under syncMu: concurrent reads take
// strictly consecutive sync windows instead of racing on the batch
// token and replaying one.
func (s *Service) syncOnce(ctx context.Context, session *messaging.Session) (*messaging.SyncResponse, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	response, err := session.Sync(ctx, messaging.SyncOptions{
		Since:     s.syncPosition(),
		TimeoutMS: syncTimeoutMS,
	})
	if err != nil {
		return nil, err
	}
	s.applySync(response)
	return response, nil
}

// syncPosition returns the batch token for the next sync. Empty on the
// first sync of the process, which makes it an initial sync and seeds
// the joined-room index completely.
func (s *Service) syncPosition() string {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.nextBatch
}

// applySync folds a sync response into the joined-room index: the join
// section adds rooms, the leave section removes them. The index is
// process-local; it is never persisted.
func (s *Service) applySync(response *messaging.SyncResponse) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	for roomID := range response.Rooms.Join {
		s.joined[roomID] = true
	}
	for roomID := range response.Rooms.Leave {
		delete(s.joined, roomID)
	}
	s.nextBatch = response.NextBatch
}

func (s *Service) isJoined(roomID ref.RoomID) bool {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.joined[roomID]
}

// Close releases the session token, the cached password, and idle
// connections. Safe on a nil receiver and idempotent, so shutdown paths
// can call it unconditionally.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Close()
		s.session = nil
	}
	s.password.close()
	s.client.CloseIdleConnections()
	return err
}
