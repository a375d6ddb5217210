package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/session"
)

// Session driver timing defaults.
const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultRefreshInterval   = 4 * time.Second
)

// ConnectionState is the lifecycle state of the session driver.
type ConnectionState string

const (
	ConnectionIdle      ConnectionState = "idle"
	ConnectionCreating  ConnectionState = "creating"
	ConnectionConnected ConnectionState = "connected"
	ConnectionError     ConnectionState = "error"
)

// SessionState is a snapshot of the driver's view of the session.
type SessionState struct {
	Connection       ConnectionState
	ChatID           string
	Token            string
	Session          *session.Session
	SessionStatus    session.Status
	DeploymentStatus session.DeploymentStatus
	PreviewURL       string
	ExpiresAt        time.Time
	Err              error
}

// SessionClient drives session creation and lifecycle against the broker for
// one editor surface. A single chat is active at a time; switching chats
// tears the previous session down best-effort. Safe for concurrent use.
type SessionClient struct {
	broker            *Broker
	heartbeatInterval time.Duration
	refreshInterval   time.Duration

	mu       sync.Mutex
	state    SessionState
	inflight *ensureCall
	paused   bool
	started  bool

	kick chan struct{}
	done chan struct{}
}

type ensureCall struct {
	chatID string
	ready  chan struct{}
	state  SessionState
	err    error
}

// SessionClientOption configures a SessionClient.
type SessionClientOption func(*SessionClient)

// WithHeartbeatInterval overrides the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) SessionClientOption {
	return func(s *SessionClient) {
		s.heartbeatInterval = d
	}
}

// WithRefreshInterval overrides the status refresh cadence.
func WithRefreshInterval(d time.Duration) SessionClientOption {
	return func(s *SessionClient) {
		s.refreshInterval = d
	}
}

// NewSessionClient creates a session driver over the broker.
func NewSessionClient(broker *Broker, opts ...SessionClientOption) *SessionClient {
	s := &SessionClient{
		broker:            broker,
		heartbeatInterval: defaultHeartbeatInterval,
		refreshInterval:   defaultRefreshInterval,
		state:             SessionState{Connection: ConnectionIdle},
		kick:              make(chan struct{}, 1),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a snapshot of the current session state.
func (s *SessionClient) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current runtime token, empty when disconnected.
func (s *SessionClient) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// EnsureSession makes sure a session exists for the chat, creating or
// reusing one as needed. Concurrent calls for the same chat share one
// in-flight create; a call for a different chat waits the old one out,
// deletes the previous session best-effort and starts over.
func (s *SessionClient) EnsureSession(ctx context.Context, chatID, templateID string, force bool) (SessionState, error) {
	for {
		s.mu.Lock()

		if call := s.inflight; call != nil {
			sameChat := call.chatID == chatID
			s.mu.Unlock()
			select {
			case <-call.ready:
			case <-ctx.Done():
				return SessionState{}, ctx.Err()
			}
			if sameChat {
				return call.state, call.err
			}
			continue
		}

		if !force && s.state.Connection == ConnectionConnected && s.state.ChatID == chatID {
			state := s.state
			s.mu.Unlock()
			return state, nil
		}

		previousToken := ""
		if s.state.ChatID != "" && s.state.ChatID != chatID {
			previousToken = s.state.Token
		}

		call := &ensureCall{chatID: chatID, ready: make(chan struct{})}
		s.inflight = call
		s.state.Connection = ConnectionCreating
		s.state.ChatID = chatID
		s.state.Err = nil
		s.mu.Unlock()

		if previousToken != "" {
			if err := s.broker.DeleteSession(ctx, previousToken); err != nil {
				logger.Warnw("failed to delete previous chat session", "error", err.Error())
			}
		}

		state, err := s.create(ctx, chatID, templateID)

		s.mu.Lock()
		call.state = state
		call.err = err
		if s.inflight == call {
			s.inflight = nil
		}
		close(call.ready)
		s.mu.Unlock()

		return state, err
	}
}

func (s *SessionClient) create(ctx context.Context, chatID, templateID string) (SessionState, error) {
	payload, err := s.broker.CreateSession(ctx, chatID, templateID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state.Connection = ConnectionError
		// The old token belongs to a torn-down session; keeping it would
		// leave the heartbeat loop retrying a dead lease.
		s.state.Token = ""
		s.state.Err = err
		return s.state, err
	}

	s.state = SessionState{
		Connection:       ConnectionConnected,
		ChatID:           chatID,
		Token:            payload.RuntimeToken,
		Session:          payload.Session,
		SessionStatus:    payload.Session.Status,
		DeploymentStatus: payload.DeploymentStatus,
		PreviewURL:       payload.Session.PreviewURL,
		ExpiresAt:        payload.Session.ExpiresAt,
	}
	s.startTimersLocked()
	return s.state, nil
}

// RefreshSession fetches the current session state. A 401 resets the driver;
// other failures move it to the error state without dropping the token.
func (s *SessionClient) RefreshSession(ctx context.Context) error {
	token := s.Token()
	if token == "" {
		return nil
	}

	snapshot, err := s.broker.GetSession(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if rterrors.StatusOf(err) == http.StatusUnauthorized {
			s.resetLocked()
			return err
		}
		s.state.Connection = ConnectionError
		s.state.Err = err
		return err
	}

	s.state.Connection = ConnectionConnected
	s.state.Err = nil
	s.state.Session = snapshot.Session
	s.state.SessionStatus = snapshot.SessionStatus
	s.state.DeploymentStatus = snapshot.DeploymentStatus
	s.state.PreviewURL = snapshot.PreviewURL
	if snapshot.Session != nil {
		s.state.ExpiresAt = snapshot.Session.ExpiresAt
	}
	return nil
}

// Heartbeat extends the idle lease and absorbs the rotated token.
func (s *SessionClient) Heartbeat(ctx context.Context) error {
	token := s.Token()
	if token == "" {
		return nil
	}

	payload, err := s.broker.Heartbeat(ctx, token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if rterrors.StatusOf(err) == http.StatusUnauthorized {
			s.resetLocked()
		}
		return err
	}

	s.state.SessionStatus = payload.Status
	s.state.ExpiresAt = payload.ExpiresAt
	if payload.RuntimeToken != "" {
		s.state.Token = payload.RuntimeToken
	}
	return nil
}

// TeardownSession deletes the session and resets the driver.
func (s *SessionClient) TeardownSession(ctx context.Context) error {
	token := s.Token()

	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	if token == "" {
		return nil
	}
	return s.broker.DeleteSession(ctx, token)
}

// Pause suspends heartbeat and refresh, mirroring a hidden page.
func (s *SessionClient) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume re-enables the timers and triggers an immediate heartbeat and
// refresh.
func (s *SessionClient) Resume() {
	s.mu.Lock()
	s.paused = false
	started := s.started
	s.mu.Unlock()

	if started {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Close stops the background timers. The session itself is left alone; call
// TeardownSession first to delete it.
func (s *SessionClient) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		close(s.done)
		s.started = false
	}
}

func (s *SessionClient) resetLocked() {
	s.state = SessionState{Connection: ConnectionIdle}
}

// startTimersLocked starts the heartbeat/refresh loop after the first
// successful create. Subsequent creates reuse the running loop.
func (s *SessionClient) startTimersLocked() {
	if s.started {
		return
	}
	select {
	case <-s.done:
		// Restarted after Close.
		s.done = make(chan struct{})
	default:
	}
	s.started = true
	go s.run()
}

func (s *SessionClient) run() {
	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()
	refresh := time.NewTicker(s.refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-heartbeat.C:
			if s.active() {
				if err := s.Heartbeat(context.Background()); err != nil {
					logger.Debugw("heartbeat failed", "error", err.Error())
				}
			}
		case <-refresh.C:
			if s.active() {
				if err := s.RefreshSession(context.Background()); err != nil {
					logger.Debugw("session refresh failed", "error", err.Error())
				}
			}
		case <-s.kick:
			if s.active() {
				if err := s.Heartbeat(context.Background()); err != nil {
					logger.Debugw("heartbeat failed", "error", err.Error())
				}
				if err := s.RefreshSession(context.Background()); err != nil {
					logger.Debugw("session refresh failed", "error", err.Error())
				}
			}
		}
	}
}

func (s *SessionClient) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.paused && s.state.Token != ""
}
