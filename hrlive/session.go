package hrlive

import (
	"context"
	"sync"

	"github.com/c-pro/geche"
)

// Session is the owning view of the real-time core: one connection, the
// presence set, the notification feed, the unread badge poller and at most
// one open conversation.
type Session struct {
	cfg           Config
	conn          *ConnectionManager
	backend       Backend
	tracker       *PresenceTracker
	notifications *NotificationStream
	badge         *UnreadBadgeCounter
	lastSeen      geche.Geche[string, LastSeenValue]
	logger        Logger
	metrics       *Metrics

	mu     sync.Mutex
	conv   *Conversation
	detach []func()
	closed bool
}

// NewSession wires the components around a new ConnectionManager.
func NewSession(cfg Config, backend Backend) *Session {
	conn := NewConnectionManager(cfg)
	s := &Session{
		cfg:           cfg,
		conn:          conn,
		backend:       backend,
		tracker:       NewPresenceTracker(),
		notifications: NewNotificationStream(backend, cfg),
		badge:         NewUnreadBadgeCounter(backend, cfg),
		lastSeen:      geche.NewMapCache[string, LastSeenValue](),
		logger:        noopLogger{},
	}
	s.detach = []func(){
		s.tracker.Attach(conn),
		s.notifications.Attach(conn),
	}
	return s
}

// SetLogger overrides logger on every component (optional).
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.logger = l
	s.conn.SetLogger(l)
	s.tracker.SetLogger(l)
	s.notifications.SetLogger(l)
	s.badge.SetLogger(l)
}

// SetMetrics attaches metrics to every component (optional).
func (s *Session) SetMetrics(m *Metrics) {
	s.metrics = m
	s.conn.SetMetrics(m)
	s.notifications.SetMetrics(m)
	s.badge.SetMetrics(m)
}

// SetDialer replaces the transport dialer (optional).
func (s *Session) SetDialer(d Dialer) { s.conn.SetDialer(d) }

// Component accessors. The components stay owned by the session.
func (s *Session) Conn() *ConnectionManager           { return s.conn }
func (s *Session) Presence() *PresenceTracker         { return s.tracker }
func (s *Session) Notifications() *NotificationStream { return s.notifications }
func (s *Session) Badge() *UnreadBadgeCounter         { return s.badge }

// Open starts the badge poller and opens the connection. The poller runs on
// REST and keeps going even when the first dial fails.
func (s *Session) Open(ctx context.Context, token string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return NewError(ErrorClosed, "session closed")
	}
	s.badge.Start(context.Background())
	return s.conn.Open(ctx, token)
}

// OpenConversation shows the conversation with peerID. The conversation
// already open for the same peer is reused; any other one is torn down first.
// A history request failure is returned with the usable conversation; history
// is requested again on the next connect.
func (s *Session) OpenConversation(ctx context.Context, peerID string) (*Conversation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, NewError(ErrorClosed, "session closed")
	}
	if s.conv != nil && s.conv.PeerID() == peerID {
		conv := s.conv
		s.mu.Unlock()
		return conv, nil
	}
	if s.conv != nil {
		s.conv.Close()
	}
	conv := newConversation(s.conn, s.tracker, s.backend, peerID, s.lastSeen, s.logger)
	conv.Messages().SetMetrics(s.metrics)
	s.conv = conv
	s.mu.Unlock()

	return conv, conv.Messages().LoadHistory(ctx, peerID)
}

// Conversation returns the open conversation, if any.
func (s *Session) Conversation() (*Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.conv != nil
}

// CloseConversation tears down the open conversation, if any.
func (s *Session) CloseConversation() {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()
	if conv != nil {
		conv.Close()
	}
}

// Close tears the session down: the connection with any pending
// reconnection, every highlight timer, the badge poller and the open
// conversation. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conv := s.conv
	s.conv = nil
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()

	if conv != nil {
		conv.Close()
	}
	for _, d := range detach {
		d()
	}
	err := s.conn.Close()
	s.notifications.Close()
	s.badge.Stop()
	return err
}
