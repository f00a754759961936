package hrlive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned by SendMessage for blank text.
var ErrEmptyMessage = errors.New("empty message")

// Sender tells who authored a message.
type Sender int

const (
	SenderLocal Sender = iota
	SenderRemote
)

func (s Sender) String() string {
	if s == SenderRemote {
		return "remote"
	}
	return "local"
}

// Message is one entry of a conversation log.
//
// Local messages start unconfirmed and become confirmed when the server
// acknowledges them. Failed marks a local message that never reached the
// transport; it stays unconfirmed until resent.
type Message struct {
	LocalID   string
	ServerID  string
	Text      string
	Sender    Sender
	SentAt    time.Time
	Confirmed bool
	Failed    bool
}

// MessageChannel keeps the ordered message log of one conversation and
// reconciles optimistic sends against server acknowledgements.
type MessageChannel struct {
	conn    Conn
	newID   func() string
	now     func() time.Time
	logger  Logger
	metrics *Metrics

	mu      sync.Mutex
	peerID  string
	log     []Message
	changes listeners[[]Message]
	unsubs  []func()
}

// NewMessageChannel subscribes to conn for the conversation with peerID.
// Call Close to detach.
func NewMessageChannel(conn Conn, peerID string) *MessageChannel {
	c := &MessageChannel{
		conn:   conn,
		newID:  uuid.NewString,
		now:    time.Now,
		logger: noopLogger{},
		peerID: peerID,
	}
	c.unsubs = []func(){
		conn.Subscribe(EventReceiveMessage, c.handleReceive),
		conn.Subscribe(EventMessageSent, c.handleAck),
		conn.Subscribe(EventChatHistory, c.handleHistory),
	}
	return c
}

// SetLogger overrides logger (optional).
func (c *MessageChannel) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetMetrics attaches metrics (optional).
func (c *MessageChannel) SetMetrics(m *Metrics) { c.metrics = m }

// SetIDGenerator overrides the local id source (uuid by default).
func (c *MessageChannel) SetIDGenerator(fn func() string) {
	if fn != nil {
		c.newID = fn
	}
}

// SetClock overrides the time source used for optimistic timestamps.
func (c *MessageChannel) SetClock(fn func() time.Time) {
	if fn != nil {
		c.now = fn
	}
}

// OnChange registers fn to receive a snapshot of the log after every change.
func (c *MessageChannel) OnChange(fn func([]Message)) func() {
	return c.changes.add(fn)
}

// PeerID returns the conversation peer.
func (c *MessageChannel) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Log returns a copy of the ordered log.
func (c *MessageChannel) Log() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.log...)
}

// Unconfirmed returns local messages still waiting for an acknowledgement,
// failed ones included.
func (c *MessageChannel) Unconfirmed() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, m := range c.log {
		if m.Sender == SenderLocal && !m.Confirmed {
			out = append(out, m)
		}
	}
	return out
}

// LoadHistory requests the history with peerID. The log is replaced when the
// chat-history event arrives. Switching to another peer clears the log.
func (c *MessageChannel) LoadHistory(ctx context.Context, peerID string) error {
	c.mu.Lock()
	var snap []Message
	changed := peerID != c.peerID
	if changed {
		c.peerID = peerID
		c.log = nil
	}
	c.mu.Unlock()
	if changed {
		c.changes.call(snap)
	}
	return c.conn.Send(ctx, EventLoadHistory, LoadHistoryPayload{TargetUserID: peerID})
}

// SendMessage appends text optimistically and transmits it. The local id is
// returned even on error: the message stays in the log, marked Failed.
func (c *MessageChannel) SendMessage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	id := c.newID()
	c.mu.Lock()
	peer := c.peerID
	c.log = append(c.log, Message{
		LocalID: id,
		Text:    text,
		Sender:  SenderLocal,
		SentAt:  c.now(),
	})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.changes.call(snap)

	err := c.conn.Send(ctx, EventSendMessage, SendMessagePayload{ToUserID: peer, Text: text, LocalID: id})
	if err != nil {
		c.metrics.messageFailed()
		c.logger.Warn("message not transmitted", map[string]any{"localId": id, "error": err.Error()})
		c.markFailed(id)
		return id, err
	}
	c.metrics.messageSent()
	return id, nil
}

// Resend transmits the text of an unconfirmed local message as a new
// message. The original entry is left in place.
func (c *MessageChannel) Resend(ctx context.Context, localID string) (string, error) {
	c.mu.Lock()
	i := c.indexLocked(localID)
	if i < 0 {
		c.mu.Unlock()
		return "", NewError(ErrorNotFound, "no message "+localID)
	}
	m := c.log[i]
	c.mu.Unlock()

	if m.Sender != SenderLocal || m.Confirmed {
		return "", NewError(ErrorBadRequest, "message "+localID+" is not pending")
	}
	return c.SendMessage(ctx, m.Text)
}

// Close detaches from the connection. The log stays readable.
func (c *MessageChannel) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (c *MessageChannel) markFailed(localID string) {
	c.mu.Lock()
	i := c.indexLocked(localID)
	if i < 0 || c.log[i].Confirmed {
		c.mu.Unlock()
		return
	}
	c.log[i].Failed = true
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.changes.call(snap)
}

func (c *MessageChannel) handleAck(ev Event) {
	var w wireMessage
	if err := ev.Decode(&w); err != nil {
		c.logger.Warn("ignoring message-sent", map[string]any{"error": err.Error()})
		return
	}

	c.mu.Lock()
	var i int
	if w.LocalID != "" {
		i = c.indexLocked(w.LocalID)
	} else {
		i = c.oldestPendingByTextLocked(w.Text)
	}
	if i < 0 || c.log[i].Confirmed {
		c.mu.Unlock()
		return
	}
	m := &c.log[i]
	m.Confirmed = true
	m.Failed = false
	if w.ID != "" {
		m.ServerID = w.ID
	}
	if t, ok := ParseTimestamp(w.CreatedAt); ok {
		m.SentAt = t
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.metrics.messageConfirmed()
	c.changes.call(snap)
}

func (c *MessageChannel) handleReceive(ev Event) {
	var w wireMessage
	if err := ev.Decode(&w); err != nil {
		c.logger.Warn("ignoring receive-message", map[string]any{"error": err.Error()})
		return
	}

	c.mu.Lock()
	if w.FromUserID == "" || w.FromUserID != c.peerID {
		c.mu.Unlock()
		return
	}
	if w.ID != "" && c.indexByServerIDLocked(w.ID) >= 0 {
		c.mu.Unlock()
		return
	}
	c.log = append(c.log, c.fromWireLocked(w, SenderRemote))
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.changes.call(snap)
}

// handleHistory replaces the log with the server history. Local messages
// still pending are kept at the tail unless the history already holds them:
// by localId, or else by text against the oldest unclaimed local entry that
// came without one, each entry claimed once.
func (c *MessageChannel) handleHistory(ev Event) {
	var ws []wireMessage
	if err := ev.Decode(&ws); err != nil {
		c.logger.Warn("ignoring chat-history", map[string]any{"error": err.Error()})
		return
	}

	c.mu.Lock()
	peer := c.peerID
	next := make([]Message, 0, len(ws))
	seen := make(map[string]bool)
	var textOnly []int
	for _, w := range ws {
		if (w.FromUserID != "" || w.ToUserID != "") && w.FromUserID != peer && w.ToUserID != peer {
			continue
		}
		sender := SenderLocal
		if w.FromUserID == peer {
			sender = SenderRemote
		}
		if w.LocalID != "" {
			seen[w.LocalID] = true
		} else if sender == SenderLocal {
			textOnly = append(textOnly, len(next))
		}
		next = append(next, c.fromWireLocked(w, sender))
	}
	for _, m := range c.log {
		if m.Sender != SenderLocal || m.Confirmed || seen[m.LocalID] {
			continue
		}
		if !m.Failed {
			if j := claimByText(next, textOnly, m.Text); j >= 0 {
				next[j].LocalID = m.LocalID
				continue
			}
		}
		next = append(next, m)
	}
	c.log = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.changes.call(snap)
}

// claimByText finds the first entry of candidates (indexes into log) holding
// text and removes it from candidates. It returns the log index or -1.
func claimByText(log []Message, candidates []int, text string) int {
	for k, j := range candidates {
		if j >= 0 && log[j].Text == text {
			candidates[k] = -1
			return j
		}
	}
	return -1
}

func (c *MessageChannel) fromWireLocked(w wireMessage, sender Sender) Message {
	id := w.LocalID
	if id == "" {
		id = c.newID()
	}
	at, ok := ParseTimestamp(w.CreatedAt)
	if !ok {
		at = c.now()
	}
	return Message{
		LocalID:   id,
		ServerID:  w.ID,
		Text:      w.Text,
		Sender:    sender,
		SentAt:    at,
		Confirmed: true,
	}
}

func (c *MessageChannel) indexLocked(localID string) int {
	for i := range c.log {
		if c.log[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (c *MessageChannel) indexByServerIDLocked(serverID string) int {
	for i := range c.log {
		if c.log[i].ServerID == serverID {
			return i
		}
	}
	return -1
}

// oldestPendingByTextLocked serves servers that echo only the text. Failed
// messages never reached the server and cannot be acknowledged.
func (c *MessageChannel) oldestPendingByTextLocked(text string) int {
	if text == "" {
		return -1
	}
	for i := range c.log {
		m := c.log[i]
		if m.Sender == SenderLocal && !m.Confirmed && !m.Failed && m.Text == text {
			return i
		}
	}
	return -1
}

func (c *MessageChannel) snapshotLocked() []Message {
	return append([]Message(nil), c.log...)
}
