package hrlive

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// PeerStatus is what a conversation header shows about the peer.
type PeerStatus struct {
	Online bool
	Record PresenceRecord
	Label  string // "Online" or a last-seen label
}

// Conversation is one open chat view: the message log with a peer plus the
// peer's presence and last-seen status.
//
// When the peer goes offline its last-seen time is fetched; when it comes
// back online the cached value is dropped. A cached value is never shown
// while the tracker reports the peer online.
type Conversation struct {
	peerID   string
	conn     Conn
	channel  *MessageChannel
	tracker  *PresenceTracker
	lookup   LastSeenLookup
	lastSeen geche.Geche[string, LastSeenValue]
	logger   Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closing bool
	seq     uint64 // bumped per presence transition; only the newest lookup may store
	wg      sync.WaitGroup
	once    sync.Once
	unsubs  []func()
	updates listeners[LastSeenValue]
}

// NewConversation opens a view on peerID with its own last-seen cache.
func NewConversation(conn Conn, tracker *PresenceTracker, lookup LastSeenLookup, peerID string) *Conversation {
	return newConversation(conn, tracker, lookup, peerID, geche.NewMapCache[string, LastSeenValue](), noopLogger{})
}

func newConversation(conn Conn, tracker *PresenceTracker, lookup LastSeenLookup, peerID string, cache geche.Geche[string, LastSeenValue], logger Logger) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		peerID:   peerID,
		conn:     conn,
		channel:  NewMessageChannel(conn, peerID),
		tracker:  tracker,
		lookup:   lookup,
		lastSeen: cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.channel.SetLogger(logger)
	c.unsubs = []func(){
		tracker.OnChange(c.handlePresence),
		conn.Subscribe(EventConnected, func(Event) {
			if err := c.channel.LoadHistory(c.ctx, c.peerID); err != nil {
				c.logger.Warn("reload history failed", map[string]any{"peer": c.peerID, "error": err.Error()})
			}
		}),
	}
	if !tracker.IsOnline(peerID) {
		c.refreshLastSeen()
	}
	return c
}

// PeerID returns the conversation peer.
func (c *Conversation) PeerID() string { return c.peerID }

// Messages returns the conversation's message channel.
func (c *Conversation) Messages() *MessageChannel { return c.channel }

// OnLastSeen registers fn for every stored last-seen lookup result.
func (c *Conversation) OnLastSeen(fn func(LastSeenValue)) func() {
	return c.updates.add(fn)
}

// LastSeen returns the cached value. It reports false while the peer is
// online or before a lookup finished.
func (c *Conversation) LastSeen() (LastSeenValue, bool) {
	if c.tracker.IsOnline(c.peerID) {
		return LastSeenValue{PeerID: c.peerID}, false
	}
	v, err := c.lastSeen.Get(c.peerID)
	if err != nil {
		return LastSeenValue{PeerID: c.peerID}, false
	}
	return v, true
}

// Status renders the header status at now.
func (c *Conversation) Status(now time.Time) PeerStatus {
	if rec, ok := c.tracker.Record(c.peerID); ok {
		return PeerStatus{Online: true, Record: rec, Label: "Online"}
	}
	v, _ := c.LastSeen()
	return PeerStatus{Label: FormatLastSeenTime(v.At, now)}
}

// Close detaches the view and waits for in-flight lookups to stop.
func (c *Conversation) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		for _, u := range c.unsubs {
			u()
		}
		c.cancel()
		c.wg.Wait()
		c.channel.Close()
	})
}

func (c *Conversation) handlePresence(ch PresenceChange) {
	if ch.PeerID != c.peerID {
		return
	}
	if ch.Online {
		c.mu.Lock()
		c.seq++
		_ = c.lastSeen.Del(c.peerID)
		c.mu.Unlock()
		return
	}
	c.refreshLastSeen()
}

func (c *Conversation) refreshLastSeen() {
	if c.lookup == nil {
		return
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		v, err := c.lookup.LastSeen(c.ctx, c.peerID)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("last-seen lookup failed", map[string]any{"peer": c.peerID, "error": err.Error()})
			}
			return
		}

		c.mu.Lock()
		if seq != c.seq || c.closing || c.tracker.IsOnline(c.peerID) {
			c.mu.Unlock()
			return
		}
		v.PeerID = c.peerID
		c.lastSeen.Set(c.peerID, v)
		c.mu.Unlock()
		c.updates.call(v)
	}()
}
