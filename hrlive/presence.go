package hrlive

import (
	"context"
	"sort"
	"sync"
)

// PresenceRecord describes one online peer.
type PresenceRecord struct {
	PeerID      string
	DisplayName string
	Role        string
}

// PresenceChange reports a peer crossing the online/offline boundary.
type PresenceChange struct {
	PeerID string
	Online bool
}

// PresenceTracker keeps the set of currently online peers.
type PresenceTracker struct {
	mu      sync.Mutex
	online  map[string]PresenceRecord
	changes listeners[PresenceChange]
	logger  Logger
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		online: make(map[string]PresenceRecord),
		logger: noopLogger{},
	}
}

// SetLogger overrides logger (optional).
func (p *PresenceTracker) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// OnChange registers fn for online/offline transitions.
func (p *PresenceTracker) OnChange(fn func(PresenceChange)) func() {
	return p.changes.add(fn)
}

// ApplyOnline records rec as online. Updating an already online peer
// refreshes its record without reporting a transition.
func (p *PresenceTracker) ApplyOnline(rec PresenceRecord) {
	if rec.PeerID == "" {
		return
	}
	p.mu.Lock()
	_, was := p.online[rec.PeerID]
	p.online[rec.PeerID] = rec
	p.mu.Unlock()

	if !was {
		p.changes.call(PresenceChange{PeerID: rec.PeerID, Online: true})
	}
}

// ApplyOffline removes peerID. Unknown peers are ignored.
func (p *PresenceTracker) ApplyOffline(peerID string) {
	p.mu.Lock()
	_, was := p.online[peerID]
	delete(p.online, peerID)
	p.mu.Unlock()

	if was {
		p.changes.call(PresenceChange{PeerID: peerID, Online: false})
	}
}

// ApplyFullList atomically replaces the online set with recs and reports the
// transitions implied by the difference.
func (p *PresenceTracker) ApplyFullList(recs []PresenceRecord) {
	next := make(map[string]PresenceRecord, len(recs))
	for _, r := range recs {
		if r.PeerID != "" {
			next[r.PeerID] = r
		}
	}

	p.mu.Lock()
	var changes []PresenceChange
	for id := range p.online {
		if _, ok := next[id]; !ok {
			changes = append(changes, PresenceChange{PeerID: id, Online: false})
		}
	}
	for id := range next {
		if _, ok := p.online[id]; !ok {
			changes = append(changes, PresenceChange{PeerID: id, Online: true})
		}
	}
	p.online = next
	p.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].PeerID < changes[j].PeerID })
	for _, c := range changes {
		p.changes.call(c)
	}
}

// IsOnline reports whether peerID is currently online.
func (p *PresenceTracker) IsOnline(peerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[peerID]
	return ok
}

// Record returns the online record for peerID.
func (p *PresenceTracker) Record(peerID string) (PresenceRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.online[peerID]
	return r, ok
}

// ListOnline returns online peers ordered by display name, then id.
func (p *PresenceTracker) ListOnline() []PresenceRecord {
	p.mu.Lock()
	out := make([]PresenceRecord, 0, len(p.online))
	for _, r := range p.online {
		out = append(out, r)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

// Attach feeds the tracker from conn and requests a full list on every
// connect, which supersedes anything missed while disconnected.
func (p *PresenceTracker) Attach(conn Conn) (detach func()) {
	unsubs := []func(){
		conn.Subscribe(EventUserOnline, func(ev Event) {
			rec, err := decodePeer(ev)
			if err != nil {
				p.logger.Warn("ignoring user-online", map[string]any{"error": err.Error()})
				return
			}
			p.ApplyOnline(rec)
		}),
		conn.Subscribe(EventUserOffline, func(ev Event) {
			rec, err := decodePeer(ev)
			if err != nil {
				p.logger.Warn("ignoring user-offline", map[string]any{"error": err.Error()})
				return
			}
			p.ApplyOffline(rec.PeerID)
		}),
		conn.Subscribe(EventActiveUsersList, func(ev Event) {
			var peers []wirePeer
			if err := ev.Decode(&peers); err != nil {
				p.logger.Warn("ignoring active-users-list", map[string]any{"error": err.Error()})
				return
			}
			recs := make([]PresenceRecord, 0, len(peers))
			for _, w := range peers {
				if rec, err := normalizePeer(w); err == nil {
					recs = append(recs, rec)
				}
			}
			p.ApplyFullList(recs)
		}),
		conn.Subscribe(EventConnected, func(Event) {
			if err := conn.Send(context.Background(), EventGetActiveUsers, nil); err != nil {
				p.logger.Warn("get-active-users failed", map[string]any{"error": err.Error()})
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// decodePeer accepts either a peer object or a bare id string.
func decodePeer(ev Event) (PresenceRecord, error) {
	var w wirePeer
	if err := ev.Decode(&w); err != nil {
		var id string
		if err2 := ev.Decode(&id); err2 != nil {
			return PresenceRecord{}, err
		}
		w.UserID = id
	}
	return normalizePeer(w)
}

func normalizePeer(w wirePeer) (PresenceRecord, error) {
	if w.UserID == "" {
		return PresenceRecord{}, NewError(ErrorDataShape, "peer without userId")
	}
	return PresenceRecord{PeerID: w.UserID, DisplayName: w.Name, Role: w.Role}, nil
}
