package hrlive

import (
	"context"
	"sort"
	"sync"
	"time"
)

// NotificationType classifies a notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
	NotificationSystem  NotificationType = "system"
)

// ParseNotificationType maps unknown or empty types to info.
func ParseNotificationType(s string) NotificationType {
	switch t := NotificationType(s); t {
	case NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError, NotificationSystem:
		return t
	default:
		return NotificationInfo
	}
}

// Notification is one server-created notification.
type Notification struct {
	ID        string
	Title     string
	Message   string
	Type      NotificationType
	Read      bool
	CreatedAt time.Time
	Link      *string
}

// NotificationFilters narrows a notification listing. Zero values mean "any".
type NotificationFilters struct {
	Type  NotificationType
	Read  *bool
	Limit int
}

// PageInfo describes the position of a fetched page.
type PageInfo struct {
	Page  int
	Limit int
	Total int
	Pages int
}

// NotificationPage is one page of a listing.
type NotificationPage struct {
	Items []Notification
	PageInfo
}

// NotificationAPI is the REST collaborator behind NotificationStream and
// UnreadBadgeCounter.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, page int, filters NotificationFilters) (NotificationPage, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
}

// HighlightSet holds ids flagged "new", each until its own timer fires.
type HighlightSet struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]highlight
}

type highlight struct {
	seq   uint64
	timer *time.Timer
}

// Add flags id for d. Adding an id again restarts its window.
func (h *HighlightSet) Add(id string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.entries == nil {
		h.entries = make(map[string]highlight)
	}
	if old, ok := h.entries[id]; ok {
		old.timer.Stop()
	}
	h.seq++
	seq := h.seq
	h.entries[id] = highlight{seq: seq, timer: time.AfterFunc(d, func() { h.expire(id, seq) })}
}

func (h *HighlightSet) expire(id string, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[id]; ok && e.seq == seq {
		delete(h.entries, id)
	}
}

// Has reports whether id is highlighted.
func (h *HighlightSet) Has(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[id]
	return ok
}

// IDs returns the highlighted ids in lexical order.
func (h *HighlightSet) IDs() []string {
	h.mu.Lock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of highlighted ids, which is also the number of
// pending timers.
func (h *HighlightSet) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear stops every pending timer and empties the set.
func (h *HighlightSet) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, e := range h.entries {
		e.timer.Stop()
		delete(h.entries, id)
	}
}

// NotificationStream merges pushed notifications into the REST-fetched page.
// The cached page is the source of truth for display.
type NotificationStream struct {
	api        NotificationAPI
	userID     string
	window     time.Duration
	pageSize   int
	logger     Logger
	metrics    *Metrics
	highlights HighlightSet

	mu       sync.Mutex
	items    []Notification
	page     PageInfo
	filters  NotificationFilters
	fetchSeq uint64
	closed   bool
	changes  listeners[[]Notification]
	unsubs   []func()
}

// NewNotificationStream uses cfg.UserID, cfg.HighlightWindow and cfg.PageSize.
func NewNotificationStream(api NotificationAPI, cfg Config) *NotificationStream {
	return &NotificationStream{
		api:      api,
		userID:   cfg.UserID,
		window:   cfg.HighlightWindow,
		pageSize: cfg.PageSize,
		logger:   noopLogger{},
	}
}

// SetLogger overrides logger (optional).
func (n *NotificationStream) SetLogger(l Logger) {
	if l != nil {
		n.logger = l
	}
}

// SetMetrics attaches metrics (optional).
func (n *NotificationStream) SetMetrics(m *Metrics) { n.metrics = m }

// OnChange registers fn to receive a snapshot of the cache after every change.
func (n *NotificationStream) OnChange(fn func([]Notification)) func() {
	return n.changes.add(fn)
}

// Attach registers for pushes on every connect and routes notification:new
// into OnPush.
func (n *NotificationStream) Attach(conn Conn) (detach func()) {
	unsubs := []func(){
		conn.Subscribe(EventConnected, func(Event) {
			if n.userID == "" {
				return
			}
			if err := conn.Send(context.Background(), EventRegister, RegisterPayload{UserID: n.userID}); err != nil {
				n.logger.Warn("register failed", map[string]any{"error": err.Error()})
			}
		}),
		conn.Subscribe(EventNotificationNew, func(ev Event) {
			var w wireNotification
			if err := ev.Decode(&w); err != nil {
				n.logger.Warn("ignoring notification:new", map[string]any{"error": err.Error()})
				return
			}
			nt, err := normalizeNotification(w)
			if err != nil {
				n.logger.Warn("ignoring notification:new", map[string]any{"error": err.Error()})
				return
			}
			n.OnPush(nt)
		}),
	}
	n.mu.Lock()
	n.unsubs = append(n.unsubs, unsubs...)
	n.mu.Unlock()
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// FetchPage replaces the cache with one page. When fetches overlap, only
// the last one issued is applied; earlier results are still returned.
func (n *NotificationStream) FetchPage(ctx context.Context, page int, filters NotificationFilters) ([]Notification, error) {
	if page < 1 {
		page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = n.pageSize
	}

	n.mu.Lock()
	n.fetchSeq++
	seq := n.fetchSeq
	n.mu.Unlock()

	res, err := n.api.ListNotifications(ctx, page, filters)
	if err != nil {
		return nil, WrapError(ErrorFetch, "list notifications", err)
	}

	n.mu.Lock()
	if seq != n.fetchSeq || n.closed {
		n.mu.Unlock()
		n.logger.Debug("discarding superseded page", map[string]any{"page": page})
		return res.Items, nil
	}
	n.items = append([]Notification(nil), res.Items...)
	n.page = res.PageInfo
	n.filters = filters
	snap := n.snapshotLocked()
	n.mu.Unlock()

	n.changes.call(snap)
	return res.Items, nil
}

// Refresh refetches the cached page with the filters it was fetched with.
func (n *NotificationStream) Refresh(ctx context.Context) ([]Notification, error) {
	n.mu.Lock()
	page, filters := n.page.Page, n.filters
	n.mu.Unlock()
	return n.FetchPage(ctx, page, filters)
}

// OnPush inserts nt at the head of the cache unless its id is already cached,
// and highlights it for the configured window. It reports whether nt was inserted.
func (n *NotificationStream) OnPush(nt Notification) bool {
	if nt.ID == "" {
		return false
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return false
	}
	if n.indexLocked(nt.ID) >= 0 {
		n.mu.Unlock()
		n.metrics.notificationPushed(true)
		return false
	}
	n.items = append([]Notification{nt}, n.items...)
	n.page.Total++
	n.highlights.Add(nt.ID, n.window)
	snap := n.snapshotLocked()
	n.mu.Unlock()

	n.metrics.notificationPushed(false)
	n.changes.call(snap)
	return true
}

// MarkRead flags id read locally, then on the server. A server failure is
// returned and the local change is kept.
func (n *NotificationStream) MarkRead(ctx context.Context, id string) error {
	n.mutate(func() bool {
		i := n.indexLocked(id)
		if i < 0 || n.items[i].Read {
			return false
		}
		n.items[i].Read = true
		return true
	})
	if err := n.api.MarkRead(ctx, id); err != nil {
		return WrapError(ErrorFetch, "mark notification "+id+" read", err)
	}
	return nil
}

// MarkAllRead flags every cached entry read, then calls the server.
func (n *NotificationStream) MarkAllRead(ctx context.Context) error {
	n.mutate(func() bool {
		changed := false
		for i := range n.items {
			if !n.items[i].Read {
				n.items[i].Read = true
				changed = true
			}
		}
		return changed
	})
	if err := n.api.MarkAllRead(ctx); err != nil {
		return WrapError(ErrorFetch, "mark all notifications read", err)
	}
	return nil
}

// Delete removes id locally, then on the server.
func (n *NotificationStream) Delete(ctx context.Context, id string) error {
	n.mutate(func() bool { return n.removeLocked(map[string]bool{id: true}) })
	if err := n.api.Delete(ctx, id); err != nil {
		return WrapError(ErrorFetch, "delete notification "+id, err)
	}
	return nil
}

// DeleteMany removes ids locally, then on the server.
func (n *NotificationStream) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	n.mutate(func() bool { return n.removeLocked(set) })
	if err := n.api.DeleteMany(ctx, ids); err != nil {
		return WrapError(ErrorFetch, "delete notifications", err)
	}
	return nil
}

// Items returns a copy of the cached page.
func (n *NotificationStream) Items() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.snapshotLocked()
}

// Page returns the pagination info of the cached page.
func (n *NotificationStream) Page() PageInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.page
}

// UnreadCount counts unread entries of the cached page only.
func (n *NotificationStream) UnreadCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, it := range n.items {
		if !it.Read {
			c++
		}
	}
	return c
}

// IsHighlighted reports whether id is inside its highlight window.
func (n *NotificationStream) IsHighlighted(id string) bool { return n.highlights.Has(id) }

// Highlighted returns the ids inside their highlight window.
func (n *NotificationStream) Highlighted() []string { return n.highlights.IDs() }

// PendingHighlights returns the number of live highlight timers.
func (n *NotificationStream) PendingHighlights() int { return n.highlights.Len() }

// Close detaches from the connection and stops every highlight timer.
func (n *NotificationStream) Close() {
	n.mu.Lock()
	n.closed = true
	unsubs := n.unsubs
	n.unsubs = nil
	n.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	n.highlights.Clear()
}

func (n *NotificationStream) mutate(fn func() bool) {
	n.mu.Lock()
	if !fn() {
		n.mu.Unlock()
		return
	}
	snap := n.snapshotLocked()
	n.mu.Unlock()
	n.changes.call(snap)
}

func (n *NotificationStream) removeLocked(ids map[string]bool) bool {
	kept := n.items[:0]
	removed := 0
	for _, it := range n.items {
		if ids[it.ID] {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	n.items = kept
	if removed > 0 && n.page.Total >= removed {
		n.page.Total -= removed
	}
	return removed > 0
}

func (n *NotificationStream) indexLocked(id string) int {
	for i := range n.items {
		if n.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (n *NotificationStream) snapshotLocked() []Notification {
	return append([]Notification(nil), n.items...)
}

func normalizeNotification(w wireNotification) (Notification, error) {
	if w.ID == "" {
		return Notification{}, NewError(ErrorDataShape, "notification without id")
	}
	nt := Notification{
		ID:      w.ID,
		Title:   w.Title,
		Message: w.Message,
		Type:    ParseNotificationType(w.Type),
		Read:    w.Read != nil && *w.Read,
		Link:    w.Link,
	}
	if t, ok := ParseTimestamp(w.CreatedAt); ok {
		nt.CreatedAt = t
	}
	return nt, nil
}
