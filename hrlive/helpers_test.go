package hrlive

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type sentFrame struct {
	Name    EventName
	Payload any
}

// fakeConn is a Conn whose events are published synchronously by the test.
type fakeConn struct {
	bus Bus

	mu      sync.Mutex
	state   ConnectionState
	sendErr error
	sent    []sentFrame
}

func newFakeConn() *fakeConn {
	return &fakeConn{state: StateConnected}
}

func (f *fakeConn) Subscribe(name EventName, fn Handler) func() {
	return f.bus.Subscribe(name, fn)
}

func (f *fakeConn) Send(_ context.Context, name EventName, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{Name: name, Payload: payload})
	return nil
}

func (f *fakeConn) State() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// disconnect makes Send fail the way ConnectionManager does while offline.
func (f *fakeConn) disconnect() {
	f.mu.Lock()
	f.state = StateDisconnected
	f.sendErr = NewError(ErrorNotConnected, "not connected")
	f.mu.Unlock()
	f.bus.Publish(Event{Name: EventDisconnected})
}

func (f *fakeConn) reconnect() {
	f.mu.Lock()
	f.state = StateConnected
	f.sendErr = nil
	f.mu.Unlock()
	f.bus.Publish(Event{Name: EventConnected})
}

func (f *fakeConn) emit(t *testing.T, name EventName, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.bus.Publish(Event{Name: name, Data: data})
}

func (f *fakeConn) emitRaw(name EventName, raw string) {
	f.bus.Publish(Event{Name: name, Data: []byte(raw)})
}

func (f *fakeConn) sentNamed(name EventName) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, s := range f.sent {
		if s.Name == name {
			out = append(out, s.Payload)
		}
	}
	return out
}

// fakeAPI is an in-memory Backend.
type fakeAPI struct {
	mu       sync.Mutex
	items    []Notification
	listErr  error
	mutErr   error
	list     func(ctx context.Context, page int, f NotificationFilters) (NotificationPage, error)
	lastSeen func(ctx context.Context, peerID string) (LastSeenValue, error)

	listCalls   int
	lastFilters NotificationFilters
	markedRead  []string
	markAll     int
	deleted     []string
	deletedMany [][]string
}

func (a *fakeAPI) ListNotifications(ctx context.Context, page int, f NotificationFilters) (NotificationPage, error) {
	a.mu.Lock()
	a.listCalls++
	a.lastFilters = f
	list, err := a.list, a.listErr
	items := append([]Notification(nil), a.items...)
	a.mu.Unlock()

	if list != nil {
		return list(ctx, page, f)
	}
	if err != nil {
		return NotificationPage{}, err
	}
	return NotificationPage{
		Items:    items,
		PageInfo: PageInfo{Page: page, Limit: f.Limit, Total: len(items), Pages: 1},
	}, nil
}

func (a *fakeAPI) MarkRead(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markedRead = append(a.markedRead, id)
	return a.mutErr
}

func (a *fakeAPI) MarkAllRead(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markAll++
	return a.mutErr
}

func (a *fakeAPI) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, id)
	return a.mutErr
}

func (a *fakeAPI) DeleteMany(_ context.Context, ids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletedMany = append(a.deletedMany, ids)
	return a.mutErr
}

func (a *fakeAPI) LastSeen(ctx context.Context, peerID string) (LastSeenValue, error) {
	a.mu.Lock()
	fn := a.lastSeen
	a.mu.Unlock()
	if fn == nil {
		return LastSeenValue{PeerID: peerID}, nil
	}
	return fn(ctx, peerID)
}

func (a *fakeAPI) setItems(items ...Notification) {
	a.mu.Lock()
	a.items = items
	a.mu.Unlock()
}

func (a *fakeAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

func note(id string, read bool) Notification {
	return Notification{ID: id, Title: "t-" + id, Type: NotificationInfo, Read: read}
}

func ids(items []Notification) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func sequence(vals ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		v := vals[i%len(vals)]
		i++
		return v
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}
