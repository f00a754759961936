package hrlive

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, api *fakeAPI) (*Session, *fakeDialer) {
	t.Helper()
	cfg := testConfig()
	cfg.UserID = "op-1"
	cfg.BadgeInterval = 10 * time.Millisecond
	cfg.HighlightWindow = time.Hour
	s := NewSession(cfg, api)
	d := &fakeDialer{}
	s.SetDialer(d.dial)
	t.Cleanup(func() { _ = s.Close() })
	return s, d
}

// sentEvents drains frames the session wrote until want names were all seen.
func sentEvents(t *testing.T, tr *fakeTransport, want ...EventName) {
	t.Helper()
	pending := make(map[EventName]bool, len(want))
	for _, n := range want {
		pending[n] = true
	}
	deadline := time.After(waitFor)
	for len(pending) > 0 {
		select {
		case b := <-tr.out:
			var f struct {
				Event EventName `json:"event"`
			}
			require.NoError(t, json.Unmarshal(b, &f))
			delete(pending, f.Event)
		case <-deadline:
			t.Fatalf("frames not sent: %v", pending)
		}
	}
}

func TestSessionOpenBootstraps(t *testing.T) {
	api := &fakeAPI{}
	api.setItems(note("1", false))
	s, d := newTestSession(t, api)

	require.NoError(t, s.Open(context.Background(), "tok"))
	assert.Equal(t, StateConnected, s.Conn().State())
	assert.True(t, s.Badge().Running())
	assert.Eventually(t, func() bool { return s.Badge().Count() == 1 }, waitFor, tick)

	sentEvents(t, d.transport(0), EventRegister, EventGetActiveUsers)

	d.transport(0).in <- []byte(`{"event":"user-online","data":{"userId":"e1","name":"Ann"}}`)
	d.transport(0).in <- []byte(`{"event":"notification:new","data":{"id":"n1","title":"New leave request","type":"info"}}`)
	assert.Eventually(t, func() bool { return s.Presence().IsOnline("e1") }, waitFor, tick)
	assert.Eventually(t, func() bool { return s.Notifications().IsHighlighted("n1") }, waitFor, tick)
}

func TestSessionConversationReuse(t *testing.T) {
	s, d := newTestSession(t, &fakeAPI{})
	require.NoError(t, s.Open(context.Background(), "tok"))

	c1, err := s.OpenConversation(context.Background(), "e1")
	require.NoError(t, err)
	c2, err := s.OpenConversation(context.Background(), "e1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	c3, err := s.OpenConversation(context.Background(), "e2")
	require.NoError(t, err)
	assert.NotSame(t, c1, c3)

	cur, ok := s.Conversation()
	require.True(t, ok)
	assert.Same(t, c3, cur)

	d.transport(0).in <- []byte(`{"event":"receive-message","data":{"id":"m1","fromUserId":"e1","text":"to old view"}}`)
	d.transport(0).in <- []byte(`{"event":"receive-message","data":{"id":"m2","fromUserId":"e2","text":"to new view"}}`)
	assert.Eventually(t, func() bool { return len(c3.Messages().Log()) == 1 }, waitFor, tick)
	assert.Empty(t, c1.Messages().Log())

	s.CloseConversation()
	_, ok = s.Conversation()
	assert.False(t, ok)
}

func TestSessionConversationWhileDisconnected(t *testing.T) {
	s, _ := newTestSession(t, &fakeAPI{})

	c, err := s.OpenConversation(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrNotConnected)
	require.NotNil(t, c)

	id, err := c.Messages().SendMessage(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, c.Messages().Log()[0].Failed)
	assert.NotEmpty(t, id)
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectDelay = 30 * time.Millisecond
	cfg.HighlightWindow = time.Hour
	cfg.BadgeInterval = time.Hour
	s := NewSession(cfg, &fakeAPI{})
	d := &fakeDialer{fail: func(n int) bool { return n > 0 }}
	s.SetDialer(d.dial)

	require.NoError(t, s.Open(context.Background(), "tok"))
	_, err := s.OpenConversation(context.Background(), "e1")
	require.NoError(t, err)
	s.Notifications().OnPush(note("n1", false))
	require.Equal(t, 1, s.Notifications().PendingHighlights())

	d.transport(0).Close()
	assert.Eventually(t, func() bool { return s.Conn().State() != StateConnected }, waitFor, tick)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	calls := d.calls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, d.calls())
	assert.Equal(t, StateDisconnected, s.Conn().State())
	assert.Zero(t, s.Notifications().PendingHighlights())
	assert.False(t, s.Badge().Running())
	_, ok := s.Conversation()
	assert.False(t, ok)

	_, err = s.OpenConversation(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Open(context.Background(), "tok"), ErrClosed)
}
