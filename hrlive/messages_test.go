package hrlive

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, ids ...string) (*MessageChannel, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := NewMessageChannel(conn, "e1")
	if len(ids) > 0 {
		c.SetIDGenerator(sequence(ids...))
	}
	t.Cleanup(c.Close)
	return c, conn
}

func TestSendMessageIsOptimistic(t *testing.T) {
	c, conn := newTestChannel(t, "42")
	var snaps [][]Message
	c.OnChange(func(log []Message) { snaps = append(snaps, log) })

	id, err := c.SendMessage(context.Background(), "  Hello  ")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	log := c.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "Hello", log[0].Text)
	assert.Equal(t, SenderLocal, log[0].Sender)
	assert.False(t, log[0].Confirmed)
	assert.False(t, log[0].Failed)
	assert.Len(t, snaps, 1)

	assert.Equal(t, []any{SendMessagePayload{ToUserID: "e1", Text: "Hello", LocalID: "42"}}, conn.sentNamed(EventSendMessage))
}

func TestSendMessageRejectsBlank(t *testing.T) {
	c, conn := newTestChannel(t)
	_, err := c.SendMessage(context.Background(), " \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, c.Log())
	assert.Empty(t, conn.sentNamed(EventSendMessage))
}

func TestAckByLocalID(t *testing.T) {
	c, conn := newTestChannel(t, "a", "b")
	_, _ = c.SendMessage(context.Background(), "same")
	_, _ = c.SendMessage(context.Background(), "same")

	conn.emit(t, EventMessageSent, map[string]string{"id": "srv-2", "localId": "b", "text": "same", "createdAt": "2024-01-01T10:00:00Z"})
	conn.emit(t, EventMessageSent, map[string]string{"id": "srv-2", "localId": "b", "text": "same"})

	log := c.Log()
	require.Len(t, log, 2)
	assert.False(t, log[0].Confirmed)
	assert.True(t, log[1].Confirmed)
	assert.Equal(t, "srv-2", log[1].ServerID)
	assert.True(t, mustTime(t, "2024-01-01T10:00:00Z").Equal(log[1].SentAt))
	assert.Len(t, c.Unconfirmed(), 1)
}

func TestAckByTextMatchesOldestPending(t *testing.T) {
	c, conn := newTestChannel(t, "a", "b", "c")
	_, _ = c.SendMessage(context.Background(), "hi")
	_, _ = c.SendMessage(context.Background(), "other")
	_, _ = c.SendMessage(context.Background(), "hi")

	conn.emit(t, EventMessageSent, map[string]string{"text": "hi"})
	log := c.Log()
	assert.True(t, log[0].Confirmed)
	assert.False(t, log[1].Confirmed)
	assert.False(t, log[2].Confirmed)

	conn.emit(t, EventMessageSent, map[string]string{"text": "hi"})
	assert.True(t, c.Log()[2].Confirmed)

	conn.emit(t, EventMessageSent, map[string]string{"text": "unknown"})
	conn.emitRaw(EventMessageSent, `"garbage"`)
	assert.Len(t, c.Log(), 3)
	assert.False(t, c.Log()[1].Confirmed)
}

func TestAckSkipsFailedMessagesByText(t *testing.T) {
	c, conn := newTestChannel(t, "a", "b")
	conn.disconnect()
	_, err := c.SendMessage(context.Background(), "hi")
	require.Error(t, err)
	conn.reconnect()
	_, err = c.SendMessage(context.Background(), "hi")
	require.NoError(t, err)

	conn.emit(t, EventMessageSent, map[string]string{"text": "hi"})
	log := c.Log()
	assert.False(t, log[0].Confirmed)
	assert.True(t, log[0].Failed)
	assert.True(t, log[1].Confirmed)
}

func TestReceiveMessage(t *testing.T) {
	c, conn := newTestChannel(t)
	conn.emit(t, EventReceiveMessage, map[string]string{"id": "m1", "fromUserId": "e1", "toUserId": "me", "text": "yo"})
	conn.emit(t, EventReceiveMessage, map[string]string{"id": "m1", "fromUserId": "e1", "text": "yo"})
	conn.emit(t, EventReceiveMessage, map[string]string{"id": "m2", "fromUserId": "e7", "text": "wrong chat"})
	conn.emit(t, EventReceiveMessage, map[string]string{"text": "no sender"})

	log := c.Log()
	require.Len(t, log, 1)
	assert.Equal(t, SenderRemote, log[0].Sender)
	assert.True(t, log[0].Confirmed)
	assert.Equal(t, "m1", log[0].ServerID)
	assert.NotEmpty(t, log[0].LocalID)
}

func TestHistoryReplacesLog(t *testing.T) {
	c, conn := newTestChannel(t, "p1", "h1", "h2", "h3")
	_, _ = c.SendMessage(context.Background(), "pending")

	conn.emit(t, EventChatHistory, []map[string]string{
		{"id": "1", "fromUserId": "me", "toUserId": "e1", "text": "hi", "createdAt": "2024-01-01T09:00:00Z"},
		{"id": "2", "fromUserId": "e1", "toUserId": "me", "text": "hello", "createdAt": "2024-01-01T09:01:00Z"},
		{"id": "3", "fromUserId": "e5", "toUserId": "me", "text": "other chat"},
	})

	log := c.Log()
	require.Len(t, log, 3)
	assert.Equal(t, "hi", log[0].Text)
	assert.Equal(t, SenderLocal, log[0].Sender)
	assert.Equal(t, "hello", log[1].Text)
	assert.Equal(t, SenderRemote, log[1].Sender)
	assert.True(t, log[0].Confirmed)
	assert.True(t, log[1].Confirmed)
	assert.Equal(t, "pending", log[2].Text)
	assert.False(t, log[2].Confirmed)
}

func TestHistoryContainingPendingMessage(t *testing.T) {
	c, conn := newTestChannel(t, "p1")
	_, _ = c.SendMessage(context.Background(), "hi")

	conn.emit(t, EventChatHistory, []map[string]string{
		{"id": "1", "fromUserId": "me", "toUserId": "e1", "text": "hi", "localId": "p1"},
	})
	log := c.Log()
	require.Len(t, log, 1)
	assert.True(t, log[0].Confirmed)
}

func TestHistoryWithoutLocalIDClaimsPendingByText(t *testing.T) {
	c, conn := newTestChannel(t, "p1", "h1")
	_, _ = c.SendMessage(context.Background(), "hi")

	conn.emit(t, EventChatHistory, []map[string]string{
		{"id": "1", "fromUserId": "me", "toUserId": "e1", "text": "hi"},
	})
	log := c.Log()
	require.Len(t, log, 1)
	assert.True(t, log[0].Confirmed)
	assert.Equal(t, "p1", log[0].LocalID)
	assert.Equal(t, "1", log[0].ServerID)
	assert.Empty(t, c.Unconfirmed())
}

func TestHistoryClaimsEachEntryOnce(t *testing.T) {
	c, conn := newTestChannel(t, "p1", "p2", "p3", "p4", "h1", "h2")
	_, _ = c.SendMessage(context.Background(), "hi")
	_, _ = c.SendMessage(context.Background(), "hi")
	_, _ = c.SendMessage(context.Background(), "bye")
	conn.disconnect()
	_, err := c.SendMessage(context.Background(), "late")
	require.Error(t, err)

	conn.emit(t, EventChatHistory, []map[string]string{
		{"id": "1", "fromUserId": "me", "toUserId": "e1", "text": "hi"},
		{"id": "2", "fromUserId": "e1", "toUserId": "me", "text": "bye"},
	})
	log := c.Log()
	require.Len(t, log, 5)
	assert.Equal(t, "p1", log[0].LocalID)
	assert.True(t, log[0].Confirmed)
	assert.Equal(t, SenderRemote, log[1].Sender)

	var pending []string
	for _, m := range c.Unconfirmed() {
		pending = append(pending, m.LocalID)
	}
	assert.Equal(t, []string{"p2", "p3", "p4"}, pending)
}

func TestLoadHistorySwitchesPeer(t *testing.T) {
	c, conn := newTestChannel(t)
	conn.emit(t, EventReceiveMessage, map[string]string{"id": "m1", "fromUserId": "e1", "text": "yo"})
	require.Len(t, c.Log(), 1)

	require.NoError(t, c.LoadHistory(context.Background(), "e1"))
	assert.Len(t, c.Log(), 1)

	require.NoError(t, c.LoadHistory(context.Background(), "e2"))
	assert.Empty(t, c.Log())
	assert.Equal(t, "e2", c.PeerID())
	assert.Equal(t, []any{
		LoadHistoryPayload{TargetUserID: "e1"},
		LoadHistoryPayload{TargetUserID: "e2"},
	}, conn.sentNamed(EventLoadHistory))
}

func TestSendWhileDisconnectedThenResend(t *testing.T) {
	c, conn := newTestChannel(t, "42", "43")
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c.SetMetrics(metrics)

	conn.disconnect()
	id, err := c.SendMessage(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "42", id)

	log := c.Log()
	require.Len(t, log, 1)
	assert.False(t, log[0].Confirmed)
	assert.True(t, log[0].Failed)

	conn.reconnect()
	id, err = c.Resend(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "43", id)

	conn.emit(t, EventMessageSent, map[string]string{"id": "srv-1", "localId": "43", "text": "Hello"})

	log = c.Log()
	require.Len(t, log, 2)
	assert.Equal(t, "42", log[0].LocalID)
	assert.False(t, log[0].Confirmed)
	assert.Equal(t, "43", log[1].LocalID)
	assert.True(t, log[1].Confirmed)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MessagesConfirmed))
}

func TestResendRejectsConfirmedAndUnknown(t *testing.T) {
	c, conn := newTestChannel(t, "a")
	_, _ = c.SendMessage(context.Background(), "hi")
	conn.emit(t, EventMessageSent, map[string]string{"localId": "a"})

	_, err := c.Resend(context.Background(), "a")
	assert.Equal(t, ErrorBadRequest, CodeOf(err))

	_, err = c.Resend(context.Background(), "missing")
	assert.Equal(t, ErrorNotFound, CodeOf(err))
}

func TestMessageChannelClose(t *testing.T) {
	conn := newFakeConn()
	c := NewMessageChannel(conn, "e1")
	c.SetClock(func() time.Time { return time.Unix(0, 0) })
	c.Close()
	c.Close()

	conn.emit(t, EventReceiveMessage, map[string]string{"id": "m1", "fromUserId": "e1", "text": "yo"})
	assert.Empty(t, c.Log())
	assert.Zero(t, conn.bus.Len())
}
