package hrlive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadge(api *fakeAPI, interval time.Duration) *UnreadBadgeCounter {
	cfg := DefaultConfig()
	cfg.BadgeInterval = interval
	cfg.BadgePageSize = 20
	return NewUnreadBadgeCounter(api, cfg)
}

func TestBadgeTick(t *testing.T) {
	api := &fakeAPI{}
	api.setItems(note("1", false), note("2", true), note("3", false))
	b := newTestBadge(api, time.Hour)
	metrics := NewMetrics(prometheus.NewRegistry())
	b.SetMetrics(metrics)

	var got []int
	b.OnChange(func(n int) { got = append(got, n) })

	n, err := b.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 20, api.lastFilters.Limit)
	assert.Nil(t, api.lastFilters.Read)

	_, err = b.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, got)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.UnreadBadge))
}

func TestBadgeTickErrorKeepsCount(t *testing.T) {
	api := &fakeAPI{}
	api.setItems(note("1", false))
	b := newTestBadge(api, time.Hour)
	_, err := b.Tick(context.Background())
	require.NoError(t, err)

	api.mu.Lock()
	api.listErr = errors.New("timeout")
	api.mu.Unlock()

	n, err := b.Tick(context.Background())
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, b.Count())
}

func TestBadgePollsUntilStopped(t *testing.T) {
	api := &fakeAPI{}
	api.setItems(note("1", false))
	b := newTestBadge(api, 10*time.Millisecond)

	var mu sync.Mutex
	var counts []int
	b.OnChange(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})

	b.Start(context.Background())
	b.Start(context.Background())
	assert.True(t, b.Running())
	assert.Eventually(t, func() bool { return b.Count() == 1 }, waitFor, tick)

	api.setItems(note("1", false), note("2", false))
	assert.Eventually(t, func() bool { return b.Count() == 2 }, waitFor, tick)

	b.Stop()
	b.Stop()
	assert.False(t, b.Running())

	calls := api.calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, api.calls())

	mu.Lock()
	assert.Equal(t, []int{1, 2}, counts)
	mu.Unlock()
}

func TestBadgeIgnoresPushes(t *testing.T) {
	api := &fakeAPI{}
	b := newTestBadge(api, time.Hour)
	s := NewNotificationStream(api, DefaultConfig())
	defer s.Close()

	s.OnPush(note("pushed", false))
	assert.Equal(t, 1, s.UnreadCount())
	assert.Zero(t, b.Count())

	api.setItems(note("pushed", false))
	n, err := b.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
