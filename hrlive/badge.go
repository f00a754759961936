package hrlive

import (
	"context"
	"sync"
	"time"
)

// UnreadBadgeCounter polls the first page of notifications on a fixed
// interval and counts the unread entries. It does not watch
// NotificationStream, so the badge can lag the pushed list by up to one
// interval plus one request.
type UnreadBadgeCounter struct {
	api      NotificationAPI
	interval time.Duration
	pageSize int
	logger   Logger
	metrics  *Metrics

	mu      sync.Mutex
	count   int
	cancel  context.CancelFunc
	done    chan struct{}
	changes listeners[int]
}

// NewUnreadBadgeCounter uses cfg.BadgeInterval and cfg.BadgePageSize.
func NewUnreadBadgeCounter(api NotificationAPI, cfg Config) *UnreadBadgeCounter {
	return &UnreadBadgeCounter{
		api:      api,
		interval: cfg.BadgeInterval,
		pageSize: cfg.BadgePageSize,
		logger:   noopLogger{},
	}
}

// SetLogger overrides logger (optional).
func (b *UnreadBadgeCounter) SetLogger(l Logger) {
	if l != nil {
		b.logger = l
	}
}

// SetMetrics attaches metrics (optional).
func (b *UnreadBadgeCounter) SetMetrics(m *Metrics) { b.metrics = m }

// OnChange registers fn for count changes.
func (b *UnreadBadgeCounter) OnChange(fn func(int)) func() {
	return b.changes.add(fn)
}

// Count returns the count from the last successful tick.
func (b *UnreadBadgeCounter) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Tick fetches one page and recomputes the count. On error the previous
// count is kept.
func (b *UnreadBadgeCounter) Tick(ctx context.Context) (int, error) {
	page, err := b.api.ListNotifications(ctx, 1, NotificationFilters{Limit: b.pageSize})
	if err != nil {
		return b.Count(), WrapError(ErrorFetch, "poll unread notifications", err)
	}
	n := 0
	for _, it := range page.Items {
		if !it.Read {
			n++
		}
	}

	b.mu.Lock()
	changed := n != b.count
	b.count = n
	b.mu.Unlock()

	b.metrics.unreadBadge(n)
	if changed {
		b.changes.call(n)
	}
	return n, nil
}

// Start ticks once immediately and then every interval until Stop or ctx
// cancellation. Starting a running counter is a no-op.
func (b *UnreadBadgeCounter) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil || b.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	go b.run(ctx, done)
}

// Stop halts polling and waits for an in-flight tick to return.
func (b *UnreadBadgeCounter) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poll loop is active.
func (b *UnreadBadgeCounter) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

func (b *UnreadBadgeCounter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		if _, err := b.Tick(ctx); err != nil && ctx.Err() == nil {
			b.logger.Warn("badge poll failed", map[string]any{"error": err.Error()})
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
