package hrlive

import (
	"context"

	"github.com/izhars/hrm-admin-sub002/hrlive/rest"
)

// LastSeenLookup resolves when a peer was last online.
type LastSeenLookup interface {
	LastSeen(ctx context.Context, peerID string) (LastSeenValue, error)
}

// Backend groups the REST collaborators a Session needs.
type Backend interface {
	NotificationAPI
	LastSeenLookup
}

// RESTBackend adapts rest.Client to Backend, normalizing payloads at the
// boundary: malformed entries are dropped, bad timestamps become zero.
type RESTBackend struct {
	client *rest.Client
	logger Logger
}

// NewRESTBackend wraps c.
func NewRESTBackend(c *rest.Client) *RESTBackend {
	return &RESTBackend{client: c, logger: noopLogger{}}
}

// SetLogger overrides logger (optional).
func (b *RESTBackend) SetLogger(l Logger) {
	if l != nil {
		b.logger = l
	}
}

func (b *RESTBackend) ListNotifications(ctx context.Context, page int, f NotificationFilters) (NotificationPage, error) {
	resp, err := b.client.ListNotifications(ctx, rest.ListNotificationsParams{
		Page:  page,
		Limit: f.Limit,
		Type:  string(f.Type),
		Read:  f.Read,
	})
	if err != nil {
		return NotificationPage{}, err
	}

	out := NotificationPage{
		Items: make([]Notification, 0, len(resp.Notifications)),
		PageInfo: PageInfo{
			Page:  resp.Pagination.Page,
			Limit: resp.Pagination.Limit,
			Total: resp.Pagination.Total,
			Pages: resp.Pagination.Pages,
		},
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.Limit == 0 {
		out.Limit = f.Limit
	}
	for _, n := range resp.Notifications {
		nt, err := normalizeNotification(wireNotification(n))
		if err != nil {
			b.logger.Warn("dropping notification", map[string]any{"error": err.Error()})
			continue
		}
		out.Items = append(out.Items, nt)
	}
	return out, nil
}

func (b *RESTBackend) MarkRead(ctx context.Context, id string) error {
	return b.client.MarkNotificationRead(ctx, id)
}

func (b *RESTBackend) MarkAllRead(ctx context.Context) error {
	return b.client.MarkAllNotificationsRead(ctx)
}

func (b *RESTBackend) Delete(ctx context.Context, id string) error {
	return b.client.DeleteNotification(ctx, id)
}

func (b *RESTBackend) DeleteMany(ctx context.Context, ids []string) error {
	return b.client.DeleteNotifications(ctx, ids)
}

// LastSeen returns a value with nil At when the server has no usable timestamp.
func (b *RESTBackend) LastSeen(ctx context.Context, peerID string) (LastSeenValue, error) {
	resp, err := b.client.EmployeeLastSeen(ctx, peerID)
	if err != nil {
		return LastSeenValue{PeerID: peerID}, err
	}
	v := LastSeenValue{PeerID: peerID}
	if t, ok := ParseTimestamp(resp.Raw()); ok {
		v.At = &t
	}
	return v, nil
}
