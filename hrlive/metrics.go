package hrlive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the SDK collectors. A nil *Metrics records nothing.
type Metrics struct {
	ConnectionState         prometheus.Gauge
	ReconnectAttempts       prometheus.Counter
	MessagesSent            prometheus.Counter
	MessagesConfirmed       prometheus.Counter
	MessagesFailed          prometheus.Counter
	NotificationsPushed     prometheus.Counter
	NotificationsDuplicated prometheus.Counter
	UnreadBadge             prometheus.Gauge
}

// NewMetrics registers the SDK collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Name: "hrlive_connection_state",
			Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 error)",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_reconnect_attempts_total",
			Help: "Total automatic reconnection attempts",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_messages_sent_total",
			Help: "Total chat messages transmitted",
		}),
		MessagesConfirmed: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_messages_confirmed_total",
			Help: "Total optimistic messages confirmed by the server",
		}),
		MessagesFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_messages_failed_total",
			Help: "Total chat messages that could not be transmitted",
		}),
		NotificationsPushed: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_notifications_pushed_total",
			Help: "Total pushed notifications inserted into the cache",
		}),
		NotificationsDuplicated: f.NewCounter(prometheus.CounterOpts{
			Name: "hrlive_notifications_duplicated_total",
			Help: "Total pushed notifications dropped as already cached",
		}),
		UnreadBadge: f.NewGauge(prometheus.GaugeOpts{
			Name: "hrlive_unread_badge",
			Help: "Unread count from the last badge poll",
		}),
	}
}

func (m *Metrics) setState(s ConnectionState) {
	if m != nil {
		m.ConnectionState.Set(float64(s))
	}
}

func (m *Metrics) reconnectAttempt() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) messageConfirmed() {
	if m != nil {
		m.MessagesConfirmed.Inc()
	}
}

func (m *Metrics) messageFailed() {
	if m != nil {
		m.MessagesFailed.Inc()
	}
}

func (m *Metrics) notificationPushed(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.NotificationsDuplicated.Inc()
		return
	}
	m.NotificationsPushed.Inc()
}

func (m *Metrics) unreadBadge(n int) {
	if m != nil {
		m.UnreadBadge.Set(float64(n))
	}
}
