package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tradeguard"

// Metrics holds the Prometheus collectors for the stream client and notification pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	FramesReceived     prometheus.Counter
	FrameParseErrors   prometheus.Counter
	MessagesSuperseded prometheus.Counter
	ConnectionState    *prometheus.GaugeVec   // labels: state
	ReconnectAttempts  *prometheus.CounterVec // labels: outcome={success,error}

	NotificationsAdmitted  prometheus.Counter
	NotificationsRejected  *prometheus.CounterVec // labels: reason={below_threshold,duplicate}
	NotificationsEvicted   prometheus.Counter
	NotificationsDismissed prometheus.Counter
	NotificationBufferSize prometheus.Gauge
	Deliveries             *prometheus.CounterVec // labels: outcome={success,error}
	JournalPruned          prometheus.Counter
}

// NewMetrics creates all collectors and registers them on a dedicated registry
// that also carries the Go and process collectors.
func NewMetrics() *Metrics {
	m := newMetrics(prometheus.NewRegistry())
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry without runtime collectors.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: reg,
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_received_total",
			Help:      "Total frames read from the event stream.",
		}),
		FrameParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frame_parse_errors_total",
			Help:      "Frames discarded because they could not be decoded.",
		}),
		MessagesSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_superseded_total",
			Help:      "Messages replaced in the latest slot before the subscriber observed them.",
		}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnect_attempts_total",
			Help:      "Reconnection attempts by outcome.",
		}, []string{"outcome"}),
		NotificationsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_admitted_total",
			Help:      "Messages admitted into the notification buffer.",
		}),
		NotificationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_rejected_total",
			Help:      "Messages not admitted, by reason.",
		}, []string{"reason"}),
		NotificationsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_evicted_total",
			Help:      "Notifications evicted from the tail to enforce capacity.",
		}),
		NotificationsDismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dismissed_total",
			Help:      "Notifications removed by explicit dismissal.",
		}),
		NotificationBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_buffer_size",
			Help:      "Current number of visible notifications.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Alert channel deliveries by outcome.",
		}, []string{"outcome"}),
		JournalPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_pruned_total",
			Help:      "Journal rows deleted by retention.",
		}),
	}

	reg.MustRegister(
		m.FramesReceived,
		m.FrameParseErrors,
		m.MessagesSuperseded,
		m.ConnectionState,
		m.ReconnectAttempts,
		m.NotificationsAdmitted,
		m.NotificationsRejected,
		m.NotificationsEvicted,
		m.NotificationsDismissed,
		m.NotificationBufferSize,
		m.Deliveries,
		m.JournalPruned,
	)

	return m
}

// SetConnectionState marks state as the only active connection state.
func (m *Metrics) SetConnectionState(state string, all []string) {
	for _, s := range all {
		if s == state {
			m.ConnectionState.WithLabelValues(s).Set(1)
			continue
		}
		m.ConnectionState.WithLabelValues(s).Set(0)
	}
}
