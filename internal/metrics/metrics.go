// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raven_hub_connections",
			Help: "Number of authenticated live connections.",
		},
	)
	HubHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_hub_handshakes_total",
			Help: "Live connection handshakes, known values: ok, nosession, timeout, accounts.",
		},
		[]string{
			"result",
		},
	)
	HubFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_hub_frames_total",
			Help: "Event frames queued to live connections, by event type.",
		},
		[]string{
			"type",
		},
	)
	HubDroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raven_hub_dropped_connections_total",
			Help: "Connections closed because their outbound queue was full.",
		},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_push_deliveries_total",
			Help: "Push deliveries per subscription, known values: ok, gone, invalid, error.",
		},
		[]string{
			"result",
		},
	)
	PushNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_push_notifications_total",
			Help: "Notifications by terminal status: sent, partial_success, failed.",
		},
		[]string{
			"status",
		},
	)
	PushSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raven_push_send_duration_seconds",
			Help:    "Push service request duration.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	PushCleanup = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_push_cleanup_total",
			Help: "Subscription cleanup actions, known values: deactivated, deleted, annotated.",
		},
		[]string{
			"action",
		},
	)

	EventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raven_events_handled_total",
			Help: "Mailbox events consumed from the bus, by consumer and event type.",
		},
		[]string{
			"consumer",
			"type",
		},
	)

	ArchivedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raven_archive_entries_total",
			Help: "Notification log entries exported to object storage.",
		},
	)
)
