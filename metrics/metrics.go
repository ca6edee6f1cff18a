package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message lifecycle
	MessagesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_created_total",
			Help: "Total messages stored",
		},
		[]string{"kind"}, // "text" or "attachment"
	)

	MessagesEdited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_edited_total",
			Help: "Total message edits",
		},
	)

	MessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_deleted_total",
			Help: "Total messages deleted",
		},
	)

	RoomsCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rooms_cleared_total",
			Help: "Total room clears",
		},
	)

	ReceiptsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_receipts_sent_total",
			Help: "Total receipts forwarded to senders",
		},
		[]string{"kind"}, // "delivered" or "seen"
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_rejected_total",
			Help: "Total client events rejected",
		},
		[]string{"event", "kind"},
	)

	// Gateway
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Connections currently joined to a room",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Rooms with at least one connection",
		},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_frames_dropped_total",
			Help: "Outgoing frames dropped because a send buffer was full",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_hits_total",
			Help: "Incoming frames dropped by the per-connection rate limit",
		},
	)

	// Infrastructure
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_latency_seconds",
			Help:    "Session store operation latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
