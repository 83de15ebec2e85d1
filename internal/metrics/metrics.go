package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "datacure"

// Drop reasons for channel messages.
const (
	DropMalformed = "malformed"
	DropUnknown   = "unknown_type"
)

// Cache fetch results.
const (
	FetchHit   = "hit"
	FetchMiss  = "miss"
	FetchStale = "stale"
	FetchError = "error"
)

var (
	channelEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Decoded live channel events by type.",
		},
		[]string{"type"},
	)

	channelDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "dropped_messages_total",
			Help:      "Channel messages dropped before dispatch.",
		},
		[]string{"reason"},
	)

	channelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts scheduled after a transport failure.",
		},
	)

	channelExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "retries_exhausted_total",
			Help:      "Channels that gave up after exhausting reconnect attempts.",
		},
	)

	channelOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "open_connections",
			Help:      "Live channel transports currently open.",
		},
	)

	cacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetches_total",
			Help:      "Query cache reads by result.",
		},
		[]string{"result"},
	)

	cacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations by key root.",
		},
		[]string{"root"},
	)

	feedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobfeed",
			Name:      "ws_clients",
			Help:      "WebSocket clients subscribed to job events.",
		},
	)

	feedPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobfeed",
			Name:      "events_published_total",
			Help:      "Job events published to the broker by type.",
		},
		[]string{"type"},
	)

	feedJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobfeed",
			Name:      "jobs_total",
			Help:      "Jobs by lifecycle transition.",
		},
		[]string{"status"},
	)
)

// EventReceived counts a decoded channel event.
func EventReceived(eventType string) {
	channelEvents.WithLabelValues(eventType).Inc()
}

// MessageDropped counts a channel message that was not dispatched.
func MessageDropped(reason string) {
	channelDropped.WithLabelValues(reason).Inc()
}

// ReconnectScheduled counts one reconnect attempt.
func ReconnectScheduled() {
	channelReconnects.Inc()
}

// RetriesExhausted counts a channel that gave up.
func RetriesExhausted() {
	channelExhausted.Inc()
}

// ConnectionOpened and ConnectionClosed track open transports.
func ConnectionOpened() { channelOpen.Inc() }
func ConnectionClosed() { channelOpen.Dec() }

// CacheFetch counts a query cache read.
func CacheFetch(result string) {
	cacheFetches.WithLabelValues(result).Inc()
}

// CacheInvalidated counts an invalidation under the given key root.
func CacheInvalidated(root string) {
	cacheInvalidations.WithLabelValues(root).Inc()
}

// ClientSubscribed and ClientUnsubscribed track jobfeed WebSocket clients.
func ClientSubscribed()   { feedClients.Inc() }
func ClientUnsubscribed() { feedClients.Dec() }

// EventPublished counts an event handed to the broker.
func EventPublished(eventType string) {
	feedPublished.WithLabelValues(eventType).Inc()
}

// JobTransition counts a job entering the given status.
func JobTransition(status string) {
	feedJobs.WithLabelValues(status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
