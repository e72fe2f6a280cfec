// Package metrics exposes the Prometheus registry shared across the core
// components, grounded on the counter/gauge/histogram catalog in
// go-server/internal/metrics/metrics.go, narrowed to what the chat pipeline
// actually emits (connection/message metrics replaced by publisher,
// message-domain, cache, gateway and audit metrics).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric family the core pipeline records.
type Registry struct {
	// C2 adaptive publisher
	PublishAttempts  *prometheus.CounterVec
	PublishLatency   *prometheus.HistogramVec
	DegradationTotal prometheus.Counter
	CurrentBackend   *prometheus.GaugeVec

	// C3 message domain
	MessagesSent     prometheus.Counter
	MessageErrors    *prometheus.CounterVec
	IdempotentHits   prometheus.Counter

	// C5 dispatcher
	EventsPublished *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec

	// C6 cache invalidation
	CacheInvalidations    prometheus.Counter
	CacheOpsSaved         prometheus.Counter
	CacheInvalidateErrors prometheus.Counter
	CacheInvalidateLatency prometheus.Histogram

	// C9 gateway
	GatewayRequests   *prometheus.CounterVec
	GatewayCacheHits  prometheus.Counter
	GatewayCacheMiss  prometheus.Counter
	GatewayEvictions  prometheus.Counter
	GatewayFallbacks  prometheus.Counter

	// C8 notifications
	NotificationsSent   *prometheus.CounterVec
	NotificationFailure *prometheus.CounterVec

	// Operation stats for C11
	OperationTotal   *prometheus.CounterVec
	OperationPartial *prometheus.CounterVec
}

// NewRegistry creates and registers every metric against the default
// Prometheus registry (promauto), mirroring the teacher's NewMetrics().
func NewRegistry() *Registry {
	return &Registry{
		PublishAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_publish_attempts_total",
			Help: "Publish attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fechatter_publish_latency_seconds",
			Help:    "Publish latency by backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		DegradationTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_publisher_degradations_total",
			Help: "Total HighPerf -> Legacy degradations.",
		}),
		CurrentBackend: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fechatter_publisher_backend",
			Help: "1 if this backend is currently selected.",
		}, []string{"backend"}),

		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_messages_sent_total",
			Help: "Messages committed by C3.",
		}),
		MessageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_message_errors_total",
			Help: "Message domain errors by kind.",
		}, []string{"kind"}),
		IdempotentHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_message_idempotent_hits_total",
			Help: "Send requests resolved via idempotency key replay.",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_events_published_total",
			Help: "Events published by channel (realtime/domain/analytics).",
		}, []string{"channel"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_event_publish_errors_total",
			Help: "Event publish failures by channel.",
		}, []string{"channel"}),

		CacheInvalidations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_cache_invalidations_total",
			Help: "Individual cache keys invalidated.",
		}),
		CacheOpsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_cache_invalidation_ops_saved_total",
			Help: "Duplicate invalidations collapsed by batching.",
		}),
		CacheInvalidateErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_cache_invalidation_errors_total",
			Help: "Invalidation groups that failed terminally.",
		}),
		CacheInvalidateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fechatter_cache_invalidation_latency_seconds",
			Help:    "Latency of a flushed invalidation batch.",
			Buckets: prometheus.DefBuckets,
		}),

		GatewayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_gateway_requests_total",
			Help: "Gateway requests by status class.",
		}, []string{"status_class"}),
		GatewayCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_gateway_cache_hits_total",
			Help: "Gateway response cache hits.",
		}),
		GatewayCacheMiss: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_gateway_cache_misses_total",
			Help: "Gateway response cache misses.",
		}),
		GatewayEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_gateway_cache_evictions_total",
			Help: "Entries evicted from the gateway cache.",
		}),
		GatewayFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_gateway_proxy_fallbacks_total",
			Help: "Times the gateway fell back to the stable proxy engine.",
		}),

		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_notifications_sent_total",
			Help: "Notifications delivered by channel.",
		}, []string{"channel"}),
		NotificationFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_notifications_failed_total",
			Help: "Notification delivery failures by channel.",
		}, []string{"channel"}),

		OperationTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_operation_total",
			Help: "Operations observed, by name.",
		}, []string{"operation"}),
		OperationPartial: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_operation_partial_failure_total",
			Help: "Partial failures observed, by operation name.",
		}, []string{"operation"}),
	}
}

// ObservePublish records one publish attempt's outcome and latency.
func (r *Registry) ObservePublish(backend string, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	r.PublishAttempts.WithLabelValues(backend, outcome).Inc()
	r.PublishLatency.WithLabelValues(backend).Observe(d.Seconds())
}
