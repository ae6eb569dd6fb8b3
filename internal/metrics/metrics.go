package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Request lifecycle metrics
	// ============================================
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosscall_requests_created_total",
		Help: "Total number of call requests created",
	})

	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosscall_requests_completed_total",
		Help: "Total number of call requests settled through an accepted proof",
	})

	RequestsCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosscall_requests_canceled_total",
		Help: "Total number of call requests canceled and refunded",
	})

	RequestOperationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscall_request_operations_failed_total",
			Help: "Total number of rejected protocol operations",
		},
		[]string{"operation", "reason"},
	)

	RequestsFlaggedCancelEligible = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosscall_requests_flagged_cancel_eligible_total",
		Help: "Total number of requests flagged cancel-eligible by the expiry watcher",
	})

	// ============================================
	// Escrow metrics
	// ============================================
	EscrowHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crosscall_escrow_held",
			Help: "Reward value currently held in escrow, by asset (float approximation)",
		},
		[]string{"asset"},
	)

	EscrowOperationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscall_escrow_operations_failed_total",
			Help: "Total number of failed escrow fund movements",
		},
		[]string{"operation"},
	)

	// ============================================
	// NATS metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crosscall_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscall_nats_events_published_total",
			Help: "Total number of lifecycle events published to NATS",
		},
		[]string{"event_type"},
	)

	NATSPublishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crosscall_nats_publish_failed_total",
			Help: "Total number of NATS publish failures",
		},
		[]string{"event_type"},
	)

	// ============================================
	// WebSocket metrics
	// ============================================
	WSConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crosscall_ws_connected_clients",
		Help: "Number of connected WebSocket clients",
	})

	WSMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crosscall_ws_messages_sent_total",
		Help: "Total number of WebSocket messages pushed to clients",
	})

	// ============================================
	// HTTP metrics
	// ============================================
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crosscall_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
