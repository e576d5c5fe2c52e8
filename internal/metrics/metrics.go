package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Webhook ingestion metrics
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_webhooks_total",
			Help: "Total number of webhook deliveries by provider and response status",
		},
		[]string{"provider", "status"},
	)

	IdempotencyChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_idempotency_checks_total",
			Help: "Idempotency checks by marker and result",
		},
		[]string{"marker", "result"},
	)

	// Event bus metrics
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_emitted_total",
			Help: "Total number of events enqueued",
		},
		[]string{"event", "status"},
	)

	EventOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_event_outcomes_total",
			Help: "Processing outcomes by event name and final state",
		},
		[]string{"event", "state"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_handler_duration_seconds",
			Help:    "Duration of event handler invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// Canonical store metrics
	CanonicalWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_canonical_write_failures_total",
			Help: "Failed canonical store writes by table",
		},
		[]string{"table"},
	)

	PurgedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_purged_rows_total",
			Help: "Rows deleted by retention purges",
		},
		[]string{"target"},
	)

	// Export metrics
	ExportedDocuments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_exported_documents_total",
			Help: "Audit entries exported to the search cluster",
		},
	)

	ExportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_export_errors_total",
			Help: "Failed audit export batches",
		},
	)
)
