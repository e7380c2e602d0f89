package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsProcessed counts pipeline events that contributed to a rebuild,
	// labeled by event type.
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_events_processed_total",
			Help: "Total number of catalog events processed by the consumer",
		},
		[]string{"event_type"},
	)

	// DuplicateEvents counts messages skipped by the idempotency gate.
	DuplicateEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_duplicate_events_total",
			Help: "Total number of duplicate deliveries short-circuited",
		},
	)

	// Rebuilds counts full catalog rebuilds (coalesced batches count once).
	Rebuilds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_rebuilds_total",
			Help: "Total number of full catalog rebuilds",
		},
	)

	// SnapshotsPublished counts successfully published snapshot versions.
	SnapshotsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_snapshots_published_total",
			Help: "Total number of catalog snapshot versions published",
		},
	)

	// DeadLetters counts poison messages routed to the dead-letter table.
	DeadLetters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_dead_letters_total",
			Help: "Total number of messages moved to the dead-letter table",
		},
	)

	// ProcessingFailures counts batches abandoned to lease-expiry redelivery.
	ProcessingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_processing_failures_total",
			Help: "Total number of batches left for redelivery after an error",
		},
	)
)

// RegisterMetrics registers all pipeline collectors with the default registry.
// Safe to call once at boot.
func RegisterMetrics() {
	prometheus.MustRegister(
		EventsProcessed,
		DuplicateEvents,
		Rebuilds,
		SnapshotsPublished,
		DeadLetters,
		ProcessingFailures,
	)
}
