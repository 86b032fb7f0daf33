package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shadow_ai"

// IngestMetrics holds the Prometheus metrics of an ingestion run.
type IngestMetrics struct {
	RowsTotal        *prometheus.CounterVec
	EventsByRisk     *prometheus.CounterVec
	EventsByProvider *prometheus.CounterVec
	PIIEvents        prometheus.Counter
	SpooledEvents    prometheus.Counter
	ReplayedEvents   prometheus.Counter
}

// NewIngestMetrics registers the ingestion metrics with reg.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	factory := promauto.With(reg)
	return &IngestMetrics{
		RowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Total number of log rows read, by outcome.",
		}, []string{"outcome"}), // outcome: accepted, filtered, skipped
		EventsByRisk: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of classified AI usage events, by risk level.",
		}, []string{"risk_level"}),
		EventsByProvider: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "provider_events_total",
			Help:      "Total number of classified AI usage events, by provider.",
		}, []string{"provider"}),
		PIIEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pii_events_total",
			Help:      "Total number of events flagged for PII/PHI risk.",
		}),
		SpooledEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "spooled_events_total",
			Help:      "Total number of events written to the spool after a persistence failure.",
		}),
		ReplayedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "replayed_events_total",
			Help:      "Total number of spooled events persisted on replay.",
		}),
	}
}

// EnrichMetrics holds the Prometheus metrics of the enrichment orchestrator.
type EnrichMetrics struct {
	Attempts      *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	Duration      prometheus.Histogram
	Batches       prometheus.Counter
	LastBatchSize prometheus.Gauge
	Backlog       prometheus.Gauge
}

// NewEnrichMetrics registers the orchestrator metrics with reg.
func NewEnrichMetrics(reg prometheus.Registerer) *EnrichMetrics {
	factory := promauto.With(reg)
	return &EnrichMetrics{
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "attempts_total",
			Help:      "Total number of reasoning service attempts, by result.",
		}, []string{"result"}), // result: success, rate_limited, timeout, malformed, schema, transport, permanent
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "events_total",
			Help:      "Total number of events processed, by final outcome.",
		}, []string{"outcome"}), // outcome: enriched, failed, skipped
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "event_duration_seconds",
			Help:      "Time spent enriching one event, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
		Batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "batches_total",
			Help:      "Total number of batches fetched from the store.",
		}),
		LastBatchSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "last_batch_size",
			Help:      "Number of events in the most recent batch.",
		}),
		Backlog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "unenriched_events",
			Help:      "Number of unenriched events at the last stats refresh.",
		}),
	}
}
