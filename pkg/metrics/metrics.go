// Package metrics exposes process counters for the ingest/correlate pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_emails_ingested_total",
		Help: "Raw emails stored, by folder.",
	}, []string{"folder"})

	EventsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_events_parsed_total",
		Help: "Alert events produced, by extraction type.",
	}, []string{"extraction_type"})

	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ngs_parse_failures_total",
		Help: "Emails that failed to parse.",
	})

	DedupeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ngs_dedupe_hits_total",
		Help: "Events linked as deduplicated within the dedupe window.",
	})

	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ngs_incidents_created_total",
		Help: "New incidents opened by the correlator.",
	})

	IncidentsReopened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ngs_incidents_reopened_total",
		Help: "Incidents reopened by a firing event (flaps).",
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_llm_calls_total",
		Help: "Learning extractor LLM calls, by outcome.",
	}, []string{"outcome"})

	Quarantines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_quarantines_total",
		Help: "Events quarantined, by reason.",
	}, []string{"reason"})

	MaintenanceMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ngs_maintenance_matches_total",
		Help: "Incidents matched into maintenance windows.",
	})

	EnrichmentCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_enrichment_calls_total",
		Help: "Advisory enrichment calls, by outcome.",
	}, []string{"outcome"})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_notifications_sent_total",
		Help: "Notifications delivered, by channel type and outcome.",
	}, []string{"channel_type", "outcome"})

	DLQEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ngs_dlq_enqueued_total",
		Help: "Items routed to the dead letter queue, by event type.",
	}, []string{"event_type"})

	DLQDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ngs_dlq_pending",
		Help: "Pending dead letter queue items at last scheduler pass.",
	})

	ProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ngs_process_duration_seconds",
		Help:    "End to end processing time per email, by branch.",
		Buckets: prometheus.DefBuckets,
	}, []string{"branch"})
)
