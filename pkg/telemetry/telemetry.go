package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level counters. Registered on the default registry; the API mux
// serves them on /metrics via promhttp.
var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presencedb_events_total",
		Help: "Engine events processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presencedb_commands_total",
		Help: "Presence commands executed, by name and outcome.",
	}, []string{"command", "outcome"})

	RangesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presencedb_visibility_ranges_total",
		Help: "Hide/reveal ranges emitted by turn reconciliation.",
	}, []string{"kind"})

	MessagesStamped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presencedb_messages_stamped_total",
		Help: "Messages stamped with an active presence set.",
	})

	PersistFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presencedb_persist_flushes_total",
		Help: "Debounced persistence flushes written to the store.",
	})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presencedb_queue_dropped_total",
		Help: "Events rejected because the engine queue was full.",
	})

	JanitorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presencedb_janitor_runs_total",
		Help: "Janitor hygiene passes, by outcome.",
	}, []string{"outcome"})

	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presencedb_disk_free_bytes",
		Help: "Free bytes on the filesystem holding the database.",
	})

	DiskUsedPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presencedb_disk_used_percent",
		Help: "Disk usage percentage on the database filesystem.",
	})
)

// ObservePlan records the range counts of an emitted reconciliation plan.
func ObservePlan(reveal, hide int) {
	RangesEmitted.WithLabelValues("reveal").Add(float64(reveal))
	RangesEmitted.WithLabelValues("hide").Add(float64(hide))
}
