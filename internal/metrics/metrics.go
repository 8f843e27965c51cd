// Package metrics exposes the Prometheus instrumentation for the sync
// daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCycles tracks completed sync cycles by terminal status
	// (fetched, nothingFetched, fetchedFailed, noConnection)
	SyncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_cycles_total",
		Help: "Total number of completed sync cycles by terminal status",
	}, []string{"status"})

	// RecordsPulled counts records applied from the server feed
	RecordsPulled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_records_pulled_total",
		Help: "Total number of records applied from pull pages",
	})

	// RecordsPushed counts events acknowledged by the server
	RecordsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitalsync_records_pushed_total",
		Help: "Total number of events acknowledged by push",
	})

	// CycleDuration measures the wall time of a full push-then-pull cycle
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vitalsync_cycle_duration_seconds",
		Help:    "Duration of a full sync cycle in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	// ValidationRounds tracks validation round trips by outcome
	// (success, nothing, failed)
	ValidationRounds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitalsync_validation_rounds_total",
		Help: "Total number of validation round trips by outcome",
	}, []string{"outcome"})

	// UnsyncedBacklog tracks the number of events awaiting push.
	// This is the primary indicator of sync lag
	UnsyncedBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitalsync_unsynced_backlog",
		Help: "Current number of events awaiting push",
	})

	// InvalidRecords tracks events the server has flagged invalid.
	// Growth here means captured data needs correction
	InvalidRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitalsync_invalid_records",
		Help: "Current number of events flagged invalid by the server",
	})
)
