// Package metrics defines Prometheus metrics for the pool core.
// All collectors are registered upfront so that every component can
// use them without touching this file again.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsByState tracks live connections per database and lifecycle state.
	ConnectionsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_connections_by_state",
		Help: "Number of live connections per database and state",
	}, []string{"database", "state"})

	// ConnectionsMax tracks the configured global connection ceiling.
	ConnectionsMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_connections_max",
		Help: "Configured global maximum number of connections",
	})

	// WaitersQueued tracks the number of pending acquires per database.
	WaitersQueued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_waiters_queued",
		Help: "Number of acquires waiting for a connection per database",
	}, []string{"database"})

	// BlockTarget tracks the allocator-assigned capacity target per database.
	BlockTarget = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_block_target",
		Help: "Allocator capacity target per database",
	}, []string{"database"})

	// AcquiresTotal counts acquire outcomes per database.
	AcquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_acquires_total",
		Help: "Total acquire operations by outcome",
	}, []string{"database", "status"})

	// TransitionsTotal counts connection state transitions per database.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_transitions_total",
		Help: "Total connection state machine transitions",
	}, []string{"database", "to_state"})

	// AcquireWaitDuration tracks the time acquires spend waiting for a connection.
	AcquireWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a connection",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"database"})

	// RebindsTotal counts idle connections rebound from one database to another.
	RebindsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_rebinds_total",
		Help: "Total idle connections rebound to another database",
	}, []string{"database"})

	// ConnectionErrors counts connector and lifecycle errors by type.
	ConnectionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_connection_errors_total",
		Help: "Total connection errors",
	}, []string{"database", "error_type"})

	// SnapshotsTotal counts metric snapshots emitted through the host bridge.
	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_snapshots_total",
		Help: "Total metric snapshots emitted to the host",
	})

	// RelayOperations counts Redis relay operations.
	RelayOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_relay_operations_total",
		Help: "Total metric relay operations",
	}, []string{"operation", "status"})
)
