// Package metrics exposes FlowBase's Prometheus metrics.
//
// Metric names are prefixed flowbase_ and grouped by the component that
// owns them: domain executors, the partial-replay engine, the raft-backed
// coordination authority, and the CDC replicator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Domain executor metrics
	PacketsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_domain_packets_processed_total",
			Help: "Total number of packets processed by a domain, by packet kind",
		},
		[]string{"domain", "kind"},
	)

	PacketQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbase_domain_packet_queue_depth",
			Help: "Current depth of a domain's incoming packet queue",
		},
		[]string{"domain"},
	)

	PacketProcessDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbase_domain_packet_process_duration_seconds",
			Help:    "Time taken to process one packet to completion",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain", "kind"},
	)

	DomainsDegradedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowbase_domains_degraded",
			Help: "Number of domains currently in a degraded state",
		},
	)

	// Partial-replay engine metrics
	ReplaysStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_replay_started_total",
			Help: "Total number of ReplayRequest packets dispatched, by replay path tag",
		},
		[]string{"tag"},
	)

	ReplaysDedupedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_replay_deduped_total",
			Help: "Total number of misses that attached to an in-flight replay instead of starting a new one",
		},
		[]string{"tag"},
	)

	ReplayFillDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbase_replay_fill_duration_seconds",
			Help:    "Time from ReplayRequest dispatch to terminal fill",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tag"},
	)

	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_eviction_total",
			Help: "Total number of key/range evictions, by node",
		},
		[]string{"node"},
	)

	// Coordination (raft) metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowbase_raft_is_leader",
			Help: "Whether this node holds the controller leadership lock (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowbase_raft_peers_total",
			Help: "Total number of raft peers in the coordination quorum",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowbase_raft_apply_duration_seconds",
			Help:    "Time taken to apply a raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbase_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	// Migration / controller metrics
	MigrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbase_migration_duration_seconds",
			Help:    "Time taken for a migration to reach Active, by final state",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"state"},
	)

	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_migrations_total",
			Help: "Total number of migrations, by outcome",
		},
		[]string{"outcome"},
	)

	// CDC replicator metrics
	SnapshotStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_cdc_snapshot_total",
			Help: "Total number of snapshot attempts by table and status (started, successful, failed)",
		},
		[]string{"table", "status"},
	)

	SnapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbase_cdc_snapshot_duration_seconds",
			Help:    "Duration of a table snapshot",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"table"},
	)

	ReplicationLagRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowbase_cdc_replication_events_applied_total",
			Help: "Total number of change events applied per table",
		},
		[]string{"table"},
	)

	ReplicationSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbase_cdc_replication_events_skipped_total",
			Help: "Total number of change events skipped as already-applied (offset fencing)",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		PacketsProcessedTotal,
		PacketQueueDepth,
		PacketProcessDuration,
		DomainsDegradedTotal,
		ReplaysStartedTotal,
		ReplaysDedupedTotal,
		ReplayFillDuration,
		EvictionsTotal,
		RaftLeader,
		RaftPeers,
		RaftApplyDuration,
		WorkersTotal,
		MigrationDuration,
		MigrationsTotal,
		SnapshotStatusTotal,
		SnapshotDuration,
		ReplicationLagRows,
		ReplicationSkippedTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against a histogram.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
