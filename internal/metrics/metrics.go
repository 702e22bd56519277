// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reprise"

// Metrics groups every collector the engine updates.
type Metrics struct {
	// Coordinator metrics.
	CommitsTotal    prometheus.Counter
	ConflictsTotal  prometheus.Counter
	RejectedTotal   *prometheus.CounterVec
	PrepareDuration prometheus.Histogram
	ApplyDuration   prometheus.Histogram
	HeadRevision    prometheus.Gauge
	Epoch           prometheus.Gauge
	RollbacksTotal  *prometheus.CounterVec

	// Replication metrics.
	ReplicationFailuresTotal *prometheus.CounterVec
	ReplicationTimeoutsTotal prometheus.Counter
	ReplicationRetriesTotal  prometheus.Counter

	// Store metrics.
	CompactedEntriesTotal prometheus.Counter
	CheckpointsTotal      prometheus.Counter
	ArchivesTotal         prometheus.Counter
	ArchivedCommitsTotal  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "commits_total",
			Help:      "Total number of commits made durable",
		}),
		ConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "conflicts_total",
			Help:      "Total number of prepares rejected by optimistic validation",
		}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "rejected_total",
			Help:      "Total number of prepares rejected before assignment, by reason",
		}, []string{"reason"}),
		PrepareDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "prepare_duration_seconds",
			Help:      "Histogram of prepare durations, including apply and replication",
			Buckets:   prometheus.DefBuckets,
		}),
		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "apply_duration_seconds",
			Help:      "Histogram of durable apply durations",
			Buckets:   prometheus.DefBuckets,
		}),
		HeadRevision: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "head_revision",
			Help:      "Last revision made visible",
		}),
		Epoch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "epoch",
			Help:      "Epoch the coordinator assigns revisions under",
		}),
		RollbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "rollbacks_total",
			Help:      "Total number of rollbacks, by mode",
		}, []string{"mode"}),
		ReplicationFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "failures_total",
			Help:      "Total number of failed peer deliveries, by peer",
		}, []string{"peer"}),
		ReplicationTimeoutsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "timeouts_total",
			Help:      "Total number of commits that missed the replication quorum deadline",
		}),
		ReplicationRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "retries_total",
			Help:      "Total number of background delivery retries",
		}),
		CompactedEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "compacted_entries_total",
			Help:      "Total number of entries removed by compaction",
		}),
		CheckpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints written",
		}),
		ArchivesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "archives_total",
			Help:      "Total number of verified archives written",
		}),
		ArchivedCommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "commits_total",
			Help:      "Total number of commits streamed into archives",
		}),
	}
}

// Discard creates collectors registered on a private registry, for
// components built without an explicit registerer.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
