package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "clusterrouter"
)

var (
	// CommandsTotal counts commands dispatched by the client
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of commands dispatched",
		},
		[]string{"cmd", "status"}, // status: success/error
	)

	// CommandDuration measures end-to-end latency including redirects
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command latency in seconds, redirects included",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"cmd"},
	)

	// RedirectsTotal counts followed redirects
	RedirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Total number of followed redirects",
		},
		[]string{"kind"}, // moved/ask
	)

	// RedirectsExhausted counts commands that ran out of redirect hops
	RedirectsExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_exhausted_total",
			Help:      "Total number of commands failed with too many redirects",
		},
	)

	// RefreshesTotal counts topology refresh rounds
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_refreshes_total",
			Help:      "Total number of topology refresh rounds",
		},
		[]string{"result"}, // published/stale/error
	)

	// RefreshDuration measures one refresh round
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "topology_refresh_duration_seconds",
			Help:      "Topology refresh latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// ShardChanges counts shards added/removed/changed between snapshots
	ShardChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_shard_changes_total",
			Help:      "Shards added, removed or changed by a refresh",
		},
		[]string{"change"},
	)

	// TopologyVersion tracks the published snapshot version
	TopologyVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_version",
			Help:      "Version of the current topology snapshot",
		},
	)

	// ShardsTotal tracks the number of shards in the current snapshot
	ShardsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_shards",
			Help:      "Number of shards in the current topology",
		},
	)

	// SlotsPerShard tracks slot ownership
	SlotsPerShard = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topology_slots",
			Help:      "Number of slots owned by each shard",
		},
		[]string{"shard"},
	)

	// Info exposes build info
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "clusterrouter build info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)

	// Uptime tracks uptime
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
)

// InitInfo initializes info metric
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
