package metrics

import (
	"sync"
	"time"

	"github.com/10yihang/clusterrouter/internal/cluster"
)

// Collector samples topology gauges from a store
type Collector struct {
	startTime time.Time
	store     *cluster.Store

	mu     sync.Mutex
	shards map[cluster.ShardID]struct{}
}

// NewCollector creates a collector; store may be nil
func NewCollector(store *cluster.Store) *Collector {
	return &Collector{
		startTime: time.Now(),
		store:     store,
		shards:    make(map[cluster.ShardID]struct{}),
	}
}

// Collect collects periodic metrics
func (c *Collector) Collect() {
	c.collectTopology()
	c.collectUptime()
}

func (c *Collector) collectTopology() {
	if c.store == nil {
		return
	}
	snap := c.store.Current()
	if snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	TopologyVersion.Set(float64(snap.Version))
	ShardsTotal.Set(float64(len(snap.ShardIDs())))

	seen := make(map[cluster.ShardID]struct{}, len(c.shards))
	for _, id := range snap.ShardIDs() {
		SlotsPerShard.WithLabelValues(string(id)).Set(float64(snap.Table().CountSlots(id)))
		seen[id] = struct{}{}
	}
	for id := range c.shards {
		if _, ok := seen[id]; !ok {
			SlotsPerShard.DeleteLabelValues(string(id))
		}
	}
	c.shards = seen
}

func (c *Collector) collectUptime() {
	Uptime.Set(time.Since(c.startTime).Seconds())
}

// RecordCommand records command execution
func RecordCommand(cmd string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	CommandsTotal.WithLabelValues(cmd, status).Inc()
	CommandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordRedirect records one followed redirect of the given kind
func RecordRedirect(kind string) {
	RedirectsTotal.WithLabelValues(kind).Inc()
}

// RecordRedirectsExhausted records a command that hit the hop limit
func RecordRedirectsExhausted() {
	RedirectsExhausted.Inc()
}

// RecordRefresh records a refresh round
func RecordRefresh(result string, duration time.Duration) {
	RefreshesTotal.WithLabelValues(result).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

// RecordShardDiff records the shard changes a refresh published
func RecordShardDiff(d cluster.ShardDiff) {
	ShardChanges.WithLabelValues("added").Add(float64(len(d.Added)))
	ShardChanges.WithLabelValues("removed").Add(float64(len(d.Removed)))
	ShardChanges.WithLabelValues("changed").Add(float64(len(d.Changed)))
}
