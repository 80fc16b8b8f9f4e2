package state

import (
	"time"

	"github.com/10yihang/clusterrouter/internal/cluster"
)

// CurrentStateVersion is the schema version of View
const CurrentStateVersion = 1

// View is the JSON-serializable form of a topology snapshot
type View struct {
	Schema    int         `json:"schema"`
	Version   uint64      `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	Seed      string      `json:"seed,omitempty"`
	Shards    []ShardInfo `json:"shards"`
}

// ShardInfo describes one shard and the slot ranges it owns
type ShardInfo struct {
	ID       string      `json:"id"`
	Master   NodeInfo    `json:"master"`
	Replicas []NodeInfo  `json:"replicas,omitempty"`
	Slots    int         `json:"slots"`
	Ranges   []RangeInfo `json:"ranges"`
}

// NodeInfo stores node metadata
type NodeInfo struct {
	ID   string `json:"id,omitempty"`
	Addr string `json:"addr"`
}

// RangeInfo is an inclusive slot range
type RangeInfo struct {
	Start uint16 `json:"start"`
	End   uint16 `json:"end"`
}

// FromSnapshot builds a View; shards keep slot-table order.
func FromSnapshot(snap *cluster.Snapshot) View {
	v := View{
		Schema:    CurrentStateVersion,
		Version:   snap.Version,
		CreatedAt: snap.CreatedAt,
	}
	if !snap.Seed.IsZero() {
		v.Seed = snap.Seed.Addr()
	}

	ranges := make(map[cluster.ShardID][]RangeInfo)
	for _, r := range snap.Table().Ranges() {
		ranges[r.Shard] = append(ranges[r.Shard], RangeInfo{Start: r.Start, End: r.End})
	}

	for _, sh := range snap.Shards() {
		info := ShardInfo{
			ID:     string(sh.ID),
			Master: nodeInfo(sh.Master),
			Slots:  snap.Table().CountSlots(sh.ID),
			Ranges: ranges[sh.ID],
		}
		for _, r := range sh.Replicas {
			info.Replicas = append(info.Replicas, nodeInfo(r))
		}
		v.Shards = append(v.Shards, info)
	}
	return v
}

func nodeInfo(n cluster.Node) NodeInfo {
	return NodeInfo{ID: n.ID, Addr: n.Addr()}
}

// Seeds returns every node address in the view, masters first.
func (v View) Seeds() []string {
	var out []string
	for _, sh := range v.Shards {
		out = append(out, sh.Master.Addr)
	}
	for _, sh := range v.Shards {
		for _, r := range sh.Replicas {
			out = append(out, r.Addr)
		}
	}
	return out
}
