package cluster

import (
	"fmt"
	"slices"

	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// ShardID identifies a shard inside one snapshot.
type ShardID string

// Shard is one master and its replicas. Replica order is kept as reported.
type Shard struct {
	ID       ShardID
	Master   Node
	Replicas []Node
}

// NewShard builds a shard. An empty id defaults to the master address.
func NewShard(id ShardID, master Node, replicas ...Node) (Shard, error) {
	if master.IsZero() {
		return Shard{}, fmt.Errorf("shard %q: %w", id, cerrors.ErrNoMasterSpecified)
	}
	if id == "" {
		id = ShardID(master.Addr())
	}
	return Shard{
		ID:       id,
		Master:   master,
		Replicas: slices.Clone(replicas),
	}, nil
}

// Nodes returns the master followed by the replicas.
func (s Shard) Nodes() []Node {
	nodes := make([]Node, 0, len(s.Replicas)+1)
	nodes = append(nodes, s.Master)
	return append(nodes, s.Replicas...)
}

func (s Shard) HasReplicas() bool {
	return len(s.Replicas) > 0
}

// Role returns the role of n in the shard, and false if n is not a member.
func (s Shard) Role(n Node) (NodeRole, bool) {
	if s.Master.Equal(n) {
		return NodeRoleMaster, true
	}
	for _, r := range s.Replicas {
		if r.Equal(n) {
			return NodeRoleReplica, true
		}
	}
	return NodeRoleMaster, false
}

// Equal compares master and replica identities in order.
func (s Shard) Equal(o Shard) bool {
	if s.ID != o.ID || !s.Master.Equal(o.Master) || len(s.Replicas) != len(o.Replicas) {
		return false
	}
	for i := range s.Replicas {
		if !s.Replicas[i].Equal(o.Replicas[i]) {
			return false
		}
	}
	return true
}

// ShardDiff lists shard ids that differ between two snapshots.
type ShardDiff struct {
	Added   []ShardID
	Removed []ShardID
	Changed []ShardID
}

func (d ShardDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffShards compares the shard sets of two snapshots. A nil old snapshot
// reports every shard of next as added.
func DiffShards(old, next *Snapshot) ShardDiff {
	var d ShardDiff
	if next == nil {
		return d
	}
	for _, id := range next.ShardIDs() {
		s, _ := next.ShardByID(id)
		if old == nil {
			d.Added = append(d.Added, id)
			continue
		}
		prev, ok := old.ShardByID(id)
		switch {
		case !ok:
			d.Added = append(d.Added, id)
		case !prev.Equal(s):
			d.Changed = append(d.Changed, id)
		}
	}
	if old != nil {
		for _, id := range old.ShardIDs() {
			if _, ok := next.ShardByID(id); !ok {
				d.Removed = append(d.Removed, id)
			}
		}
	}
	return d
}
