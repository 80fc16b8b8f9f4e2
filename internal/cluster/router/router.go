// Package router resolves commands to the cluster node that should serve them.
package router

import (
	"fmt"

	"github.com/zhangyunhao116/fastrand"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// Router determines where a command should be sent.
type Router interface {
	Route(cmd cluster.Command) (Target, error)
	RouteKeys(keys ...[]byte) (Target, error)
}

// Target is a routing decision.
type Target struct {
	Node    cluster.Node
	Slot    uint16
	Shard   cluster.ShardID
	Replica bool
	// Keyless is set for commands without keys; Slot is meaningless then.
	Keyless bool
}

// ReadPolicy selects which shard member serves read-only commands.
type ReadPolicy int

const (
	// ReadMaster sends everything to the shard master.
	ReadMaster ReadPolicy = iota
	// ReadReplicaRandom picks a random replica per command.
	ReadReplicaRandom
	// ReadReplicaHashed picks the same replica for the same key.
	ReadReplicaHashed
)

func (p ReadPolicy) String() string {
	switch p {
	case ReadMaster:
		return "master"
	case ReadReplicaRandom:
		return "replica-random"
	case ReadReplicaHashed:
		return "replica-hashed"
	default:
		return "unknown"
	}
}

// ParseReadPolicy parses the String form of a ReadPolicy.
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch s {
	case "", "master":
		return ReadMaster, nil
	case "replica-random":
		return ReadReplicaRandom, nil
	case "replica-hashed":
		return ReadReplicaHashed, nil
	default:
		return ReadMaster, fmt.Errorf("unknown read policy %q", s)
	}
}

// FallbackPolicy decides what a replica read does on a shard without replicas.
type FallbackPolicy int

const (
	FallbackMaster FallbackPolicy = iota
	FallbackFail
)

func (p FallbackPolicy) String() string {
	if p == FallbackFail {
		return "fail"
	}
	return "master"
}

func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch s {
	case "", "master":
		return FallbackMaster, nil
	case "fail":
		return FallbackFail, nil
	default:
		return FallbackMaster, fmt.Errorf("unknown fallback policy %q", s)
	}
}

type Options struct {
	ReadPolicy ReadPolicy
	Fallback   FallbackPolicy
}

// ClusterRouter implements Router on top of the published topology.
type ClusterRouter struct {
	store *cluster.Store
	opts  Options
}

// NewClusterRouter creates a router backed by store.
func NewClusterRouter(store *cluster.Store, opts Options) *ClusterRouter {
	return &ClusterRouter{store: store, opts: opts}
}

// Route resolves cmd against the current snapshot. Multi-key commands must
// keep all keys on one shard.
func (r *ClusterRouter) Route(cmd cluster.Command) (Target, error) {
	snap := r.store.Current()
	if snap == nil {
		return Target{}, cerrors.ErrNoTopology
	}

	keys := cmd.Keys()
	if len(keys) == 0 {
		return r.routeKeyless(snap, cmd.Name())
	}
	return r.routeKeys(snap, keys, cmd.ReadOnly())
}

// RouteKeys resolves keys to the master of the shard owning them.
func (r *ClusterRouter) RouteKeys(keys ...[]byte) (Target, error) {
	if len(keys) == 0 {
		return Target{}, cerrors.ErrNoKeys
	}
	snap := r.store.Current()
	if snap == nil {
		return Target{}, cerrors.ErrNoTopology
	}
	return r.routeKeys(snap, keys, false)
}

func (r *ClusterRouter) routeKeys(snap *cluster.Snapshot, keys [][]byte, readOnly bool) (Target, error) {
	table := snap.Table()
	slot := hash.KeySlotBytes(keys[0])
	owner := table.OwnerOf(slot)

	for i := 1; i < len(keys); i++ {
		other := hash.KeySlotBytes(keys[i])
		if other != slot && table.OwnerOf(other) != owner {
			return Target{}, fmt.Errorf("%w: slot %d (%s) and slot %d (%s)",
				cerrors.ErrCrossSlot, slot, owner, other, table.OwnerOf(other))
		}
	}

	shard, _ := snap.ShardByID(owner)
	target := Target{Node: shard.Master, Slot: slot, Shard: owner}
	if !readOnly || r.opts.ReadPolicy == ReadMaster {
		return target, nil
	}

	if !shard.HasReplicas() {
		if r.opts.Fallback == FallbackFail {
			return Target{}, fmt.Errorf("shard %s: %w", owner, cerrors.ErrNoReplica)
		}
		return target, nil
	}

	target.Node = r.pickReplica(shard, keys[0])
	target.Replica = true
	return target, nil
}

func (r *ClusterRouter) pickReplica(shard cluster.Shard, key []byte) cluster.Node {
	if len(shard.Replicas) == 1 {
		return shard.Replicas[0]
	}
	if r.opts.ReadPolicy == ReadReplicaHashed {
		return shard.Replicas[bestReplica(key, shard.Replicas)]
	}
	return shard.Replicas[fastrand.Intn(len(shard.Replicas))]
}

// routeKeyless spreads keyless commands over masters by command name.
func (r *ClusterRouter) routeKeyless(snap *cluster.Snapshot, name string) (Target, error) {
	masters := snap.Masters()
	if len(masters) == 0 {
		return Target{}, cerrors.ErrNoTopology
	}
	idx := int(hash.CRC16([]byte(name))) % len(masters)
	shards := snap.ShardIDs()
	return Target{Node: masters[idx], Shard: shards[idx], Keyless: true}, nil
}
