// Package cluster models the topology of a sharded Redis-protocol cluster:
// nodes, shards, the slot table and immutable snapshots of all three, plus the
// store that publishes them to concurrent routers.
package cluster

import (
	"context"

	"github.com/tidwall/redcon"
)

// SlotRangeInfo is one entry of a cluster introspection reply: a slot range
// with the master serving it and its replicas.
type SlotRangeInfo struct {
	Start    uint16
	End      uint16
	Master   Node
	Replicas []Node
}

// Sender sends commands to one node. All cmds are pipelined on a single
// connection and one reply is returned per command, in order. Server error
// replies are returned as replies of type redcon.Error, not as err.
type Sender interface {
	Send(ctx context.Context, node Node, cmds ...Command) ([]redcon.RESP, error)
}

// Introspector reads the slot layout from one node.
type Introspector interface {
	ClusterSlots(ctx context.Context, node Node) ([]SlotRangeInfo, error)
}

// Transport is what the routing core needs from the connection layer.
type Transport interface {
	Sender
	Introspector
}
