// Package clustertest runs in-process cluster nodes that speak enough of the
// Redis protocol to exercise slot routing: CLUSTER SLOTS, MOVED, ASK with
// ASKING, READONLY replicas and a handful of string commands.
package clustertest

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
)

// Cluster is a set of nodes sharing one slot layout.
type Cluster struct {
	mu        sync.RWMutex
	nodes     []*Node
	owners    [hash.SlotCount]*Node
	importing map[uint16]*Node
}

// Start launches masters nodes, each with replicas replicas, splits the slot
// space evenly over the masters and stops everything when tb finishes.
func Start(tb testing.TB, masters, replicas int) *Cluster {
	tb.Helper()
	c, err := New(masters, replicas)
	if err != nil {
		tb.Fatalf("start cluster: %v", err)
	}
	tb.Cleanup(c.Close)
	return c
}

func New(masters, replicas int) (*Cluster, error) {
	if masters <= 0 {
		return nil, fmt.Errorf("need at least one master")
	}
	c := &Cluster{importing: make(map[uint16]*Node)}

	for i := 0; i < masters; i++ {
		m, err := c.AddNode(nil)
		if err != nil {
			c.Close()
			return nil, err
		}
		for j := 0; j < replicas; j++ {
			if _, err := c.AddNode(m); err != nil {
				c.Close()
				return nil, err
			}
		}
	}

	per := hash.SlotCount / masters
	ms := c.Masters()
	for i, m := range ms {
		end := (i+1)*per - 1
		if i == len(ms)-1 {
			end = hash.MaxSlot
		}
		c.Assign(uint16(i*per), uint16(end), m)
	}
	return c, nil
}

// AddNode starts a node with no slots. A non-nil master makes it a replica.
func (c *Cluster) AddNode(master *Node) (*Node, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	c.mu.Lock()
	n := &Node{
		c:      c,
		id:     fmt.Sprintf("%040x", len(c.nodes)+1),
		host:   host,
		port:   port,
		master: master,
		data:   make(map[string]string),
		calls:  make(map[string]int),
		ln:     ln,
	}
	c.nodes = append(c.nodes, n)
	c.mu.Unlock()

	n.srv = redcon.NewServer(ln.Addr().String(), n.handle, nil, nil)
	go func() {
		_ = n.srv.Serve(ln)
	}()
	return n, nil
}

func (c *Cluster) Close() {
	c.mu.RLock()
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.RUnlock()
	for _, n := range nodes {
		n.Stop()
	}
}

func (c *Cluster) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Node(nil), c.nodes...)
}

func (c *Cluster) Masters() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Node
	for _, n := range c.nodes {
		if n.master == nil {
			out = append(out, n)
		}
	}
	return out
}

// Replicas returns the replicas of m.
func (c *Cluster) Replicas(m *Node) []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.replicasLocked(m)
}

func (c *Cluster) replicasLocked(m *Node) []*Node {
	var out []*Node
	for _, n := range c.nodes {
		if n.master == m {
			out = append(out, n)
		}
	}
	return out
}

// Seeds returns the address of every master.
func (c *Cluster) Seeds() []cluster.Node {
	var out []cluster.Node
	for _, m := range c.Masters() {
		out = append(out, m.Node())
	}
	return out
}

// Owner returns the master serving slot.
func (c *Cluster) Owner(slot uint16) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners[slot]
}

// OwnerOfKey returns the master serving key.
func (c *Cluster) OwnerOfKey(key string) *Node {
	return c.Owner(hash.KeySlot(key))
}

// Assign gives slots start..end to n without moving keys.
func (c *Cluster) Assign(start, end uint16, n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := int(start); s <= int(end); s++ {
		c.owners[s] = n
	}
}

// MoveSlot hands slot to n, together with the keys stored in it.
func (c *Cluster) MoveSlot(slot uint16, to *Node) {
	c.mu.Lock()
	from := c.owners[slot]
	c.owners[slot] = to
	delete(c.importing, slot)
	c.mu.Unlock()

	if from != nil && from != to {
		for k, v := range from.takeSlot(slot) {
			to.put(k, v)
		}
	}
}

// StartMigration marks slot as importing into to. The owner keeps serving
// keys it still holds and answers ASK for the rest.
func (c *Cluster) StartMigration(slot uint16, to *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.importing[slot] = to
}

// MigrateKey moves one key of a migrating slot to the importing node.
func (c *Cluster) MigrateKey(key string) {
	slot := hash.KeySlot(key)
	c.mu.RLock()
	from, to := c.owners[slot], c.importing[slot]
	c.mu.RUnlock()
	if from == nil || to == nil {
		return
	}
	if v, ok := from.take(key); ok {
		to.put(key, v)
	}
}

type slotRange struct {
	start, end uint16
	owner      *Node
}

func (c *Cluster) rangesLocked() []slotRange {
	var out []slotRange
	for s := 0; s < hash.SlotCount; s++ {
		owner := c.owners[s]
		if owner == nil {
			continue
		}
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.owner == owner && int(last.end) == s-1 {
				last.end = uint16(s)
				continue
			}
		}
		out = append(out, slotRange{start: uint16(s), end: uint16(s), owner: owner})
	}
	return out
}
