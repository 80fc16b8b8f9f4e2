package cluster

import (
	"fmt"
	"time"

	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// Snapshot pairs one slot table with the shards it references. Snapshots are
// never modified after NewSnapshot returns; a refresh publishes a new one.
type Snapshot struct {
	Version   uint64
	CreatedAt time.Time
	// Seed is the node the layout was read from.
	Seed Node

	table  *SlotTable
	shards map[ShardID]Shard
	order  []ShardID
}

// NewSnapshot checks that every shard the table references is described.
// Shards the table does not reference are dropped.
func NewSnapshot(version uint64, table *SlotTable, shards []Shard) (*Snapshot, error) {
	if table == nil {
		return nil, cerrors.ErrEmptyAssignment
	}
	byID := make(map[ShardID]Shard, len(shards))
	for _, s := range shards {
		if s.Master.IsZero() {
			return nil, fmt.Errorf("shard %q: %w", s.ID, cerrors.ErrNoMasterSpecified)
		}
		byID[s.ID] = s
	}

	snap := &Snapshot{
		Version:   version,
		CreatedAt: time.Now(),
		table:     table,
		shards:    make(map[ShardID]Shard, len(table.ids)),
	}
	for _, id := range table.ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", cerrors.ErrUnknownShard, id)
		}
		snap.shards[id] = s
		snap.order = append(snap.order, id)
	}
	return snap, nil
}

func (s *Snapshot) Table() *SlotTable {
	return s.table
}

// ShardFor returns the shard owning slot.
func (s *Snapshot) ShardFor(slot uint16) Shard {
	return s.shards[s.table.OwnerOf(slot)]
}

func (s *Snapshot) ShardByID(id ShardID) (Shard, bool) {
	sh, ok := s.shards[id]
	return sh, ok
}

// ShardIDs returns shard ids in slot-table order.
func (s *Snapshot) ShardIDs() []ShardID {
	out := make([]ShardID, len(s.order))
	copy(out, s.order)
	return out
}

// Shards returns the shards in slot-table order.
func (s *Snapshot) Shards() []Shard {
	out := make([]Shard, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.shards[id])
	}
	return out
}

// Masters returns the master of every shard in slot-table order.
func (s *Snapshot) Masters() []Node {
	out := make([]Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.shards[id].Master)
	}
	return out
}

// Nodes returns every master and replica once.
func (s *Snapshot) Nodes() []Node {
	seen := make(map[string]struct{})
	var out []Node
	for _, id := range s.order {
		for _, n := range s.shards[id].Nodes() {
			if _, ok := seen[n.Addr()]; ok {
				continue
			}
			seen[n.Addr()] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

// ShardOf returns the shard n belongs to.
func (s *Snapshot) ShardOf(n Node) (Shard, NodeRole, bool) {
	for _, id := range s.order {
		sh := s.shards[id]
		if role, ok := sh.Role(n); ok {
			return sh, role, true
		}
	}
	return Shard{}, NodeRoleMaster, false
}
