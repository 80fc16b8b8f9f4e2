package cluster

import (
	"fmt"

	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// SlotAssignment assigns the inclusive slot range [Start, End] to a shard.
type SlotAssignment struct {
	Start uint16
	End   uint16
	Shard ShardID
}

// SlotRange is a contiguous run of slots owned by one shard.
type SlotRange struct {
	Start uint16
	End   uint16
	Shard ShardID
}

func (r SlotRange) Len() int {
	return int(r.End) - int(r.Start) + 1
}

// SlotTable maps every slot to exactly one shard. It is immutable once built.
type SlotTable struct {
	owners [hash.SlotCount]uint16
	ids    []ShardID
	counts []int
}

// BuildSlotTable validates assignments and builds a table. The assignments
// must partition the whole slot space; a shard may own several ranges.
func BuildSlotTable(assignments []SlotAssignment) (*SlotTable, error) {
	if len(assignments) == 0 {
		return nil, cerrors.ErrEmptyAssignment
	}

	t := &SlotTable{}
	index := make(map[ShardID]uint16)
	var assigned [hash.SlotCount]bool

	for _, a := range assignments {
		if a.Start > a.End || a.End > hash.MaxSlot {
			return nil, fmt.Errorf("%w: %d-%d", cerrors.ErrInvalidSlotRange, a.Start, a.End)
		}
		idx, ok := index[a.Shard]
		if !ok {
			idx = uint16(len(t.ids))
			index[a.Shard] = idx
			t.ids = append(t.ids, a.Shard)
			t.counts = append(t.counts, 0)
		}
		for slot := int(a.Start); slot <= int(a.End); slot++ {
			if assigned[slot] {
				prev := t.ids[t.owners[slot]]
				return nil, fmt.Errorf("%w: slot %d claimed by %q and %q",
					cerrors.ErrOverlappingAssignment, slot, prev, a.Shard)
			}
			assigned[slot] = true
			t.owners[slot] = idx
		}
		t.counts[idx] += int(a.End) - int(a.Start) + 1
	}

	missing := 0
	first := -1
	for slot, ok := range assigned {
		if !ok {
			if first < 0 {
				first = slot
			}
			missing++
		}
	}
	if missing > 0 {
		return nil, fmt.Errorf("%w: %d slots unassigned, first %d",
			cerrors.ErrIncompleteCoverage, missing, first)
	}
	return t, nil
}

// OwnerOf returns the shard owning slot. It panics if slot is out of range.
func (t *SlotTable) OwnerOf(slot uint16) ShardID {
	if slot > hash.MaxSlot {
		panic(fmt.Sprintf("cluster: slot %d out of range", slot))
	}
	return t.ids[t.owners[slot]]
}

// Shards returns the shard ids referenced by the table in first-seen order.
func (t *SlotTable) Shards() []ShardID {
	out := make([]ShardID, len(t.ids))
	copy(out, t.ids)
	return out
}

// CountSlots returns how many slots id owns.
func (t *SlotTable) CountSlots(id ShardID) int {
	for i, sid := range t.ids {
		if sid == id {
			return t.counts[i]
		}
	}
	return 0
}

// Ranges compacts the table into contiguous ranges in slot order.
func (t *SlotTable) Ranges() []SlotRange {
	var ranges []SlotRange
	start := 0
	for i := 1; i <= hash.SlotCount; i++ {
		if i < hash.SlotCount && t.owners[i] == t.owners[start] {
			continue
		}
		ranges = append(ranges, SlotRange{
			Start: uint16(start),
			End:   uint16(i - 1),
			Shard: t.ids[t.owners[start]],
		})
		start = i
	}
	return ranges
}
