package cluster

import (
	"errors"
	"testing"

	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

func threeShardAssignments() []SlotAssignment {
	return []SlotAssignment{
		{Start: 0, End: 5460, Shard: "node1"},
		{Start: 5461, End: 10922, Shard: "node2"},
		{Start: 10923, End: 16383, Shard: "node3"},
	}
}

func TestBuildSlotTable_FullCoverage(t *testing.T) {
	table, err := BuildSlotTable(threeShardAssignments())
	if err != nil {
		t.Fatalf("BuildSlotTable failed: %v", err)
	}

	tests := []struct {
		slot uint16
		want ShardID
	}{
		{0, "node1"},
		{5460, "node1"},
		{5461, "node2"},
		{10922, "node2"},
		{10923, "node3"},
		{hash.MaxSlot, "node3"},
	}
	for _, tt := range tests {
		if got := table.OwnerOf(tt.slot); got != tt.want {
			t.Errorf("OwnerOf(%d) = %q, want %q", tt.slot, got, tt.want)
		}
	}
}

func TestBuildSlotTable_DiscontiguousRanges(t *testing.T) {
	table, err := BuildSlotTable([]SlotAssignment{
		{Start: 0, End: 99, Shard: "a"},
		{Start: 100, End: 199, Shard: "b"},
		{Start: 200, End: 16383, Shard: "a"},
	})
	if err != nil {
		t.Fatalf("BuildSlotTable failed: %v", err)
	}

	for slot := uint16(0); slot < hash.SlotCount; slot++ {
		want := ShardID("a")
		if slot >= 100 && slot <= 199 {
			want = "b"
		}
		if got := table.OwnerOf(slot); got != want {
			t.Fatalf("OwnerOf(%d) = %q, want %q", slot, got, want)
		}
	}

	if n := table.CountSlots("a"); n != hash.SlotCount-100 {
		t.Errorf("CountSlots(a) = %d, want %d", n, hash.SlotCount-100)
	}
	if n := table.CountSlots("b"); n != 100 {
		t.Errorf("CountSlots(b) = %d, want 100", n)
	}
	if n := table.CountSlots("missing"); n != 0 {
		t.Errorf("CountSlots(missing) = %d, want 0", n)
	}
}

func TestBuildSlotTable_SingleSlotRanges(t *testing.T) {
	assignments := make([]SlotAssignment, 0, hash.SlotCount)
	for i := 0; i < hash.SlotCount; i++ {
		shard := ShardID("even")
		if i%2 == 1 {
			shard = "odd"
		}
		assignments = append(assignments, SlotAssignment{Start: uint16(i), End: uint16(i), Shard: shard})
	}

	table, err := BuildSlotTable(assignments)
	if err != nil {
		t.Fatalf("BuildSlotTable failed: %v", err)
	}
	if got := table.OwnerOf(7); got != "odd" {
		t.Errorf("OwnerOf(7) = %q, want odd", got)
	}
	if got := len(table.Ranges()); got != hash.SlotCount {
		t.Errorf("Ranges() = %d ranges, want %d", got, hash.SlotCount)
	}
}

func TestBuildSlotTable_Errors(t *testing.T) {
	tests := []struct {
		name        string
		assignments []SlotAssignment
		want        error
	}{
		{
			name:        "empty",
			assignments: nil,
			want:        cerrors.ErrEmptyAssignment,
		},
		{
			name: "gap_in_middle",
			assignments: []SlotAssignment{
				{Start: 0, End: 100, Shard: "a"},
				{Start: 102, End: 16383, Shard: "b"},
			},
			want: cerrors.ErrIncompleteCoverage,
		},
		{
			name: "missing_last_slot",
			assignments: []SlotAssignment{
				{Start: 0, End: 16382, Shard: "a"},
			},
			want: cerrors.ErrIncompleteCoverage,
		},
		{
			name: "overlap_across_shards",
			assignments: []SlotAssignment{
				{Start: 0, End: 8000, Shard: "a"},
				{Start: 8000, End: 16383, Shard: "b"},
			},
			want: cerrors.ErrOverlappingAssignment,
		},
		{
			name: "overlap_same_shard",
			assignments: []SlotAssignment{
				{Start: 0, End: 16383, Shard: "a"},
				{Start: 5, End: 5, Shard: "a"},
			},
			want: cerrors.ErrOverlappingAssignment,
		},
		{
			name: "reversed_range",
			assignments: []SlotAssignment{
				{Start: 10, End: 5, Shard: "a"},
			},
			want: cerrors.ErrInvalidSlotRange,
		},
		{
			name: "past_slot_space",
			assignments: []SlotAssignment{
				{Start: 0, End: hash.SlotCount, Shard: "a"},
			},
			want: cerrors.ErrInvalidSlotRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := BuildSlotTable(tt.assignments)
			if !errors.Is(err, tt.want) {
				t.Fatalf("BuildSlotTable() error = %v, want %v", err, tt.want)
			}
			if table != nil {
				t.Errorf("BuildSlotTable() returned a table on error")
			}
		})
	}
}

func TestSlotTable_OwnerOfOutOfRangePanics(t *testing.T) {
	table, err := BuildSlotTable(threeShardAssignments())
	if err != nil {
		t.Fatalf("BuildSlotTable failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("OwnerOf(%d) should panic", hash.SlotCount)
		}
	}()
	table.OwnerOf(hash.SlotCount)
}

func TestSlotTable_Ranges(t *testing.T) {
	table, err := BuildSlotTable([]SlotAssignment{
		{Start: 10923, End: 16383, Shard: "node3"},
		{Start: 0, End: 5460, Shard: "node1"},
		{Start: 5461, End: 10922, Shard: "node2"},
	})
	if err != nil {
		t.Fatalf("BuildSlotTable failed: %v", err)
	}

	ranges := table.Ranges()
	if len(ranges) != 3 {
		t.Fatalf("should have 3 ranges, got %d", len(ranges))
	}
	want := []SlotRange{
		{Start: 0, End: 5460, Shard: "node1"},
		{Start: 5461, End: 10922, Shard: "node2"},
		{Start: 10923, End: 16383, Shard: "node3"},
	}
	total := 0
	for i, r := range ranges {
		if r != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, r, want[i])
		}
		total += r.Len()
	}
	if total != hash.SlotCount {
		t.Errorf("ranges cover %d slots, want %d", total, hash.SlotCount)
	}

	shards := table.Shards()
	if len(shards) != 3 || shards[0] != "node3" {
		t.Errorf("Shards() = %v, want first-seen order starting with node3", shards)
	}
}
