package main

import (
	"testing"

	"github.com/10yihang/clusterrouter/internal/cluster/hash"
)

func TestFindKeys(t *testing.T) {
	keys := findKeys(866, "k", 3, 1000000)
	if len(keys) != 3 {
		t.Fatalf("found %d keys, want 3", len(keys))
	}
	for _, k := range keys {
		if got := hash.KeySlot(k); got != 866 {
			t.Errorf("KeySlot(%q) = %d, want 866", k, got)
		}
	}
}

func TestFindKeys_Limit(t *testing.T) {
	if keys := findKeys(0, "x", 5, 10); len(keys) > 5 {
		t.Errorf("found %d keys, want at most 5", len(keys))
	}
}
