// findkey prints keys that hash to a given slot, handy for building test
// fixtures against a cluster.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/10yihang/clusterrouter/internal/cluster/hash"
)

func main() {
	slot := flag.Int("slot", 0, "target hash slot")
	prefix := flag.String("prefix", "key-", "key prefix")
	count := flag.Int("n", 1, "number of keys to print")
	limit := flag.Int("limit", 1000000, "candidates to try")
	flag.Parse()

	if *slot < 0 || *slot > hash.MaxSlot {
		fmt.Fprintf(os.Stderr, "slot must be in 0..%d\n", hash.MaxSlot)
		os.Exit(2)
	}

	found := findKeys(uint16(*slot), *prefix, *count, *limit)
	for _, k := range found {
		fmt.Println(k)
	}
	if len(found) < *count {
		fmt.Fprintf(os.Stderr, "found %d of %d keys\n", len(found), *count)
		os.Exit(1)
	}
}

func findKeys(slot uint16, prefix string, count, limit int) []string {
	var out []string
	for i := 0; i < limit && len(out) < count; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		if hash.KeySlot(key) == slot {
			out = append(out, key)
		}
	}
	return out
}
