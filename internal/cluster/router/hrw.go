package router

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/10yihang/clusterrouter/internal/cluster"
)

// bestReplica returns the index of the replica with the highest
// rendezvous score for key. Adding or removing a replica only moves the keys
// that scored highest on it.
func bestReplica(key []byte, replicas []cluster.Node) int {
	best := 0
	var bestScore uint64
	for i, n := range replicas {
		s := hrwScore64(key, n.Addr())
		if i == 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func hrwScore64(key []byte, nodeAddr string) uint64 {
	// 8-byte digest => uint64 score
	h, _ := blake2b.New(8, nil)
	h.Write(key)
	h.Write([]byte{0})
	h.Write([]byte(nodeAddr))
	return binary.BigEndian.Uint64(h.Sum(nil))
}
