package cluster

import (
	"fmt"
	"sync/atomic"

	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// Store holds the current topology snapshot. Reads never block; Publish is a
// compare-and-swap that only moves the version forward.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the latest published snapshot, or nil before the first publish.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Version returns the current snapshot version, 0 when empty.
func (s *Store) Version() uint64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

// Publish replaces the current snapshot with next. A snapshot whose version is
// not newer than the current one is rejected with ErrStaleSnapshot. Publishing
// nil panics.
func (s *Store) Publish(next *Snapshot) error {
	if next == nil {
		panic("cluster: Publish called with a nil snapshot")
	}
	for {
		cur := s.current.Load()
		if cur != nil && next.Version <= cur.Version {
			return fmt.Errorf("%w: version %d, current %d", cerrors.ErrStaleSnapshot, next.Version, cur.Version)
		}
		if s.current.CompareAndSwap(cur, next) {
			return nil
		}
	}
}
