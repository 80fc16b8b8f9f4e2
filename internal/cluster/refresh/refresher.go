// Package refresh rebuilds the topology snapshot from cluster introspection
// and publishes it to the store.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/metrics"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// DefaultTimeout bounds one refresh round when Options leaves it unset.
const DefaultTimeout = 5 * time.Second

type Options struct {
	// Seeds are asked in order; the masters of the current snapshot follow.
	Seeds   []cluster.Node
	Timeout time.Duration
	Log     *slog.Logger
	// OnPublish runs after a snapshot from this refresher was published.
	OnPublish func(*cluster.Snapshot)
}

// Refresher reads the slot layout from the first reachable seed. Concurrent
// Refresh calls share one round.
type Refresher struct {
	intro cluster.Introspector
	store *cluster.Store
	opts  Options

	group   singleflight.Group
	key     string
	version atomic.Uint64
}

func New(intro cluster.Introspector, store *cluster.Store, opts Options) *Refresher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	addrs := make([]string, len(opts.Seeds))
	for i, s := range opts.Seeds {
		addrs[i] = s.Addr()
	}
	return &Refresher{
		intro: intro,
		store: store,
		opts:  opts,
		key:   strings.Join(addrs, ","),
	}
}

// Refresh joins the in-flight round or starts one. The round runs detached
// from ctx; cancelling ctx only stops this caller from waiting.
func (r *Refresher) Refresh(ctx context.Context) (*cluster.Snapshot, error) {
	ch := r.group.DoChan(r.key, func() (any, error) {
		return r.round()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cluster.Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Refresher) round() (*cluster.Snapshot, error) {
	start := time.Now()
	version := r.nextVersion()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.Timeout)
	defer cancel()

	errs := []error{cerrors.ErrNoReachableSeed}
	for _, seed := range r.seeds() {
		ranges, err := r.intro.ClusterSlots(ctx, seed)
		if err != nil {
			r.opts.Log.Debug("seed unreachable", "seed", seed.Addr(), "error", err)
			errs = append(errs, fmt.Errorf("seed %s: %w", seed.Addr(), err))
			continue
		}

		snap, err := BuildSnapshot(version, ranges)
		if err != nil {
			r.opts.Log.Warn("seed returned invalid layout", "seed", seed.Addr(), "error", err)
			errs = append(errs, fmt.Errorf("seed %s: %w", seed.Addr(), err))
			continue
		}
		snap.Seed = seed
		return r.publish(snap, start)
	}

	metrics.RecordRefresh("error", time.Since(start))
	err := errors.Join(errs...)
	r.opts.Log.Warn("topology refresh failed", "version", version, "error", err)
	return nil, err
}

func (r *Refresher) publish(snap *cluster.Snapshot, start time.Time) (*cluster.Snapshot, error) {
	old := r.store.Current()
	if err := r.store.Publish(snap); err != nil {
		if !errors.Is(err, cerrors.ErrStaleSnapshot) {
			metrics.RecordRefresh("error", time.Since(start))
			return nil, err
		}
		// A newer round already published; keep it.
		metrics.RecordRefresh("stale", time.Since(start))
		r.opts.Log.Debug("refresh superseded", "version", snap.Version, "current", r.store.Version())
		return r.store.Current(), nil
	}

	metrics.RecordRefresh("published", time.Since(start))
	if diff := cluster.DiffShards(old, snap); !diff.Empty() {
		metrics.RecordShardDiff(diff)
		r.opts.Log.Info("topology changed",
			"version", snap.Version,
			"added", diff.Added,
			"removed", diff.Removed,
			"changed", diff.Changed)
	}
	if r.opts.OnPublish != nil {
		r.opts.OnPublish(snap)
	}
	return snap, nil
}

// nextVersion is above both the last version this refresher handed out and
// whatever the store holds.
func (r *Refresher) nextVersion() uint64 {
	for {
		cur := r.version.Load()
		next := max(cur, r.store.Version()) + 1
		if r.version.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (r *Refresher) seeds() []cluster.Node {
	seen := make(map[string]struct{}, len(r.opts.Seeds))
	out := make([]cluster.Node, 0, len(r.opts.Seeds))
	add := func(n cluster.Node) {
		if _, ok := seen[n.Addr()]; ok {
			return
		}
		seen[n.Addr()] = struct{}{}
		out = append(out, n)
	}

	for _, s := range r.opts.Seeds {
		add(s)
	}
	if snap := r.store.Current(); snap != nil {
		for _, m := range snap.Masters() {
			add(m)
		}
	}
	return out
}

// BuildSnapshot groups introspected ranges by master address into shards and
// validates the resulting slot table.
func BuildSnapshot(version uint64, ranges []cluster.SlotRangeInfo) (*cluster.Snapshot, error) {
	if len(ranges) == 0 {
		return nil, cerrors.ErrEmptyAssignment
	}

	type shardBuilder struct {
		master   cluster.Node
		replicas []cluster.Node
		seen     map[string]struct{}
	}
	builders := make(map[cluster.ShardID]*shardBuilder)
	var order []cluster.ShardID
	assignments := make([]cluster.SlotAssignment, 0, len(ranges))

	for _, rg := range ranges {
		if rg.Master.IsZero() {
			return nil, fmt.Errorf("slots %d-%d: %w", rg.Start, rg.End, cerrors.ErrNoMasterSpecified)
		}
		id := cluster.ShardID(rg.Master.Addr())
		b, ok := builders[id]
		if !ok {
			b = &shardBuilder{master: rg.Master, seen: map[string]struct{}{rg.Master.Addr(): {}}}
			builders[id] = b
			order = append(order, id)
		}
		for _, rep := range rg.Replicas {
			if _, dup := b.seen[rep.Addr()]; dup {
				continue
			}
			b.seen[rep.Addr()] = struct{}{}
			b.replicas = append(b.replicas, rep)
		}
		assignments = append(assignments, cluster.SlotAssignment{Start: rg.Start, End: rg.End, Shard: id})
	}

	table, err := cluster.BuildSlotTable(assignments)
	if err != nil {
		return nil, err
	}

	shards := make([]cluster.Shard, 0, len(order))
	for _, id := range order {
		b := builders[id]
		s, err := cluster.NewShard(id, b.master, b.replicas...)
		if err != nil {
			return nil, err
		}
		shards = append(shards, s)
	}
	return cluster.NewSnapshot(version, table, shards)
}
