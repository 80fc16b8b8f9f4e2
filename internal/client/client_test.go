package client

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	"github.com/10yihang/clusterrouter/internal/cluster/router"
	"github.com/10yihang/clusterrouter/internal/clustertest"
	"github.com/10yihang/clusterrouter/internal/config"
	"github.com/10yihang/clusterrouter/internal/transport"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

func newClient(t *testing.T, c *clustertest.Cluster, opts Options) *Client {
	t.Helper()
	opts.Seeds = c.Seeds()
	if opts.RefreshDebounce == 0 {
		opts.RefreshDebounce = 10 * time.Millisecond
	}
	if opts.Pool.DialTimeout == 0 {
		opts.Pool = transport.Options{DialTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second}
	}
	cl, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

// clusterCalls counts CLUSTER commands over every node, one per refresh round.
func clusterCalls(c *clustertest.Cluster) int {
	total := 0
	for _, n := range c.Nodes() {
		total += n.Calls("CLUSTER")
	}
	return total
}

func otherMaster(c *clustertest.Cluster, n *clustertest.Node) *clustertest.Node {
	for _, m := range c.Masters() {
		if m != n {
			return m
		}
	}
	return nil
}

func TestNew_RequiresSeeds(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoSeeds)
}

func TestClient_SetGet(t *testing.T) {
	c := clustertest.Start(t, 3, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	snap := cl.CurrentTopology()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, snap.ShardIDs(), 3)

	for _, key := range []string{"foo", "bar", "hello", "{user1000}.following"} {
		reply, err := cl.Do(ctx, "SET", key, "v-"+key)
		require.NoError(t, err, key)
		assert.Equal(t, "OK", reply.String())

		v, ok := c.OwnerOfKey(key).Get(key)
		require.True(t, ok, key)
		assert.Equal(t, "v-"+key, v)

		reply, err = cl.Do(ctx, "GET", key)
		require.NoError(t, err)
		assert.Equal(t, "v-"+key, reply.String())
	}
	assert.Equal(t, 1, clusterCalls(c))
}

func TestClient_DoLoadsTopologyOnFirstUse(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})

	assert.Nil(t, cl.CurrentTopology())
	reply, err := cl.Do(context.Background(), "PING")
	require.NoError(t, err)
	assert.Equal(t, "PONG", reply.String())
	assert.NotNil(t, cl.CurrentTopology())
}

func TestClient_MovedTriggersOneRefresh(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	_, err := cl.Do(ctx, "SET", "foo", "bar")
	require.NoError(t, err)

	from := c.OwnerOfKey("foo")
	to := otherMaster(c, from)
	c.MoveSlot(hash.KeySlot("foo"), to)

	reply, err := cl.Do(ctx, "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", reply.String())
	assert.Equal(t, 1, from.Calls("GET"))
	assert.Equal(t, 1, to.Calls("GET"))

	require.Eventually(t, func() bool {
		target, err := cl.Route(cluster.NewCommand("GET", "foo"))
		return err == nil && target.Node.Equal(to.Node())
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, clusterCalls(c), "initial load plus one refresh")
	assert.Equal(t, uint64(2), cl.CurrentTopology().Version)

	// The refreshed topology routes directly.
	reply, err = cl.Do(ctx, "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", reply.String())
	assert.Equal(t, 1, from.Calls("GET"))
}

func TestClient_AskDuringMigration(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	_, err := cl.Do(ctx, "SET", "foo", "bar")
	require.NoError(t, err)

	slot := hash.KeySlot("foo")
	source := c.Owner(slot)
	target := otherMaster(c, source)
	c.StartMigration(slot, target)
	c.MigrateKey("foo")

	reply, err := cl.Do(ctx, "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", reply.String())
	assert.Equal(t, 1, target.Calls("ASKING"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, clusterCalls(c), "ASK leaves the topology alone")

	routed, err := cl.Route(cluster.NewCommand("GET", "foo"))
	require.NoError(t, err)
	assert.True(t, source.Node().Equal(routed.Node))
}

func TestClient_ReplicaRead(t *testing.T) {
	c := clustertest.Start(t, 1, 1)
	cl := newClient(t, c, Options{ReadPolicy: router.ReadReplicaRandom})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	master := c.Masters()[0]
	replica := c.Replicas(master)[0]

	_, err := cl.Do(ctx, "SET", "foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, 1, master.Calls("SET"))

	reply, err := cl.Do(ctx, "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "bar", reply.String())
	assert.Equal(t, 1, replica.Calls("READONLY"))
	assert.Equal(t, 1, replica.Calls("GET"))
	assert.Equal(t, 0, master.Calls("GET"))
}

func TestClient_TransportErrorRefreshesAndRetries(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	dead := c.OwnerOfKey("foo")
	alive := otherMaster(c, dead)
	dead.Stop()
	c.Assign(0, hash.MaxSlot, alive)

	reply, err := cl.Do(ctx, "SET", "foo", "bar")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.String())

	v, ok := alive.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
	assert.Len(t, cl.CurrentTopology().ShardIDs(), 1)
}

func TestClient_TransportErrorWithoutRecovery(t *testing.T) {
	c := clustertest.Start(t, 1, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	c.Masters()[0].Stop()

	_, err := cl.Do(ctx, "GET", "foo")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrNoReachableSeed)
	assert.NotNil(t, cl.CurrentTopology(), "failed refresh keeps the old topology")
}

func TestClient_CrossSlotIsNotRetried(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	_, err := cl.Do(ctx, "MGET", "foo", "bar")
	require.ErrorIs(t, err, cerrors.ErrCrossSlot)

	_, err = cl.Do(ctx, "MGET", "{user1000}.following", "{user1000}.followers")
	require.NoError(t, err)

	assert.Equal(t, 1, clusterCalls(c))
	owner := c.OwnerOfKey("{user1000}")
	assert.Equal(t, 1, owner.Calls("MGET"))
	assert.Equal(t, 0, otherMaster(c, owner).Calls("MGET"))
}

func TestClient_ReplyError(t *testing.T) {
	c := clustertest.Start(t, 1, 0)
	cl := newClient(t, c, Options{})
	ctx := context.Background()
	require.NoError(t, cl.Start(ctx))

	_, err := cl.Do(ctx, "SET", "foo", "bar")
	require.NoError(t, err)

	_, err = cl.Do(ctx, "INCR", "foo")
	var replyErr *ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.Equal(t, "ERR", replyErr.Prefix())
	assert.Equal(t, "ERR value is not an integer or out of range", replyErr.Error())
}

func TestClient_HandleReply(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	cl := newClient(t, c, Options{})
	require.NoError(t, cl.Start(context.Background()))

	owner := c.OwnerOfKey("foo")
	other := otherMaster(c, owner)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	cmd := cluster.NewCommand("GET", "foo")
	replies, err := p.Send(context.Background(), other.Node(), cmd)
	require.NoError(t, err)

	d := cl.HandleReply(replies[0], cmd, other.Node())
	assert.True(t, d.Refresh)
	assert.Equal(t, owner.Node().Addr(), d.Target.Addr())
}

func TestClient_StateFileSeedsNextStart(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	path := filepath.Join(t.TempDir(), "topology.json")
	ctx := context.Background()

	first := newClient(t, c, Options{StateFile: path})
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Close())

	second, err := New(Options{StateFile: path})
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.Start(ctx))
	assert.Len(t, second.CurrentTopology().ShardIDs(), 2)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := clustertest.Start(t, 1, 0)
	cl := newClient(t, c, Options{})
	require.NoError(t, cl.Close())
	require.NoError(t, cl.Close())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Seeds = []string{"10.0.0.1:7000"}
	cfg.Routing.ReadPolicy = "replica-hashed"
	cfg.Routing.Fallback = "fail"
	cfg.Transport.PoolSize = 2

	opts, err := OptionsFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []cluster.Node{cluster.NewNode("10.0.0.1", 7000)}, opts.Seeds)
	assert.Equal(t, router.ReadReplicaHashed, opts.ReadPolicy)
	assert.Equal(t, router.FallbackFail, opts.Fallback)
	assert.Equal(t, 2, opts.Pool.PoolSize)
	assert.Equal(t, cfg.Refresh.Interval, opts.RefreshInterval)

	cfg.Routing.ReadPolicy = "nearest"
	_, err = OptionsFromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestReplyError_Prefix(t *testing.T) {
	assert.Equal(t, "WRONGTYPE", (&ReplyError{Msg: "WRONGTYPE Operation against a key"}).Prefix())
	assert.Equal(t, "ERR", (&ReplyError{Msg: "ERR"}).Prefix())
}
