package clustertest_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	"github.com/10yihang/clusterrouter/internal/clustertest"
	"github.com/10yihang/clusterrouter/internal/transport"
)

func send(t *testing.T, p *transport.Pool, n *clustertest.Node, args ...string) redcon.RESP {
	t.Helper()
	replies, err := p.Send(context.Background(), n.Node(), cluster.NewCommand(args...))
	require.NoError(t, err)
	return replies[0]
}

func TestNode_MovedFromNonOwner(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	owner := c.OwnerOfKey("foo")
	other := c.Masters()[0]
	if other == owner {
		other = c.Masters()[1]
	}

	reply := send(t, p, other, "GET", "foo")
	assert.Equal(t, fmt.Sprintf("MOVED %d %s", hash.KeySlot("foo"), owner.Addr()), reply.String())

	assert.Equal(t, "OK", send(t, p, owner, "SET", "foo", "bar").String())
	v, ok := owner.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestNode_CrossSlot(t *testing.T) {
	c := clustertest.Start(t, 1, 0)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	reply := send(t, p, c.Masters()[0], "MGET", "foo", "bar")
	assert.Equal(t, "CROSSSLOT Keys in request don't hash to the same slot", reply.String())
}

func TestNode_MigrationAskAndAsking(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	slot := hash.KeySlot("foo")
	source := c.Owner(slot)
	target := c.Masters()[0]
	if target == source {
		target = c.Masters()[1]
	}

	send(t, p, source, "SET", "foo", "v1")
	c.StartMigration(slot, target)

	// Still on the source: served there.
	assert.Equal(t, "v1", send(t, p, source, "GET", "foo").String())

	c.MigrateKey("foo")
	reply := send(t, p, source, "GET", "foo")
	assert.Equal(t, fmt.Sprintf("ASK %d %s", slot, target.Addr()), reply.String())

	// Without ASKING the target redirects back to the owner.
	reply = send(t, p, target, "GET", "foo")
	assert.Equal(t, fmt.Sprintf("MOVED %d %s", slot, source.Addr()), reply.String())

	replies, err := p.Send(context.Background(), target.Node(),
		cluster.NewCommand("ASKING"), cluster.NewCommand("GET", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "OK", replies[0].String())
	assert.Equal(t, "v1", replies[1].String())

	c.MoveSlot(slot, target)
	assert.Equal(t, "v1", send(t, p, target, "GET", "foo").String())
	assert.Equal(t, fmt.Sprintf("MOVED %d %s", slot, target.Addr()), send(t, p, source, "GET", "foo").String())
}

func TestNode_ReplicaNeedsReadOnly(t *testing.T) {
	c := clustertest.Start(t, 1, 1)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	master := c.Masters()[0]
	replica := c.Replicas(master)[0]
	send(t, p, master, "SET", "foo", "bar")

	reply := send(t, p, replica, "GET", "foo")
	assert.Contains(t, reply.String(), "MOVED")

	replies, err := p.Send(context.Background(), replica.Node(),
		cluster.NewCommand("READONLY"), cluster.NewCommand("GET", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "bar", replies[1].String())
	assert.Equal(t, 2, replica.Calls("get"))
}

func TestCluster_MoveSlotCarriesKeys(t *testing.T) {
	c := clustertest.Start(t, 2, 0)
	p := transport.NewPool(transport.Options{})
	defer p.Close()

	from := c.OwnerOfKey("{user1000}.following")
	to := c.Masters()[0]
	if to == from {
		to = c.Masters()[1]
	}
	send(t, p, from, "MSET", "{user1000}.following", "a", "{user1000}.followers", "b")

	c.MoveSlot(hash.KeySlot("{user1000}"), to)
	v, ok := to.Get("{user1000}.followers")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = from.Get("{user1000}.followers")
	assert.False(t, ok)
}

func TestNode_StopRightAfterStart(t *testing.T) {
	c := clustertest.Start(t, 1, 0)
	m := c.Masters()[0]
	m.Stop()

	conn, err := net.DialTimeout("tcp", m.Addr(), 200*time.Millisecond)
	if err == nil {
		conn.Close()
	}
	require.Error(t, err, "stopped node still accepts connections")
}
