package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/state"
)

func twoShardSnapshot(t *testing.T, version uint64, split uint16) *cluster.Snapshot {
	t.Helper()
	a, err := cluster.NewShard("a", cluster.NewNode("127.0.0.1", 7000))
	require.NoError(t, err)
	b, err := cluster.NewShard("b", cluster.NewNode("127.0.0.1", 7001))
	require.NoError(t, err)
	table, err := cluster.BuildSlotTable([]cluster.SlotAssignment{
		{Start: 0, End: split - 1, Shard: "a"},
		{Start: split, End: 16383, Shard: "b"},
	})
	require.NoError(t, err)
	snap, err := cluster.NewSnapshot(version, table, []cluster.Shard{a, b})
	require.NoError(t, err)
	return snap
}

func oneShardSnapshot(t *testing.T, version uint64) *cluster.Snapshot {
	t.Helper()
	a, err := cluster.NewShard("a", cluster.NewNode("127.0.0.1", 7000))
	require.NoError(t, err)
	table, err := cluster.BuildSlotTable([]cluster.SlotAssignment{{Start: 0, End: 16383, Shard: "a"}})
	require.NoError(t, err)
	snap, err := cluster.NewSnapshot(version, table, []cluster.Shard{a})
	require.NoError(t, err)
	return snap
}

func TestRecordCommand(t *testing.T) {
	ok := testutil.ToFloat64(CommandsTotal.WithLabelValues("GET", "success"))
	failed := testutil.ToFloat64(CommandsTotal.WithLabelValues("GET", "error"))

	RecordCommand("GET", 10*time.Millisecond, true)
	RecordCommand("GET", 10*time.Millisecond, true)
	RecordCommand("GET", time.Millisecond, false)

	assert.Equal(t, ok+2, testutil.ToFloat64(CommandsTotal.WithLabelValues("GET", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(CommandsTotal.WithLabelValues("GET", "error")))
}

func TestRecordRedirectAndRefresh(t *testing.T) {
	moved := testutil.ToFloat64(RedirectsTotal.WithLabelValues("moved"))
	exhausted := testutil.ToFloat64(RedirectsExhausted)
	published := testutil.ToFloat64(RefreshesTotal.WithLabelValues("published"))

	RecordRedirect("moved")
	RecordRedirectsExhausted()
	RecordRefresh("published", 3*time.Millisecond)

	assert.Equal(t, moved+1, testutil.ToFloat64(RedirectsTotal.WithLabelValues("moved")))
	assert.Equal(t, exhausted+1, testutil.ToFloat64(RedirectsExhausted))
	assert.Equal(t, published+1, testutil.ToFloat64(RefreshesTotal.WithLabelValues("published")))
}

func TestRecordShardDiff(t *testing.T) {
	added := testutil.ToFloat64(ShardChanges.WithLabelValues("added"))
	changed := testutil.ToFloat64(ShardChanges.WithLabelValues("changed"))

	RecordShardDiff(cluster.ShardDiff{Added: []cluster.ShardID{"a", "b"}, Changed: []cluster.ShardID{"c"}})

	assert.Equal(t, added+2, testutil.ToFloat64(ShardChanges.WithLabelValues("added")))
	assert.Equal(t, changed+1, testutil.ToFloat64(ShardChanges.WithLabelValues("changed")))
}

func TestCollector_Topology(t *testing.T) {
	store := cluster.NewStore()
	c := NewCollector(store)

	// Nothing published yet: no panic, nothing sampled.
	c.Collect()

	require.NoError(t, store.Publish(twoShardSnapshot(t, 1, 4096)))
	c.Collect()
	assert.Equal(t, 1.0, testutil.ToFloat64(TopologyVersion))
	assert.Equal(t, 2.0, testutil.ToFloat64(ShardsTotal))
	assert.Equal(t, 4096.0, testutil.ToFloat64(SlotsPerShard.WithLabelValues("a")))
	assert.Equal(t, 12288.0, testutil.ToFloat64(SlotsPerShard.WithLabelValues("b")))

	require.NoError(t, store.Publish(oneShardSnapshot(t, 2)))
	c.Collect()
	assert.Equal(t, 2.0, testutil.ToFloat64(TopologyVersion))
	assert.Equal(t, 1.0, testutil.ToFloat64(ShardsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(SlotsPerShard), "removed shard label deleted")
	assert.Greater(t, testutil.ToFloat64(Uptime), 0.0)
}

func TestExporter_Health(t *testing.T) {
	store := cluster.NewStore()
	srv := httptest.NewServer(NewExporter("127.0.0.1:0", store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, store.Publish(twoShardSnapshot(t, 1, 8192)))
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExporter_Topology(t *testing.T) {
	store := cluster.NewStore()
	require.NoError(t, store.Publish(twoShardSnapshot(t, 3, 8192)))
	srv := httptest.NewServer(NewExporter("127.0.0.1:0", store).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/topology")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var view state.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, uint64(3), view.Version)
	require.Len(t, view.Shards, 2)
	assert.Equal(t, "127.0.0.1:7000", view.Shards[0].Master.Addr)
}

func TestExporter_Metrics(t *testing.T) {
	RecordRedirect("ask")
	srv := httptest.NewServer(NewExporter("127.0.0.1:0", cluster.NewStore()).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `clusterrouter_redirects_total{kind="ask"}`))
}

func TestExporter_StartStop(t *testing.T) {
	e := NewExporter("127.0.0.1:0", cluster.NewStore())
	require.NoError(t, e.Start())

	resp, err := http.Get("http://" + e.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}
