package distributed

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/cache"
)

func newCluster(t *testing.T, cfg Config) *Cache {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func strongCluster(t *testing.T, nodes []string, rf int) *Cache {
	t.Helper()
	return newCluster(t, Config{
		Node:              cache.Config{MaxSize: 1 << 20},
		Nodes:             nodes,
		ReplicationFactor: rf,
		ConsistencyLevel:  ConsistencyStrong,
	})
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoNodes)

	_, err = New(Config{Nodes: []string{"n1"}, ReplicationFactor: 2})
	assert.ErrorIs(t, err, ErrReplicationFactor)

	_, err = New(Config{Nodes: []string{"n1"}, ConsistencyLevel: "quorum"})
	assert.ErrorIs(t, err, ErrConsistencyLevel)

	_, err = New(Config{Nodes: []string{"n1"}, ShardingStrategy: "range"})
	assert.ErrorIs(t, err, ErrShardingStrategy)
}

func TestSetGetDelete_Strong(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 1)

	require.NoError(t, d.Set("foo", "bar", nil))
	v, ok, err := d.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", v)
	assert.True(t, d.Has("foo"))

	assert.True(t, d.Delete("foo"))
	assert.False(t, d.Delete("foo"))
	_, ok, _ = d.Get("foo")
	assert.False(t, ok)
}

// With replication factor 2 and three nodes, each key lands on exactly two
// of the three underlying stores, and survives losing one of them.
func TestReplication(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 2)

	require.NoError(t, d.Set("foo", "bar", nil))

	holders := 0
	for _, id := range d.Nodes() {
		if d.Node(id).Has("foo") {
			holders++
		}
	}
	assert.Equal(t, 2, holders, "key must live on exactly replicationFactor nodes")

	// Drop the key from one replica directly; the other still serves it.
	replicas := d.Replicas("foo")
	require.Len(t, replicas, 2)
	require.True(t, d.Node(replicas[0]).Delete("foo"))

	v, ok, err := d.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}

// Documented gap: a hit on a later replica is not written back to earlier
// replicas that missed (no read-repair).
func TestNoReadRepair(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 2)

	require.NoError(t, d.Set("foo", "bar", nil))
	replicas := d.Replicas("foo")
	require.True(t, d.Node(replicas[0]).Delete("foo"))

	_, ok, err := d.Get("foo")
	require.NoError(t, err)
	require.True(t, ok)

	assert.False(t, d.Node(replicas[0]).Has("foo"),
		"read must not repopulate the replica that missed")
}

// Eventual writes return immediately and converge in the background.
func TestEventualConvergence(t *testing.T) {
	t.Parallel()

	d := newCluster(t, Config{
		Node:              cache.Config{MaxSize: 1 << 20},
		Nodes:             []string{"n1", "n2", "n3"},
		ReplicationFactor: 2,
		ConsistencyLevel:  ConsistencyEventual,
	})

	require.NoError(t, d.Set("foo", "bar", nil))

	assert.Eventually(t, func() bool {
		holders := 0
		for _, id := range d.Nodes() {
			if d.Node(id).Has("foo") {
				holders++
			}
		}
		return holders == 2
	}, time.Second, 5*time.Millisecond)
}

// A strong Set fails when any replica write fails; replicas that already
// succeeded stay written (no rollback).
func TestStrongSet_ReplicaFailure(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 2)

	// A value bigger than any node's budget fails on every replica.
	huge := make([]byte, 2<<20)
	err := d.Set("big", huge, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReplicaWrite)
	assert.True(t, errors.Is(err, cache.ErrValueTooLarge))
}

func TestInvalidate_ClusterWide(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 2)

	for i := 0; i < 20; i++ {
		require.NoError(t, d.Set(fmt.Sprintf("campaign:%d", i), i,
			&cache.SetOptions{Tags: []string{"campaigns"}}))
	}
	require.NoError(t, d.Set("user:1", "u", &cache.SetOptions{Tags: []string{"users"}}))

	// 20 keys x 2 replicas.
	assert.Equal(t, 40, d.InvalidateByTag("campaigns"))
	for i := 0; i < 20; i++ {
		assert.False(t, d.Has(fmt.Sprintf("campaign:%d", i)))
	}
	assert.True(t, d.Has("user:1"))

	n, err := d.InvalidateByPattern(`^user:`)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAddRemoveNode(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2", "n3"}, 2)

	require.NoError(t, d.AddNode("n4"))
	assert.Error(t, d.AddNode("n4"), "duplicate node must be rejected")
	assert.Len(t, d.Nodes(), 4)

	require.NoError(t, d.RemoveNode("n4"))
	assert.ErrorIs(t, d.RemoveNode("n4"), ErrUnknownNode)

	// Removing below the replication factor is refused.
	require.NoError(t, d.RemoveNode("n3"))
	assert.ErrorIs(t, d.RemoveNode("n2"), ErrReplicationFactor)
}

func TestStats_Aggregated(t *testing.T) {
	t.Parallel()

	d := strongCluster(t, []string{"n1", "n2"}, 2)

	require.NoError(t, d.Set("a", 1, nil))
	_, _, _ = d.Get("a") // first replica hit
	_, _, _ = d.Get("nope")

	s := d.Stats()
	assert.Equal(t, int64(1), s.Hits)
	// The miss probed both replicas.
	assert.Equal(t, int64(2), s.Misses)
	assert.Equal(t, 2, s.EntryCount)

	per := d.NodeStats()
	assert.Len(t, per, 2)
}

func TestClosedCluster(t *testing.T) {
	t.Parallel()

	d, err := New(Config{
		Node:              cache.Config{MaxSize: 1 << 20},
		Nodes:             []string{"n1"},
		ReplicationFactor: 1,
	})
	require.NoError(t, err)
	require.NoError(t, d.Set("a", 1, nil))
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	assert.ErrorIs(t, d.Set("b", 2, nil), cache.ErrClosed)
	_, ok, _ := d.Get("a")
	assert.False(t, ok)
}
