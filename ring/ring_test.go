package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Basics(t *testing.T) {
	t.Parallel()

	r := New([]string{"n1", "n2", "n3"}, 0)

	require.Equal(t, 3, r.Len())
	assert.Equal(t, []string{"n1", "n2", "n3"}, r.Nodes())

	replicas := r.Lookup("some-key", 2)
	require.Len(t, replicas, 2)
	assert.NotEqual(t, replicas[0], replicas[1], "replicas must be distinct physical nodes")

	// Asking for more replicas than nodes caps at the node count.
	assert.Len(t, r.Lookup("some-key", 10), 3)

	assert.Equal(t, replicas[0], r.Owner("some-key"))
}

func TestLookup_EmptyRing(t *testing.T) {
	t.Parallel()

	r := New(nil, 0)
	assert.Nil(t, r.Lookup("k", 1))
	assert.Equal(t, "", r.Owner("k"))
}

// Placement is a function of the node set, not of construction order.
func TestDeterministicPlacement(t *testing.T) {
	t.Parallel()

	a := New([]string{"n1", "n2", "n3"}, 0)
	b := New([]string{"n3", "n1", "n2"}, 0)

	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("key-%d", i)
		assert.Equal(t, a.Owner(k), b.Owner(k), "key %s", k)
	}
}

// Lookups are stable call-to-call for the same ring.
func TestLookup_Stable(t *testing.T) {
	t.Parallel()

	r := New([]string{"n1", "n2", "n3", "n4"}, 0)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%d", i)
		first := r.Lookup(k, 3)
		assert.Equal(t, first, r.Lookup(k, 3))
	}
}

// Adding a fourth node remaps roughly a quarter of the keyspace, not all
// of it. The tolerance is wide: virtual-node placement is statistical.
func TestRemapFraction_AddNode(t *testing.T) {
	t.Parallel()

	const keys = 10_000

	r := New([]string{"n1", "n2", "n3"}, 0)
	before := make(map[string]string, keys)
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		before[k] = r.Owner(k)
	}

	r.Add("n4")

	moved := 0
	for k, owner := range before {
		if r.Owner(k) != owner {
			moved++
		}
	}
	frac := float64(moved) / float64(keys)
	assert.Greater(t, frac, 0.15, "remap fraction suspiciously low")
	assert.Less(t, frac, 0.35, "remap fraction far above 1/(n+1)")

	// Every moved key must now land on the new node.
	for k, owner := range before {
		if got := r.Owner(k); got != owner {
			assert.Equal(t, "n4", got, "key %s moved to an old node", k)
		}
	}
}

// Removing a node only remaps keys it owned.
func TestRemapFraction_RemoveNode(t *testing.T) {
	t.Parallel()

	const keys = 10_000

	r := New([]string{"n1", "n2", "n3", "n4"}, 0)
	before := make(map[string]string, keys)
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		before[k] = r.Owner(k)
	}

	r.Remove("n4")
	require.Equal(t, 3, r.Len())

	for k, owner := range before {
		got := r.Owner(k)
		if owner == "n4" {
			assert.NotEqual(t, "n4", got)
		} else {
			assert.Equal(t, owner, got, "key %s moved although its node stayed", k)
		}
	}
}

// Virtual nodes spread load: with V=100 each node should own a share of a
// uniform keyspace within a loose factor of fair.
func TestDistribution(t *testing.T) {
	t.Parallel()

	const keys = 30_000
	nodes := []string{"n1", "n2", "n3"}
	r := New(nodes, 0)

	counts := make(map[string]int)
	for i := 0; i < keys; i++ {
		counts[r.Owner(fmt.Sprintf("key-%d", i))]++
	}

	fair := keys / len(nodes)
	for _, n := range nodes {
		assert.Greater(t, counts[n], fair/2, "node %s underloaded: %d", n, counts[n])
		assert.Less(t, counts[n], fair*2, "node %s overloaded: %d", n, counts[n])
	}
}

func TestAddRemove_Idempotent(t *testing.T) {
	t.Parallel()

	r := New([]string{"n1"}, 0)
	r.Add("n1") // no-op
	require.Equal(t, 1, r.Len())
	r.Remove("nope") // no-op
	require.Equal(t, 1, r.Len())
	r.Remove("n1")
	require.Equal(t, 0, r.Len())
}
