package policy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sorted(p Policy, metas []Meta) []string {
	out := append([]Meta(nil), metas...)
	sort.Slice(out, func(i, j int) bool { return p.Less(out[i], out[j]) })
	keys := make([]string, len(out))
	for i, m := range out {
		keys[i] = m.Key
	}
	return keys
}

func TestOrdering(t *testing.T) {
	t.Parallel()

	metas := []Meta{
		{Key: "a", CreatedAt: 30, ExpiresAt: 100, LastAccessed: 90, AccessCount: 5},
		{Key: "b", CreatedAt: 10, ExpiresAt: 300, LastAccessed: 50, AccessCount: 1},
		{Key: "c", CreatedAt: 20, ExpiresAt: 0, LastAccessed: 70, AccessCount: 9}, // never expires
		{Key: "d", CreatedAt: 40, ExpiresAt: 200, LastAccessed: 60, AccessCount: 1},
	}

	// LRU: oldest access first.
	assert.Equal(t, []string{"b", "d", "c", "a"}, sorted(LRU{}, metas))
	// LFU: least used first, key tiebreak between b and d.
	assert.Equal(t, []string{"b", "d", "a", "c"}, sorted(LFU{}, metas))
	// TTL: soonest deadline first, no-deadline last.
	assert.Equal(t, []string{"a", "d", "b", "c"}, sorted(TTL{}, metas))
	// FIFO: oldest insert first.
	assert.Equal(t, []string{"b", "c", "a", "d"}, sorted(FIFO{}, metas))
}

// Ties break by key so eviction order is reproducible.
func TestKeyTiebreak(t *testing.T) {
	t.Parallel()

	same := []Meta{
		{Key: "z", LastAccessed: 7, AccessCount: 3, CreatedAt: 1, ExpiresAt: 9},
		{Key: "a", LastAccessed: 7, AccessCount: 3, CreatedAt: 1, ExpiresAt: 9},
		{Key: "m", LastAccessed: 7, AccessCount: 3, CreatedAt: 1, ExpiresAt: 9},
	}
	want := []string{"a", "m", "z"}
	for _, p := range []Policy{LRU{}, LFU{}, TTL{}, FIFO{}} {
		assert.Equal(t, want, sorted(p, same), "policy %s", p.Name())
	}
}

func TestFromName(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{
		"":     "lru",
		"lru":  "lru",
		"lfu":  "lfu",
		"ttl":  "ttl",
		"fifo": "fifo",
	} {
		p, err := FromName(name)
		require.NoError(t, err, "name %q", name)
		assert.Equal(t, want, p.Name())
	}

	_, err := FromName("arc")
	require.Error(t, err)
}
