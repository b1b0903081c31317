// Package policy implements the pluggable eviction victim ordering used by
// the cache when an insert would exceed the configured byte budget.
//
// A Policy does not evict anything itself: it only defines a strict order
// over eviction candidates. The cache sorts the current entries with Less
// and removes them front-to-back until enough space is freed.
//
// All four orderings break ties by key (ascending, lexicographic) so that
// eviction outcomes are reproducible.
package policy

import "fmt"

// Meta is the per-entry bookkeeping a policy orders candidates by.
// Instants are UnixNano; ExpiresAt == 0 means the entry never expires.
type Meta struct {
	Key          string
	CreatedAt    int64
	ExpiresAt    int64
	LastAccessed int64
	AccessCount  int64
}

// Policy defines a strict eviction order over candidate entries.
// Less reports whether a should be evicted before b.
type Policy interface {
	Name() string
	Less(a, b Meta) bool
}

// LRU orders candidates by LastAccessed ascending (oldest access first).
type LRU struct{}

func (LRU) Name() string { return "lru" }

func (LRU) Less(a, b Meta) bool {
	if a.LastAccessed != b.LastAccessed {
		return a.LastAccessed < b.LastAccessed
	}
	return a.Key < b.Key
}

// LFU orders candidates by AccessCount ascending (least used first).
type LFU struct{}

func (LFU) Name() string { return "lfu" }

func (LFU) Less(a, b Meta) bool {
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	return a.Key < b.Key
}

// TTL orders candidates by ExpiresAt ascending (soonest to expire first).
// Entries without a deadline sort last.
type TTL struct{}

func (TTL) Name() string { return "ttl" }

func (TTL) Less(a, b Meta) bool {
	ax, bx := a.ExpiresAt, b.ExpiresAt
	if ax == 0 && bx == 0 {
		return a.Key < b.Key
	}
	if ax == 0 {
		return false
	}
	if bx == 0 {
		return true
	}
	if ax != bx {
		return ax < bx
	}
	return a.Key < b.Key
}

// FIFO orders candidates by CreatedAt ascending (oldest insert first).
type FIFO struct{}

func (FIFO) Name() string { return "fifo" }

func (FIFO) Less(a, b Meta) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.Key < b.Key
}

// FromName resolves a policy by its config name.
// Unknown names are a configuration error.
func FromName(name string) (Policy, error) {
	switch name {
	case "", "lru":
		return LRU{}, nil
	case "lfu":
		return LFU{}, nil
	case "ttl":
		return TTL{}, nil
	case "fifo":
		return FIFO{}, nil
	default:
		return nil, fmt.Errorf("policy: unknown eviction policy %q", name)
	}
}
