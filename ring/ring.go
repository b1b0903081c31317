// Package ring implements a consistent hash ring with virtual nodes.
//
// Each physical node is represented by a fixed number of virtual labels
// ("nodeID:0" .. "nodeID:V-1") placed on a circle ordered by their FNV-1a
// hash. A key is routed to the first virtual position at or after its own
// hash (wrapping past the end), then the ring is walked forward collecting
// distinct physical nodes until the requested replica count is reached.
//
// Virtual nodes smooth the load distribution: with V positions per physical
// node, adding one node to a cluster of n remaps roughly 1/(n+1) of the
// keyspace instead of a disproportionate share.
package ring

import (
	"sort"
	"strconv"
	"sync"

	"github.com/tiercache/tiercache/internal/util"
)

// DefaultVirtualNodes is the per-node virtual position count.
const DefaultVirtualNodes = 100

type point struct {
	hash uint64
	node string
}

// Ring maps keys to an ordered set of distinct physical nodes.
// All methods are safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	virtual int
	points  []point // sorted by hash
	nodes   map[string]struct{}
}

// New builds a ring holding the given nodes with virtual positions each.
// virtual <= 0 selects DefaultVirtualNodes. Placement depends only on the
// node identifiers, not on insertion order.
func New(nodes []string, virtual int) *Ring {
	if virtual <= 0 {
		virtual = DefaultVirtualNodes
	}
	r := &Ring{
		virtual: virtual,
		nodes:   make(map[string]struct{}, len(nodes)),
	}
	for _, n := range nodes {
		r.addLocked(n)
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
	return r
}

// Add places a node on the ring. Adding an existing node is a no-op.
func (r *Ring) Add(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; ok {
		return
	}
	r.addLocked(node)
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
}

// Remove takes a node off the ring. Removing an unknown node is a no-op.
func (r *Ring) Remove(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[node]; !ok {
		return
	}
	delete(r.nodes, node)
	kept := r.points[:0]
	for _, p := range r.points {
		if p.node != node {
			kept = append(kept, p)
		}
	}
	r.points = kept
}

// Nodes returns the physical node identifiers currently on the ring,
// sorted for determinism.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of physical nodes on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Lookup returns up to count distinct physical nodes responsible for key,
// in ring order starting at the key's position. It returns fewer than count
// nodes only when the ring holds fewer physical nodes.
func (r *Ring) Lookup(key string, count int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.points) == 0 || count <= 0 {
		return nil
	}
	if count > len(r.nodes) {
		count = len(r.nodes)
	}

	h := util.Fnv64a(key)
	// First virtual position with hash >= key hash, wrapping to 0.
	start := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if start == len(r.points) {
		start = 0
	}

	out := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 0; len(out) < count && i < len(r.points); i++ {
		p := r.points[(start+i)%len(r.points)]
		if _, dup := seen[p.node]; dup {
			continue
		}
		seen[p.node] = struct{}{}
		out = append(out, p.node)
	}
	return out
}

// Owner returns the single node responsible for key, or "" on an empty ring.
func (r *Ring) Owner(key string) string {
	nodes := r.Lookup(key, 1)
	if len(nodes) == 0 {
		return ""
	}
	return nodes[0]
}

func (r *Ring) addLocked(node string) {
	r.nodes[node] = struct{}{}
	for i := 0; i < r.virtual; i++ {
		label := node + ":" + strconv.Itoa(i)
		r.points = append(r.points, point{hash: util.Fnv64a(label), node: node})
	}
}
