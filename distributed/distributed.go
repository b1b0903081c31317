// Package distributed shards keys across multiple single-node caches using
// a consistent hash ring, with a configurable replication factor and
// consistency level.
//
// Nodes here are logical shards living in the same process; a real
// deployment would put a network proxy behind each node identifier. The
// fan-out semantics are the interesting part:
//
//   - Get probes the key's replica set in ring order and returns the first
//     hit. There is no read-repair: replicas that missed are left alone.
//   - Set under strong consistency writes all replicas concurrently and
//     fails if any replica write fails. Replicas that already succeeded are
//     not rolled back, so a failed strong Set can leave the key present on
//     a subset of its replica set.
//   - Set under eventual consistency returns immediately; replica writes
//     proceed in the background and failures are only logged.
//   - Delete removes the key from every replica and reports whether any
//     replica had it.
package distributed

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiercache/tiercache/cache"
	"github.com/tiercache/tiercache/ring"
)

// ConsistencyLevel selects the write acknowledgement discipline.
type ConsistencyLevel string

const (
	// ConsistencyEventual returns from Set immediately; replica writes
	// converge in the background.
	ConsistencyEventual ConsistencyLevel = "eventual"
	// ConsistencyStrong waits for every replica write before returning.
	ConsistencyStrong ConsistencyLevel = "strong"
)

// ShardingStrategy selects how keys map to nodes. Only consistent hashing
// is implemented.
type ShardingStrategy string

// ShardingHash routes keys via the consistent hash ring.
const ShardingHash ShardingStrategy = "hash"

// Configuration errors.
var (
	ErrNoNodes           = errors.New("distributed: node list is empty")
	ErrReplicationFactor = errors.New("distributed: replication factor must be between 1 and the node count")
	ErrConsistencyLevel  = errors.New("distributed: unknown consistency level")
	ErrShardingStrategy  = errors.New("distributed: unsupported sharding strategy")
	ErrUnknownNode       = errors.New("distributed: unknown node")
)

// ErrReplicaWrite wraps a failed replica write under strong consistency.
var ErrReplicaWrite = errors.New("distributed: replica write failed")

// Config configures a distributed cache. Node holds the per-node cache
// configuration; Nodes lists the logical node identifiers.
type Config struct {
	Node  cache.Config `yaml:"node"`
	Nodes []string     `yaml:"nodes"`

	// ReplicationFactor is the number of distinct nodes holding each key.
	ReplicationFactor int `yaml:"replication_factor"`

	// ConsistencyLevel defaults to eventual.
	ConsistencyLevel ConsistencyLevel `yaml:"consistency_level"`

	// ShardingStrategy defaults to hash (the only supported strategy).
	ShardingStrategy ShardingStrategy `yaml:"sharding_strategy"`

	// VirtualNodes per physical node on the ring; <= 0 selects the ring
	// package default.
	VirtualNodes int `yaml:"virtual_nodes"`
}

func (c Config) withDefaults() Config {
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.ConsistencyLevel == "" {
		c.ConsistencyLevel = ConsistencyEventual
	}
	if c.ShardingStrategy == "" {
		c.ShardingStrategy = ShardingHash
	}
	return c
}

func (c Config) validate() error {
	if len(c.Nodes) == 0 {
		return ErrNoNodes
	}
	if c.ReplicationFactor < 1 || c.ReplicationFactor > len(c.Nodes) {
		return fmt.Errorf("%w: factor %d, %d nodes", ErrReplicationFactor, c.ReplicationFactor, len(c.Nodes))
	}
	switch c.ConsistencyLevel {
	case ConsistencyEventual, ConsistencyStrong:
	default:
		return fmt.Errorf("%w: %q", ErrConsistencyLevel, c.ConsistencyLevel)
	}
	if c.ShardingStrategy != ShardingHash {
		return fmt.Errorf("%w: %q", ErrShardingStrategy, c.ShardingStrategy)
	}
	return nil
}

// Cache fans operations out to a replica set of single-node caches chosen
// by the consistent hash ring. Safe for concurrent use.
type Cache struct {
	cfg  Config
	ring *ring.Ring
	log  *zap.Logger

	mu    sync.RWMutex
	nodes map[string]*cache.AdvancedCache

	closed  atomic.Bool
	pending sync.WaitGroup // in-flight eventual writes
}

// New validates cfg, builds one single-node cache per node identifier and
// places the nodes on the ring.
func New(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Node.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d := &Cache{
		cfg:   cfg,
		ring:  ring.New(cfg.Nodes, cfg.VirtualNodes),
		log:   log,
		nodes: make(map[string]*cache.AdvancedCache, len(cfg.Nodes)),
	}
	for _, id := range cfg.Nodes {
		n, err := newNodeCache(cfg.Node, id)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("distributed: node %q: %w", id, err)
		}
		d.nodes[id] = n
	}
	return d, nil
}

// newNodeCache builds one shard. Nodes persisting to disk get distinct
// snapshot paths so they do not clobber each other.
func newNodeCache(cfg cache.Config, id string) (*cache.AdvancedCache, error) {
	if cfg.PersistToDisk && cfg.PersistPath != "" {
		cfg.PersistPath = cfg.PersistPath + "." + id
	}
	return cache.New(cfg)
}

// Replicas returns the replica set responsible for key, in ring order.
func (d *Cache) Replicas(key string) []string {
	return d.ring.Lookup(key, d.cfg.ReplicationFactor)
}

// Get probes the replica set in order and returns the first hit.
// A replica reporting an integrity failure is logged and treated as a miss
// for routing: the next replica may still hold a clean copy.
func (d *Cache) Get(key string) (any, bool, error) {
	if d.closed.Load() {
		return nil, false, nil
	}
	for _, id := range d.Replicas(key) {
		n := d.node(id)
		if n == nil {
			continue
		}
		v, ok, err := n.Get(key)
		if err != nil {
			d.log.Warn("replica read failed", zap.String("node", id), zap.String("key", key), zap.Error(err))
			continue
		}
		if ok {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Set writes key to its replica set according to the consistency level.
func (d *Cache) Set(key string, value any, opts *cache.SetOptions) error {
	if d.closed.Load() {
		return cache.ErrClosed
	}
	replicas := d.Replicas(key)
	if len(replicas) == 0 {
		return ErrNoNodes
	}

	if d.cfg.ConsistencyLevel == ConsistencyStrong {
		var g errgroup.Group
		for _, id := range replicas {
			id := id
			g.Go(func() error {
				n := d.node(id)
				if n == nil {
					return fmt.Errorf("%w: %q", ErrUnknownNode, id)
				}
				if err := n.Set(key, value, opts); err != nil {
					return fmt.Errorf("%w: node %q: %w", ErrReplicaWrite, id, err)
				}
				return nil
			})
		}
		// All-or-nothing at the call boundary only: replicas that already
		// succeeded stay written when a later one fails.
		return g.Wait()
	}

	for _, id := range replicas {
		id := id
		d.pending.Add(1)
		go func() {
			defer d.pending.Done()
			n := d.node(id)
			if n == nil {
				d.log.Warn("replica write skipped", zap.String("node", id), zap.String("key", key))
				return
			}
			if err := n.Set(key, value, opts); err != nil {
				d.log.Warn("replica write failed", zap.String("node", id), zap.String("key", key), zap.Error(err))
			}
		}()
	}
	return nil
}

// Delete removes key from every replica. Returns whether any replica had it.
func (d *Cache) Delete(key string) bool {
	if d.closed.Load() {
		return false
	}
	existed := false
	for _, id := range d.Replicas(key) {
		if n := d.node(id); n != nil && n.Delete(key) {
			existed = true
		}
	}
	return existed
}

// Has reports whether any replica holds an unexpired copy of key.
func (d *Cache) Has(key string) bool {
	if d.closed.Load() {
		return false
	}
	for _, id := range d.Replicas(key) {
		if n := d.node(id); n != nil && n.Has(key) {
			return true
		}
	}
	return false
}

// InvalidateByTag purges tag on every node and returns the total removed.
func (d *Cache) InvalidateByTag(tag string) int {
	total := 0
	for _, n := range d.allNodes() {
		total += n.InvalidateByTag(tag)
	}
	return total
}

// InvalidateByPattern purges matching keys on every node.
func (d *Cache) InvalidateByPattern(pattern string) (int, error) {
	total := 0
	for _, n := range d.allNodes() {
		c, err := n.InvalidateByPattern(pattern)
		if err != nil {
			return total, err
		}
		total += c
	}
	return total, nil
}

// AddNode places a new empty node on the ring. Existing keys are not
// migrated; the remapped share of the keyspace repopulates on demand.
func (d *Cache) AddNode(id string) error {
	if d.closed.Load() {
		return cache.ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[id]; ok {
		return fmt.Errorf("distributed: node %q already present", id)
	}
	n, err := newNodeCache(d.cfg.Node, id)
	if err != nil {
		return fmt.Errorf("distributed: node %q: %w", id, err)
	}
	d.nodes[id] = n
	d.ring.Add(id)
	return nil
}

// RemoveNode takes a node off the ring and closes its store.
// Keys it held are lost unless replicated elsewhere.
func (d *Cache) RemoveNode(id string) error {
	d.mu.Lock()
	n, ok := d.nodes[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if len(d.nodes)-1 < d.cfg.ReplicationFactor {
		d.mu.Unlock()
		return fmt.Errorf("%w: removing %q leaves fewer nodes than the replication factor", ErrReplicationFactor, id)
	}
	delete(d.nodes, id)
	d.ring.Remove(id)
	d.mu.Unlock()
	return n.Close()
}

// Node returns the single-node cache behind id, or nil if unknown.
// Intended for introspection and tests.
func (d *Cache) Node(id string) *cache.AdvancedCache { return d.node(id) }

// Nodes returns the node identifiers currently on the ring.
func (d *Cache) Nodes() []string { return d.ring.Nodes() }

// Stats returns the counters aggregated across all nodes.
func (d *Cache) Stats() cache.Stats {
	var agg cache.Stats
	for _, n := range d.allNodes() {
		agg = cache.Merge(agg, n.Stats())
	}
	return agg
}

// NodeStats returns per-node counters keyed by node identifier.
func (d *Cache) NodeStats() map[string]cache.Stats {
	out := make(map[string]cache.Stats)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id, n := range d.nodes {
		out[id] = n.Stats()
	}
	return out
}

// Close waits for in-flight eventual writes and closes every node.
func (d *Cache) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.pending.Wait()

	var errs []error
	for id, n := range d.allNodesByID() {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("node %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Cache) node(id string) *cache.AdvancedCache {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nodes[id]
}

func (d *Cache) allNodes() []*cache.AdvancedCache {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*cache.AdvancedCache, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out
}

func (d *Cache) allNodesByID() map[string]*cache.AdvancedCache {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*cache.AdvancedCache, len(d.nodes))
	for id, n := range d.nodes {
		out[id] = n
	}
	return out
}
