package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/singleflight"
	"github.com/tiercache/tiercache/internal/util"
	"github.com/tiercache/tiercache/policy"
)

// AdvancedCache is a size-bounded in-memory cache with per-entry TTL,
// tag/pattern invalidation, pluggable eviction and optional
// compression/encryption of stored payloads.
//
// One RWMutex guards the entry map, the tag index, the timer table and
// eviction selection; operations on one instance never observe a
// half-inserted or half-evicted entry. Hot hit/miss counters live on padded
// atomics outside the lock.
type AdvancedCache struct {
	cfg Config
	pol policy.Policy
	res *resolver
	cod codec
	log *zap.Logger

	mu       sync.RWMutex
	entries  map[string]*Entry
	tagIndex map[string]map[string]struct{} // tag -> set of keys
	timers   map[string]*time.Timer
	usage    int64 // sum of entry sizes, bytes

	closed atomic.Bool
	sf     singleflight.Group
	incMu  sync.Mutex // serializes read-modify-write in Increment

	hits      util.PaddedAtomicInt64
	misses    util.PaddedAtomicInt64
	evictions util.PaddedAtomicInt64
	accessNs  util.PaddedAtomicInt64

	stop chan struct{}
	done chan struct{}
}

// New constructs a cache from cfg, reloads a persisted snapshot when
// persistence is enabled, and starts the background janitor.
// Configuration errors (unknown eviction policy, bad pattern regexp, bad
// encryption key) fail construction.
func New(cfg Config) (*AdvancedCache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pol, err := policy.FromName(cfg.EvictionPolicy)
	if err != nil {
		return nil, err
	}
	res, err := newResolver(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	c := &AdvancedCache{
		cfg:      cfg,
		pol:      pol,
		res:      res,
		cod:      codec{threshold: cfg.CompressionThreshold, key: cfg.EncryptionKey},
		log:      cfg.Logger,
		entries:  make(map[string]*Entry),
		tagIndex: make(map[string]map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.PersistToDisk {
		if err := c.loadSnapshot(); err != nil {
			// Warm-start data is best effort; a bad snapshot is not fatal.
			c.log.Warn("snapshot reload failed", zap.String("path", cfg.PersistPath), zap.Error(err))
		}
	}

	go c.run()
	return c, nil
}

var _ Interface = (*AdvancedCache)(nil)

// Get returns the value for key. See Interface.Get.
func (c *AdvancedCache) Get(key string) (any, bool, error) {
	if c.closed.Load() {
		return nil, false, nil
	}
	start := time.Now()
	defer func() { c.accessNs.Add(time.Since(start).Nanoseconds()) }()

	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.miss()
		return nil, false, nil
	}
	if e.expired(now) {
		c.removeEntryLocked(e)
		c.cfg.Metrics.Evict(EvictTTL)
		c.mu.Unlock()
		c.miss()
		return nil, false, nil
	}
	e.AccessCount++
	e.LastAccessed = now
	// Payload slices are never mutated after insert, so they can be decoded
	// outside the lock.
	payload, meta := e.Payload, e.Meta
	c.mu.Unlock()

	v, err := c.cod.decode(payload, meta)
	if err != nil {
		if errors.Is(err, ErrChecksumMismatch) {
			// Corrupt entries are dropped so the next read is a clean miss.
			c.Delete(key)
		}
		c.miss()
		return nil, false, fmt.Errorf("cache: key %q: %w", key, err)
	}

	c.hits.Add(1)
	c.cfg.Metrics.Hit()
	return v, true, nil
}

// Set stores value under key. See Interface.Set.
func (c *AdvancedCache) Set(key string, value any, opts *SetOptions) error {
	if c.closed.Load() {
		return ErrClosed
	}

	ttl, tags, compress, encrypt, source := c.resolve(key, opts)

	payload, meta, err := c.cod.encode(value, compress, encrypt, source)
	if err != nil {
		return err
	}
	size := int64(len(payload))
	now := c.now()

	var expiresAt int64
	if ttl > 0 {
		expiresAt = now + int64(ttl)
	}

	e := &Entry{
		Key:          key,
		Payload:      payload,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastAccessed: now,
		Tags:         tags,
		Size:         size,
		Meta:         meta,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insertLocked(e)
}

// insertLocked places e in the store, evicting first when the byte budget
// would be exceeded. Replacing an existing key frees its space before the
// budget check.
func (c *AdvancedCache) insertLocked(e *Entry) error {
	if e.Size > c.cfg.MaxSize {
		return fmt.Errorf("%w: key %q needs %d bytes, budget is %d", ErrValueTooLarge, e.Key, e.Size, c.cfg.MaxSize)
	}
	if old, ok := c.entries[e.Key]; ok {
		c.removeEntryLocked(old)
	}
	if need := c.usage + e.Size - c.cfg.MaxSize; need > 0 {
		c.evictLocked(need)
	}

	c.entries[e.Key] = e
	c.usage += e.Size
	for _, tag := range e.Tags {
		set := c.tagIndex[tag]
		if set == nil {
			set = make(map[string]struct{})
			c.tagIndex[tag] = set
		}
		set[e.Key] = struct{}{}
	}
	c.scheduleLocked(e.Key, e.ExpiresAt)
	c.cfg.Metrics.Size(len(c.entries), c.usage)
	return nil
}

// evictLocked removes entries in policy order until need bytes are freed.
// Ties inside a policy are broken by key so outcomes are reproducible.
func (c *AdvancedCache) evictLocked(need int64) {
	metas := make([]policy.Meta, 0, len(c.entries))
	for _, e := range c.entries {
		metas = append(metas, policy.Meta{
			Key:          e.Key,
			CreatedAt:    e.CreatedAt,
			ExpiresAt:    e.ExpiresAt,
			LastAccessed: e.LastAccessed,
			AccessCount:  e.AccessCount,
		})
	}
	sort.Slice(metas, func(i, j int) bool { return c.pol.Less(metas[i], metas[j]) })

	var freed int64
	for _, m := range metas {
		if freed >= need {
			break
		}
		e := c.entries[m.Key]
		freed += e.Size
		c.removeEntryLocked(e)
		c.evictions.Add(1)
		c.cfg.Metrics.Evict(EvictCapacity)
	}
}

// removeEntryLocked unmaps e, drops its tag index references and cancels
// its timer. Callers account evictions/metrics per removal reason.
func (c *AdvancedCache) removeEntryLocked(e *Entry) {
	delete(c.entries, e.Key)
	c.usage -= e.Size
	if c.usage < 0 {
		c.usage = 0
	}
	for _, tag := range e.Tags {
		if set, ok := c.tagIndex[tag]; ok {
			delete(set, e.Key)
			if len(set) == 0 {
				delete(c.tagIndex, tag)
			}
		}
	}
	if t, ok := c.timers[e.Key]; ok {
		t.Stop()
		delete(c.timers, e.Key)
	}
}

// Delete removes key. See Interface.Delete.
func (c *AdvancedCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeEntryLocked(e)
	c.cfg.Metrics.Size(len(c.entries), c.usage)
	return true
}

// Has reports presence without mutating access stats. See Interface.Has.
func (c *AdvancedCache) Has(key string) bool {
	if c.closed.Load() {
		return false
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(now) {
		c.removeEntryLocked(e)
		c.cfg.Metrics.Evict(EvictTTL)
		return false
	}
	return true
}

// Clear removes everything and cancels all timers. See Interface.Clear.
func (c *AdvancedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.entries = make(map[string]*Entry)
	c.tagIndex = make(map[string]map[string]struct{})
	c.timers = make(map[string]*time.Timer)
	c.usage = 0
	c.cfg.Metrics.Size(0, 0)
}

// InvalidateByTag removes every entry carrying tag.
func (c *AdvancedCache) InvalidateByTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tagIndex[tag]
	if !ok {
		return 0
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			c.removeEntryLocked(e)
			c.cfg.Metrics.Evict(EvictInvalidate)
		}
	}
	c.cfg.Metrics.Size(len(c.entries), c.usage)
	return len(keys)
}

// InvalidateByPattern removes every entry whose key matches pattern.
func (c *AdvancedCache) InvalidateByPattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("cache: invalid pattern %q: %w", pattern, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []*Entry
	for k, e := range c.entries {
		if re.MatchString(k) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		c.removeEntryLocked(e)
		c.cfg.Metrics.Evict(EvictInvalidate)
	}
	c.cfg.Metrics.Size(len(c.entries), c.usage)
	return len(victims), nil
}

// MGet looks up every key independently. See Interface.MGet.
func (c *AdvancedCache) MGet(keys []string) ([]any, error) {
	values := make([]any, len(keys))
	var errs []error
	for i, k := range keys {
		v, ok, err := c.Get(k)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			values[i] = v
		}
	}
	return values, errors.Join(errs...)
}

// MSet stores every item independently. See Interface.MSet.
func (c *AdvancedCache) MSet(items []Item) error {
	var errs []error
	for _, it := range items {
		if err := c.Set(it.Key, it.Value, it.Options); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", it.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Increment adds delta to the numeric value under key.
func (c *AdvancedCache) Increment(key string, delta float64) (float64, error) {
	c.incMu.Lock()
	defer c.incMu.Unlock()

	cur := 0.0
	v, ok, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	if ok {
		f, isNum := v.(float64)
		if !isNum {
			return 0, fmt.Errorf("cache: key %q holds a non-numeric value", key)
		}
		cur = f
	}
	next := cur + delta
	if err := c.Set(key, next, nil); err != nil {
		return 0, err
	}
	return next, nil
}

// Decrement subtracts delta from the numeric value under key.
func (c *AdvancedCache) Decrement(key string, delta float64) (float64, error) {
	return c.Increment(key, -delta)
}

// GetOrSet returns the cached value or loads it via factory, coalescing
// concurrent loads for the same key.
func (c *AdvancedCache) GetOrSet(ctx context.Context, key string, factory func(context.Context) (any, error), opts *SetOptions) (any, error) {
	// Fast path. An integrity failure falls through to the factory, same
	// as a cold cache.
	if v, ok, err := c.Get(key); err == nil && ok {
		return v, nil
	}

	return c.sf.Do(ctx, key, func() (any, error) {
		// Double-check after flight join.
		if v, ok, err := c.Get(key); err == nil && ok {
			return v, nil
		}
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, v, opts); err != nil {
			return nil, err
		}
		return v, nil
	})
}

// Keys returns sorted unexpired keys, optionally regexp-filtered.
func (c *AdvancedCache) Keys(pattern string) ([]string, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("cache: invalid pattern %q: %w", pattern, err)
		}
	}
	now := c.now()
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		if e.expired(now) {
			continue
		}
		if re == nil || re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Entries returns copies of the unexpired entries, sorted by key.
func (c *AdvancedCache) Entries(pattern string) ([]Entry, error) {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("cache: invalid pattern %q: %w", pattern, err)
		}
	}
	now := c.now()
	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for k, e := range c.entries {
		if e.expired(now) {
			continue
		}
		if re == nil || re.MatchString(k) {
			out = append(out, e.clone())
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Warmup seeds keys that are not already present.
func (c *AdvancedCache) Warmup(items []Item) error {
	var errs []error
	for _, it := range items {
		if c.Has(it.Key) {
			continue
		}
		if err := c.Set(it.Key, it.Value, it.Options); err != nil {
			errs = append(errs, fmt.Errorf("key %q: %w", it.Key, err))
		}
	}
	return errors.Join(errs...)
}

// AddPattern appends p to the pattern list.
func (c *AdvancedCache) AddPattern(p Pattern) error { return c.res.add(p) }

// RemovePattern removes the first pattern structurally equal to p.
func (c *AdvancedCache) RemovePattern(p Pattern) bool { return c.res.remove(p) }

// Stats returns a point-in-time view of the counters.
func (c *AdvancedCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	c.mu.RLock()
	usage := c.usage
	count := len(c.entries)
	c.mu.RUnlock()

	s := Stats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		TotalRequests: total,
		MemoryUsage:   usage,
		EntryCount:    count,
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
		s.AvgAccessTime = time.Duration(c.accessNs.Load() / total)
	}
	return s
}

// Close stops the janitor, cancels timers and writes a final snapshot when
// persistence is enabled. Subsequent operations are no-ops.
func (c *AdvancedCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	<-c.done

	if c.cfg.PersistToDisk {
		if err := c.saveSnapshot(); err != nil {
			c.log.Warn("final snapshot failed", zap.String("path", c.cfg.PersistPath), zap.Error(err))
		}
	}

	c.mu.Lock()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[string]*time.Timer)
	c.mu.Unlock()
	return nil
}

// ---- helpers ----

// resolve applies the option > pattern > config precedence for one Set.
func (c *AdvancedCache) resolve(key string, opts *SetOptions) (ttl time.Duration, tags []string, compress, encrypt bool, source string) {
	ttl = c.cfg.DefaultTTL
	compress = c.cfg.EnableCompression
	encrypt = c.cfg.EnableEncryption

	if p, ok := c.res.match(key); ok {
		if p.TTL != 0 {
			ttl = p.TTL
		}
		if len(p.Tags) > 0 {
			tags = p.Tags
		}
		if p.Compress != nil {
			compress = *p.Compress
		}
		if p.Encrypt != nil {
			encrypt = *p.Encrypt
		}
	}
	if opts != nil {
		if opts.TTL != 0 {
			// Negative TTL disables expiration for this entry.
			ttl = opts.TTL
		}
		if len(opts.Tags) > 0 {
			tags = opts.Tags
		}
		if opts.Compress != nil {
			compress = *opts.Compress
		}
		if opts.Encrypt != nil {
			encrypt = *opts.Encrypt
		}
		source = opts.Source
	}
	return ttl, tags, compress, encrypt, source
}

// now returns the current instant in UnixNano, honoring an injected Clock.
func (c *AdvancedCache) now() int64 {
	if c.cfg.Clock != nil {
		return c.cfg.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

func (c *AdvancedCache) miss() {
	c.misses.Add(1)
	c.cfg.Metrics.Miss()
}
