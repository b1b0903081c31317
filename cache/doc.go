// Package cache provides a size-bounded in-memory cache with per-entry TTL,
// tag and pattern invalidation, pluggable eviction policies, optional
// compression/encryption of stored values, and best-effort disk snapshots.
//
// Design
//
//   - Concurrency: one RWMutex per cache instance guards the entry map, the
//     tag index, the timer table and eviction selection. Hot hit/miss
//     counters are padded atomics updated outside the lock.
//
//   - Storage: values are serialized to a byte payload on Set (JSON), then
//     optionally s2-compressed and AES-GCM encrypted. A checksum over the
//     final stored bytes is recorded and verified on every Get; a mismatch
//     surfaces as ErrChecksumMismatch rather than a silent miss.
//
//   - Sizing: an entry's cost against MaxSize is the measured length of its
//     stored payload, after any compression/encryption.
//
//   - Eviction: when an insert would exceed MaxSize, current entries are
//     ordered by the configured policy (lru, lfu, ttl, fifo — see the
//     policy package) and removed front-to-back until the insert fits.
//     Ties break by key, so eviction outcomes are reproducible.
//
//   - Expiration: every Set with a TTL schedules a one-shot timer; a
//     periodic janitor sweep is the backstop for missed timers, and Get/Has
//     drop found-but-expired entries eagerly. An entry is never served past
//     its deadline. Close cancels all timers and stops the janitor.
//
//   - Patterns: registered key patterns supply TTL/tags/compression/
//     encryption for Set calls that leave them unspecified. First matching
//     pattern in registration order wins; explicit options beat patterns,
//     patterns beat config defaults.
//
//   - GetOrSet: coalesces concurrent loads for the same key (singleflight),
//     so a missing hot key invokes its factory once per flight.
//
//   - Persistence: with PersistToDisk the janitor writes an s2-compressed
//     snapshot every SyncInterval and New reloads it on start. This is a
//     warm-start convenience, not a durability guarantee.
//
// Basic usage
//
//	c, err := cache.New(cache.Config{MaxSize: 1 << 20})
//	if err != nil { ... }
//	defer c.Close()
//
//	_ = c.Set("user:42", profile, &cache.SetOptions{
//	    TTL:  time.Minute,
//	    Tags: []string{"users"},
//	})
//	if v, ok, err := c.Get("user:42"); err == nil && ok {
//	    _ = v
//	}
//	n := c.InvalidateByTag("users") // purge after a write
//	_ = n
//
// For multi-node sharding with replication on top of this engine, see the
// distributed package.
package cache
