package cache

import "context"

// Interface is the single-node cache contract.
// All methods are safe for concurrent use by multiple goroutines.
//
// A miss is (nil, false, nil) — never an error. A non-nil error from Get
// means the stored payload failed integrity verification or could not be
// reversed; callers should treat it like a cold cache and fall through to
// the source of truth.
type Interface interface {
	// Get returns the original value for key, a presence flag, and an
	// error for integrity failures. On hit, the entry's access counter and
	// last-access time are updated. A found-but-expired entry is removed
	// and reported as a miss.
	Get(key string) (any, bool, error)

	// Set stores value under key. Effective TTL, tags and the
	// compression/encryption flags come from opts when specified, else
	// from the first matching registered pattern, else from the Config
	// defaults. If the stored payload would push usage past MaxSize,
	// entries are evicted first according to the configured policy.
	Set(key string, value any, opts *SetOptions) error

	// Delete removes key and its scheduled expiration.
	// Returns whether the key existed.
	Delete(key string) bool

	// Has reports whether key is present and unexpired.
	// It does not mutate access statistics.
	Has(key string) bool

	// Clear removes all entries and cancels all scheduled expirations.
	Clear()

	// InvalidateByTag removes every entry whose tag set contains tag and
	// returns the number removed.
	InvalidateByTag(tag string) int

	// InvalidateByPattern removes every entry whose key matches the
	// regular expression and returns the number removed.
	InvalidateByPattern(pattern string) (int, error)

	// MGet is the batch form of Get. The result slice is parallel to keys
	// with nil at miss positions; per-key integrity errors are joined.
	MGet(keys []string) ([]any, error)

	// MSet is the batch form of Set. Items are applied independently: a
	// failure on one does not stop the others, and errors are joined.
	MSet(items []Item) error

	// Increment adds delta to the numeric value under key (0 if absent)
	// and stores the result. Concurrent increments are serialized.
	Increment(key string, delta float64) (float64, error)

	// Decrement is Increment with a negated delta.
	Decrement(key string, delta float64) (float64, error)

	// GetOrSet returns the cached value, or invokes factory, stores its
	// result with opts and returns it. Concurrent callers racing on the
	// same missing key are coalesced: factory runs at most once per flight.
	GetOrSet(ctx context.Context, key string, factory func(context.Context) (any, error), opts *SetOptions) (any, error)

	// Keys returns the unexpired keys, optionally filtered by a regular
	// expression, sorted ascending.
	Keys(pattern string) ([]string, error)

	// Entries returns copies of the unexpired entries, optionally
	// filtered by a regular expression over keys, sorted by key.
	Entries(pattern string) ([]Entry, error)

	// Stats returns a point-in-time view of the cumulative counters.
	Stats() Stats

	// Export serializes every unexpired entry (stored representation plus
	// metadata) into a snapshot that Import round-trips exactly.
	Export() ([]byte, error)

	// Import loads a snapshot produced by Export, skipping entries that
	// expired in the meantime. Imported keys replace existing ones.
	Import(data []byte) error

	// Warmup seeds keys that are not already present.
	Warmup(items []Item) error

	// AddPattern appends a pattern to the resolver list.
	AddPattern(p Pattern) error

	// RemovePattern removes the first structurally equal pattern.
	RemovePattern(p Pattern) bool

	// SweepExpired removes every expired entry immediately and returns the
	// number removed. The janitor calls this periodically; tests may call
	// it directly for deterministic control.
	SweepExpired() int

	// Close stops the janitor, cancels all expiration timers and, when
	// persistence is enabled, writes a final snapshot.
	Close() error
}
