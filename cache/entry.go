package cache

import "time"

// Metadata describes how an entry's payload is stored.
type Metadata struct {
	Version    int    `json:"version"`
	Source     string `json:"source,omitempty"`
	Compressed bool   `json:"compressed"`
	Encrypted  bool   `json:"encrypted"`
	Checksum   string `json:"checksum"`
}

// Entry is the stored form of a cached value plus the bookkeeping used for
// expiration and eviction decisions.
//
// Payload holds the serialized value after any compression/encryption;
// Size is the length of Payload in bytes (the number that counts against
// MaxSize). Instants are UnixNano; ExpiresAt == 0 means no expiration.
type Entry struct {
	Key          string   `json:"key"`
	Payload      []byte   `json:"payload"`
	CreatedAt    int64    `json:"created_at"`
	ExpiresAt    int64    `json:"expires_at"`
	LastAccessed int64    `json:"last_accessed"`
	AccessCount  int64    `json:"access_count"`
	Tags         []string `json:"tags,omitempty"`
	Size         int64    `json:"size"`
	Meta         Metadata `json:"meta"`
}

// expired reports whether the entry's deadline has passed at now (UnixNano).
func (e *Entry) expired(now int64) bool {
	return e.ExpiresAt != 0 && now > e.ExpiresAt
}

// clone returns a copy safe to hand out without the cache lock.
func (e *Entry) clone() Entry {
	out := *e
	out.Payload = append([]byte(nil), e.Payload...)
	out.Tags = append([]string(nil), e.Tags...)
	return out
}

// SetOptions overrides the pattern-derived and config-default behavior for a
// single Set. Zero TTL and nil Compress/Encrypt mean "not specified": the
// effective value then comes from the first matching pattern, or failing
// that from the Config defaults.
type SetOptions struct {
	TTL      time.Duration
	Tags     []string
	Compress *bool
	Encrypt  *bool
	Source   string
}

// Item is one key/value pair for the batch operations (MSet, Warmup).
type Item struct {
	Key     string
	Value   any
	Options *SetOptions
}
