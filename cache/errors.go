package cache

import "errors"

// Sentinel errors returned by the cache.
//
// A plain miss is not an error: lookup methods return (nil, false, nil).
var (
	// ErrChecksumMismatch reports that a stored payload failed integrity
	// verification on read. This indicates corruption, not absence; callers
	// should fall through to the source of truth, same as a cold cache.
	ErrChecksumMismatch = errors.New("cache: checksum mismatch")

	// ErrValueTooLarge reports that a single entry exceeds MaxSize even with
	// every other entry evicted. Set fails instead of evicting forever.
	ErrValueTooLarge = errors.New("cache: value exceeds max size")

	// ErrClosed reports an operation against a closed cache.
	ErrClosed = errors.New("cache: closed")

	// ErrEncryptionKey reports a missing or malformed encryption key when
	// encryption is requested.
	ErrEncryptionKey = errors.New("cache: encryption key must be 16, 24 or 32 bytes")
)
