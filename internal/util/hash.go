// Package util contains internal helpers (hashing, padded counters).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// Fnv64a hashes s using 64-bit FNV-1a.
// Deterministic and stable across process restarts, which is what ring
// placement relies on. Not a cryptographic hash; do not use it for
// integrity checks.
func Fnv64a(s string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime64
	}
	return h
}

// Fnv64aBytes is the []byte counterpart of Fnv64a.
func Fnv64aBytes(b []byte) uint64 {
	h := uint64(fnvOffset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}
