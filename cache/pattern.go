package cache

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Pattern carries per-key-class overrides for TTL, tags and the
// compression/encryption flags. The Pattern field is a regular expression
// matched against keys at Set time. The first registered pattern that
// matches wins; explicit SetOptions always take precedence over a matching
// pattern, which takes precedence over the Config defaults.
type Pattern struct {
	Pattern  string        `yaml:"pattern"`
	TTL      time.Duration `yaml:"ttl"`
	Tags     []string      `yaml:"tags"`
	Compress *bool         `yaml:"compress"`
	Encrypt  *bool         `yaml:"encrypt"`
}

// equal is structural equality over the pattern definition, used by
// RemovePattern.
func (p Pattern) equal(other Pattern) bool {
	if p.Pattern != other.Pattern || p.TTL != other.TTL {
		return false
	}
	if len(p.Tags) != len(other.Tags) {
		return false
	}
	for i := range p.Tags {
		if p.Tags[i] != other.Tags[i] {
			return false
		}
	}
	return boolPtrEqual(p.Compress, other.Compress) && boolPtrEqual(p.Encrypt, other.Encrypt)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

type compiledPattern struct {
	spec Pattern
	re   *regexp.Regexp
}

// resolver holds the ordered pattern list. It is a pure lookup structure:
// matching has no side effects, and registration order decides precedence.
type resolver struct {
	mu       sync.RWMutex
	patterns []compiledPattern
}

func newResolver(patterns []Pattern) (*resolver, error) {
	r := &resolver{}
	for _, p := range patterns {
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// add appends p to the pattern list, compiling its regular expression.
func (r *resolver) add(p Pattern) error {
	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return fmt.Errorf("cache: invalid pattern %q: %w", p.Pattern, err)
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, compiledPattern{spec: p, re: re})
	r.mu.Unlock()
	return nil
}

// remove deletes the first pattern structurally equal to p.
// Returns whether a pattern was removed.
func (r *resolver) remove(p Pattern) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cp := range r.patterns {
		if cp.spec.equal(p) {
			r.patterns = append(r.patterns[:i], r.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// match returns the first pattern matching key, in registration order.
func (r *resolver) match(key string) (Pattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cp := range r.patterns {
		if cp.re.MatchString(key) {
			return cp.spec, true
		}
	}
	return Pattern{}, false
}
