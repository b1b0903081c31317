package cache

import (
	"time"

	"go.uber.org/zap"
)

// run is the background janitor: it sweeps expired entries every
// CleanupInterval as a backstop against missed timers (e.g. after a restart
// with persisted state), refreshes the size gauges, and snapshots to disk
// every SyncInterval when persistence is enabled. It exits on Close.
func (c *AdvancedCache) run() {
	defer close(c.done)

	sweep := time.NewTicker(c.cfg.CleanupInterval)
	defer sweep.Stop()

	var sync <-chan time.Time
	if c.cfg.PersistToDisk {
		t := time.NewTicker(c.cfg.SyncInterval)
		defer t.Stop()
		sync = t.C
	}

	for {
		select {
		case <-c.stop:
			return
		case <-sweep.C:
			if n := c.SweepExpired(); n > 0 {
				c.log.Debug("sweep removed expired entries", zap.Int("count", n))
			}
		case <-sync:
			if err := c.saveSnapshot(); err != nil {
				c.log.Warn("snapshot failed", zap.String("path", c.cfg.PersistPath), zap.Error(err))
			}
		}
	}
}

// SweepExpired removes every expired entry and returns the number removed.
func (c *AdvancedCache) SweepExpired() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*Entry
	for _, e := range c.entries {
		if e.expired(now) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		c.removeEntryLocked(e)
		c.cfg.Metrics.Evict(EvictTTL)
	}
	c.cfg.Metrics.Size(len(c.entries), c.usage)
	return len(victims)
}

// scheduleLocked replaces the one-shot expiration timer for key.
// expiresAt == 0 (no TTL) only cancels a previous timer.
func (c *AdvancedCache) scheduleLocked(key string, expiresAt int64) {
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
	if expiresAt == 0 {
		return
	}
	d := time.Duration(expiresAt - c.now())
	if d < 0 {
		d = 0
	}
	c.timers[key] = time.AfterFunc(d, func() { c.expire(key) })
}

// expire is the timer callback. It re-checks the deadline under the lock
// against the cache's clock before removing: with an injected test clock
// the wall-clock timer may fire early, in which case the entry stays and
// the sweep or a lazy access handles it later.
func (c *AdvancedCache) expire(key string) {
	if c.closed.Load() {
		return
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.expired(now) {
		return
	}
	c.removeEntryLocked(e)
	c.cfg.Metrics.Evict(EvictTTL)
	c.cfg.Metrics.Size(len(c.entries), c.usage)
}
