package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/s2"
)

// snapshotVersion guards the on-disk encoding. Bump on incompatible change.
const snapshotVersion = 1

// snapshot is the serialized form of the store: the stored representation
// and metadata of every entry, verbatim, so Export/Import round-trip exactly.
type snapshot struct {
	Version int     `json:"version"`
	SavedAt int64   `json:"saved_at"`
	Entries []Entry `json:"entries"`
}

// Export serializes every unexpired entry. See Interface.Export.
func (c *AdvancedCache) Export() ([]byte, error) {
	now := c.now()
	c.mu.RLock()
	snap := snapshot{Version: snapshotVersion, SavedAt: now}
	for _, e := range c.entries {
		if e.expired(now) {
			continue
		}
		snap.Entries = append(snap.Entries, e.clone())
	}
	c.mu.RUnlock()
	return json.Marshal(snap)
}

// Import loads a snapshot produced by Export. Entries that expired in the
// meantime are skipped; the rest replace existing keys, get their timers
// rescheduled, and count against the byte budget (evicting if needed).
func (c *AdvancedCache) Import(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("cache: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("cache: unsupported snapshot version %d", snap.Version)
	}

	now := c.now()
	var errs []error
	c.mu.Lock()
	for i := range snap.Entries {
		e := snap.Entries[i]
		if e.expired(now) {
			continue
		}
		if err := c.insertLocked(&e); err != nil {
			errs = append(errs, err)
		}
	}
	c.mu.Unlock()
	return errors.Join(errs...)
}

// saveSnapshot writes the export payload, s2-compressed, to PersistPath.
// The write goes through a temp file and rename so readers never observe a
// torn snapshot.
func (c *AdvancedCache) saveSnapshot() error {
	data, err := c.Export()
	if err != nil {
		return err
	}
	packed := s2.Encode(nil, data)

	dir := filepath.Dir(c.cfg.PersistPath)
	tmp, err := os.CreateTemp(dir, ".tiercache-*")
	if err != nil {
		return fmt.Errorf("cache: snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(packed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: snapshot write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: snapshot close: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.cfg.PersistPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cache: snapshot rename: %w", err)
	}
	return nil
}

// loadSnapshot reloads PersistPath if it exists. A missing file is not an
// error (cold start).
func (c *AdvancedCache) loadSnapshot() error {
	packed, err := os.ReadFile(c.cfg.PersistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cache: snapshot read: %w", err)
	}
	data, err := s2.Decode(nil, packed)
	if err != nil {
		return fmt.Errorf("cache: snapshot decompress: %w", err)
	}
	return c.Import(data)
}
