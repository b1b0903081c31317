package cache

import (
	"path/filepath"
	"testing"
	"time"
)

// Export/Import round-trips the stored representation and metadata.
func TestPersist_ExportImport(t *testing.T) {
	t.Parallel()

	src := newTestCache(t, Config{MaxSize: 1 << 20})

	if err := src.Set("a", "alpha", &SetOptions{TTL: time.Hour, Tags: []string{"letters"}}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := src.Set("n", 42.0, &SetOptions{TTL: time.Hour}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst := newTestCache(t, Config{MaxSize: 1 << 20})
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if v, ok, err := dst.Get("a"); err != nil || !ok || v != "alpha" {
		t.Fatalf("imported a: v=%v ok=%v err=%v", v, ok, err)
	}
	if v, ok, err := dst.Get("n"); err != nil || !ok || v != 42.0 {
		t.Fatalf("imported n: v=%v ok=%v err=%v", v, ok, err)
	}

	// Tag index is rebuilt on import.
	if n := dst.InvalidateByTag("letters"); n != 1 {
		t.Fatalf("tag invalidation after import removed %d, want 1", n)
	}
}

// Entries that expired between export and import are dropped.
func TestPersist_ImportSkipsExpired(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{t: 1}
	src := newTestCache(t, Config{MaxSize: 1 << 20, Clock: clk})

	_ = src.Set("short", "v", &SetOptions{TTL: time.Millisecond})
	_ = src.Set("long", "v", &SetOptions{TTL: time.Hour})

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	clk.add(time.Minute)
	dst := newTestCache(t, Config{MaxSize: 1 << 20, Clock: clk})
	if err := dst.Import(data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if dst.Has("short") {
		t.Fatal("expired entry must not be imported")
	}
	if !dst.Has("long") {
		t.Fatal("unexpired entry must be imported")
	}
}

// A persisted cache warm-starts from its snapshot after Close/New.
func TestPersist_WarmRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.snap")

	cfg := Config{
		MaxSize:       1 << 20,
		PersistToDisk: true,
		PersistPath:   path,
	}

	c1, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c1.Set("persisted", "survives", &SetOptions{TTL: time.Hour}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c1.Close(); err != nil { // final snapshot on Close
		t.Fatalf("Close: %v", err)
	}

	c2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	t.Cleanup(func() { _ = c2.Close() })

	if v, ok, err := c2.Get("persisted"); err != nil || !ok || v != "survives" {
		t.Fatalf("after restart: v=%v ok=%v err=%v", v, ok, err)
	}
}

// A cold start with no snapshot file is not an error.
func TestPersist_ColdStart(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Config{
		MaxSize:       1 << 20,
		PersistToDisk: true,
		PersistPath:   filepath.Join(t.TempDir(), "missing.snap"),
	})
	if c.Has("anything") {
		t.Fatal("cold start must be empty")
	}
}
