package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func openTest(t *testing.T, cfg Config) *Storage {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// S1 — basic put/get/delete.
func TestScenarioBasicPutGetDelete(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	s := openTest(t, cfg)

	if err := s.Put([]byte("name"), []byte("John Doe")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := s.Get([]byte("name"))
	if err != nil || !found || !bytes.Equal(v, []byte("John Doe")) {
		t.Fatalf("Get(name) = (%q, %v, %v), want (John Doe, true, nil)", v, found, err)
	}
	if err := s.Delete([]byte("name")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, err := s.Get([]byte("name")); err != nil || found {
		t.Fatalf("Get(name) after delete = (found=%v, %v), want (false, nil)", found, err)
	}
}

// S2 — crash recovery.
func TestScenarioCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	s := openTest(t, cfg)
	if err := s.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Simulate a crash: drop the handle without calling Close (no flush,
	// no clean WAL rotation), then release the lock so a fresh Open
	// doesn't fail on contention.
	s.lock.release()
	s.closed = true

	reopened := openTest(t, cfg)
	v, found, err := reopened.Get([]byte("a"))
	if err != nil || !found || !bytes.Equal(v, []byte("1")) {
		t.Fatalf("Get(a) after recovery = (%q, %v, %v)", v, found, err)
	}
	v, found, err = reopened.Get([]byte("b"))
	if err != nil || !found || !bytes.Equal(v, []byte("2")) {
		t.Fatalf("Get(b) after recovery = (%q, %v, %v)", v, found, err)
	}
}

// S3 — flush and Level-0 read.
func TestScenarioFlushAndLevel0Read(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 1024

	s := openTest(t, cfg)
	walPath := filepath.Join(dir, "wal.log")
	keys := make([][]byte, 0, 20)
	for i := 0; i < 20; i++ {
		k := []byte(fmt.Sprintf("key-%02d", i))
		v := bytes.Repeat([]byte{'x'}, 94) // ~100 bytes per entry including key
		flushesBefore := s.Stats().Flushes
		if err := s.Put(k, v); err != nil {
			t.Fatalf("Put: %v", err)
		}
		keys = append(keys, k)
		if s.Stats().Flushes == flushesBefore {
			continue
		}
		// This Put flushed the MemTable; the WAL must be empty right now.
		// (The entries written after the last flush stay in the WAL.)
		info, err := os.Stat(walPath)
		if err != nil {
			t.Fatalf("Stat wal.log: %v", err)
		}
		if info.Size() != 0 {
			t.Fatalf("wal.log size = %d, want 0 after flush", info.Size())
		}
	}

	if len(s.levels) == 0 || len(s.levels[0].tables) == 0 {
		t.Fatalf("expected at least one Level-0 SSTable after flush")
	}
	for _, k := range keys {
		if _, found, err := s.Get(k); err != nil || !found {
			t.Fatalf("Get(%s) = (found=%v, %v), want found", k, found, err)
		}
	}
}

// S4 — Level-0 compaction.
func TestScenarioL0Compaction(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 64
	cfg.L0TriggerFiles = 4

	s := openTest(t, cfg)
	allKeys := make([][]byte, 0)
	for i := 0; i < 40; i++ {
		k := []byte(fmt.Sprintf("key-%03d", i))
		v := []byte("value-payload")
		if err := s.Put(k, v); err != nil {
			t.Fatalf("Put: %v", err)
		}
		allKeys = append(allKeys, k)
	}

	if len(s.levels[0].tables) > 3 {
		t.Fatalf("Level 0 has %d files, want <= 3", len(s.levels[0].tables))
	}
	if len(s.levels) < 2 || len(s.levels[1].tables) < 1 {
		t.Fatalf("expected Level 1 to have >= 1 file")
	}
	for _, k := range allKeys {
		if _, found, err := s.Get(k); err != nil || !found {
			t.Fatalf("Get(%s) = (found=%v, %v), want found", k, found, err)
		}
	}
}

// S5 — overwrite across levels.
func TestScenarioOverwriteAcrossLevels(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 1

	s := openTest(t, cfg)
	if err := s.Put([]byte("x"), []byte("v1")); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := s.Put([]byte("x"), []byte("v2")); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	// Force an explicit compaction regardless of trigger thresholds.
	if len(s.levels) > 0 && len(s.levels[0].tables) > 0 {
		if err := s.compactLevel(0); err != nil {
			t.Fatalf("compactLevel: %v", err)
		}
	}

	v, found, err := s.Get([]byte("x"))
	if err != nil || !found || !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("Get(x) = (%q, %v, %v), want (v2, true, nil)", v, found, err)
	}
}

// S6 — tombstone removal at deepest level.
func TestScenarioTombstoneRemovalAtDeepestLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 1

	s := openTest(t, cfg)
	if err := s.Put([]byte("x"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete([]byte("x")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Put then Delete each triggered their own flush (threshold=1), so
	// Level 0 now holds two files: [v1] and [tombstone]. Level 1 doesn't
	// exist yet, so this L0->L1 compaction writes to what is, at that
	// moment, the deepest level and must drop the tombstone.
	if err := s.compactLevel(0); err != nil {
		t.Fatalf("compactLevel: %v", err)
	}

	if _, found, err := s.Get([]byte("x")); err != nil || found {
		t.Fatalf("Get(x) = (found=%v, %v), want (false, nil)", found, err)
	}
	for _, l := range s.levels {
		for _, tbl := range l.tables {
			recs, err := tbl.Iter()
			if err != nil {
				t.Fatalf("Iter: %v", err)
			}
			for _, r := range recs {
				if string(r.Key) == "x" {
					t.Fatalf("tombstone for x still present at level %d", l.num)
				}
			}
		}
	}
}

// Invariant 3: Level >= 1 disjointness.
func TestLevelDisjointness(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 32
	cfg.L0TriggerFiles = 3

	s := openTest(t, cfg)
	for i := 0; i < 60; i++ {
		k := []byte(fmt.Sprintf("key-%03d", i))
		if err := s.Put(k, []byte("value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	for n := 1; n < len(s.levels); n++ {
		tables := s.levels[n].tables
		for i := 1; i < len(tables); i++ {
			if compareBytes(tables[i-1].MaxKey(), tables[i].MinKey()) >= 0 {
				t.Fatalf("level %d: table %d max %q >= table %d min %q", n, i-1, tables[i-1].MaxKey(), i, tables[i].MinKey())
			}
		}
	}
}

// Invariant 8: orphan cleanup on reopen.
func TestOrphanCleanupOnOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	s := openTest(t, cfg)
	if err := s.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	orphan := filepath.Join(dir, "junk-not-canonical.sst")
	if err := os.WriteFile(orphan, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile orphan: %v", err)
	}

	s2 := openTest(t, cfg)
	_ = s2
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan file still present after reopen: err=%v", err)
	}
}

// Invariant 4: shadowing — MemTable shadows SSTables; tombstone wins over
// older values.
func TestShadowing(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	s := openTest(t, cfg)
	if err := s.Put([]byte("a"), []byte("old")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Put([]byte("a"), []byte("new")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := s.Get([]byte("a"))
	if err != nil || !found || !bytes.Equal(v, []byte("new")) {
		t.Fatalf("Get(a) = (%q, %v, %v), want (new, true, nil)", v, found, err)
	}

	if err := s.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, err := s.Get([]byte("a")); err != nil || found {
		t.Fatalf("Get(a) after delete = (found=%v, %v), want (false, nil)", found, err)
	}
}

func TestDeleteAbsentKeySucceeds(t *testing.T) {
	s := openTest(t, DefaultConfig(t.TempDir()))
	if err := s.Delete([]byte("never-existed")); err != nil {
		t.Fatalf("Delete(absent) = %v, want nil", err)
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Put([]byte("a"), []byte("1")); err != ErrClosed {
		t.Fatalf("Put on closed = %v, want ErrClosed", err)
	}
	if _, _, err := s.Get([]byte("a")); err != ErrClosed {
		t.Fatalf("Get on closed = %v, want ErrClosed", err)
	}
}

func TestKeyTooLargeRejected(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.MaxKeySize = 4
	s := openTest(t, cfg)
	if err := s.Put([]byte("toolong"), []byte("v")); err != ErrKeyTooLarge {
		t.Fatalf("Put(oversized key) = %v, want ErrKeyTooLarge", err)
	}
}

func TestDirLockRejectsConcurrentOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	s := openTest(t, cfg)
	_ = s

	if _, err := Open(cfg); err == nil {
		t.Fatalf("second Open on locked dir = nil error, want error")
	}
}

func TestObserverReceivesEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 16
	cfg.Verbose = true

	var kinds []EventKind
	cfg.Observer = func(e Event) { kinds = append(kinds, e.Kind) }

	s := openTest(t, cfg)
	if err := s.Put([]byte("a"), []byte("some-value-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	found := false
	for _, k := range kinds {
		if k == FlushCompleted {
			found = true
		}
	}
	if !found {
		t.Fatalf("observer never saw FlushCompleted, got %v", kinds)
	}
}

func TestObserverReceivesManifestLoadedOnOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Verbose = true

	var events []Event
	cfg.Observer = func(e Event) { events = append(events, e) }

	s := openTest(t, cfg)
	if err := s.Put([]byte("a"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events = nil
	if _, err := os.Create(filepath.Join(dir, "not-an-sstable.sst")); err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var got *Event
	for i := range events {
		if events[i].Kind == ManifestLoaded {
			got = &events[i]
			break
		}
	}
	if got == nil {
		t.Fatalf("observer never saw ManifestLoaded on reopen, got %v", events)
	}
	if got.OrphansRemoved != 1 {
		t.Fatalf("OrphansRemoved = %d, want 1", got.OrphansRemoved)
	}
	if len(got.RecoveredPerLevel) == 0 || got.RecoveredPerLevel[0] != 1 {
		t.Fatalf("RecoveredPerLevel = %v, want [1]", got.RecoveredPerLevel)
	}
}

func TestStatsTracksBloomHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MemtableFlushBytes = 1
	s := openTest(t, cfg)

	if err := s.Put([]byte("present"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, _, err := s.Get([]byte("present")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, _, err := s.Get([]byte("definitely-absent-key")); err != nil {
		t.Fatalf("Get: %v", err)
	}

	stats := s.Stats()
	if stats.BloomHits+stats.BloomMisses == 0 {
		t.Fatalf("Stats() recorded no Bloom lookups at all: %+v", stats)
	}
}
