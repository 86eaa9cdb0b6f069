package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/nyasuto/lsmkv/internal/sstable"
)

// level is one tier of the manifest: Level 0 is ordered by id (newest
// last); Level N >= 1 is ordered by minimum key, and its files have
// pairwise disjoint key ranges.
type level struct {
	num    int
	tables []*sstable.Table
}

func (l *level) totalBytes() int64 {
	var total int64
	for _, t := range l.tables {
		total += t.Size()
	}
	return total
}

// sstFilename returns the canonical name for a Level-N SSTable with the
// given id.
func sstFilename(levelNum int, id uint64) string {
	return fmt.Sprintf("L%d-%d.sst", levelNum, id)
}

var sstFilenamePattern = regexp.MustCompile(`^L(\d+)-(\d+)\.sst$`)

// parseSSTFilename extracts (level, id) from a canonical SSTable filename.
// ok is false for any name that doesn't match the pattern exactly.
func parseSSTFilename(name string) (levelNum int, id uint64, ok bool) {
	m := sstFilenamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	lvl, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	fid, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return lvl, fid, true
}

// ensureLevel grows s.levels so that index n is valid.
func (s *Storage) ensureLevel(n int) {
	for len(s.levels) <= n {
		s.levels = append(s.levels, &level{num: len(s.levels)})
	}
}

// sortLevel orders a level's tables per the manifest discipline: Level 0
// by ascending id (newest last); Level N >= 1 by ascending MinKey.
func (s *Storage) sortLevel(n int) {
	tables := s.levels[n].tables
	if n == 0 {
		sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	} else {
		sort.Slice(tables, func(i, j int) bool {
			return compareBytes(tables[i].MinKey(), tables[j].MinKey()) < 0
		})
	}
}

// loadManifest scans data_dir for existing SSTables, reconstructing the
// level manifest and the next-id counter. Any .sst file whose name does
// not match the canonical pattern is an orphan and is removed. On success
// it emits a ManifestLoaded event reporting what it found, for a caller
// that wants to log what Open recovered without instrumenting it itself.
func (s *Storage) loadManifest() error {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("storage: read data dir: %w", err)
	}

	var maxID uint64
	var orphansRemoved int
	haveAny := false
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != ".sst" {
			continue
		}
		levelNum, id, ok := parseSSTFilename(name)
		if !ok {
			if err := os.Remove(filepath.Join(s.cfg.DataDir, name)); err != nil {
				return fmt.Errorf("storage: remove orphan %s: %w", name, err)
			}
			orphansRemoved++
			continue
		}
		tbl, err := sstable.Open(filepath.Join(s.cfg.DataDir, name), id, levelNum)
		if err != nil {
			return fmt.Errorf("storage: open %s: %w", name, err)
		}
		s.ensureLevel(levelNum)
		s.levels[levelNum].tables = append(s.levels[levelNum].tables, tbl)
		if id > maxID || !haveAny {
			maxID = id
		}
		haveAny = true
	}

	for n := range s.levels {
		s.sortLevel(n)
	}
	if haveAny {
		s.nextID = maxID + 1
	}

	recoveredPerLevel := make([]int, len(s.levels))
	for i, l := range s.levels {
		recoveredPerLevel[i] = len(l.tables)
	}
	s.emit(Event{
		Kind:              ManifestLoaded,
		RecoveredPerLevel: recoveredPerLevel,
		OrphansRemoved:    orphansRemoved,
	})
	return nil
}

func compareBytes(a, b []byte) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}
