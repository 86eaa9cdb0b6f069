package storage

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/nyasuto/lsmkv/internal/memtable"
	"github.com/nyasuto/lsmkv/internal/sstable"
)

// compactIfNeeded runs the leveled-compaction algorithm until no level is
// eligible. It runs synchronously inside the triggering Put/Delete, per
// the engine's single-threaded cooperative scheduling model.
func (s *Storage) compactIfNeeded() error {
	for {
		n, ok := s.pickEligibleLevel()
		if !ok {
			return nil
		}
		if err := s.compactLevel(n); err != nil {
			return err
		}
	}
}

func (s *Storage) pickEligibleLevel() (int, bool) {
	if len(s.levels) > 0 && s.levelEligible(0) {
		return 0, true
	}
	for n := 1; n < len(s.levels); n++ {
		if s.levelEligible(n) {
			return n, true
		}
	}
	return 0, false
}

func (s *Storage) levelEligible(n int) bool {
	l := s.levels[n]
	if n == 0 {
		return len(l.tables) >= s.cfg.L0TriggerFiles || l.totalBytes() >= s.cfg.L0TriggerBytes
	}
	return l.totalBytes() > s.levelByteThreshold(n)
}

// levelByteThreshold returns level_base_bytes * multiplier^(N-1) for N>=1.
func (s *Storage) levelByteThreshold(n int) int64 {
	threshold := s.cfg.LevelBaseBytes
	for i := 1; i < n; i++ {
		threshold *= int64(s.cfg.LevelSizeMultiplier)
	}
	return threshold
}

// ranked pairs a record with the (level, id) of the SSTable it came from,
// so duplicate keys across input tables can be resolved by the documented
// newest-wins rule: lower level wins; within the same level, higher id
// wins.
type ranked struct {
	memtable.Record
	level int
	id    uint64
}

func (r ranked) wins(other ranked) bool {
	if r.level != other.level {
		return r.level < other.level
	}
	return r.id > other.id
}

// compactLevel merges level n's selected inputs with overlapping files at
// level n+1 into one or more new level n+1 SSTables, then commits the
// result: write outputs (fsync'd, directory fsync'd), update the
// manifest, unlink inputs.
func (s *Storage) compactLevel(n int) error {
	source := s.levels[n]
	var inputs []*sstable.Table
	if n == 0 {
		inputs = append(inputs, source.tables...)
	} else {
		inputs = append(inputs, pickLowestMinKey(source.tables))
	}
	if len(inputs) == 0 {
		return nil
	}

	minKey, maxKey := combinedRange(inputs)

	target := n + 1
	s.ensureLevel(target)
	overlapping := overlappingTables(s.levels[target].tables, minKey, maxKey)
	allInputs := append(append([]*sstable.Table{}, inputs...), overlapping...)

	inputIDs := make([]uint64, len(allInputs))
	var bytesIn int64
	for i, t := range allInputs {
		inputIDs[i] = t.ID
		bytesIn += t.Size()
	}
	s.emit(Event{Kind: CompactionStarted, FromLevel: n, ToLevel: target, InputIDs: inputIDs})

	merged, err := mergeInputs(allInputs)
	if err != nil {
		return fmt.Errorf("storage: compact L%d->L%d: %w", n, target, err)
	}

	dropTombstones := s.isDeepest(target)
	var tombstonesDropped int
	records := make([]memtable.Record, 0, len(merged))
	for _, r := range merged {
		if r.Tombstone && dropTombstones {
			tombstonesDropped++
			continue
		}
		records = append(records, r.Record)
	}

	outputs, bytesOut, err := s.writeCompactionOutputs(target, records)
	if err != nil {
		return fmt.Errorf("storage: compact L%d->L%d: %w", n, target, err)
	}

	// Commit: manifest update, then unlink inputs.
	s.removeFromLevel(n, inputs)
	s.removeFromLevel(target, overlapping)
	s.levels[target].tables = append(s.levels[target].tables, outputs...)
	s.sortLevel(target)

	outputIDs := make([]uint64, len(outputs))
	for i, t := range outputs {
		outputIDs[i] = t.ID
	}

	for _, t := range allInputs {
		if err := t.Remove(); err != nil {
			return fmt.Errorf("storage: unlink compaction input: %w", err)
		}
	}

	s.stats.Compactions++
	s.emit(Event{
		Kind:              CompactionCompleted,
		FromLevel:         n,
		ToLevel:           target,
		InputIDs:          inputIDs,
		OutputIDs:         outputIDs,
		BytesIn:           bytesIn,
		BytesOut:          bytesOut,
		TombstonesDropped: tombstonesDropped,
	})
	return nil
}

// isDeepest reports whether level has no data at any level beyond it,
// i.e. a compaction output there needs no more tombstones to shadow
// deeper live data.
func (s *Storage) isDeepest(level int) bool {
	for n := level + 1; n < len(s.levels); n++ {
		if len(s.levels[n].tables) > 0 {
			return false
		}
	}
	return true
}

func pickLowestMinKey(tables []*sstable.Table) *sstable.Table {
	best := tables[0]
	for _, t := range tables[1:] {
		if compareBytes(t.MinKey(), best.MinKey()) < 0 {
			best = t
		}
	}
	return best
}

func combinedRange(tables []*sstable.Table) (min, max []byte) {
	min, max = tables[0].MinKey(), tables[0].MaxKey()
	for _, t := range tables[1:] {
		if compareBytes(t.MinKey(), min) < 0 {
			min = t.MinKey()
		}
		if compareBytes(t.MaxKey(), max) > 0 {
			max = t.MaxKey()
		}
	}
	return min, max
}

func overlappingTables(tables []*sstable.Table, minKey, maxKey []byte) []*sstable.Table {
	var out []*sstable.Table
	for _, t := range tables {
		if t.Overlaps(minKey, maxKey) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Storage) removeFromLevel(n int, remove []*sstable.Table) {
	removeSet := make(map[*sstable.Table]bool, len(remove))
	for _, t := range remove {
		removeSet[t] = true
	}
	kept := s.levels[n].tables[:0]
	for _, t := range s.levels[n].tables {
		if !removeSet[t] {
			kept = append(kept, t)
		}
	}
	s.levels[n].tables = kept
}

// mergeInputs performs a k-way merge of every input table's records,
// keeping only the newest record per duplicate key.
func mergeInputs(tables []*sstable.Table) ([]ranked, error) {
	byKey := make(map[string]ranked)
	for _, t := range tables {
		recs, err := t.Iter()
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			cand := ranked{Record: r, level: t.Level, id: t.ID}
			key := string(r.Key)
			if existing, ok := byKey[key]; !ok || cand.wins(existing) {
				byKey[key] = cand
			}
		}
	}

	out := make([]ranked, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return compareBytes(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// writeCompactionOutputs splits records into one or more new SSTables at
// level, closing the current output and starting a new one once it
// reaches level_base_bytes.
func (s *Storage) writeCompactionOutputs(level int, records []memtable.Record) ([]*sstable.Table, int64, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	var outputs []*sstable.Table
	var totalBytes int64
	var batch []memtable.Record
	var batchBytes int64

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		id := s.nextID
		s.nextID++
		path := filepath.Join(s.cfg.DataDir, sstFilename(level, id))
		if err := sstable.WriteFile(path, batch, s.cfg.BloomFPRate); err != nil {
			return err
		}
		tbl, err := sstable.Open(path, id, level)
		if err != nil {
			return err
		}
		outputs = append(outputs, tbl)
		totalBytes += tbl.Size()
		batch = nil
		batchBytes = 0
		return nil
	}

	for _, r := range records {
		batch = append(batch, r)
		batchBytes += int64(len(r.Key) + len(r.Value))
		if batchBytes >= s.cfg.LevelBaseBytes {
			if err := flushBatch(); err != nil {
				return nil, 0, err
			}
		}
	}
	if err := flushBatch(); err != nil {
		return nil, 0, err
	}
	return outputs, totalBytes, nil
}
