package storage

// Stats is a point-in-time snapshot of engine counters. It is purely
// observational and never influences any invariant.
type Stats struct {
	Flushes      int
	Compactions  int
	LevelTables  []int
	LevelBytes   []int64
	MemtableSize int

	// BloomHits counts SSTable Get calls where the Bloom filter admitted
	// the key (a disk scan was attempted, whether or not it found a
	// match). BloomMisses counts calls where the filter rejected the key
	// outright, saving a disk scan.
	BloomHits   int
	BloomMisses int
}

// countBloomLookup updates the Bloom hit/miss counters for one SSTable
// consultation during Get.
func (s *Storage) countBloomLookup(hit bool) {
	if hit {
		s.stats.BloomHits++
	} else {
		s.stats.BloomMisses++
	}
}

// Stats returns a snapshot of the engine's current counters and level
// occupancy.
func (s *Storage) Stats() Stats {
	out := s.stats
	out.MemtableSize = s.mem.Size()
	out.LevelTables = make([]int, len(s.levels))
	out.LevelBytes = make([]int64, len(s.levels))
	for i, l := range s.levels {
		out.LevelTables[i] = len(l.tables)
		out.LevelBytes[i] = l.totalBytes()
	}
	return out
}
