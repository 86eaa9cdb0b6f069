package storage

// Config enumerates every tunable of the engine.
type Config struct {
	// DataDir is the filesystem directory for WAL and SSTables.
	DataDir string

	// MemtableFlushBytes is the size threshold, checked after every
	// mutation, that triggers a flush to a new Level-0 SSTable.
	MemtableFlushBytes int

	// L0TriggerFiles is the Level-0 file count that makes Level 0
	// eligible for compaction.
	L0TriggerFiles int

	// L0TriggerBytes is the total Level-0 byte size that makes Level 0
	// eligible for compaction.
	L0TriggerBytes int64

	// LevelSizeMultiplier scales the byte threshold of each level
	// beyond Level 1: threshold(N) = LevelBaseBytes * Multiplier^(N-1).
	LevelSizeMultiplier int

	// LevelBaseBytes is the byte threshold for Level 1, and also the
	// target size a compaction output file is split at.
	LevelBaseBytes int64

	// BloomFPRate is the target false-positive rate for every SSTable's
	// Bloom filter.
	BloomFPRate float64

	// Verbose enables delivery of diagnostic events to Observer.
	Verbose bool

	// Observer, when set and Verbose is true, receives flush and
	// compaction lifecycle events.
	Observer func(Event)

	// MaxKeySize and MaxValueSize bound a single record; Put/Delete
	// reject anything larger before touching the WAL.
	MaxKeySize   int
	MaxValueSize int
}

// DefaultConfig returns the engine's documented defaults for every field
// except DataDir, which the caller must set.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:             dataDir,
		MemtableFlushBytes:  512 * 1024,
		L0TriggerFiles:      4,
		L0TriggerBytes:      2 * 1024 * 1024,
		LevelSizeMultiplier: 4,
		LevelBaseBytes:      2 * 1024 * 1024,
		BloomFPRate:         0.01,
		MaxKeySize:          64 * 1024,
		MaxValueSize:        64 * 1024 * 1024,
	}
}
