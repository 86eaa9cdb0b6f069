// Package lsmkv is an embedded, single-writer, crash-durable key-value
// store organized as a leveled LSM tree. Keys and values are opaque byte
// sequences; deletes are represented internally as tombstones that
// propagate through compaction until they reach the deepest level.
package lsmkv

import "github.com/nyasuto/lsmkv/internal/storage"

// Config configures a DB instance. See storage.Config for field
// documentation; this type is a re-export so callers don't need to import
// the internal package directly.
type Config = storage.Config

// Event is a diagnostic event delivered to Config.Observer when
// Config.Verbose is set.
type Event = storage.Event

const (
	EventManifestLoaded      = storage.ManifestLoaded
	EventFlushStarted        = storage.FlushStarted
	EventFlushCompleted      = storage.FlushCompleted
	EventCompactionStarted   = storage.CompactionStarted
	EventCompactionCompleted = storage.CompactionCompleted
)

var (
	ErrClosed        = storage.ErrClosed
	ErrKeyTooLarge   = storage.ErrKeyTooLarge
	ErrValueTooLarge = storage.ErrValueTooLarge
	ErrEmptyKey      = storage.ErrEmptyKey
)

// DefaultConfig returns the engine's documented defaults for every field
// except DataDir.
func DefaultConfig(dataDir string) Config {
	return storage.DefaultConfig(dataDir)
}

// DB is an open handle to an LSM-tree key-value store rooted at one data
// directory. A DB is not safe for concurrent use: the engine assumes a
// single logical writer.
type DB struct {
	engine *storage.Storage
}

// Open creates data_dir if absent, recovers the manifest and WAL, and
// returns a ready DB.
func Open(cfg Config) (*DB, error) {
	engine, err := storage.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{engine: engine}, nil
}

// Put writes key=value, durable before this call returns.
func (db *DB) Put(key, value []byte) error {
	return db.engine.Put(key, value)
}

// Delete marks key as deleted. Deleting an absent key succeeds.
func (db *DB) Delete(key []byte) error {
	return db.engine.Delete(key)
}

// Get returns the value for key and found=true, or found=false if the key
// is absent or was deleted.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	return db.engine.Get(key)
}

// Stats returns a snapshot of engine counters.
func (db *DB) Stats() storage.Stats {
	return db.engine.Stats()
}

// Close releases the directory lock and file handles. Any unflushed
// MemTable remains recoverable via the WAL on next Open.
func (db *DB) Close() error {
	return db.engine.Close()
}
