// Package storage implements the engine: the owner of the MemTable, the
// WAL, and the level manifest, and the only component that mutates any of
// them. It orchestrates writes, reads, flushes, and leveled compaction.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nyasuto/lsmkv/internal/memtable"
	"github.com/nyasuto/lsmkv/internal/sstable"
	"github.com/nyasuto/lsmkv/internal/wal"
)

var (
	// ErrClosed is returned by any operation on a closed engine.
	ErrClosed = errors.New("storage: engine is closed")
	// ErrKeyTooLarge is returned when a key exceeds Config.MaxKeySize.
	ErrKeyTooLarge = errors.New("storage: key exceeds maximum size")
	// ErrValueTooLarge is returned when a value exceeds Config.MaxValueSize.
	ErrValueTooLarge = errors.New("storage: value exceeds maximum size")
	// ErrEmptyKey is returned by Put/Delete for a zero-length key.
	ErrEmptyKey = errors.New("storage: key must be non-empty")
)

// Storage is the engine. An instance owns data_dir exclusively for its
// lifetime (see internal/storage/lock.go).
type Storage struct {
	cfg Config

	mem    *memtable.MemTable
	wal    *wal.WAL
	levels []*level
	nextID uint64

	lock   *dirLock
	closed bool

	stats Stats
}

// Open creates data_dir if absent, reconstructs the level manifest from
// existing SSTable files, replays the WAL into a fresh MemTable, and
// flushes immediately if the replayed MemTable already exceeds the flush
// threshold.
func Open(cfg Config) (*Storage, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("storage: DataDir must be set")
	}
	if err := mkdirAll(cfg.DataDir); err != nil {
		return nil, err
	}

	lock, err := acquireDirLock(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	s := &Storage{cfg: cfg, mem: memtable.New(), lock: lock}
	if err := s.loadManifest(); err != nil {
		lock.release()
		return nil, err
	}

	walPath := filepath.Join(cfg.DataDir, "wal.log")
	w, err := wal.Open(walPath)
	if err != nil {
		lock.release()
		return nil, err
	}
	s.wal = w

	if err := wal.Replay(walPath, func(e wal.Entry) error {
		switch e.Op {
		case wal.OpPut:
			s.mem.Put(e.Key, e.Value)
		case wal.OpDelete:
			s.mem.Delete(e.Key)
		}
		return nil
	}); err != nil {
		w.Close()
		lock.release()
		return nil, fmt.Errorf("storage: replay wal: %w", err)
	}

	if s.mem.Size() >= cfg.MemtableFlushBytes && s.mem.Len() > 0 {
		if err := s.flush(); err != nil {
			w.Close()
			lock.release()
			return nil, err
		}
	}

	return s, nil
}

// Put writes key=value. The operation is durable in the WAL before this
// call returns.
func (s *Storage) Put(key, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > s.cfg.MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > s.cfg.MaxValueSize {
		return ErrValueTooLarge
	}
	if err := s.wal.AppendPut(key, value); err != nil {
		return err
	}
	s.mem.Put(key, value)
	return s.afterMutation()
}

// Delete marks key as deleted. Deleting an absent key succeeds.
func (s *Storage) Delete(key []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > s.cfg.MaxKeySize {
		return ErrKeyTooLarge
	}
	if err := s.wal.AppendDelete(key); err != nil {
		return err
	}
	s.mem.Delete(key)
	return s.afterMutation()
}

func (s *Storage) afterMutation() error {
	if s.mem.Size() >= s.cfg.MemtableFlushBytes {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return s.compactIfNeeded()
}

// Get returns the value for key, or found=false if the key is absent or
// its newest record is a tombstone.
func (s *Storage) Get(key []byte) (value []byte, found bool, err error) {
	if s.closed {
		return nil, false, ErrClosed
	}
	if v, lookup := s.mem.Get(key); lookup != memtable.Absent {
		if lookup == memtable.Tombstoned {
			return nil, false, nil
		}
		return v, true, nil
	}

	if len(s.levels) > 0 {
		l0 := s.levels[0].tables
		for i := len(l0) - 1; i >= 0; i-- {
			lookup, v, bloomHit, err := l0[i].Get(key)
			s.countBloomLookup(bloomHit)
			if err != nil {
				return nil, false, err
			}
			switch lookup {
			case sstable.Present:
				return v, true, nil
			case sstable.Tombstoned:
				return nil, false, nil
			}
		}
	}

	for n := 1; n < len(s.levels); n++ {
		for _, t := range s.levels[n].tables {
			if !t.Overlaps(key, key) {
				continue
			}
			lookup, v, bloomHit, err := t.Get(key)
			s.countBloomLookup(bloomHit)
			if err != nil {
				return nil, false, err
			}
			switch lookup {
			case sstable.Present:
				return v, true, nil
			case sstable.Tombstoned:
				return nil, false, nil
			}
			break // disjoint ranges: at most one file at this level can hold key
		}
	}

	return nil, false, nil
}

// Close flushes nothing further (flush is always synchronous and complete
// by the time a mutating call returns) and releases all held resources.
// Any unflushed MemTable remains recoverable via the WAL on next Open.
func (s *Storage) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, l := range s.levels {
		for _, t := range l.tables {
			if err := t.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// flush drains the MemTable to a new Level-0 SSTable and rotates the WAL.
func (s *Storage) flush() error {
	records := s.mem.DrainSorted()
	if len(records) == 0 {
		return nil
	}

	s.emit(Event{Kind: FlushStarted})

	id := s.nextID
	s.nextID++
	path := filepath.Join(s.cfg.DataDir, sstFilename(0, id))
	if err := sstable.WriteFile(path, records, s.cfg.BloomFPRate); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	tbl, err := sstable.Open(path, id, 0)
	if err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}

	s.ensureLevel(0)
	s.levels[0].tables = append(s.levels[0].tables, tbl) // ascending id: newest last

	if err := s.wal.Rotate(); err != nil {
		return fmt.Errorf("storage: flush: rotate wal: %w", err)
	}

	s.stats.Flushes++
	s.emit(Event{
		Kind:        FlushCompleted,
		Level:       0,
		FileID:      id,
		RecordCount: len(records),
		Bytes:       tbl.Size(),
	})
	return nil
}

func mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create data dir: %w", err)
	}
	return nil
}
