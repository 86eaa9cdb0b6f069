// Package sstable implements the immutable, sorted, on-disk run with an
// embedded Bloom filter. A table has no footer and no in-memory key index:
// point lookups are a linear scan from the first record with early
// termination once a record's key exceeds the query key.
package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nyasuto/lsmkv/internal/bloom"
	"github.com/nyasuto/lsmkv/internal/memtable"
)

// tombstoneSentinel marks a deleted record's value_size field.
const tombstoneSentinel = 0xFFFFFFFF

// maxReasonableSize guards against a garbage length field in a corrupted
// record driving an enormous allocation before the short read that would
// otherwise catch it.
const maxReasonableSize = 1 << 28

// ErrCorrupt is returned when a record's on-disk length field is larger
// than maxReasonableSize, indicating the file is corrupted rather than
// merely truncated.
var ErrCorrupt = errors.New("sstable: corrupt record")

// Lookup result, re-exported so callers don't need to import memtable for
// the shared tagged-variant type.
type Lookup = memtable.Lookup

const (
	Absent     = memtable.Absent
	Present    = memtable.Present
	Tombstoned = memtable.Tombstoned
)

// Table is a handle to an open, immutable on-disk SSTable.
type Table struct {
	ID    uint64
	Level int
	Path  string

	file       *os.File
	bloom      *bloom.Filter
	dataOffset int64 // byte offset of the first record, after the bloom block
	minKey     []byte
	maxKey     []byte
	fileSize   int64
}

// WriteFile constructs a Bloom filter sized for len(records), writes the
// header and every record to a temporary file in the same directory as
// path, fsyncs it, renames it into place, then fsyncs the directory.
// records must already be sorted in ascending key order.
func WriteFile(path string, records []memtable.Record, fpRate float64) error {
	filter := bloom.New(uint64(len(records)), fpRate)
	for _, r := range records {
		filter.Insert(r.Key)
	}
	bloomBytes := filter.Serialize()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sstable: create temp file: %w", err)
	}

	var buf bytes.Buffer
	writeU32(&buf, uint32(len(bloomBytes)))
	buf.Write(bloomBytes)
	for _, r := range records {
		writeU32(&buf, uint32(len(r.Key)))
		buf.Write(r.Key)
		if r.Tombstone {
			writeU32(&buf, tombstoneSentinel)
		} else {
			writeU32(&buf, uint32(len(r.Value)))
			buf.Write(r.Value)
		}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("sstable: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sstable: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sstable: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("sstable: rename into place: %w", err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("sstable: sync dir: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// Open opens path, loads its Bloom filter into memory, and scans once to
// cache MinKey/MaxKey (cheap relative to a later linear Get, and needed
// up-front to decide level-overlap during compaction).
func Open(path string, id uint64, level int) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	var header [4]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom size: %w", err)
	}
	bloomSize := binary.LittleEndian.Uint32(header[:])
	if bloomSize > maxReasonableSize {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: bloom block size %d: %w", path, bloomSize, ErrCorrupt)
	}
	bloomBytes := make([]byte, bloomSize)
	if _, err := io.ReadFull(f, bloomBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: read bloom block: %w", err)
	}
	filter, err := bloom.Deserialize(bloomBytes)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sstable: %s: %w", path, err)
	}

	t := &Table{
		ID:         id,
		Level:      level,
		Path:       path,
		file:       f,
		bloom:      filter,
		dataOffset: 4 + int64(bloomSize),
	}
	if info, err := f.Stat(); err == nil {
		t.fileSize = info.Size()
	}
	if err := t.scanKeyRange(); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *Table) scanKeyRange() error {
	r := io.NewSectionReader(t.file, t.dataOffset, t.fileSize-t.dataOffset)
	var first, last []byte
	for {
		key, _, tombstone, ok, err := readRecord(r)
		if err != nil {
			return fmt.Errorf("sstable: %s: %w", t.Path, err)
		}
		if !ok {
			break
		}
		if first == nil {
			first = append([]byte(nil), key...)
		}
		last = append([]byte(nil), key...)
		_ = tombstone
	}
	t.minKey, t.maxKey = first, last
	return nil
}

// readRecord reads one record from r. ok is false at a clean EOF before any
// field of a new record has been read.
func readRecord(r io.Reader) (key, value []byte, tombstone bool, ok bool, err error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, nil, false, false, nil
		}
		return nil, nil, false, false, fmt.Errorf("read key length: %w", err)
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if keyLen > maxReasonableSize {
		return nil, nil, false, false, fmt.Errorf("key length %d: %w", keyLen, ErrCorrupt)
	}
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, false, false, fmt.Errorf("read key: %w", err)
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, nil, false, false, fmt.Errorf("read value length: %w", err)
	}
	valLen := binary.LittleEndian.Uint32(lenBuf[:])
	if valLen == tombstoneSentinel {
		return key, nil, true, true, nil
	}
	if valLen > maxReasonableSize {
		return nil, nil, false, false, fmt.Errorf("value length %d: %w", valLen, ErrCorrupt)
	}
	value = make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return nil, nil, false, false, fmt.Errorf("read value: %w", err)
	}
	return key, value, false, true, nil
}

// Get returns the three-way lookup result for key. bloomHit reports
// whether the Bloom filter admitted the key (true) or rejected it outright
// without touching disk (false); it mirrors the teacher's hit/miss
// counters and lets the caller track its own aggregate stats.
func (t *Table) Get(key []byte) (lookup memtable.Lookup, value []byte, bloomHit bool, err error) {
	if !t.bloom.Contains(key) {
		return Absent, nil, false, nil
	}
	r := io.NewSectionReader(t.file, t.dataOffset, t.fileSize-t.dataOffset)
	for {
		k, v, tombstone, ok, err := readRecord(r)
		if err != nil {
			return Absent, nil, true, fmt.Errorf("sstable: %s: %w", t.Path, err)
		}
		if !ok {
			return Absent, nil, true, nil
		}
		cmp := bytes.Compare(k, key)
		if cmp == 0 {
			if tombstone {
				return Tombstoned, nil, true, nil
			}
			return Present, v, true, nil
		}
		if cmp > 0 {
			return Absent, nil, true, nil
		}
	}
}

// MinKey returns the smallest key in the table, cached at open/write time.
func (t *Table) MinKey() []byte { return t.minKey }

// MaxKey returns the largest key in the table, cached at open/write time.
func (t *Table) MaxKey() []byte { return t.maxKey }

// Size returns the file size in bytes.
func (t *Table) Size() int64 { return t.fileSize }

// Overlaps reports whether [t.minKey, t.maxKey] intersects [minKey, maxKey].
func (t *Table) Overlaps(minKey, maxKey []byte) bool {
	return bytes.Compare(t.minKey, maxKey) <= 0 && bytes.Compare(minKey, t.maxKey) <= 0
}

// Iter returns every record in the table in ascending key order, for use
// by compaction's k-way merge.
func (t *Table) Iter() ([]memtable.Record, error) {
	r := io.NewSectionReader(t.file, t.dataOffset, t.fileSize-t.dataOffset)
	var out []memtable.Record
	for {
		k, v, tombstone, ok, err := readRecord(r)
		if err != nil {
			return nil, fmt.Errorf("sstable: %s: %w", t.Path, err)
		}
		if !ok {
			return out, nil
		}
		out = append(out, memtable.Record{Key: k, Value: v, Tombstone: tombstone})
	}
}

// Close closes the underlying file handle without removing the file.
func (t *Table) Close() error {
	return t.file.Close()
}

// Remove closes the handle and unlinks the backing file. Used by
// compaction once its successor has been durably written.
func (t *Table) Remove() error {
	if err := t.file.Close(); err != nil {
		return err
	}
	return os.Remove(t.Path)
}
