// Package memtable implements the in-memory ordered buffer for the active
// write set of the storage engine. It is replaced wholesale on every flush.
package memtable

import "sort"

// Lookup is the three-way result of a MemTable or SSTable get: a lookup
// must distinguish "never seen" from "deleted" so the engine knows whether
// to keep probing deeper layers.
type Lookup int

const (
	Absent Lookup = iota
	Present
	Tombstoned
)

type entry struct {
	value     []byte
	tombstone bool
}

func (e entry) size(keyLen int) int {
	if e.tombstone {
		return keyLen
	}
	return keyLen + len(e.value)
}

// Record is a single (key, value-or-tombstone) pair as produced by
// DrainSorted.
type Record struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// MemTable is an ordered mapping from key to value-or-tombstone with an
// exact byte-size counter.
type MemTable struct {
	entries map[string]entry
	size    int
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{entries: make(map[string]entry)}
}

// Put inserts or overwrites key with value, adjusting the size counter by
// the delta between the new and any previous entry.
func (m *MemTable) Put(key, value []byte) {
	k := string(key)
	prev, existed := m.entries[k]
	next := entry{value: append([]byte(nil), value...)}
	if existed {
		m.size -= prev.size(len(key))
	}
	m.size += next.size(len(key))
	m.entries[k] = next
}

// Delete inserts a tombstone record for key.
func (m *MemTable) Delete(key []byte) {
	k := string(key)
	prev, existed := m.entries[k]
	next := entry{tombstone: true}
	if existed {
		m.size -= prev.size(len(key))
	}
	m.size += next.size(len(key))
	m.entries[k] = next
}

// Get returns the three-way lookup result for key.
func (m *MemTable) Get(key []byte) (value []byte, result Lookup) {
	e, ok := m.entries[string(key)]
	if !ok {
		return nil, Absent
	}
	if e.tombstone {
		return nil, Tombstoned
	}
	return e.value, Present
}

// Size returns the cumulative logical byte size of the MemTable's entries.
func (m *MemTable) Size() int {
	return m.size
}

// Len returns the number of distinct keys held.
func (m *MemTable) Len() int {
	return len(m.entries)
}

// DrainSorted returns every record in ascending key order and resets the
// MemTable to empty, consuming its contents.
func (m *MemTable) DrainSorted() []Record {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]Record, 0, len(keys))
	for _, k := range keys {
		e := m.entries[k]
		records = append(records, Record{
			Key:       []byte(k),
			Value:     e.value,
			Tombstone: e.tombstone,
		})
	}
	m.entries = make(map[string]entry)
	m.size = 0
	return records
}
