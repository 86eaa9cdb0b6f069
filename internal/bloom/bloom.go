// Package bloom implements a fixed-size Bloom filter sized for a target
// false-positive rate, using double hashing to derive the k bit positions
// for a key from two independent 64-bit hashes.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/zeebo/xxh3"
)

// Seeds for the two independent base hashes. Fixed so that filters built
// and read by different processes or platforms agree on bit positions.
const (
	seed1 = 0x9e3779b97f4a7c15
	seed2 = 0xc2b2ae3d27d4eb4f
)

// Filter is a probabilistic set-membership test.
type Filter struct {
	bits *bitset.BitSet
	m    uint64 // bit array length
	k    uint32 // hash function count
}

// New sizes a filter for expectedItems entries at the given false-positive
// rate and returns an empty filter.
func New(expectedItems uint64, fpRate float64) *Filter {
	if expectedItems == 0 {
		expectedItems = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	n := float64(expectedItems)
	m := math.Ceil(-n * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	k := math.Round((m / n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return &Filter{
		bits: bitset.New(uint(m)),
		m:    uint64(m),
		k:    uint32(k),
	}
}

// hashes returns the two independent 64-bit base hashes for key.
func hashes(key []byte) (uint64, uint64) {
	return xxh3.HashSeed(key, seed1), xxh3.HashSeed(key, seed2)
}

// Insert sets the k bits derived from key's double hash.
func (f *Filter) Insert(key []byte) {
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		f.bits.Set(uint(pos))
	}
}

// Contains reports whether all k bits derived from key are set. A true
// result may be a false positive; a false result is definitive.
func (f *Filter) Contains(key []byte) bool {
	h1, h2 := hashes(key)
	for i := uint32(0); i < f.k; i++ {
		pos := (h1 + uint64(i)*h2) % f.m
		if !f.bits.Test(uint(pos)) {
			return false
		}
	}
	return true
}

// Serialize encodes the filter as [k: u32][m_bits: u64][bitset bytes].
func (f *Filter) Serialize() []byte {
	raw := f.bits.Bytes()
	out := make([]byte, 4+8+len(raw)*8)
	binary.LittleEndian.PutUint32(out[0:4], f.k)
	binary.LittleEndian.PutUint64(out[4:12], f.m)
	for i, word := range raw {
		binary.LittleEndian.PutUint64(out[12+i*8:12+i*8+8], word)
	}
	return out
}

// Deserialize reconstructs a Filter from the bytes produced by Serialize.
func Deserialize(data []byte) (*Filter, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("bloom: truncated header, need 12 bytes, got %d", len(data))
	}
	k := binary.LittleEndian.Uint32(data[0:4])
	m := binary.LittleEndian.Uint64(data[4:12])
	body := data[12:]
	if len(body)%8 != 0 {
		return nil, fmt.Errorf("bloom: bit array body not word-aligned, %d bytes", len(body))
	}
	words := make([]uint64, len(body)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(body[i*8 : i*8+8])
	}
	bs := bitset.From(words)
	return &Filter{bits: bs, m: m, k: k}, nil
}
