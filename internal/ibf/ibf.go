// Package ibf implements an Interleaved Bloom Filter (IBF).
//
// An IBF holds one Bloom filter per content bin, bit-interleaved so that a
// single probe answers membership for all bins at once: the filter consists
// of binSize rows, each row holding one bit per bin. A hash selects k rows;
// AND-combining those rows yields the bins that contain the hash (up to the
// Bloom false positive rate). There are no false negatives.
package ibf

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"

	"github.com/spaolacci/murmur3"

	rperrors "github.com/new2f7/raptor/errors"
	intbits "github.com/new2f7/raptor/internal/bits"
)

const (
	// MaxHashCount bounds the number of hash functions.
	MaxHashCount = 5

	// hashSeedStep derives per-function murmur seeds. Odd constant, so the
	// derived seeds are pairwise distinct for all supported hash counts.
	hashSeedStep = uint32(0x9E3779B9)
)

// Filter is an Interleaved Bloom Filter over a fixed number of bins.
//
// Insert is safe for concurrent use (bits are set atomically); counting
// queries must not run concurrently with inserts.
type Filter struct {
	binCount  int
	binSize   uint64 // rows (bits per bin)
	hashCount int
	rowWords  int // uint64 words per row
	seeds     [MaxHashCount]uint32
	data      []uint64 // binSize * rowWords words
}

// New creates a filter with binCount bins, binSize bits per bin and
// hashCount hash functions.
func New(binCount int, binSize uint64, hashCount int) (*Filter, error) {
	if binCount < 1 {
		return nil, rperrors.ErrEmptyBins
	}
	if hashCount < 1 || hashCount > MaxHashCount {
		return nil, rperrors.ErrInvalidHashCount
	}
	if binSize == 0 {
		binSize = 1
	}
	f := &Filter{
		binCount:  binCount,
		binSize:   binSize,
		hashCount: hashCount,
		rowWords:  (binCount + 63) / 64,
	}
	for i := range f.seeds {
		f.seeds[i] = hashSeedStep * uint32(i+1)
	}
	f.data = make([]uint64, binSize*uint64(f.rowWords))
	return f, nil
}

// NewForCapacity creates a filter sized so that a bin holding maxBinElems
// elements stays at or below the requested false positive rate.
func NewForCapacity(binCount int, maxBinElems uint64, fpRate float64, hashCount int) (*Filter, error) {
	return New(binCount, BinSizeFor(maxBinElems, fpRate, hashCount), hashCount)
}

// BinCount returns the number of bins.
func (f *Filter) BinCount() int { return f.binCount }

// BinSize returns the number of bits per bin.
func (f *Filter) BinSize() uint64 { return f.binSize }

// HashFunctionCount returns the number of hash functions.
func (f *Filter) HashFunctionCount() int { return f.hashCount }

// Data exposes the raw bit matrix for serialization.
func (f *Filter) Data() []uint64 { return f.data }

// FromData reconstructs a filter around a deserialized bit matrix.
// len(data) must equal binSize * ceil(binCount/64).
func FromData(binCount int, binSize uint64, hashCount int, data []uint64) (*Filter, error) {
	f, err := New(binCount, binSize, hashCount)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != binSize*uint64(f.rowWords) {
		return nil, rperrors.ErrCorruptedIndex
	}
	f.data = data
	return f, nil
}

// rowFor maps (hash, function i) to a row index in [0, binSize).
func (f *Filter) rowFor(hash uint64, i int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], hash)
	h := murmur3.Sum64WithSeed(buf[:], f.seeds[i])
	return intbits.FastRange64(h, f.binSize)
}

// Insert records hash as a member of bin. Safe for concurrent use.
func (f *Filter) Insert(bin int, hash uint64) {
	word := uint64(bin / 64)
	mask := uint64(1) << (bin % 64)
	for i := 0; i < f.hashCount; i++ {
		row := f.rowFor(hash, i)
		atomic.OrUint64(&f.data[row*uint64(f.rowWords)+word], mask)
	}
}

// CountingAgent accumulates per-bin match counts for hash sequences.
// Each agent owns its scratch row; use one agent per worker.
type CountingAgent struct {
	f    *Filter
	rows []uint64
}

// CountingAgent returns a new agent for this filter.
func (f *Filter) CountingAgent() *CountingAgent {
	return &CountingAgent{f: f, rows: make([]uint64, f.rowWords)}
}

// BulkCount adds, for every bin, the number of hashes contained in that bin
// into counts. len(counts) must be at least BinCount. Addition is
// commutative, so counts may accumulate across several BulkCount calls.
func (a *CountingAgent) BulkCount(hashes []uint64, counts []uint16) {
	f := a.f
	for _, h := range hashes {
		base := f.rowFor(h, 0) * uint64(f.rowWords)
		copy(a.rows, f.data[base:base+uint64(f.rowWords)])
		for i := 1; i < f.hashCount; i++ {
			base = f.rowFor(h, i) * uint64(f.rowWords)
			row := f.data[base : base+uint64(f.rowWords)]
			for w := range a.rows {
				a.rows[w] &= row[w]
			}
		}
		for w, word := range a.rows {
			for word != 0 {
				bin := w*64 + bits.TrailingZeros64(word)
				counts[bin]++
				word &= word - 1
			}
		}
	}
}
