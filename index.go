package raptor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/ibf"
	"github.com/new2f7/raptor/internal/minimizer"
)

const (
	// indexMagic is "RPIX" in little-endian.
	indexMagic = uint32(0x58495052)

	// indexVersion is the current index file format version.
	indexVersion = uint16(0x0001)

	// indexHeaderSize is the exact size of the serialized header.
	indexHeaderSize = 64

	// indexFooterSize holds the xxHash64 payload checksum.
	indexFooterSize = 8
)

// Metadata describes how an index was built. Queries must use the same
// shape and window; partitioned queries must use the same partition count.
type Metadata struct {
	Shape      minimizer.Shape
	WindowSize uint32
	FPRate     float64
	Parts      uint16 // total partitions of this index generation (1 = unpartitioned)
	Partition  uint16 // which partition this file holds
}

// Index wraps an interleaved Bloom filter together with its build metadata.
//
// An Index is exclusively owned per session: concurrent queries are safe,
// but reloading a partition into the session must not race with queries.
type Index struct {
	meta   Metadata
	filter *ibf.Filter
}

// NewIndex wraps a filter with its metadata.
func NewIndex(meta Metadata, filter *ibf.Filter) *Index {
	return &Index{meta: meta, filter: filter}
}

// Metadata returns the build metadata.
func (idx *Index) Metadata() Metadata { return idx.meta }

// Filter returns the underlying interleaved Bloom filter.
func (idx *Index) Filter() *ibf.Filter { return idx.filter }

// BinCount returns the number of content bins.
func (idx *Index) BinCount() int { return idx.filter.BinCount() }

// HashFunctionCount returns the filter's hash function count.
func (idx *Index) HashFunctionCount() int { return idx.filter.HashFunctionCount() }

// PartitionedPath names the file of one partition of a partitioned index.
// An unpartitioned index (parts == 1) uses the path unchanged.
func PartitionedPath(path string, parts, part int) string {
	if parts == 1 {
		return path
	}
	return fmt.Sprintf("%s_%d", path, part)
}

// encodeIndexHeader serializes the fixed-size header.
//
// Layout:
//
//	Offset  Size  Field       Type
//	0       4     Magic       0x58495052 ("RPIX")
//	4       2     Version     0x0001
//	6       8     ShapeMask   uint64_le
//	14      1     ShapeSpan   uint8
//	15      4     WindowSize  uint32_le
//	19      4     BinCount    uint32_le
//	23      8     BinSize     uint64_le
//	31      1     HashCount   uint8
//	32      2     Parts       uint16_le
//	34      2     Partition   uint16_le
//	36      8     FPRate      float64_le
//	44      20    Reserved    [20]byte (zero)
func encodeIndexHeader(buf []byte, meta Metadata, f *ibf.Filter) {
	binary.LittleEndian.PutUint32(buf[0:4], indexMagic)
	binary.LittleEndian.PutUint16(buf[4:6], indexVersion)
	binary.LittleEndian.PutUint64(buf[6:14], meta.Shape.Mask())
	buf[14] = uint8(meta.Shape.Span())
	binary.LittleEndian.PutUint32(buf[15:19], meta.WindowSize)
	binary.LittleEndian.PutUint32(buf[19:23], uint32(f.BinCount()))
	binary.LittleEndian.PutUint64(buf[23:31], f.BinSize())
	buf[31] = uint8(f.HashFunctionCount())
	binary.LittleEndian.PutUint16(buf[32:34], meta.Parts)
	binary.LittleEndian.PutUint16(buf[34:36], meta.Partition)
	binary.LittleEndian.PutUint64(buf[36:44], math.Float64bits(meta.FPRate))
}

// decodeIndexHeader parses and validates the fixed-size header.
func decodeIndexHeader(buf []byte) (meta Metadata, binCount uint32, binSize uint64, hashCount int, err error) {
	if len(buf) < indexHeaderSize {
		return meta, 0, 0, 0, rperrors.ErrTruncatedFile
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != indexMagic {
		return meta, 0, 0, 0, rperrors.ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != indexVersion {
		return meta, 0, 0, 0, rperrors.ErrInvalidVersion
	}
	shape, err := minimizer.ShapeFromMask(binary.LittleEndian.Uint64(buf[6:14]), int(buf[14]))
	if err != nil {
		return meta, 0, 0, 0, rperrors.ErrCorruptedIndex
	}
	meta.Shape = shape
	meta.WindowSize = binary.LittleEndian.Uint32(buf[15:19])
	binCount = binary.LittleEndian.Uint32(buf[19:23])
	binSize = binary.LittleEndian.Uint64(buf[23:31])
	hashCount = int(buf[31])
	meta.Parts = binary.LittleEndian.Uint16(buf[32:34])
	meta.Partition = binary.LittleEndian.Uint16(buf[34:36])
	meta.FPRate = math.Float64frombits(binary.LittleEndian.Uint64(buf[36:44]))
	if binCount == 0 || binSize == 0 || meta.Parts == 0 {
		return meta, 0, 0, 0, rperrors.ErrCorruptedIndex
	}
	return meta, binCount, binSize, hashCount, nil
}

// Save writes the index to path. The file is pre-allocated to its final
// size, so a full disk fails up front instead of mid-write.
func (idx *Index) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	data := idx.filter.Data()
	totalSize := int64(indexHeaderSize + len(data)*8 + indexFooterSize)
	if err := fallocateFile(f, totalSize); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("allocate index file: %w", err)
	}

	w := bufio.NewWriterSize(f, 1<<20)
	var header [indexHeaderSize]byte
	encodeIndexHeader(header[:], idx.meta, idx.filter)
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return fmt.Errorf("write index header: %w", err)
	}

	// Payload checksum is computed while the words are hot.
	hasher := xxhash.New()
	var word [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(word[:], v)
		if _, err := w.Write(word[:]); err != nil {
			f.Close()
			return fmt.Errorf("write index payload: %w", err)
		}
		hasher.Write(word[:])
	}

	binary.LittleEndian.PutUint64(word[:], hasher.Sum64())
	if _, err := w.Write(word[:]); err != nil {
		f.Close()
		return fmt.Errorf("write index footer: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	return f.Close()
}

// LoadIndex reads an index file, verifying magic, version and payload
// checksum. The file is memory-mapped for the duration of the read.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	if info.Size() < indexHeaderSize+indexFooterSize {
		return nil, rperrors.ErrTruncatedFile
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap index file: %w", err)
	}
	defer mm.Unmap()

	meta, binCount, binSize, hashCount, err := decodeIndexHeader(mm[:indexHeaderSize])
	if err != nil {
		return nil, err
	}

	rowWords := (int(binCount) + 63) / 64
	payloadWords := binSize * uint64(rowWords)
	payloadEnd := uint64(indexHeaderSize) + payloadWords*8
	if payloadEnd+indexFooterSize != uint64(len(mm)) {
		return nil, rperrors.ErrTruncatedFile
	}

	payload := mm[indexHeaderSize:payloadEnd]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(mm[payloadEnd:]) {
		return nil, rperrors.ErrChecksumFailed
	}

	data := make([]uint64, payloadWords)
	for i := range data {
		data[i] = binary.LittleEndian.Uint64(payload[i*8:])
	}
	filter, err := ibf.FromData(int(binCount), binSize, hashCount, data)
	if err != nil {
		return nil, err
	}
	return &Index{meta: meta, filter: filter}, nil
}

// CheckCompatible verifies that persisted metadata matches the requested
// query parameters. A mismatch is a data integrity failure, not something
// to paper over at query time.
func (idx *Index) CheckCompatible(shape minimizer.Shape, window int, parts int) error {
	m := idx.meta
	if m.Shape != shape || int(m.WindowSize) != window {
		return fmt.Errorf("%w: index has shape %s window %d, query requested shape %s window %d",
			rperrors.ErrMetadataMismatch, m.Shape.String(), m.WindowSize, shape.String(), window)
	}
	if int(m.Parts) != parts {
		return fmt.Errorf("%w: index has %d parts, query requested %d",
			rperrors.ErrPartitionMismatch, m.Parts, parts)
	}
	return nil
}
