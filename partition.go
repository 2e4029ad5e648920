package raptor

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	rperrors "github.com/new2f7/raptor/errors"
	intbits "github.com/new2f7/raptor/internal/bits"
)

// PartitionConfig maps hashes onto disjoint slices of hash space so that
// build and query can process one slice at a time, capping resident index
// size at roughly 1/Parts of the whole.
//
// HashPartition is pure and stateless. The same partition count and the
// same function must be used when building and when querying a partitioned
// index; the partition count is recorded in the index metadata so a
// mismatch is detected at load time.
type PartitionConfig struct {
	Parts int
}

// NewPartitionConfig validates the partition count.
func NewPartitionConfig(parts int) (PartitionConfig, error) {
	if parts < 1 {
		return PartitionConfig{}, rperrors.ErrInvalidParts
	}
	return PartitionConfig{Parts: parts}, nil
}

// HashPartition maps a minimizer hash to a partition in [0, Parts).
// Minimizer values occupy only 2*weight bits, so the raw value is mixed
// through xxh3 before range reduction to spread partitions evenly.
func (c PartitionConfig) HashPartition(hash uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], hash)
	return int(intbits.FastRange64(xxh3.Hash(buf[:]), uint64(c.Parts)))
}
