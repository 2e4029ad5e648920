package raptor

import (
	"fmt"
	"os"
	"strings"
)

// cutoffBounds and cutoffValues map an input file's size to a minimizer
// occurrence cutoff. Larger inputs carry more sequencing noise, so rare
// minimizers are dropped more aggressively. Values follow the Mantis
// k-mer count thresholds.
var (
	cutoffBounds = [4]int64{314_572_800, 524_288_000, 1_073_741_824, 3_221_225_472}
	cutoffValues = [4]uint8{1, 3, 9, 19}
)

// maxCutoff applies to files larger than the last bound.
const maxCutoff = uint8(25)

// CutoffModel yields the minimum occurrence count a minimizer needs to be
// retained during preprocessing. The zero value selects the cutoff from the
// input file size; FixedCutoff overrides it with a constant.
type CutoffModel struct {
	fixed   uint8
	isFixed bool
}

// FixedCutoff returns a model that always yields c.
func FixedCutoff(c uint8) CutoffModel {
	return CutoffModel{fixed: c, isFixed: true}
}

// Get returns the cutoff for the given input file.
// Compressed inputs count three times their on-disk size, approximating the
// decompressed amount of sequence data.
func (m CutoffModel) Get(file string) (uint8, error) {
	if m.isFixed {
		return m.fixed, nil
	}
	info, err := os.Stat(file)
	if err != nil {
		return 0, fmt.Errorf("stat input file: %w", err)
	}
	size := info.Size()
	if fileIsCompressed(file) {
		size *= 3
	}
	for i, bound := range cutoffBounds {
		if size <= bound {
			return cutoffValues[i], nil
		}
	}
	return maxCutoff, nil
}

// fileIsCompressed reports whether the file name carries a known
// compression extension.
func fileIsCompressed(file string) bool {
	return strings.HasSuffix(file, ".gz") ||
		strings.HasSuffix(file, ".bgzf") ||
		strings.HasSuffix(file, ".bz2")
}
