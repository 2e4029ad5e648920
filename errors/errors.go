// Package errors defines all exported error sentinels for the raptor library.
//
// This is the single source of truth for error values. Both the top-level
// raptor package and internal packages import from here, ensuring errors.Is
// checks work across package boundaries.
package errors

import "errors"

// Configuration errors
var (
	ErrInvalidShape     = errors.New("raptor: shape must contain 1-32 informative positions and start/end with 1")
	ErrWindowTooSmall   = errors.New("raptor: window size is smaller than the shape span")
	ErrEmptyBins        = errors.New("raptor: no input bins given")
	ErrInvalidParts     = errors.New("raptor: partition count must be at least 1")
	ErrThresholdConfig  = errors.New("raptor: conflicting threshold settings")
	ErrInvalidHashCount = errors.New("raptor: hash function count must be in [1,5]")
)

// Index file errors
var (
	ErrInvalidMagic   = errors.New("raptor: invalid magic number")
	ErrInvalidVersion = errors.New("raptor: unsupported index version")
	ErrTruncatedFile  = errors.New("raptor: index file is truncated")
	ErrChecksumFailed = errors.New("raptor: index checksum verification failed")
	ErrCorruptedIndex = errors.New("raptor: index data is corrupted")
)

// Compatibility errors (persisted metadata vs. requested query parameters)
var (
	ErrMetadataMismatch  = errors.New("raptor: index was built with different shape or window parameters")
	ErrPartitionMismatch = errors.New("raptor: index was built with a different partition scheme")
)

// Preprocessing and build errors
var (
	ErrMissingArtifact  = errors.New("raptor: minimiser artifact not found")
	ErrMalformedHeader  = errors.New("raptor: malformed minimiser header artifact")
	ErrInvalidLayout    = errors.New("raptor: invalid layout: every content bin needs exactly one leaf")
	ErrLayoutKind       = errors.New("raptor: layout file has unknown kind")
	ErrBinCountOverflow = errors.New("raptor: too many content bins")
)
