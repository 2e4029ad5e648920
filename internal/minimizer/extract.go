// Package minimizer computes minimizer hash sequences over DNA sequences.
//
// A minimizer is the smallest k-mer value within a sliding window. K-mer
// values are computed over the informative positions of a shape, folded with
// a weight-adjusted seed, and taken as the minimum of the forward and
// reverse-complement strand. The same parameters must be used when building
// an index and when querying it; otherwise the hash spaces are incompatible.
package minimizer

import (
	rperrors "github.com/new2f7/raptor/errors"
)

// defaultSeed is the canonical seed before weight adjustment.
const defaultSeed = uint64(0x8F3F73B5CF1C9ADE)

// AdjustSeed shifts the default seed so that only 2*weight low bits remain.
// K-mer values occupy exactly 2*weight bits; XOR with an unshifted seed
// would bias the comparison of values across differently-weighted shapes.
func AdjustSeed(weight int) uint64 {
	return defaultSeed >> (64 - 2*weight)
}

// rankTable maps ASCII symbols to 2-bit ranks. Unknown symbols fold to 'A',
// mirroring a strict 4-letter alphabet.
var rankTable = func() [256]byte {
	var t [256]byte
	t['C'], t['c'] = 1, 1
	t['G'], t['g'] = 2, 2
	t['T'], t['t'] = 3, 3
	t['U'], t['u'] = 3, 3
	return t
}()

// Extractor computes minimizer sequences for a fixed shape, window size and
// seed. It is stateless across calls and safe for concurrent use.
type Extractor struct {
	shape  Shape
	window int
	seed   uint64
}

// NewExtractor creates an extractor. The window must be at least as wide as
// the shape span. The seed is derived from the shape weight via AdjustSeed.
func NewExtractor(shape Shape, window int) (*Extractor, error) {
	if shape.Weight() == 0 {
		return nil, rperrors.ErrInvalidShape
	}
	if window < shape.Span() {
		return nil, rperrors.ErrWindowTooSmall
	}
	return &Extractor{
		shape:  shape,
		window: window,
		seed:   AdjustSeed(shape.Weight()),
	}, nil
}

// Shape returns the extractor's shape.
func (e *Extractor) Shape() Shape { return e.shape }

// Window returns the extractor's window size.
func (e *Extractor) Window() int { return e.window }

// Extract returns the minimizer sequence of seq.
// Sequences shorter than one full window yield an empty result.
func (e *Extractor) Extract(seq []byte) []uint64 {
	return e.ExtractInto(seq, nil)
}

// ExtractInto writes the minimizer sequence of seq into dst, reusing its
// capacity, and returns the result. Passing a reused dst avoids per-record
// allocations.
func (e *Extractor) ExtractInto(seq []byte, dst []uint64) []uint64 {
	dst = dst[:0]
	span := e.shape.Span()
	numKmers := len(seq) - span + 1
	kmersPerWindow := e.window - span + 1
	if numKmers < kmersPerWindow {
		return dst
	}

	// Candidate value per k-mer position: canonical (strand-minimal) shaped
	// value folded with the seed.
	values := make([]uint64, numKmers)
	for p := 0; p < numKmers; p++ {
		values[p] = e.kmerValue(seq[p : p+span])
	}

	// Sliding window minimum with a monotonic index deque. Ties keep the
	// leftmost occurrence; a minimizer spanning several windows is emitted
	// once.
	deque := make([]int, 0, kmersPerWindow)
	lastEmitted := -1
	for p := 0; p < numKmers; p++ {
		for len(deque) > 0 && values[deque[len(deque)-1]] > values[p] {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, p)
		windowStart := p - kmersPerWindow + 1
		if deque[0] < windowStart {
			deque = deque[1:]
		}
		if windowStart < 0 {
			continue
		}
		if deque[0] != lastEmitted {
			lastEmitted = deque[0]
			dst = append(dst, values[lastEmitted])
		}
	}
	return dst
}

// kmerValue computes the canonical shaped value of one k-mer window.
func (e *Extractor) kmerValue(window []byte) uint64 {
	span := len(window)
	var fwd, rev uint64
	for i := 0; i < span; i++ {
		if !e.shape.IsSet(i) {
			continue
		}
		fwd = fwd<<2 | uint64(rankTable[window[i]])
		rev = rev<<2 | uint64(3-rankTable[window[span-1-i]])
	}
	fwd ^= e.seed
	rev ^= e.seed
	return min(fwd, rev)
}
