package minimizer

import (
	"math/bits"
	"strings"

	rperrors "github.com/new2f7/raptor/errors"
)

// maxWeight is the largest number of informative positions a shape may have.
// Each informative position contributes two bits to the k-mer value, which
// must fit in a uint64.
const maxWeight = 32

// Shape describes which positions of a k-mer window are informative.
// Bit (span-1-i) of mask corresponds to position i counted from the left,
// so an ungapped 4-mer is mask 0b1111 with span 4.
type Shape struct {
	mask uint64
	span uint8
}

// NewKmer returns the ungapped shape of k informative positions.
func NewKmer(k int) (Shape, error) {
	if k < 1 || k > maxWeight {
		return Shape{}, rperrors.ErrInvalidShape
	}
	return Shape{mask: (uint64(1) << k) - 1, span: uint8(k)}, nil
}

// ParseShape parses a shape given as a string of '1' and '0' characters,
// e.g. "110101". The first and last characters must be '1'.
func ParseShape(s string) (Shape, error) {
	span := len(s)
	if span < 1 || span > 64 {
		return Shape{}, rperrors.ErrInvalidShape
	}
	if s[0] != '1' || s[span-1] != '1' {
		return Shape{}, rperrors.ErrInvalidShape
	}
	var mask uint64
	for i := 0; i < span; i++ {
		switch s[i] {
		case '1':
			mask |= uint64(1) << (span - 1 - i)
		case '0':
		default:
			return Shape{}, rperrors.ErrInvalidShape
		}
	}
	if bits.OnesCount64(mask) > maxWeight {
		return Shape{}, rperrors.ErrInvalidShape
	}
	return Shape{mask: mask, span: uint8(span)}, nil
}

// Span returns the total width of the shape.
func (s Shape) Span() int { return int(s.span) }

// Weight returns the number of informative positions.
func (s Shape) Weight() int { return bits.OnesCount64(s.mask) }

// Mask returns the raw position mask. Bit (span-1-i) corresponds to
// position i from the left.
func (s Shape) Mask() uint64 { return s.mask }

// IsSet reports whether position i (from the left, 0-based) is informative.
func (s Shape) IsSet(i int) bool {
	return s.mask&(uint64(1)<<(int(s.span)-1-i)) != 0
}

// String renders the shape as a string of '1' and '0' characters.
func (s Shape) String() string {
	var b strings.Builder
	for i := 0; i < int(s.span); i++ {
		if s.IsSet(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// ShapeFromMask reconstructs a shape from a persisted mask and span.
// Used when loading index metadata; the input is validated like ParseShape.
func ShapeFromMask(mask uint64, span int) (Shape, error) {
	if span < 1 || span > 64 {
		return Shape{}, rperrors.ErrInvalidShape
	}
	if span < 64 && mask >= uint64(1)<<span {
		return Shape{}, rperrors.ErrInvalidShape
	}
	sh := Shape{mask: mask, span: uint8(span)}
	if !sh.IsSet(0) || !sh.IsSet(span-1) {
		return Shape{}, rperrors.ErrInvalidShape
	}
	if sh.Weight() > maxWeight {
		return Shape{}, rperrors.ErrInvalidShape
	}
	return sh, nil
}
