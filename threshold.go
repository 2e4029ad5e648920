package raptor

import (
	"math"

	rperrors "github.com/new2f7/raptor/errors"
)

// Thresholder converts a record's minimizer count into the minimum per-bin
// match count required to report that bin. The threshold depends on the
// count, which varies per record, so results are never cached across
// records.
type Thresholder struct {
	mode       thresholdMode
	absolute   uint16
	percentage float64
	errors     int
	span       int
}

type thresholdMode uint8

const (
	thresholdPercentage thresholdMode = iota
	thresholdAbsolute
	thresholdLemma
)

// ThresholdOption configures a Thresholder.
type ThresholdOption func(*Thresholder)

// WithAbsoluteThreshold reports bins with at least n matching minimizers,
// regardless of the record's minimizer count.
func WithAbsoluteThreshold(n uint16) ThresholdOption {
	return func(t *Thresholder) {
		t.mode = thresholdAbsolute
		t.absolute = n
	}
}

// WithPercentageThreshold reports bins matching at least the given fraction
// of the record's minimizers.
func WithPercentageThreshold(f float64) ThresholdOption {
	return func(t *Thresholder) {
		t.mode = thresholdPercentage
		t.percentage = f
	}
}

// WithErrorThreshold derives the threshold from the k-mer lemma: a match
// with up to e errors destroys at most span*e minimizers, so at least
// count - span*e must survive.
func WithErrorThreshold(e int) ThresholdOption {
	return func(t *Thresholder) {
		t.mode = thresholdLemma
		t.errors = e
	}
}

// NewThresholder creates a thresholder for the given shape span.
// The default mode requires 70% of a record's minimizers to match.
func NewThresholder(span int, opts ...ThresholdOption) (*Thresholder, error) {
	t := &Thresholder{mode: thresholdPercentage, percentage: 0.7, span: span}
	for _, opt := range opts {
		opt(t)
	}
	if t.mode == thresholdPercentage && (t.percentage <= 0 || t.percentage > 1) {
		return nil, rperrors.ErrThresholdConfig
	}
	if t.mode == thresholdLemma && t.errors < 0 {
		return nil, rperrors.ErrThresholdConfig
	}
	return t, nil
}

// Get returns the threshold for a record with the given minimizer count.
// The result is always at least 1, so empty bins are never reported.
func (t *Thresholder) Get(minimizerCount int) uint16 {
	var threshold int
	switch t.mode {
	case thresholdAbsolute:
		threshold = int(t.absolute)
	case thresholdLemma:
		threshold = minimizerCount - t.span*t.errors
	default:
		threshold = int(math.Ceil(t.percentage * float64(minimizerCount)))
	}
	if threshold < 1 {
		threshold = 1
	}
	if threshold > math.MaxUint16 {
		threshold = math.MaxUint16
	}
	return uint16(threshold)
}
