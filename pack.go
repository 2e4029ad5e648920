package raptor

import (
	"context"

	"github.com/new2f7/raptor/internal/minimizer"
)

// BinCardinalities returns the distinct hash count of every content bin,
// in bin order. Bins backed by minimiser artifacts answer from their
// headers without touching sequence data; sequence bins are hashed.
func BinCardinalities(ctx context.Context, cfg BuildConfig) ([]uint64, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	extractor, err := minimizer.NewExtractor(c.Shape, c.Window)
	if err != nil {
		return nil, err
	}
	fac := &IndexFactory{cfg: c, extractor: extractor}

	cards := make([]uint64, len(c.Bins))
	err = RunParallel(ctx, len(c.Bins), c.Threads, func(bin int) error {
		n, err := fac.countBin(c.Bins[bin])
		if err != nil {
			return err
		}
		cards[bin] = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cards, nil
}
