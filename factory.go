package raptor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/ibf"
	"github.com/new2f7/raptor/internal/minimizer"
)

// BuildConfig configures index construction.
type BuildConfig struct {
	// Bins lists the inputs per content bin, in bin order. Inputs are
	// either sequence files or precomputed .minimiser artifacts.
	Bins [][]string
	// Shape and Window parameterize minimizer extraction.
	Shape  minimizer.Shape
	Window int
	// HashCount is the number of Bloom hash functions (default 2).
	HashCount int
	// FPRate is the per-bin false positive budget (default ibf.DefaultFPRate).
	FPRate float64
	// MaxBinElements sizes the filter. Zero means: derive it from the
	// minimiser headers when building from artifacts, or from a counting
	// pre-pass when building from sequences.
	MaxBinElements uint64
	// Parts is the partition count of this index generation (1 = none).
	Parts int
	// Threads bounds bin-level parallelism.
	Threads int
}

func (cfg *BuildConfig) withDefaults() (BuildConfig, error) {
	c := *cfg
	if len(c.Bins) == 0 {
		return c, rperrors.ErrEmptyBins
	}
	if len(c.Bins) > 1<<20 {
		return c, rperrors.ErrBinCountOverflow
	}
	if c.HashCount == 0 {
		c.HashCount = 2
	}
	if c.FPRate == 0 {
		c.FPRate = ibf.DefaultFPRate
	}
	if c.Parts == 0 {
		c.Parts = 1
	}
	return c, nil
}

// IndexFactory constructs bin-indexed interleaved Bloom filters.
//
// Construct(part) inserts only hashes belonging to the given partition; with
// a single partition there is no filtering and one Construct call yields the
// complete index. Building all partitions means calling Construct once per
// part against independently allocated filters, which is exactly what
// BuildIndex does.
type IndexFactory struct {
	cfg       BuildConfig
	partCfg   PartitionConfig
	extractor *minimizer.Extractor
	maxBin    uint64 // largest bin cardinality, resolved once
}

// NewIndexFactory validates the configuration and resolves the filter size.
func NewIndexFactory(ctx context.Context, cfg BuildConfig) (*IndexFactory, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	extractor, err := minimizer.NewExtractor(c.Shape, c.Window)
	if err != nil {
		return nil, err
	}
	partCfg, err := NewPartitionConfig(c.Parts)
	if err != nil {
		return nil, err
	}
	fac := &IndexFactory{cfg: c, partCfg: partCfg, extractor: extractor}

	fac.maxBin = c.MaxBinElements
	if fac.maxBin == 0 {
		if fac.maxBin, err = fac.countMaxBin(ctx); err != nil {
			return nil, err
		}
	}
	return fac, nil
}

// Construct builds the index of one partition. Bins are hashed and inserted
// in parallel; insertion order across bins is immaterial.
func (fac *IndexFactory) Construct(ctx context.Context, part int) (*Index, error) {
	cfg := fac.cfg

	// With P partitions each sub-index receives roughly 1/P of every bin.
	perPart := (fac.maxBin + uint64(cfg.Parts) - 1) / uint64(cfg.Parts)
	filter, err := ibf.NewForCapacity(len(cfg.Bins), perPart, cfg.FPRate, cfg.HashCount)
	if err != nil {
		return nil, err
	}

	err = RunParallel(ctx, len(cfg.Bins), cfg.Threads, func(bin int) error {
		return fac.forEachBinHash(cfg.Bins[bin], func(hash uint64) {
			if cfg.Parts > 1 && fac.partCfg.HashPartition(hash) != part {
				return
			}
			filter.Insert(bin, hash)
		})
	})
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		Shape:      cfg.Shape,
		WindowSize: uint32(cfg.Window),
		FPRate:     cfg.FPRate,
		Parts:      uint16(cfg.Parts),
		Partition:  uint16(part),
	}
	return NewIndex(meta, filter), nil
}

// BuildIndex constructs and persists every partition of an index, one at a
// time so that at most one partition's filter is resident.
func BuildIndex(ctx context.Context, cfg BuildConfig, outPath string) error {
	fac, err := NewIndexFactory(ctx, cfg)
	if err != nil {
		return err
	}
	for part := 0; part < fac.cfg.Parts; part++ {
		idx, err := fac.Construct(ctx, part)
		if err != nil {
			return err
		}
		if err := idx.Save(PartitionedPath(outPath, fac.cfg.Parts, part)); err != nil {
			return err
		}
	}
	return nil
}

// isMinimiserInput reports whether a bin input is a precomputed artifact.
func isMinimiserInput(file string) bool {
	return strings.HasSuffix(file, minimiserExt)
}

// forEachBinHash streams every hash of one content bin, either from
// precomputed artifacts or by hashing raw sequence input.
func (fac *IndexFactory) forEachBinHash(files []string, fn func(hash uint64)) error {
	var scratch []uint64
	for _, file := range files {
		if isMinimiserInput(file) {
			hashes, err := readMinimiserArtifact(file)
			if err != nil {
				return err
			}
			for _, h := range hashes {
				fn(h)
			}
			continue
		}
		reader, err := OpenFasta(file)
		if err != nil {
			return err
		}
		err = reader.ForEach(func(rec Record) error {
			scratch = fac.extractor.ExtractInto(rec.Seq, scratch[:0])
			for _, h := range scratch {
				fn(h)
			}
			return nil
		})
		if cerr := reader.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// countMaxBin resolves the largest bin cardinality. Artifact bins report
// their retained count via the header artifact; sequence bins need a
// counting pre-pass over their distinct hashes.
func (fac *IndexFactory) countMaxBin(ctx context.Context) (uint64, error) {
	var maxBin atomic.Uint64
	err := RunParallel(ctx, len(fac.cfg.Bins), fac.cfg.Threads, func(bin int) error {
		n, err := fac.countBin(fac.cfg.Bins[bin])
		if err != nil {
			return err
		}
		for {
			cur := maxBin.Load()
			if n <= cur || maxBin.CompareAndSwap(cur, n) {
				return nil
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if maxBin.Load() == 0 {
		return 1, nil
	}
	return maxBin.Load(), nil
}

func (fac *IndexFactory) countBin(files []string) (uint64, error) {
	if isMinimiserInput(files[0]) {
		var total uint64
		for _, file := range files {
			header := strings.TrimSuffix(file, minimiserExt) + headerExt
			h, err := readMinimiserHeader(header)
			if err != nil {
				return 0, fmt.Errorf("size bin from header: %w", err)
			}
			total += h.Count
		}
		return total, nil
	}
	distinct := make(map[uint64]struct{})
	err := fac.forEachBinHash(files, func(hash uint64) {
		distinct[hash] = struct{}{}
	})
	return uint64(len(distinct)), err
}
