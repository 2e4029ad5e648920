package raptor

import (
	"context"
	"fmt"
	"os"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/minimizer"
)

// occurrenceCeiling saturates the per-hash occurrence counter. The largest
// cutoff value is 25, so exact counts above the ceiling carry no signal and
// a single byte per hash suffices.
const occurrenceCeiling = uint8(254)

// PrepareConfig configures minimizer preprocessing.
type PrepareConfig struct {
	// Bins lists the input sequence files per content bin, in bin order.
	Bins [][]string
	// OutDir receives the artifacts and the manifest.
	OutDir string
	// Shape and Window parameterize minimizer extraction.
	Shape  minimizer.Shape
	Window int
	// Threads bounds bin-level parallelism. Zero means one.
	Threads int
	// Cutoff yields the per-bin occurrence cutoff.
	Cutoff CutoffModel
}

// ComputeMinimiser preprocesses every content bin into a denoised minimiser
// artifact plus header artifact, then writes the manifest.
//
// Bins are processed independently in parallel. A bin whose artifacts exist
// and whose progress marker is absent is skipped; re-running on a completed
// output directory performs no writes besides the manifest. A leftover
// progress marker means the previous attempt died mid-bin: that bin is
// rebuilt from scratch, never merged with partial prior output.
func ComputeMinimiser(ctx context.Context, cfg PrepareConfig) error {
	if len(cfg.Bins) == 0 {
		return rperrors.ErrEmptyBins
	}
	extractor, err := minimizer.NewExtractor(cfg.Shape, cfg.Window)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	err = RunParallel(ctx, len(cfg.Bins), cfg.Threads, func(bin int) error {
		return computeBinMinimiser(cfg, extractor, cfg.Bins[bin])
	})
	if err != nil {
		return err
	}

	return writeManifest(cfg.OutDir, cfg.Bins)
}

// computeBinMinimiser processes a single content bin.
func computeBinMinimiser(cfg PrepareConfig, extractor *minimizer.Extractor, files []string) error {
	paths := artifactPaths(cfg.OutDir, files[0])

	done := fileExists(paths.minimiser) && fileExists(paths.header) && !fileExists(paths.progress)
	if done {
		return nil
	}
	if err := touchFile(paths.progress); err != nil {
		return err
	}

	// The occurrence table is built per bin rather than reused across bins:
	// a reused table stays as large as the biggest bin a worker has seen.
	table := make(map[uint64]uint8)
	var hashes []uint64
	for _, file := range files {
		reader, err := OpenFasta(file)
		if err != nil {
			return err
		}
		err = reader.ForEach(func(rec Record) error {
			hashes = extractor.ExtractInto(rec.Seq, hashes[:0])
			for _, h := range hashes {
				if c := table[h]; c < occurrenceCeiling {
					table[h] = c + 1
				}
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

	cutoff, err := cfg.Cutoff.Get(files[0])
	if err != nil {
		return err
	}

	count, err := writeMinimiserArtifact(paths.minimiser, table, cutoff)
	if err != nil {
		return err
	}
	err = writeMinimiserHeader(paths.header, minimiserHeader{
		Shape:  cfg.Shape,
		Window: uint32(cfg.Window),
		Cutoff: cutoff,
		Count:  count,
	})
	if err != nil {
		return err
	}

	return os.Remove(paths.progress)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func touchFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create progress marker: %w", err)
	}
	return f.Close()
}
