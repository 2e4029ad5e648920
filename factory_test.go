package raptor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/minimizer"
)

func testBuildConfig(t *testing.T, bins [][]string) BuildConfig {
	t.Helper()
	return BuildConfig{
		Bins:    bins,
		Shape:   testKmer(t, 16),
		Window:  20,
		Threads: 2,
	}
}

func binHashes(t *testing.T, cfg BuildConfig, files []string) []uint64 {
	t.Helper()
	extractor, err := minimizer.NewExtractor(cfg.Shape, cfg.Window)
	if err != nil {
		t.Fatal(err)
	}
	var hashes []uint64
	for _, file := range files {
		r, err := OpenFasta(file)
		if err != nil {
			t.Fatal(err)
		}
		err = r.ForEach(func(rec Record) error {
			hashes = append(hashes, extractor.Extract(rec.Seq)...)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		r.Close()
	}
	return hashes
}

func TestBuildIndexFromFasta(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 4, 2000)
	cfg := testBuildConfig(t, bins)
	path := filepath.Join(t.TempDir(), "test.index")
	if err := BuildIndex(context.Background(), cfg, path); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	idx, err := LoadIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if idx.BinCount() != 4 {
		t.Fatalf("bin count: expected 4, got %d", idx.BinCount())
	}

	// Every bin's own minimizers must all be found in that bin.
	agent := idx.Filter().CountingAgent()
	counts := make([]uint16, idx.BinCount())
	for bin, files := range bins {
		hashes := binHashes(t, cfg, files)
		clear(counts)
		agent.BulkCount(hashes, counts)
		if int(counts[bin]) != len(hashes) {
			t.Errorf("bin %d: expected %d self matches, got %d", bin, len(hashes), counts[bin])
		}
	}
}

func TestBuildIndexFromArtifacts(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 3, 1500)
	outDir := t.TempDir()
	shape := testKmer(t, 16)
	prep := PrepareConfig{
		Bins:    bins,
		OutDir:  outDir,
		Shape:   shape,
		Window:  20,
		Cutoff:  FixedCutoff(1),
		Threads: 2,
	}
	if err := ComputeMinimiser(context.Background(), prep); err != nil {
		t.Fatal(err)
	}
	artifactBins, err := ReadManifest(filepath.Join(outDir, ManifestName))
	if err != nil {
		t.Fatal(err)
	}

	cfg := testBuildConfig(t, artifactBins)
	path := filepath.Join(t.TempDir(), "test.index")
	if err := BuildIndex(context.Background(), cfg, path); err != nil {
		t.Fatalf("BuildIndex from artifacts: %v", err)
	}
	idx, err := LoadIndex(path)
	if err != nil {
		t.Fatal(err)
	}

	agent := idx.Filter().CountingAgent()
	counts := make([]uint16, idx.BinCount())
	for bin, files := range artifactBins {
		hashes, err := readMinimiserArtifact(files[0])
		if err != nil {
			t.Fatal(err)
		}
		clear(counts)
		agent.BulkCount(hashes, counts)
		if int(counts[bin]) != len(hashes) {
			t.Errorf("bin %d: expected %d self matches, got %d", bin, len(hashes), counts[bin])
		}
	}
}

// Per-partition counts summed over all parts must find every hash of a
// bin, exactly like one unpartitioned index would.
func TestBuildIndexPartitionedEquivalence(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 3, 2000)
	cfg := testBuildConfig(t, bins)

	const parts = 3
	cfg.Parts = parts
	path := filepath.Join(t.TempDir(), "test.index")
	if err := BuildIndex(context.Background(), cfg, path); err != nil {
		t.Fatal(err)
	}
	partCfg, err := NewPartitionConfig(parts)
	if err != nil {
		t.Fatal(err)
	}

	indexes := make([]*Index, parts)
	for part := range indexes {
		indexes[part], err = LoadIndex(PartitionedPath(path, parts, part))
		if err != nil {
			t.Fatalf("load partition %d: %v", part, err)
		}
		meta := indexes[part].Metadata()
		if meta.Parts != parts || int(meta.Partition) != part {
			t.Fatalf("partition %d metadata: %+v", part, meta)
		}
	}

	for bin, files := range bins {
		hashes := binHashes(t, cfg, files)
		total := make([]uint16, indexes[0].BinCount())
		for part, idx := range indexes {
			var routed []uint64
			for _, h := range hashes {
				if partCfg.HashPartition(h) == part {
					routed = append(routed, h)
				}
			}
			idx.Filter().CountingAgent().BulkCount(routed, total)
		}
		if int(total[bin]) != len(hashes) {
			t.Errorf("bin %d: expected %d matches across parts, got %d", bin, len(hashes), total[bin])
		}
	}
}

func TestBuildConfigValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewIndexFactory(ctx, BuildConfig{Shape: testKmer(t, 4), Window: 8}); !errors.Is(err, rperrors.ErrEmptyBins) {
		t.Errorf("no bins: expected ErrEmptyBins, got %v", err)
	}
	cfg := BuildConfig{
		Bins:   make([][]string, 1<<20+1),
		Shape:  testKmer(t, 4),
		Window: 8,
	}
	if _, err := NewIndexFactory(ctx, cfg); !errors.Is(err, rperrors.ErrBinCountOverflow) {
		t.Errorf("too many bins: expected ErrBinCountOverflow, got %v", err)
	}
}
