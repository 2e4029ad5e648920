package raptor

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cespare/xxhash/v2"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/layout"
)

// buildTestHierarchy packs bins into a deep tree (at most 3 slots per
// node) and builds the hierarchical index over them.
func buildTestHierarchy(t *testing.T, bins [][]string) (*HierarchicalIndex, BuildConfig) {
	t.Helper()
	cfg := testBuildConfig(t, bins)
	cards, err := BinCardinalities(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := layout.Pack(cards, 3)
	if err != nil {
		t.Fatal(err)
	}
	builder, err := NewHierarchicalBuilder(cfg, plan)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := builder.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return idx, cfg
}

func TestHierarchicalMembership(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 7, 1500)
	idx, cfg := buildTestHierarchy(t, bins)

	if idx.BinCount() != 7 {
		t.Fatalf("bin count: expected 7, got %d", idx.BinCount())
	}
	if idx.NodeCount() < 2 {
		t.Fatalf("expected a real tree for 7 bins over 3 slots, got %d nodes", idx.NodeCount())
	}

	// A bin's own hashes all match it, so even the maximal threshold must
	// report the source bin. No false negatives at any tree level.
	agent := idx.MembershipAgent()
	for bin, files := range bins {
		hashes := binHashes(t, cfg, files)
		got := agent.MembershipFor(hashes, uint16(len(hashes)))
		if !slices.Contains(got, bin) {
			t.Errorf("bin %d missing from its own membership: %v", bin, got)
		}
		if !slices.IsSorted(got) {
			t.Errorf("bin %d: result not ascending: %v", bin, got)
		}
	}

	if got := agent.MembershipFor(nil, 1); len(got) != 0 {
		t.Errorf("empty query: expected no matches, got %v", got)
	}
}

func TestHierarchicalProvenance(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 5, 1000)
	idx, _ := buildTestHierarchy(t, bins)

	seen := make(map[Provenance]bool)
	for bin := range bins {
		p := idx.ProvenanceOf(bin)
		if p.Node < 0 || p.Node >= idx.NodeCount() {
			t.Errorf("bin %d: provenance node %d out of range", bin, p.Node)
		}
		if seen[p] {
			t.Errorf("bin %d: provenance %+v already taken", bin, p)
		}
		seen[p] = true
	}
}

func TestHierarchicalSaveLoad(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 6, 1200)
	idx, cfg := buildTestHierarchy(t, bins)

	path := filepath.Join(t.TempDir(), "test.hibf")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadHierarchicalIndex(path)
	if err != nil {
		t.Fatalf("LoadHierarchicalIndex: %v", err)
	}
	if loaded.BinCount() != idx.BinCount() || loaded.NodeCount() != idx.NodeCount() {
		t.Fatalf("tree shape changed across reload")
	}
	if loaded.Metadata() != idx.Metadata() {
		t.Errorf("metadata: expected %+v, got %+v", idx.Metadata(), loaded.Metadata())
	}

	// Membership answers must be identical before and after the round trip.
	before := idx.MembershipAgent()
	after := loaded.MembershipAgent()
	for bin, files := range bins {
		hashes := binHashes(t, cfg, files)
		threshold := uint16(len(hashes) / 2)
		b := append([]int(nil), before.MembershipFor(hashes, threshold)...)
		a := after.MembershipFor(hashes, threshold)
		if !slices.Equal(a, b) {
			t.Errorf("bin %d: membership diverges after reload: %v vs %v", bin, a, b)
		}
		if p := loaded.ProvenanceOf(bin); p != idx.ProvenanceOf(bin) {
			t.Errorf("bin %d: provenance diverges after reload", bin)
		}
	}
}

func TestHierarchicalLoadCorruption(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 4, 800)
	idx, _ := buildTestHierarchy(t, bins)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.hibf")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	pristine, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	corrupt := func(mutate func([]byte) []byte) error {
		bad := filepath.Join(dir, "corrupt.hibf")
		if err := os.WriteFile(bad, mutate(append([]byte(nil), pristine...)), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadHierarchicalIndex(bad)
		return err
	}

	if err := corrupt(func(d []byte) []byte { d[0] ^= 0xFF; return d }); !errors.Is(err, rperrors.ErrInvalidMagic) {
		t.Errorf("bad magic: expected ErrInvalidMagic, got %v", err)
	}
	if err := corrupt(func(d []byte) []byte { d[hierarchyHeaderSize] ^= 0x01; return d }); !errors.Is(err, rperrors.ErrChecksumFailed) {
		t.Errorf("flipped payload bit: expected ErrChecksumFailed, got %v", err)
	}
	if err := corrupt(func(d []byte) []byte { return d[:hierarchyHeaderSize+4] }); !errors.Is(err, rperrors.ErrTruncatedFile) {
		t.Errorf("truncated: expected ErrTruncatedFile, got %v", err)
	}

	// Payload mutations get a recomputed footer so they reach the
	// structural checks behind the checksum gate.
	reseal := func(d []byte) []byte {
		binary.LittleEndian.PutUint64(d[len(d)-8:], xxhash.Sum64(d[hierarchyHeaderSize:len(d)-8]))
		return d
	}

	if err := corrupt(func(d []byte) []byte {
		// The first node record claims an absurd row count. The loader
		// must reject it instead of overflowing the allocation size.
		binary.LittleEndian.PutUint64(d[hierarchyHeaderSize:], 1<<61)
		return reseal(d)
	}); !errors.Is(err, rperrors.ErrTruncatedFile) {
		t.Errorf("oversized bin size: expected ErrTruncatedFile, got %v", err)
	}

	if err := corrupt(func(d []byte) []byte {
		// Redirect the first leaf slot to a different bin: some bin now
		// has two leaf slots and another has none.
		slot := hierarchyHeaderSize + 12
		bin := binary.LittleEndian.Uint32(d[slot+4:])
		binary.LittleEndian.PutUint32(d[slot+4:], (bin+1)%uint32(idx.BinCount()))
		return reseal(d)
	}); !errors.Is(err, rperrors.ErrCorruptedIndex) {
		t.Errorf("remapped leaf slot: expected ErrCorruptedIndex, got %v", err)
	}
}

// Hierarchical membership must report every bin the flat index reports for
// the same hashes and threshold: a merged node's slot holds the union of
// its descendants, so pruning never loses a qualifying leaf.
func TestHierarchicalMatchesFlatDecisions(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 6, 1200)
	hier, cfg := buildTestHierarchy(t, bins)

	fac, err := NewIndexFactory(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	flat, err := fac.Construct(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}

	agent := hier.MembershipAgent()
	counting := flat.Filter().CountingAgent()
	counts := make([]uint16, flat.BinCount())
	for bin, files := range bins {
		hashes := binHashes(t, cfg, files)
		threshold := uint16(len(hashes) / 2)

		clear(counts)
		counting.BulkCount(hashes, counts)
		got := agent.MembershipFor(hashes, threshold)
		for b, c := range counts {
			if c >= threshold && !slices.Contains(got, b) {
				t.Errorf("bin %d hashes: flat match %d missing from hierarchical result %v", bin, b, got)
			}
		}
	}
}

func TestHierarchicalBuilderValidation(t *testing.T) {
	rng := newTestRNG(t)
	bins := makeBinFiles(t, rng, t.TempDir(), 3, 500)
	cfg := testBuildConfig(t, bins)

	// The plan covers four bins, the config only three.
	plan, err := layout.Pack([]uint64{10, 20, 30, 40}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewHierarchicalBuilder(cfg, plan); !errors.Is(err, rperrors.ErrInvalidLayout) {
		t.Errorf("bin count mismatch: expected ErrInvalidLayout, got %v", err)
	}
}
