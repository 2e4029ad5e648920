package raptor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/ibf"
)

func testIndex(t *testing.T, hashes [][]uint64) *Index {
	t.Helper()
	filter, err := ibf.NewForCapacity(len(hashes), 200, 0.05, 2)
	if err != nil {
		t.Fatal(err)
	}
	for bin, hs := range hashes {
		for _, h := range hs {
			filter.Insert(bin, h)
		}
	}
	meta := Metadata{
		Shape:      testKmer(t, 16),
		WindowSize: 20,
		FPRate:     0.05,
		Parts:      1,
	}
	return NewIndex(meta, filter)
}

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	perBin := make([][]uint64, 5)
	for bin := range perBin {
		perBin[bin] = make([]uint64, 200)
		for i := range perBin[bin] {
			perBin[bin][i] = rng.Uint64()
		}
	}
	idx := testIndex(t, perBin)
	path := filepath.Join(t.TempDir(), "test.index")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadIndex(path)
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if loaded.Metadata() != idx.Metadata() {
		t.Errorf("metadata: expected %+v, got %+v", idx.Metadata(), loaded.Metadata())
	}
	if loaded.BinCount() != idx.BinCount() || loaded.HashFunctionCount() != idx.HashFunctionCount() {
		t.Errorf("filter shape mismatch after reload")
	}

	// Inserted hashes must still be found after the round trip.
	agent := loaded.Filter().CountingAgent()
	counts := make([]uint16, loaded.BinCount())
	for bin, hs := range perBin {
		clear(counts)
		agent.BulkCount(hs, counts)
		if int(counts[bin]) != len(hs) {
			t.Errorf("bin %d: expected %d, got %d", bin, len(hs), counts[bin])
		}
	}
}

func TestLoadIndexCorruption(t *testing.T) {
	rng := newTestRNG(t)
	idx := testIndex(t, [][]uint64{{rng.Uint64(), rng.Uint64()}})
	dir := t.TempDir()
	path := filepath.Join(dir, "test.index")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	pristine, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	corrupt := func(t *testing.T, mutate func(data []byte) []byte) error {
		t.Helper()
		data := mutate(append([]byte(nil), pristine...))
		bad := filepath.Join(dir, "corrupt.index")
		if err := os.WriteFile(bad, data, 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadIndex(bad)
		return err
	}

	if err := corrupt(t, func(d []byte) []byte { d[0] ^= 0xFF; return d }); !errors.Is(err, rperrors.ErrInvalidMagic) {
		t.Errorf("bad magic: expected ErrInvalidMagic, got %v", err)
	}
	if err := corrupt(t, func(d []byte) []byte { d[4] ^= 0xFF; return d }); !errors.Is(err, rperrors.ErrInvalidVersion) {
		t.Errorf("bad version: expected ErrInvalidVersion, got %v", err)
	}
	if err := corrupt(t, func(d []byte) []byte { return d[:len(d)-9] }); !errors.Is(err, rperrors.ErrTruncatedFile) {
		t.Errorf("truncated: expected ErrTruncatedFile, got %v", err)
	}
	if err := corrupt(t, func(d []byte) []byte { d[indexHeaderSize] ^= 0x01; return d }); !errors.Is(err, rperrors.ErrChecksumFailed) {
		t.Errorf("flipped payload bit: expected ErrChecksumFailed, got %v", err)
	}
	if err := corrupt(t, func(d []byte) []byte { d[len(d)-1] ^= 0x01; return d }); !errors.Is(err, rperrors.ErrChecksumFailed) {
		t.Errorf("flipped footer bit: expected ErrChecksumFailed, got %v", err)
	}
}

func TestCheckCompatible(t *testing.T) {
	idx := testIndex(t, [][]uint64{{1, 2, 3}})
	meta := idx.Metadata()

	if err := idx.CheckCompatible(meta.Shape, int(meta.WindowSize), 1); err != nil {
		t.Errorf("matching parameters: %v", err)
	}
	if err := idx.CheckCompatible(testKmer(t, 12), int(meta.WindowSize), 1); !errors.Is(err, rperrors.ErrMetadataMismatch) {
		t.Errorf("wrong shape: expected ErrMetadataMismatch, got %v", err)
	}
	if err := idx.CheckCompatible(meta.Shape, 99, 1); !errors.Is(err, rperrors.ErrMetadataMismatch) {
		t.Errorf("wrong window: expected ErrMetadataMismatch, got %v", err)
	}
	if err := idx.CheckCompatible(meta.Shape, int(meta.WindowSize), 4); !errors.Is(err, rperrors.ErrPartitionMismatch) {
		t.Errorf("wrong parts: expected ErrPartitionMismatch, got %v", err)
	}
}

func TestPartitionedPath(t *testing.T) {
	if got := PartitionedPath("idx", 1, 0); got != "idx" {
		t.Errorf("unpartitioned: got %s", got)
	}
	if got := PartitionedPath("idx", 4, 2); got != "idx_2" {
		t.Errorf("partitioned: got %s", got)
	}
}
