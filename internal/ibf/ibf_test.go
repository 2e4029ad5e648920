package ibf

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	randv2 "math/rand/v2"
	"sync"
	"testing"

	rperrors "github.com/new2f7/raptor/errors"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x696E746572420F1E
	testSeed2 = 0x626C6F6F6D66FF00
)

func newTestRNG(t testing.TB) *randv2.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return randv2.New(randv2.NewPCG(testSeed1^s1, testSeed2^s2))
}

func randomHashes(rng *randv2.Rand, n int) []uint64 {
	hashes := make([]uint64, n)
	for i := range hashes {
		hashes[i] = rng.Uint64()
	}
	return hashes
}

func TestNewValidation(t *testing.T) {
	if _, err := New(0, 64, 2); !errors.Is(err, rperrors.ErrEmptyBins) {
		t.Errorf("zero bins: expected ErrEmptyBins, got %v", err)
	}
	if _, err := New(4, 64, 0); !errors.Is(err, rperrors.ErrInvalidHashCount) {
		t.Errorf("zero hashes: expected ErrInvalidHashCount, got %v", err)
	}
	if _, err := New(4, 64, MaxHashCount+1); !errors.Is(err, rperrors.ErrInvalidHashCount) {
		t.Errorf("too many hashes: expected ErrInvalidHashCount, got %v", err)
	}
	// A zero bin size is bumped to one row instead of failing.
	f, err := New(4, 0, 2)
	if err != nil {
		t.Fatalf("zero bin size: %v", err)
	}
	if f.BinSize() != 1 {
		t.Errorf("zero bin size: expected 1 row, got %d", f.BinSize())
	}
}

// Bloom filters never report an inserted element as absent.
func TestNoFalseNegatives(t *testing.T) {
	rng := newTestRNG(t)
	const bins = 7
	f, err := NewForCapacity(bins, 500, 0.05, 3)
	if err != nil {
		t.Fatal(err)
	}

	perBin := make([][]uint64, bins)
	for bin := range perBin {
		perBin[bin] = randomHashes(rng, 500)
		for _, h := range perBin[bin] {
			f.Insert(bin, h)
		}
	}

	agent := f.CountingAgent()
	counts := make([]uint16, bins)
	for bin, hashes := range perBin {
		clear(counts)
		agent.BulkCount(hashes, counts)
		if int(counts[bin]) != len(hashes) {
			t.Errorf("bin %d: expected all %d hashes found, got %d",
				bin, len(hashes), counts[bin])
		}
	}
}

// Observed false positive rates must stay near the configured budget.
func TestFalsePositiveRate(t *testing.T) {
	rng := newTestRNG(t)
	const fpRate = 0.05
	f, err := NewForCapacity(1, 1000, fpRate, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range randomHashes(rng, 1000) {
		f.Insert(0, h)
	}

	agent := f.CountingAgent()
	counts := make([]uint16, 1)
	const probes = 20000
	falsePositives := 0
	for _, h := range randomHashes(rng, probes) {
		clear(counts)
		agent.BulkCount([]uint64{h}, counts)
		if counts[0] > 0 {
			falsePositives++
		}
	}
	observed := float64(falsePositives) / probes
	// Random probes can collide with inserted values, so allow slack above
	// the configured rate.
	if observed > 2*fpRate {
		t.Errorf("false positive rate: expected <= %v, observed %v", 2*fpRate, observed)
	}
}

func TestBulkCountAccumulates(t *testing.T) {
	rng := newTestRNG(t)
	f, err := NewForCapacity(3, 100, 0.05, 2)
	if err != nil {
		t.Fatal(err)
	}
	hashes := randomHashes(rng, 100)
	for _, h := range hashes {
		f.Insert(1, h)
	}

	agent := f.CountingAgent()
	whole := make([]uint16, 3)
	agent.BulkCount(hashes, whole)

	// Counting the same hashes split into slices must add up to the same
	// totals, in any split order.
	split := make([]uint16, 3)
	agent.BulkCount(hashes[60:], split)
	agent.BulkCount(hashes[:60], split)
	for bin := range whole {
		if whole[bin] != split[bin] {
			t.Errorf("bin %d: whole count %d, split count %d", bin, whole[bin], split[bin])
		}
	}
}

func TestBinsBeyondWordBoundary(t *testing.T) {
	rng := newTestRNG(t)
	const bins = 130 // three words of interleaved bits
	f, err := NewForCapacity(bins, 50, 0.05, 2)
	if err != nil {
		t.Fatal(err)
	}
	hashes := randomHashes(rng, 50)
	for _, bin := range []int{0, 63, 64, 127, 128, 129} {
		for _, h := range hashes {
			f.Insert(bin, h)
		}
	}

	agent := f.CountingAgent()
	counts := make([]uint16, bins)
	agent.BulkCount(hashes, counts)
	for _, bin := range []int{0, 63, 64, 127, 128, 129} {
		if int(counts[bin]) != len(hashes) {
			t.Errorf("bin %d: expected %d, got %d", bin, len(hashes), counts[bin])
		}
	}
}

func TestConcurrentInsert(t *testing.T) {
	rng := newTestRNG(t)
	const bins = 8
	f, err := NewForCapacity(bins, 200, 0.05, 2)
	if err != nil {
		t.Fatal(err)
	}
	perBin := make([][]uint64, bins)
	for bin := range perBin {
		perBin[bin] = randomHashes(rng, 200)
	}

	var wg sync.WaitGroup
	for bin := range perBin {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, h := range perBin[bin] {
				f.Insert(bin, h)
			}
		}()
	}
	wg.Wait()

	agent := f.CountingAgent()
	counts := make([]uint16, bins)
	for bin, hashes := range perBin {
		clear(counts)
		agent.BulkCount(hashes, counts)
		if int(counts[bin]) != len(hashes) {
			t.Errorf("bin %d: lost inserts, expected %d got %d", bin, len(hashes), counts[bin])
		}
	}
}

func TestFromData(t *testing.T) {
	rng := newTestRNG(t)
	f, err := New(70, 128, 2)
	if err != nil {
		t.Fatal(err)
	}
	hashes := randomHashes(rng, 100)
	for _, h := range hashes {
		f.Insert(3, h)
	}

	clone, err := FromData(70, 128, 2, f.Data())
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	counts := make([]uint16, 70)
	clone.CountingAgent().BulkCount(hashes, counts)
	if int(counts[3]) != len(hashes) {
		t.Errorf("reconstructed filter: expected %d, got %d", len(hashes), counts[3])
	}

	if _, err := FromData(70, 128, 2, make([]uint64, 5)); !errors.Is(err, rperrors.ErrCorruptedIndex) {
		t.Errorf("wrong data length: expected ErrCorruptedIndex, got %v", err)
	}
}

func TestBinSizeFor(t *testing.T) {
	// More elements need more rows; a tighter budget needs more rows.
	small := BinSizeFor(100, 0.05, 2)
	large := BinSizeFor(10000, 0.05, 2)
	if large <= small {
		t.Errorf("sizing not monotonic in elements: %d vs %d", small, large)
	}
	loose := BinSizeFor(1000, 0.05, 2)
	tight := BinSizeFor(1000, 0.001, 2)
	if tight <= loose {
		t.Errorf("sizing not monotonic in fp rate: %d vs %d", loose, tight)
	}
	if BinSizeFor(0, 0.05, 2) == 0 {
		t.Error("empty bin must still get a non-zero size")
	}
}
