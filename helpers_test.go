package raptor

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	randv2 "math/rand/v2"
	"os"
	"testing"

	"github.com/new2f7/raptor/internal/minimizer"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x7261707430723031
	testSeed2 = 0x696E646578746573
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

func randomDNA(rng *randv2.Rand, n int) []byte {
	const alphabet = "ACGT"
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = alphabet[rng.IntN(4)]
	}
	return seq
}

// writeFasta writes records to a FASTA file, gzip-compressed when the path
// ends in .gz.
func writeFasta(t testing.TB, path string, records []Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	var out interface {
		Write([]byte) (int, error)
	} = f
	var gz *gzip.Writer
	if fileIsCompressed(path) {
		gz = gzip.NewWriter(f)
		out = gz
	}
	for _, rec := range records {
		if _, err := fmt.Fprintf(out, ">%s\n%s\n", rec.ID, rec.Seq); err != nil {
			t.Fatal(err)
		}
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func testShape(t testing.TB, s string) minimizer.Shape {
	t.Helper()
	shape, err := minimizer.ParseShape(s)
	if err != nil {
		t.Fatal(err)
	}
	return shape
}

func testKmer(t testing.TB, k int) minimizer.Shape {
	t.Helper()
	shape, err := minimizer.NewKmer(k)
	if err != nil {
		t.Fatal(err)
	}
	return shape
}

// makeBinFiles writes one single-record FASTA file per bin under dir and
// returns the per-bin input lists.
func makeBinFiles(t testing.TB, rng *randv2.Rand, dir string, bins int, seqLen int) [][]string {
	t.Helper()
	inputs := make([][]string, bins)
	for bin := range inputs {
		path := fmt.Sprintf("%s/bin%02d.fasta", dir, bin)
		writeFasta(t, path, []Record{
			{ID: fmt.Sprintf("ref%d", bin), Seq: randomDNA(rng, seqLen)},
		})
		inputs[bin] = []string{path}
	}
	return inputs
}
