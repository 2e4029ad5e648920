package raptor

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/minimizer"
)

// Artifact naming. Per content bin, preprocessing persists a minimiser file
// (binary hash list), a header file (text metadata) and, while the bin is
// being processed, a zero-byte progress marker.
const (
	minimiserExt = ".minimiser"
	headerExt    = ".header"
	progressExt  = ".in_progress"

	// ManifestName is the per-run manifest listing one minimiser artifact
	// path per content bin, in bin order.
	ManifestName = "minimiser.list"
)

// binArtifacts holds the artifact paths of one content bin.
type binArtifacts struct {
	minimiser string
	header    string
	progress  string
}

// artifactPaths derives a bin's artifact paths from its first input file.
// Compressed inputs drop both the compression and the format extension.
func artifactPaths(outDir, firstFile string) binArtifacts {
	base := filepath.Base(firstFile)
	if fileIsCompressed(base) {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	stem := filepath.Join(outDir, base)
	return binArtifacts{
		minimiser: stem + minimiserExt,
		header:    stem + headerExt,
		progress:  stem + progressExt,
	}
}

// writeMinimiserArtifact persists all hashes with an occurrence count of at
// least cutoff as fixed-width little-endian 64-bit values. Map iteration
// order is unspecified and immaterial to the artifact contract. Returns the
// number of hashes retained.
func writeMinimiserArtifact(path string, table map[uint64]uint8, cutoff uint8) (uint64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create minimiser artifact: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	var buf [8]byte
	var count uint64
	for hash, occurrences := range table {
		if occurrences < cutoff {
			continue
		}
		binary.LittleEndian.PutUint64(buf[:], hash)
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return 0, fmt.Errorf("write minimiser artifact: %w", err)
		}
		count++
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("write minimiser artifact: %w", err)
	}
	return count, f.Close()
}

// readMinimiserArtifact loads a minimiser artifact into memory.
// The file is memory-mapped and read sequentially.
func readMinimiserArtifact(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", rperrors.ErrMissingArtifact, path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat minimiser artifact: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}
	if size%8 != 0 {
		return nil, fmt.Errorf("%w: %s", rperrors.ErrTruncatedFile, path)
	}

	fadviseSequential(int(f.Fd()), 0, size)
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap minimiser artifact: %w", err)
	}
	defer mm.Unmap()

	hashes := make([]uint64, size/8)
	for i := range hashes {
		hashes[i] = binary.LittleEndian.Uint64(mm[i*8:])
	}
	return hashes, nil
}

// minimiserHeader is the text metadata written next to each artifact.
type minimiserHeader struct {
	Shape  minimizer.Shape
	Window uint32
	Cutoff uint8
	Count  uint64
}

// writeMinimiserHeader writes the single-line header artifact:
// "<shape>\t<window_size>\t<cutoff>\t<count>\n".
func writeMinimiserHeader(path string, h minimiserHeader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create header artifact: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s\t%d\t%d\t%d\n", h.Shape.String(), h.Window, h.Cutoff, h.Count); err != nil {
		f.Close()
		return fmt.Errorf("write header artifact: %w", err)
	}
	return f.Close()
}

// readMinimiserHeader parses a header artifact.
func readMinimiserHeader(path string) (minimiserHeader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return minimiserHeader{}, fmt.Errorf("read header artifact: %w", err)
	}
	fields := strings.Split(strings.TrimSuffix(string(data), "\n"), "\t")
	if len(fields) != 4 {
		return minimiserHeader{}, fmt.Errorf("%w: %s", rperrors.ErrMalformedHeader, path)
	}
	shape, err := minimizer.ParseShape(fields[0])
	if err != nil {
		return minimiserHeader{}, fmt.Errorf("%w: %s", rperrors.ErrMalformedHeader, path)
	}
	window, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return minimiserHeader{}, fmt.Errorf("%w: %s", rperrors.ErrMalformedHeader, path)
	}
	cutoff, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return minimiserHeader{}, fmt.Errorf("%w: %s", rperrors.ErrMalformedHeader, path)
	}
	count, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return minimiserHeader{}, fmt.Errorf("%w: %s", rperrors.ErrMalformedHeader, path)
	}
	return minimiserHeader{Shape: shape, Window: uint32(window), Cutoff: uint8(cutoff), Count: count}, nil
}

// writeManifest writes the minimiser.list manifest: one artifact path per
// content bin, in bin order.
func writeManifest(outDir string, bins [][]string) error {
	path := filepath.Join(outDir, ManifestName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, files := range bins {
		if _, err := fmt.Fprintln(w, artifactPaths(outDir, files[0]).minimiser); err != nil {
			f.Close()
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return f.Close()
}

// ReadManifest reads a minimiser.list manifest back into per-bin input
// lists, each holding a single artifact path.
func ReadManifest(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var bins [][]string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			bins = append(bins, []string{line})
		}
	}
	if len(bins) == 0 {
		return nil, rperrors.ErrEmptyBins
	}
	return bins, nil
}
