package raptor

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"strconv"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/minimizer"
)

const (
	defaultChunkRecords = 1 << 16

	// shuffleSeed is fixed so repeated runs distribute records over
	// workers identically.
	shuffleSeed = 0x2bc6f1b6a9c5e1d7
)

// SearchConfig configures a query run against a built index.
type SearchConfig struct {
	IndexPath  string
	QueryPath  string
	OutputPath string
	// Hierarchical selects the layered index format.
	Hierarchical bool
	// Parts must match the partition count the index was built with
	// (1 = unpartitioned). Partition files are derived from IndexPath.
	Parts int
	// ChunkRecords bounds how many query records are held in memory at once.
	ChunkRecords int
	Threads      int
	// Threshold turns a record's minimizer count into its match cutoff.
	Threshold []ThresholdOption
}

func (cfg *SearchConfig) withDefaults() (SearchConfig, error) {
	c := *cfg
	if c.ChunkRecords <= 0 {
		c.ChunkRecords = defaultChunkRecords
	}
	if c.Threads <= 0 {
		c.Threads = runtime.GOMAXPROCS(0)
	}
	if c.Parts == 0 {
		c.Parts = 1
	}
	if c.Parts < 1 {
		return c, rperrors.ErrInvalidParts
	}
	if c.Hierarchical && c.Parts > 1 {
		return c, fmt.Errorf("%w: hierarchical indexes are not partitioned", rperrors.ErrInvalidParts)
	}
	return c, nil
}

// Search runs the query side end to end: the index loads in the background
// while query records stream in chunks, and every record gets exactly one
// result line. Merged per-phase timings are returned on success.
func Search(ctx context.Context, cfg SearchConfig) (*Timings, error) {
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if c.Parts > 1 {
		return searchPartitioned(ctx, c)
	}
	if c.Hierarchical {
		return searchHierarchical(ctx, c)
	}
	return searchCounting(ctx, c)
}

type indexLoad struct {
	idx *Index
	err error
}

// loadIndexAsync starts loading an index partition in the background.
// Receiving from the channel joins the load.
func loadIndexAsync(path string) <-chan indexLoad {
	ch := make(chan indexLoad, 1)
	go func() {
		idx, err := LoadIndex(path)
		ch <- indexLoad{idx: idx, err: err}
	}()
	return ch
}

// searchCounting queries a single counting index: bulk-count each record's
// minimizers and report every bin meeting the record's threshold.
func searchCounting(ctx context.Context, cfg SearchConfig) (*Timings, error) {
	load := loadIndexAsync(cfg.IndexPath)

	reader, err := OpenFasta(cfg.QueryPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	out, err := NewSyncOut(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	timings := &Timings{}
	shuffle := rand.New(rand.NewSource(shuffleSeed))
	var (
		idx         *Index
		extractor   *minimizer.Extractor
		thresholder *Thresholder
	)

	for {
		timings.ReadInput.Start()
		records, err := reader.ReadChunk(cfg.ChunkRecords)
		timings.ReadInput.Stop()
		if err != nil {
			out.Close()
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		if idx == nil {
			r := <-load
			if r.err != nil {
				out.Close()
				return nil, r.err
			}
			idx = r.idx
			if idx.Metadata().Parts != 1 {
				out.Close()
				return nil, fmt.Errorf("%w: index was built with %d partitions",
					rperrors.ErrPartitionMismatch, idx.Metadata().Parts)
			}
			extractor, thresholder, err = queryTooling(idx.Metadata(), cfg.Threshold)
			if err != nil {
				out.Close()
				return nil, err
			}
			if err := out.WriteHeader(idx.Metadata(), idx.HashFunctionCount()); err != nil {
				out.Close()
				return nil, err
			}
		}
		shuffleRecords(shuffle, records)

		locals := make([]*Timings, cfg.Threads)
		err = RunParallelWorkers(ctx, len(records), cfg.Threads, func(workerID int) func(int) error {
			agent := idx.Filter().CountingAgent()
			counts := make([]uint16, idx.BinCount())
			var hashes []uint64
			var line []byte
			local := &Timings{}
			locals[workerID] = local
			return func(i int) error {
				rec := records[i]

				local.ComputeHash.Start()
				hashes = extractor.ExtractInto(rec.Seq, hashes[:0])
				threshold := thresholder.Get(len(hashes))
				local.ComputeHash.Stop()

				local.QueryIndex.Start()
				clear(counts)
				agent.BulkCount(hashes, counts)
				line = formatCounted(line, rec.ID, counts, threshold)
				local.QueryIndex.Stop()

				local.WriteOutput.Start()
				err := out.Write(string(line))
				local.WriteOutput.Stop()
				return err
			}
		})
		mergeTimings(timings, locals)
		if err != nil {
			out.Close()
			return nil, err
		}
	}
	return timings, out.Close()
}

// searchHierarchical queries a layered index, descending only into subtrees
// that can still meet each record's threshold.
func searchHierarchical(ctx context.Context, cfg SearchConfig) (*Timings, error) {
	type hierLoad struct {
		idx *HierarchicalIndex
		err error
	}
	load := make(chan hierLoad, 1)
	go func() {
		idx, err := LoadHierarchicalIndex(cfg.IndexPath)
		load <- hierLoad{idx: idx, err: err}
	}()

	reader, err := OpenFasta(cfg.QueryPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	out, err := NewSyncOut(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	timings := &Timings{}
	shuffle := rand.New(rand.NewSource(shuffleSeed))
	var (
		idx         *HierarchicalIndex
		extractor   *minimizer.Extractor
		thresholder *Thresholder
	)

	for {
		timings.ReadInput.Start()
		records, err := reader.ReadChunk(cfg.ChunkRecords)
		timings.ReadInput.Stop()
		if err != nil {
			out.Close()
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		if idx == nil {
			r := <-load
			if r.err != nil {
				out.Close()
				return nil, r.err
			}
			idx = r.idx
			extractor, thresholder, err = queryTooling(idx.Metadata(), cfg.Threshold)
			if err != nil {
				out.Close()
				return nil, err
			}
			if err := out.WriteHeader(idx.Metadata(), idx.HashFunctionCount()); err != nil {
				out.Close()
				return nil, err
			}
		}
		shuffleRecords(shuffle, records)

		locals := make([]*Timings, cfg.Threads)
		err = RunParallelWorkers(ctx, len(records), cfg.Threads, func(workerID int) func(int) error {
			agent := idx.MembershipAgent()
			var hashes []uint64
			var line []byte
			local := &Timings{}
			locals[workerID] = local
			return func(i int) error {
				rec := records[i]

				local.ComputeHash.Start()
				hashes = extractor.ExtractInto(rec.Seq, hashes[:0])
				threshold := thresholder.Get(len(hashes))
				local.ComputeHash.Stop()

				local.QueryIndex.Start()
				bins := agent.MembershipFor(hashes, threshold)
				line = formatBins(line, rec.ID, bins)
				local.QueryIndex.Stop()

				local.WriteOutput.Start()
				err := out.Write(string(line))
				local.WriteOutput.Stop()
				return err
			}
		})
		mergeTimings(timings, locals)
		if err != nil {
			out.Close()
			return nil, err
		}
	}
	return timings, out.Close()
}

// queryTooling derives the extractor and thresholder from index metadata.
// The threshold always depends on the queried record, never on the index,
// so it is recomputed per record from the record's minimizer count.
func queryTooling(meta Metadata, opts []ThresholdOption) (*minimizer.Extractor, *Thresholder, error) {
	extractor, err := minimizer.NewExtractor(meta.Shape, int(meta.WindowSize))
	if err != nil {
		return nil, nil, err
	}
	thresholder, err := NewThresholder(meta.Shape.Span(), opts...)
	if err != nil {
		return nil, nil, err
	}
	return extractor, thresholder, nil
}

func shuffleRecords(r *rand.Rand, records []Record) {
	r.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
}

func mergeTimings(into *Timings, locals []*Timings) {
	for _, local := range locals {
		if local != nil {
			into.Merge(local)
		}
	}
}

// formatCounted renders one result line from per-bin counts. Records
// without a qualifying bin still get a line, so output rows stay aligned
// with input records.
func formatCounted(buf []byte, id string, counts []uint16, threshold uint16) []byte {
	buf = append(buf[:0], id...)
	buf = append(buf, '\t')
	matched := false
	for bin, c := range counts {
		if c >= threshold {
			buf = strconv.AppendInt(buf, int64(bin), 10)
			buf = append(buf, ',')
			matched = true
		}
	}
	if matched {
		// The list is comma-joined, not comma-terminated.
		buf[len(buf)-1] = '\n'
	} else {
		buf = append(buf, '\n')
	}
	return buf
}

// formatBins renders one result line from an ascending bin id list.
func formatBins(buf []byte, id string, bins []int) []byte {
	buf = append(buf[:0], id...)
	buf = append(buf, '\t')
	for _, bin := range bins {
		buf = strconv.AppendInt(buf, int64(bin), 10)
		buf = append(buf, ',')
	}
	if len(bins) > 0 {
		buf[len(buf)-1] = '\n'
	} else {
		buf = append(buf, '\n')
	}
	return buf
}
