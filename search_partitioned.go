package raptor

import (
	"context"
	"fmt"
	"math/rand"

	rperrors "github.com/new2f7/raptor/errors"
	"github.com/new2f7/raptor/internal/minimizer"
)

// searchPartitioned queries a partitioned index, one part at a time.
//
// Each part's filter only saw the hashes routed to it, so for every chunk
// each record's hashes are split by partition and counted against the
// matching part. Per-bin counts accumulate across parts by addition, which
// is order-independent; when the final part has been counted, every bin's
// total equals what one unpartitioned index would have produced and the
// result lines are emitted. While one part is being counted the next part
// loads in the background.
func searchPartitioned(ctx context.Context, cfg SearchConfig) (*Timings, error) {
	partCfg, err := NewPartitionConfig(cfg.Parts)
	if err != nil {
		return nil, err
	}

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
		extractor   *minimizer.Extractor
		thresholder *Thresholder
		binCount    int
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

		load := loadIndexAsync(PartitionedPath(cfg.IndexPath, cfg.Parts, 0))
		shuffleRecords(shuffle, records)

		hashes := make([][]uint64, len(records))
		thresholds := make([]uint16, len(records))
		counts := make([][]uint16, len(records))

		for part := 0; part < cfg.Parts; part++ {
			r := <-load
			if r.err != nil {
				out.Close()
				return nil, r.err
			}
			idx := r.idx
			if part+1 < cfg.Parts {
				load = loadIndexAsync(PartitionedPath(cfg.IndexPath, cfg.Parts, part+1))
			}

			if extractor == nil {
				extractor, thresholder, err = queryTooling(idx.Metadata(), cfg.Threshold)
				if err != nil {
					out.Close()
					return nil, err
				}
				if err := out.WriteHeader(idx.Metadata(), idx.HashFunctionCount()); err != nil {
					out.Close()
					return nil, err
				}
				binCount = idx.BinCount()
			}
			if idx.BinCount() != binCount {
				out.Close()
				return nil, fmt.Errorf("%w: partition %d has %d bins, partition 0 has %d",
					rperrors.ErrMetadataMismatch, part, idx.BinCount(), binCount)
			}
			if err := idx.CheckCompatible(extractor.Shape(), extractor.Window(), cfg.Parts); err != nil {
				out.Close()
				return nil, err
			}
			if int(idx.Metadata().Partition) != part {
				out.Close()
				return nil, fmt.Errorf("%w: file %s holds partition %d, expected %d",
					rperrors.ErrPartitionMismatch,
					PartitionedPath(cfg.IndexPath, cfg.Parts, part),
					idx.Metadata().Partition, part)
			}

			emit := part == cfg.Parts-1
			locals := make([]*Timings, cfg.Threads)
			err = RunParallelWorkers(ctx, len(records), cfg.Threads, func(workerID int) func(int) error {
				agent := idx.Filter().CountingAgent()
				var partHashes []uint64
				var line []byte
				local := &Timings{}
				locals[workerID] = local
				return func(i int) error {
					local.ComputeHash.Start()
					if part == 0 {
						hashes[i] = extractor.ExtractInto(records[i].Seq, hashes[i])
						thresholds[i] = thresholder.Get(len(hashes[i]))
						counts[i] = make([]uint16, idx.BinCount())
					}
					partHashes = partHashes[:0]
					for _, h := range hashes[i] {
						if partCfg.HashPartition(h) == part {
							partHashes = append(partHashes, h)
						}
					}
					local.ComputeHash.Stop()

					local.QueryIndex.Start()
					agent.BulkCount(partHashes, counts[i])
					local.QueryIndex.Stop()

					if !emit {
						return nil
					}
					line = formatCounted(line, records[i].ID, counts[i], thresholds[i])
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
	}
	return timings, out.Close()
}
