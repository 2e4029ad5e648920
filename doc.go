// Package raptor implements an approximate set-membership index for DNA
// sequence collections, built on interleaved Bloom filters over canonical
// minimizer hashes.
//
// A collection is split into content bins; the index answers, per query
// record, which bins share enough minimizers with it. Bloom filtering means
// no false negatives and a configurable false positive budget. Memory-bounded
// operation is available two ways: hash-space partitioning, which splits one
// index generation into several files queried one at a time, and a
// hierarchical layout, which packs bins into a tree of filters so only
// promising subtrees are queried.
//
// # Basic Usage
//
// Preprocessing inputs and building an index:
//
//	cfg := raptor.BuildConfig{
//	    Bins:   [][]string{{"bin0.fasta"}, {"bin1.fasta"}},
//	    Shape:  shape,
//	    Window: 24,
//	}
//	if err := raptor.BuildIndex(ctx, cfg, "collection.index"); err != nil {
//	    log.Fatal(err)
//	}
//
// Querying:
//
//	timings, err := raptor.Search(ctx, raptor.SearchConfig{
//	    IndexPath:  "collection.index",
//	    QueryPath:  "reads.fasta",
//	    OutputPath: "reads.out",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Preprocessing: prepare.go (ComputeMinimiser), cutoff.go, artifacts.go
//   - Index build: factory.go (IndexFactory, BuildIndex), hierarchy.go
//     (HierarchicalBuilder), partition.go (hash-space routing)
//   - Serialization: index.go, hierarchy.go (headers, checksums, mmap loads)
//   - Query: search.go (Search), search_partitioned.go, threshold.go,
//     syncout.go (result formatting)
//   - Input: reader.go (FASTA, transparent gzip)
//   - Hashing: internal/minimizer/ (shapes, canonical minimizers),
//     internal/ibf/ (interleaved Bloom filter)
//   - Platform: fallocate_*.go, fadvise_*.go (OS-specific optimizations)
package raptor
