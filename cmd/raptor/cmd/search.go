package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	index        string
	query        string
	output       string
	hierarchical bool
	parts        int
	percentage   float64
	errors       int
	absolute     int
	threads      int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query an index with sequence records",
		Long: `Search reports, for every query record, the content bins likely to
contain it. One tab-separated line per record: the record id, then
the matching bin ids comma-joined. Records without matches still get
a line with an empty bin list.

The match threshold is derived per record from its minimiser count:
by default a fraction of it (--threshold), alternatively a k-mer
lemma bound from an error count (--error) or a fixed count
(--threshold-abs).

A partitioned index is searched one partition at a time with --parts
matching the build; a hierarchical index needs --hibf.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.index, "index", "", "Index path (required)")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Query FASTA file (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Result output path (required)")
	cmd.Flags().BoolVar(&opts.hierarchical, "hibf", false, "Index is hierarchical")
	cmd.Flags().IntVarP(&opts.parts, "parts", "p", 1, "Partition count the index was built with")
	cmd.Flags().Float64Var(&opts.percentage, "threshold", 0, "Fraction of a record's minimisers that must match (default 0.7)")
	cmd.Flags().IntVarP(&opts.errors, "error", "e", -1, "Derive the threshold from this many sequencing errors")
	cmd.Flags().IntVar(&opts.absolute, "threshold-abs", 0, "Fixed minimiser count threshold")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Worker threads (default: all cores)")
	cmd.MarkFlagRequired("index")
	cmd.MarkFlagRequired("query")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagsMutuallyExclusive("threshold", "error", "threshold-abs")

	return cmd
}

func runSearch(ctx context.Context, opts searchOptions) error {
	cfg := raptor.SearchConfig{
		IndexPath:    opts.index,
		QueryPath:    opts.query,
		OutputPath:   opts.output,
		Hierarchical: opts.hierarchical,
		Parts:        opts.parts,
		Threads:      opts.threads,
	}
	switch {
	case opts.absolute > 0:
		cfg.Threshold = append(cfg.Threshold, raptor.WithAbsoluteThreshold(uint16(opts.absolute)))
	case opts.errors >= 0:
		cfg.Threshold = append(cfg.Threshold, raptor.WithErrorThreshold(opts.errors))
	case opts.percentage > 0:
		cfg.Threshold = append(cfg.Threshold, raptor.WithPercentageThreshold(opts.percentage))
	}

	slog.Info("search_started",
		slog.String("index", opts.index),
		slog.String("query", opts.query),
		slog.Int("parts", opts.parts))
	timings, err := raptor.Search(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("search_finished",
		slog.Duration("read_input", timings.ReadInput.Total()),
		slog.Duration("compute_hash", timings.ComputeHash.Total()),
		slog.Duration("query_index", timings.QueryIndex.Total()),
		slog.Duration("write_output", timings.WriteOutput.Total()))
	return nil
}
