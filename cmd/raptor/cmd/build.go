package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
	"github.com/new2f7/raptor/internal/layout"
)

// buildOptions holds CLI flags for build.
type buildOptions struct {
	input     string
	output    string
	layout    string
	kmer      int
	shape     string
	window    int
	fpRate    float64
	hashCount int
	parts     int
	threads   int
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an index from bins or prepared artifacts",
		Long: `Build constructs the interleaved Bloom filter index. Input is either
a bin definition file over raw sequence files or the minimiser.list
manifest written by prepare.

With --parts N the hash space is split into N partitions and one index
file per partition is written (<output>_0 .. <output>_N-1), bounding
build and query memory to one partition's filter. With --layout the
bins are packed into a hierarchical index instead; --parts and
--layout are mutually exclusive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Bin definition file or minimiser.list (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Index output path (required)")
	cmd.Flags().StringVar(&opts.layout, "layout", "", "Packing plan YAML for a hierarchical index")
	cmd.Flags().IntVarP(&opts.kmer, "kmer", "k", 20, "K-mer size")
	cmd.Flags().StringVar(&opts.shape, "shape", "", "Binary shape string, overrides --kmer")
	cmd.Flags().IntVarP(&opts.window, "window", "w", 24, "Minimiser window size")
	cmd.Flags().Float64Var(&opts.fpRate, "fpr", 0, "Per-bin false positive rate (default 0.05)")
	cmd.Flags().IntVar(&opts.hashCount, "hash", 0, "Bloom hash function count (default 2)")
	cmd.Flags().IntVarP(&opts.parts, "parts", "p", 1, "Partition count (1 = unpartitioned)")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Worker threads (default: all cores)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagsMutuallyExclusive("layout", "parts")

	return cmd
}

func runBuild(ctx context.Context, opts buildOptions) error {
	shape, err := parseShapeFlags(opts.kmer, opts.shape)
	if err != nil {
		return err
	}
	bins, err := readBinList(opts.input)
	if err != nil {
		return err
	}

	cfg := raptor.BuildConfig{
		Bins:      bins,
		Shape:     shape,
		Window:    opts.window,
		HashCount: opts.hashCount,
		FPRate:    opts.fpRate,
		Parts:     opts.parts,
		Threads:   opts.threads,
	}

	slog.Info("build_started",
		slog.Int("bins", len(bins)),
		slog.String("shape", shape.String()),
		slog.Int("window", opts.window),
		slog.Int("parts", opts.parts))

	if opts.layout != "" {
		plan, err := layout.Load(opts.layout)
		if err != nil {
			return err
		}
		builder, err := raptor.NewHierarchicalBuilder(cfg, plan)
		if err != nil {
			return err
		}
		idx, err := builder.Build(ctx)
		if err != nil {
			return err
		}
		if err := idx.Save(opts.output); err != nil {
			return err
		}
	} else if err := raptor.BuildIndex(ctx, cfg, opts.output); err != nil {
		return err
	}

	slog.Info("build_finished", slog.String("output", opts.output))
	return nil
}
