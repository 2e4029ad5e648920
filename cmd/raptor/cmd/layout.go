package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
	"github.com/new2f7/raptor/internal/layout"
)

// layoutOptions holds CLI flags for layout.
type layoutOptions struct {
	input    string
	output   string
	kmer     int
	shape    string
	window   int
	fpRate   float64
	hash     int
	maxSlots int
	threads  int
}

func newLayoutCmd() *cobra.Command {
	var opts layoutOptions

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Compute a packing plan for a hierarchical index",
		Long: `Layout sizes every content bin and packs the bins into a grouping
tree: bins that fit in one node stay flat, larger collections are
split into merged children with balanced cardinality. Feed the
resulting plan to build --layout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Bin definition file or minimiser.list (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Plan output path (required)")
	cmd.Flags().IntVarP(&opts.kmer, "kmer", "k", 20, "K-mer size")
	cmd.Flags().StringVar(&opts.shape, "shape", "", "Binary shape string, overrides --kmer")
	cmd.Flags().IntVarP(&opts.window, "window", "w", 24, "Minimiser window size")
	cmd.Flags().Float64Var(&opts.fpRate, "fpr", 0, "False positive rate recorded in the plan")
	cmd.Flags().IntVar(&opts.hash, "hash", 0, "Hash function count recorded in the plan")
	cmd.Flags().IntVar(&opts.maxSlots, "max-slots", 64, "Maximum slots per tree node")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Worker threads (default: all cores)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runLayout(ctx context.Context, opts layoutOptions) error {
	shape, err := parseShapeFlags(opts.kmer, opts.shape)
	if err != nil {
		return err
	}
	bins, err := readBinList(opts.input)
	if err != nil {
		return err
	}

	cards, err := raptor.BinCardinalities(ctx, raptor.BuildConfig{
		Bins:    bins,
		Shape:   shape,
		Window:  opts.window,
		Threads: opts.threads,
	})
	if err != nil {
		return err
	}

	plan, err := layout.Pack(cards, opts.maxSlots)
	if err != nil {
		return err
	}
	plan.FPRate = opts.fpRate
	plan.HashCount = opts.hash
	if err := plan.Save(opts.output); err != nil {
		return err
	}

	slog.Info("layout_written",
		slog.Int("bins", len(bins)),
		slog.Int("max_slots", opts.maxSlots),
		slog.String("output", opts.output))
	return nil
}
