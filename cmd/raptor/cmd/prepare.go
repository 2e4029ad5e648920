package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
)

// prepareOptions holds CLI flags for prepare.
type prepareOptions struct {
	input   string
	output  string
	kmer    int
	shape   string
	window  int
	cutoff  int
	threads int
}

func newPrepareCmd() *cobra.Command {
	var opts prepareOptions

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Precompute per-bin minimiser artifacts",
		Long: `Prepare hashes every content bin once and stores the surviving
minimisers on disk, so repeated index builds skip the expensive
sequence pass. Bins whose artifacts already exist are skipped;
interrupted bins are detected and rebuilt.

By default the occurrence cutoff is derived from the input file size;
--cutoff fixes it instead. A minimiser survives when it occurs at
least cutoff times in its bin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrepare(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Bin definition file, one bin per line (required)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Artifact output directory (required)")
	cmd.Flags().IntVarP(&opts.kmer, "kmer", "k", 20, "K-mer size")
	cmd.Flags().StringVar(&opts.shape, "shape", "", "Binary shape string, overrides --kmer (e.g. 1101101)")
	cmd.Flags().IntVarP(&opts.window, "window", "w", 24, "Minimiser window size")
	cmd.Flags().IntVar(&opts.cutoff, "cutoff", -1, "Fixed occurrence cutoff (default: derived from file size)")
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Worker threads (default: all cores)")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

func runPrepare(ctx context.Context, opts prepareOptions) error {
	shape, err := parseShapeFlags(opts.kmer, opts.shape)
	if err != nil {
		return err
	}
	bins, err := readBinList(opts.input)
	if err != nil {
		return err
	}

	cfg := raptor.PrepareConfig{
		Bins:    bins,
		OutDir:  opts.output,
		Shape:   shape,
		Window:  opts.window,
		Threads: opts.threads,
	}
	if opts.cutoff >= 0 {
		cfg.Cutoff = raptor.FixedCutoff(uint8(opts.cutoff))
	}

	slog.Info("prepare_started",
		slog.Int("bins", len(bins)),
		slog.String("shape", shape.String()),
		slog.Int("window", opts.window))
	if err := raptor.ComputeMinimiser(ctx, cfg); err != nil {
		return err
	}
	slog.Info("prepare_finished", slog.String("output", opts.output))
	return nil
}
