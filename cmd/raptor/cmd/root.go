// Package cmd provides the CLI commands for raptor.
package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
	"github.com/new2f7/raptor/internal/minimizer"
)

var verbose bool

// NewRootCmd creates the root command for the raptor CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "raptor",
		Short: "Approximate set-membership index for sequence collections",
		Long: `Raptor indexes a collection of sequence bins into an interleaved
Bloom filter over canonical minimizers and reports, per query record,
which bins it likely occurs in. There are no false negatives.

Typical workflow:
  raptor prepare --input bins.txt --output minimisers/
  raptor build   --input minimisers/minimiser.list --output collection.index
  raptor search  --index collection.index --query reads.fasta --output reads.out`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging()
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newPrepareCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newLayoutCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "raptor: %v\n", err)
		return err
	}
	return nil
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// parseShapeFlags resolves the --kmer/--shape pair: an explicit shape string
// wins, otherwise the k-mer size gives an ungapped shape.
func parseShapeFlags(kmer int, shape string) (minimizer.Shape, error) {
	if shape != "" {
		return minimizer.ParseShape(shape)
	}
	return minimizer.NewKmer(kmer)
}

// readBinList reads the bin definition file: one bin per line, files of the
// bin separated by whitespace. A minimiser.list manifest parses the same
// way, so prepared artifacts feed straight into build.
func readBinList(path string) ([][]string, error) {
	if strings.HasSuffix(path, raptor.ManifestName) {
		return raptor.ReadManifest(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bin list: %w", err)
	}
	defer f.Close()

	var bins [][]string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		bins = append(bins, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bin list: %w", err)
	}
	return bins, nil
}
