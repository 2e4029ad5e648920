package cmd

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/new2f7/raptor"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <index>",
		Short: "Print index metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0])
		},
	}
	return cmd
}

// hierarchyMagic mirrors the on-disk magic of hierarchical index files;
// flat and layered files are told apart by their first four bytes.
const hierarchyMagic = 0x58485052

func runInspect(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	var magic [4]byte
	_, err = io.ReadFull(f, magic[:])
	f.Close()
	if err != nil {
		return err
	}

	if binary.LittleEndian.Uint32(magic[:]) == hierarchyMagic {
		idx, err := raptor.LoadHierarchicalIndex(path)
		if err != nil {
			return err
		}
		meta := idx.Metadata()
		fmt.Fprintf(w, "format:         hierarchical\n")
		fmt.Fprintf(w, "shape:          %s\n", meta.Shape.String())
		fmt.Fprintf(w, "window:         %d\n", meta.WindowSize)
		fmt.Fprintf(w, "fp_rate:        %g\n", meta.FPRate)
		fmt.Fprintf(w, "hash_functions: %d\n", idx.HashFunctionCount())
		fmt.Fprintf(w, "bins:           %d\n", idx.BinCount())
		fmt.Fprintf(w, "nodes:          %d\n", idx.NodeCount())
		return nil
	}

	idx, err := raptor.LoadIndex(path)
	if err != nil {
		return err
	}
	meta := idx.Metadata()
	fmt.Fprintf(w, "format:         counting\n")
	fmt.Fprintf(w, "shape:          %s\n", meta.Shape.String())
	fmt.Fprintf(w, "window:         %d\n", meta.WindowSize)
	fmt.Fprintf(w, "fp_rate:        %g\n", meta.FPRate)
	fmt.Fprintf(w, "hash_functions: %d\n", idx.HashFunctionCount())
	fmt.Fprintf(w, "bins:           %d\n", idx.BinCount())
	fmt.Fprintf(w, "bin_size:       %d\n", idx.Filter().BinSize())
	fmt.Fprintf(w, "parts:          %d\n", meta.Parts)
	if meta.Parts > 1 {
		fmt.Fprintf(w, "partition:      %d\n", meta.Partition)
	}
	return nil
}
