package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dtsynth/refine/dot"
	"github.com/dtsynth/refine/refine"
	"github.com/dtsynth/refine/slicer"
)

var (
	inspectMaxRootDepth int
	inspectMinDepth     int
	inspectMinNodes     int
	inspectJSON         bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <tree.dot>",
	Short: "Parse a tree graph and show its structure and candidates",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.IntVar(&inspectMaxRootDepth, "max-root-depth", 4, "Only sub-trees rooted above this depth qualify")
	f.IntVar(&inspectMinDepth, "min-depth", 3, "Minimum sub-tree height")
	f.IntVar(&inspectMinNodes, "min-nodes", 2, "Minimum decision nodes per sub-tree")
	f.BoolVar(&inspectJSON, "json", false, "Print the tree in the nested JSON format")
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	tree, err := dot.Parse(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		encoded, err := refine.MarshalTreeJSON(tree)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	stats := tree.Stats()
	fmt.Fprintf(out, "depth:          %d\n", stats.Depth)
	fmt.Fprintf(out, "decision nodes: %d\n", stats.NodeCount)
	fmt.Fprintf(out, "leaves:         %d\n", stats.LeafCount)

	params := slicer.Params{
		MaxRootDepth:    inspectMaxRootDepth,
		MinSubtreeDepth: inspectMinDepth,
		MinNodeCount:    inspectMinNodes,
	}
	cands := slicer.Extract(tree, params, nil)
	fmt.Fprintf(out, "candidates:     %d\n", len(cands))
	for i, c := range cands {
		fmt.Fprintf(out, "  %2d. depth %d, %d nodes, path: %s\n", i, c.Depth, c.NodeCount, c.Path.String())
	}
	return nil
}
