package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "dtrefine",
	Short: "Hybrid decision-tree refinement for control policies",
	Long: "dtrefine shrinks decision-tree control policies: a fast external\n" +
		"generator produces the initial tree, then selected sub-trees are\n" +
		"re-synthesized optimally under their path constraints and spliced\n" +
		"back when they are smaller and close enough to optimal.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
