package main

import (
	"github.com/spf13/cobra"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/pkg/logging"
	"github.com/dtsynth/refine/refine"
	"github.com/dtsynth/refine/tools/mock"
)

// demoInitial is a small cruise-control style policy: distance to the
// car ahead and own velocity decide between accelerating, keeping speed
// and braking.
const demoInitial = `digraph DecisionTree {
  node [shape=box];
  n0 [label="d <= 20"];
  n1 [label="v <= 8"];
  n2 [label="v <= 4"];
  n3 [label="action: accelerate", shape=ellipse];
  n4 [label="action: keep", shape=ellipse];
  n5 [label="action: brake", shape=ellipse];
  n6 [label="action: accelerate", shape=ellipse];
  n0 -> n1 [label="true"];
  n0 -> n6 [label="false"];
  n1 -> n2 [label="true"];
  n1 -> n5 [label="false"];
  n2 -> n3 [label="true"];
  n2 -> n4 [label="false"];
}
`

// demoReplacement is what the mock re-synthesizer offers for any
// candidate: one decision instead of three.
const demoReplacement = `digraph DecisionTree {
  node [shape=box];
  n0 [label="v <= 6"];
  n1 [label="action: accelerate", shape=ellipse];
  n2 [label="action: brake", shape=ellipse];
  n0 -> n1 [label="true"];
  n0 -> n2 [label="false"];
}
`

var demoOutputDir string

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the pipeline end to end against in-process mock tools",
	RunE:  runDemo,
}

func init() {
	demoCmd.Flags().StringVar(&demoOutputDir, "output-dir", "", "Directory for summary.json and final tree artifacts")
}

func runDemo(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewLogger(logging.Config{Level: "info", Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := refine.DefaultConfig()
	cfg.MinSubtreeDepth = 2
	cfg.OutputDir = demoOutputDir

	gen := &mock.Generator{DotText: demoInitial}
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText:   demoReplacement,
		Value:     0.97,
		NodeCount: 1,
	}}
	eval := &mock.Evaluator{TreeValue: 0.97, Optimal: 1.0, Baseline: 0.2}

	model := core.ModelSpec{ModelPath: "demo.prism", PropertyPath: "demo.props"}
	o := refine.New(cfg, model, gen, synth, eval, refine.WithLogger(logger.Slog()))
	res, err := o.Run(cmd.Context())
	if err != nil {
		return err
	}
	printRunSummary(cmd, res)
	return nil
}
