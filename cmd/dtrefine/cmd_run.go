package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/pkg/logging"
	"github.com/dtsynth/refine/pkg/metrics"
	"github.com/dtsynth/refine/pkg/tracing"
	"github.com/dtsynth/refine/refine"
	"github.com/dtsynth/refine/tools"
)

var (
	flagPrism  string
	flagProp   string
	flagConfig string

	flagMaxLoss          float64
	flagMaxSubtreeDepth  int
	flagTimeoutTotal     float64
	flagCandidateTimeout float64
	flagOrdering         string
	flagParallelism      int
	flagMaxIterations    int
	flagLogLevel         string
	flagDisableHybrid    bool
	flagInitialDot       string
	flagOutputDir        string
	flagVariables        []string

	flagLogFormat   string
	flagMetricsAddr string
	flagJaeger      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one refinement pass over a model",
	RunE:  runRefinement,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&flagPrism, "prism", "", "Path to the PRISM model file (required)")
	f.StringVar(&flagProp, "prop", "", "Path to the property file (required)")
	f.StringVar(&flagConfig, "config", "", "Path to a YAML config file")

	f.Float64Var(&flagMaxLoss, "max-loss", 0.05, "Accepted relative value loss in [0,1)")
	f.IntVar(&flagMaxSubtreeDepth, "max-subtree-depth", 4, "Depth bound for re-synthesized sub-trees")
	f.Float64Var(&flagTimeoutTotal, "timeout-total", 3600, "Global wall-clock budget in seconds")
	f.Float64Var(&flagCandidateTimeout, "candidate-timeout", 120, "Per-candidate re-synthesis budget in seconds")
	f.StringVar(&flagOrdering, "ordering", refine.OrderDepthDescending, "Candidate ordering: depth-desc, depth-asc or nodes-desc")
	f.IntVar(&flagParallelism, "parallelism", 1, "Concurrent candidate preparations")
	f.IntVar(&flagMaxIterations, "max-iterations", 0, "Cap on refinement attempts, 0 for unlimited")
	f.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	f.BoolVar(&flagDisableHybrid, "no-hybrid", false, "Keep the generated tree without refinement")
	f.StringVar(&flagInitialDot, "initial-dot", "", "Use a pre-exported tree graph instead of the generator")
	f.StringVar(&flagOutputDir, "output-dir", "", "Directory for summary.json and final tree artifacts")
	f.StringSliceVar(&flagVariables, "variables", nil, "Allowlist of state variables for path constraints")

	f.StringVar(&flagLogFormat, "log-format", "json", "Log format: json or console")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	f.StringVar(&flagJaeger, "jaeger-endpoint", "", "Export traces to this Jaeger collector endpoint")
}

// applyFlagOverrides lets explicit flags win over the config file.
func applyFlagOverrides(cmd *cobra.Command, cfg *refine.Config) {
	set := cmd.Flags().Changed
	if set("max-loss") {
		cfg.MaxLoss = flagMaxLoss
	}
	if set("max-subtree-depth") {
		cfg.MaxSubtreeDepth = flagMaxSubtreeDepth
	}
	if set("timeout-total") {
		cfg.TimeoutTotal = refine.Duration(flagTimeoutTotal * 1e9)
	}
	if set("candidate-timeout") {
		cfg.CandidateTimeout = refine.Duration(flagCandidateTimeout * 1e9)
	}
	if set("ordering") {
		cfg.Ordering = flagOrdering
	}
	if set("parallelism") {
		cfg.Parallelism = flagParallelism
	}
	if set("max-iterations") {
		cfg.MaxIterations = flagMaxIterations
	}
	if set("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flagDisableHybrid {
		cfg.HybridizationEnabled = false
	}
	if set("initial-dot") {
		cfg.InitialDotPath = flagInitialDot
	}
	if set("output-dir") {
		cfg.OutputDir = flagOutputDir
	}
	if set("variables") {
		cfg.Variables = flagVariables
	}
}

func runRefinement(cmd *cobra.Command, args []string) error {
	if flagPrism == "" || flagProp == "" {
		return fmt.Errorf("--prism and --prop are required")
	}

	cfg, err := refine.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.LogLevel,
		Format: flagLogFormat,
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logger.Sync()

	m := metrics.NewRefinementMetrics(nil)
	if flagMetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				slog.Error("metrics endpoint failed", "addr", flagMetricsAddr, "error", err)
			}
		}()
	}

	tracer := tracing.NewNoopTracer()
	if flagJaeger != "" {
		tracer, err = tracing.NewTracer(tracing.Config{
			ServiceName:    "dtrefine",
			ServiceVersion: version,
			JaegerEndpoint: flagJaeger,
			Environment:    "cli",
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	// One spawn limiter shared by all tool clients.
	limiter := rate.NewLimiter(rate.Limit(8), 8)

	gen := tools.NewDtControl(cfg.GeneratorPath, cfg.TimeoutTotal.Std())
	gen.Limiter = limiter
	gen.Metrics = m

	synth := tools.NewResynth(cfg.SynthesizerPath)
	synth.Limiter = limiter
	synth.Metrics = m
	synth.Breakers.OnOpen = func(tool string) {
		m.CircuitOpenTotal.WithLabelValues(tool).Inc()
	}

	eval, err := tools.NewEvaluator(cfg.EvaluatorPath, cfg.CandidateTimeout.Std())
	if err != nil {
		return err
	}
	eval.Limiter = limiter
	eval.Metrics = m

	model := core.ModelSpec{ModelPath: flagPrism, PropertyPath: flagProp}
	o := refine.New(cfg, model, gen, synth, eval,
		refine.WithMetrics(m),
		refine.WithTracer(tracer),
		refine.WithLogger(logger.Slog()),
	)

	res, err := o.Run(cmd.Context())
	if err != nil {
		return err
	}
	printRunSummary(cmd, res)
	return nil
}

func printRunSummary(cmd *cobra.Command, res *refine.Result) {
	sum := res.Summary
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state:      %s\n", sum.State)
	if sum.AbortReason != "" {
		fmt.Fprintf(out, "aborted:    %s\n", sum.AbortReason)
	}
	fmt.Fprintf(out, "initial:    %d decision nodes, depth %d, value %g\n",
		sum.Initial.NodeCount, sum.Initial.Depth, sum.Initial.Value)
	fmt.Fprintf(out, "final:      %d decision nodes, depth %d, value %g\n",
		sum.Final.NodeCount, sum.Final.Depth, sum.Final.Value)
	fmt.Fprintf(out, "candidates: %d generated, %d processed, %d accepted, %d rejected\n",
		sum.CandidatesGenerated, sum.CandidatesProcessed, sum.Accepted, sum.Rejected)
	fmt.Fprintf(out, "elapsed:    %.1fs\n", sum.ElapsedSeconds)
}
