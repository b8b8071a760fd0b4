package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dtsynth/refine/constraint"
	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/dot"
	"github.com/dtsynth/refine/pkg/metrics"
	"github.com/dtsynth/refine/pkg/tracing"
	"github.com/dtsynth/refine/slicer"
)

// State names the phases of a refinement run.
type State string

const (
	StateInitializing State = "initializing"
	StateGenerating   State = "generating_initial_tree"
	StateSelecting    State = "selecting_candidates"
	StateRefining     State = "refining"
	StateDone         State = "done"
	StateAborted      State = "aborted"
)

// Candidate outcome reasons, recorded per candidate and on the
// candidates metric.
const (
	ReasonStale                = "stale"
	ReasonUnsupportedPredicate = "unsupported_predicate"
	ReasonEvaluationFailed     = "evaluation_failed"
	ReasonTimeout              = "timeout"
	ReasonInfeasible           = "infeasible"
	ReasonSynthesisFailed      = "synthesis_failed"
	ReasonParseError           = "parse_error"
	ReasonBelowThreshold       = "below_threshold"
	ReasonNotSmaller           = "not_smaller"
	ReasonReVerification       = "reverification_failed"
	ReasonSpliceFailed         = "splice_failed"
)

const (
	statusAccepted = "accepted"
	statusRejected = "rejected"
)

// CandidateRecord is the per-candidate entry of the run summary.
type CandidateRecord struct {
	Index            int     `json:"index"`
	IDPath           []int   `json:"id_path"`
	PathCondition    string  `json:"path_condition"`
	SubtreeDepth     int     `json:"subtree_depth"`
	SubtreeNodes     int     `json:"subtree_nodes"`
	Status           string  `json:"status"`
	Reason           string  `json:"reason,omitempty"`
	Value            float64 `json:"value,omitempty"`
	Threshold        float64 `json:"threshold,omitempty"`
	ReplacementNodes int     `json:"replacement_nodes,omitempty"`
	ElapsedMS        int64   `json:"elapsed_ms"`
}

// Result is what a run hands back: terminal state, the working tree as
// it stood when the run ended, and the summary.
type Result struct {
	State   State
	Tree    *core.Tree
	Summary *Summary
}

// Orchestrator owns one refinement run over a model. It is not safe for
// concurrent use; parallelism within a run is internal (see parallel.go).
type Orchestrator struct {
	cfg        *Config
	model      core.ModelSpec
	gen        core.Generator
	synth      core.Synthesizer
	eval       core.Evaluator
	translator *constraint.Translator
	metrics    *metrics.RefinementMetrics
	tracer     *tracing.Tracer
	log        *slog.Logger

	state   State
	spliced [][]int // id paths of accepted replacements
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.RefinementMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer attaches an OpenTelemetry tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithTranslator overrides the constraint translator built from the
// configured variable allowlist.
func WithTranslator(t *constraint.Translator) Option {
	return func(o *Orchestrator) { o.translator = t }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New wires an orchestrator from its collaborators.
func New(cfg *Config, model core.ModelSpec, gen core.Generator, synth core.Synthesizer, eval core.Evaluator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		model:      model,
		gen:        gen,
		synth:      synth,
		eval:       eval,
		translator: constraint.New(cfg.Variables...),
		tracer:     tracing.NewNoopTracer(),
		log:        slog.Default(),
		state:      StateInitializing,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State reports the current phase of the run.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) setState(ctx context.Context, s State) {
	o.log.InfoContext(ctx, "state transition", "from", string(o.state), "to", string(s))
	o.state = s
}

// Run executes the pipeline: validate, generate the initial tree, select
// sub-problem candidates, refine them in order under the global
// wall-clock budget, and export artifacts. The global deadline is
// checked between candidates only; an in-flight tool call is never
// interrupted by it. A timeout-terminated run returns the partial result
// with a nil error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	sum := &Summary{}

	finish := func(ctx context.Context, tree *core.Tree, state State) *Result {
		o.setState(ctx, state)
		sum.State = string(state)
		sum.Partial = state == StateAborted
		sum.ElapsedSeconds = time.Since(start).Seconds()
		if o.metrics != nil {
			o.metrics.RunsTotal.WithLabelValues(string(state)).Inc()
			o.metrics.RunDuration.Observe(sum.ElapsedSeconds)
		}
		if o.cfg.OutputDir != "" {
			if err := ExportArtifacts(o.cfg.OutputDir, tree, sum); err != nil {
				o.log.ErrorContext(ctx, "failed to export artifacts", "dir", o.cfg.OutputDir, "error", err)
			}
		}
		return &Result{State: state, Tree: tree, Summary: sum}
	}

	// Initializing
	o.setState(ctx, StateInitializing)
	if err := o.cfg.Validate(); err != nil {
		sum.AbortReason = err.Error()
		return finish(ctx, nil, StateAborted), fmt.Errorf("invalid configuration: %w", err)
	}
	deadline := start.Add(o.cfg.TimeoutTotal.Std())

	// GeneratingInitialTree
	o.setState(ctx, StateGenerating)
	genCtx, genSpan := o.tracer.StartStageSpan(ctx, string(StateGenerating))
	tree, err := o.initialTree(genCtx)
	genSpan.End()
	if err != nil {
		sum.AbortReason = err.Error()
		return finish(ctx, nil, StateAborted), err
	}
	initial := tree.Stats()
	sum.Initial = TreeReport{Stats: initial}
	o.log.InfoContext(ctx, "initial tree parsed",
		"depth", initial.Depth, "decision_nodes", initial.NodeCount, "leaves", initial.LeafCount)
	if o.metrics != nil {
		o.metrics.TreeDecisionNodes.WithLabelValues("initial").Set(float64(initial.NodeCount))
	}

	currentValue, err := o.eval.Evaluate(ctx, o.model, tree)
	if err != nil {
		// Not fatal: the run can still shrink the tree, values stay unknown.
		o.log.WarnContext(ctx, "initial tree evaluation failed", "error", err)
		currentValue = 0
	}
	sum.Initial.Value = currentValue
	if o.metrics != nil {
		o.metrics.TreeValue.WithLabelValues("initial").Set(currentValue)
	}

	if !o.cfg.HybridizationEnabled {
		o.log.InfoContext(ctx, "hybridization disabled, keeping generated tree")
		sum.Final = TreeReport{Stats: tree.Stats(), Value: currentValue}
		return finish(ctx, tree, StateDone), nil
	}

	// SelectingCandidates
	o.setState(ctx, StateSelecting)
	cmp, _ := o.cfg.Comparator()
	params := slicer.Params{
		MaxRootDepth:    o.cfg.MaxSubtreeDepth,
		MinSubtreeDepth: o.cfg.MinSubtreeDepth,
		MinNodeCount:    o.cfg.MinNodeCount,
	}
	cands := slicer.Extract(tree, params, cmp)
	sum.CandidatesGenerated = len(cands)
	o.log.InfoContext(ctx, "candidates selected", "count", len(cands), "ordering", o.cfg.Ordering)

	// Refining
	o.setState(ctx, StateRefining)
	timedOut := o.refineAll(ctx, tree, cands, deadline, &currentValue, sum)

	sum.Final = TreeReport{Stats: tree.Stats(), Value: currentValue}
	if o.metrics != nil {
		o.metrics.TreeDecisionNodes.WithLabelValues("final").Set(float64(sum.Final.NodeCount))
		o.metrics.TreeValue.WithLabelValues("final").Set(currentValue)
	}
	if timedOut {
		sum.AbortReason = core.ErrGlobalTimeout.Error()
		return finish(ctx, tree, StateAborted), nil
	}
	return finish(ctx, tree, StateDone), nil
}

// initialTree obtains the starting tree, either from a pre-exported DOT
// file or by invoking the generator, and parses it fail-closed.
func (o *Orchestrator) initialTree(ctx context.Context) (*core.Tree, error) {
	var text string
	var err error
	if o.cfg.InitialDotPath != "" {
		text, err = readInitialDot(o.cfg.InitialDotPath)
	} else {
		text, err = o.gen.GenerateTree(ctx, o.model)
	}
	if err != nil {
		if !errors.Is(err, core.ErrInitialGeneration) {
			err = fmt.Errorf("%w: %v", core.ErrInitialGeneration, err)
		}
		return nil, err
	}
	tree, err := dot.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInitialGeneration, err)
	}
	return tree, nil
}

// refineAll processes candidates in order and reports whether the run
// hit the global deadline before finishing them.
func (o *Orchestrator) refineAll(ctx context.Context, tree *core.Tree, cands []slicer.SubProblem, deadline time.Time, currentValue *float64, sum *Summary) bool {
	if o.cfg.Parallelism > 1 {
		return o.refineParallel(ctx, tree, cands, deadline, currentValue, sum)
	}
	for i, cand := range cands {
		if o.cfg.MaxIterations > 0 && sum.CandidatesProcessed >= o.cfg.MaxIterations {
			o.log.InfoContext(ctx, "iteration cap reached", "max_iterations", o.cfg.MaxIterations)
			return false
		}
		if !time.Now().Before(deadline) {
			o.log.WarnContext(ctx, "global timeout reached", "processed", sum.CandidatesProcessed, "remaining", len(cands)-i)
			return true
		}
		candCtx, span := o.tracer.StartCandidateSpan(ctx, i, cand.Depth, cand.NodeCount)
		rec := o.refineOne(candCtx, tree, i, cand, currentValue)
		span.End()
		sum.record(rec)
		o.logCandidate(ctx, rec)
	}
	return false
}

// refineOne takes a single candidate through translation, threshold
// anchoring, re-synthesis, acceptance checks, splice and re-verification.
func (o *Orchestrator) refineOne(ctx context.Context, tree *core.Tree, idx int, cand slicer.SubProblem, currentValue *float64) CandidateRecord {
	start := time.Now()
	rec := CandidateRecord{
		Index:         idx,
		IDPath:        cand.IDPath,
		PathCondition: cand.Path.String(),
		SubtreeDepth:  cand.Depth,
		SubtreeNodes:  cand.NodeCount,
	}
	reject := func(reason string) CandidateRecord {
		rec.Status = statusRejected
		rec.Reason = reason
		rec.ElapsedMS = time.Since(start).Milliseconds()
		if o.metrics != nil {
			o.metrics.RecordCandidate(statusRejected, reason)
		}
		return rec
	}

	if o.isStale(cand.IDPath) {
		return reject(ReasonStale)
	}

	prep := o.prepare(ctx, cand)
	if prep.reason != "" {
		return reject(prep.reason)
	}
	rec.Threshold = prep.threshold
	rec.Value = prep.result.Value
	rec.ReplacementNodes = prep.repl.Root.DecisionCount()

	return o.apply(ctx, tree, cand, prep, rec, start, currentValue)
}

// prepared carries everything gathered for a candidate before the tree
// is touched. A non-empty reason means the candidate is already lost.
type prepared struct {
	restriction *core.Restriction
	threshold   float64
	result      core.SynthesisResult
	repl        *core.Tree
	reason      string
}

// prepare runs the read-only, external-tool part of one candidate. It
// never touches the working tree, so prepares may run concurrently.
func (o *Orchestrator) prepare(ctx context.Context, cand slicer.SubProblem) prepared {
	var upe *core.UnsupportedPredicateError
	restriction, err := o.translator.Translate(cand.Path)
	if err != nil {
		if errors.As(err, &upe) {
			o.log.WarnContext(ctx, "skipping candidate with untranslatable path",
				"path", cand.Path.String(), "predicate", upe.Predicate.String(), "reason", upe.Reason)
			return prepared{reason: ReasonUnsupportedPredicate}
		}
		return prepared{reason: ReasonUnsupportedPredicate}
	}

	vOpt, err := o.eval.OptimalValue(ctx, o.model, restriction)
	if err != nil {
		o.log.WarnContext(ctx, "optimal value query failed", "restriction", restriction.Expr(), "error", err)
		return prepared{reason: ReasonEvaluationFailed}
	}
	vBase, err := o.eval.BaselineValue(ctx, o.model, restriction)
	if err != nil {
		o.log.WarnContext(ctx, "baseline value query failed", "restriction", restriction.Expr(), "error", err)
		return prepared{reason: ReasonEvaluationFailed}
	}
	threshold := vOpt - o.cfg.MaxLoss*(vOpt-vBase)

	res, err := o.synth.Synthesize(ctx, core.SynthesisRequest{
		Model:       o.model,
		Restriction: restriction,
		MaxDepth:    o.cfg.MaxSubtreeDepth,
		Timeout:     o.cfg.CandidateTimeout.Std(),
	})
	if err != nil {
		switch {
		case errors.Is(err, core.ErrCandidateTimeout):
			return prepared{reason: ReasonTimeout}
		case errors.Is(err, core.ErrInfeasible):
			return prepared{reason: ReasonInfeasible}
		default:
			o.log.WarnContext(ctx, "re-synthesis failed", "restriction", restriction.Expr(), "error", err)
			return prepared{reason: ReasonSynthesisFailed}
		}
	}

	repl, err := dot.Parse(res.DotText)
	if err != nil {
		o.log.WarnContext(ctx, "re-synthesizer tree graph rejected", "error", err)
		return prepared{reason: ReasonParseError}
	}
	return prepared{restriction: restriction, threshold: threshold, result: res, repl: repl}
}

// apply decides acceptance and, if accepted, splices the replacement in
// and re-verifies the whole tree, rolling the splice back on violation.
// Must not run concurrently with anything that reads the tree.
func (o *Orchestrator) apply(ctx context.Context, tree *core.Tree, cand slicer.SubProblem, prep prepared, rec CandidateRecord, start time.Time, currentValue *float64) CandidateRecord {
	finish := func(status, reason string) CandidateRecord {
		rec.Status = status
		rec.Reason = reason
		rec.ElapsedMS = time.Since(start).Milliseconds()
		if o.metrics != nil {
			o.metrics.RecordCandidate(status, reason)
		}
		return rec
	}

	if prep.result.Value < prep.threshold {
		return finish(statusRejected, ReasonBelowThreshold)
	}
	// An earlier accepted splice below this candidate may have shrunk it,
	// so the size comparison uses the node count as it stands now.
	currentCount := cand.Root.DecisionCount()
	rec.SubtreeNodes = currentCount
	if prep.repl.Root.DecisionCount() >= currentCount {
		return finish(statusRejected, ReasonNotSmaller)
	}

	point, err := tree.Splice(cand.IDPath, prep.repl.Root)
	if err != nil {
		o.log.WarnContext(ctx, "splice failed", "id_path", cand.IDPath, "error", err)
		return finish(statusRejected, ReasonSpliceFailed)
	}

	newValue, err := o.eval.Evaluate(ctx, o.model, tree)
	if err != nil || newValue < prep.threshold {
		if rbErr := tree.Restore(point); rbErr != nil {
			o.log.ErrorContext(ctx, "rollback failed", "id_path", point.NewPath, "error", rbErr)
		}
		if o.metrics != nil {
			o.metrics.RollbacksTotal.Inc()
		}
		if err != nil {
			o.log.WarnContext(ctx, "re-verification evaluation failed, rolled back", "error", err)
		} else {
			o.log.WarnContext(ctx, "re-verification below threshold, rolled back",
				"value", newValue, "threshold", prep.threshold)
		}
		return finish(statusRejected, ReasonReVerification)
	}

	o.spliced = append(o.spliced, cand.IDPath)
	*currentValue = newValue
	if o.metrics != nil {
		o.metrics.SplicesTotal.Inc()
	}
	o.log.InfoContext(ctx, "candidate accepted",
		"id_path", fmt.Sprint(cand.IDPath),
		"value", prep.result.Value,
		"threshold", prep.threshold,
		"nodes_before", currentCount,
		"nodes_after", prep.repl.Root.DecisionCount(),
		"tree_value", newValue,
	)
	return finish(statusAccepted, "")
}

// isStale reports whether an accepted splice sits on or above the
// candidate's position, which makes its recorded state unusable.
func (o *Orchestrator) isStale(idPath []int) bool {
	for _, s := range o.spliced {
		if len(s) <= len(idPath) && equalPrefix(s, idPath) {
			return true
		}
	}
	return false
}

func equalPrefix(prefix, path []int) bool {
	for i, id := range prefix {
		if path[i] != id {
			return false
		}
	}
	return true
}

func (o *Orchestrator) logCandidate(ctx context.Context, rec CandidateRecord) {
	if rec.Status == statusAccepted {
		return // accepted candidates are logged at splice time
	}
	o.log.InfoContext(ctx, "candidate rejected",
		"index", rec.Index,
		"id_path", fmt.Sprint(rec.IDPath),
		"reason", rec.Reason,
		"elapsed_ms", rec.ElapsedMS,
	)
}
