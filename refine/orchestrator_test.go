package refine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtsynth/refine/constraint"
	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/dot"
	"github.com/dtsynth/refine/pkg/metrics"
	"github.com/dtsynth/refine/tools/mock"
)

func lf(id int, action string) *core.Node {
	return &core.Node{ID: id, Leaf: true, Action: action}
}

func dec(id int, variable string, bound float64, onTrue, onFalse *core.Node) *core.Node {
	return &core.Node{
		ID:        id,
		Predicate: core.Predicate{Variable: variable, Operator: core.OpLE, Bound: bound},
		Children:  map[string]*core.Node{core.BranchTrue: onTrue, core.BranchFalse: onFalse},
	}
}

// chainTree is a 4-level decision chain. With the default thresholds it
// yields exactly two candidates: the root (height 4) and its true child
// (height 3), in that order under depth-descending ordering.
func chainTree() *core.Tree {
	return core.NewTree(dec(0, "x", 4,
		dec(1, "x", 3,
			dec(2, "x", 2,
				dec(3, "x", 1, lf(4, "a0"), lf(5, "a1")),
				lf(6, "a2")),
			lf(7, "a3")),
		lf(8, "a4")))
}

// flatTree has a single decision node, below every candidate threshold.
func flatTree() *core.Tree {
	return core.NewTree(dec(0, "x", 1, lf(1, "a0"), lf(2, "a1")))
}

// smallTree is a one-decision replacement, strictly smaller than any
// candidate of chainTree.
func smallTree() *core.Tree {
	return core.NewTree(dec(0, "x", 2, lf(1, "b0"), lf(2, "b1")))
}

var testModel = core.ModelSpec{ModelPath: "model.prism", PropertyPath: "model.props"}

// testEvaluator anchors the acceptance threshold at
// 1.0 - 0.05*(1.0-0.0) = 0.95 under the default max_loss.
func testEvaluator() *mock.Evaluator {
	return &mock.Evaluator{TreeValue: 0.98, Optimal: 1.0, Baseline: 0.0}
}

func TestRunAcceptsAndShrinks(t *testing.T) {
	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText: dot.Write(smallTree()), Value: 0.97, NodeCount: 1,
	}}
	eval := testEvaluator()
	m := metrics.NewRefinementMetrics(prometheus.NewRegistry())

	o := New(DefaultConfig(), testModel, gen, synth, eval, WithMetrics(m))
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, res.State)

	sum := res.Summary
	assert.Equal(t, 2, sum.CandidatesGenerated)
	assert.Equal(t, 2, sum.CandidatesProcessed)
	assert.Equal(t, 1, sum.Accepted)
	assert.Equal(t, 1, sum.Rejected)

	// Root candidate is refined first and accepted; the splice makes the
	// nested candidate stale.
	require.Len(t, sum.Candidates, 2)
	assert.Equal(t, "accepted", sum.Candidates[0].Status)
	assert.Equal(t, []int{0}, sum.Candidates[0].IDPath)
	assert.InDelta(t, 0.95, sum.Candidates[0].Threshold, 1e-9)
	assert.Equal(t, ReasonStale, sum.Candidates[1].Reason)

	assert.Equal(t, 4, sum.Initial.NodeCount)
	assert.Equal(t, 1, sum.Final.NodeCount)
	assert.Equal(t, 1, res.Tree.Stats().NodeCount)

	// Root candidate has an empty path condition, so the re-synthesizer
	// ran unrestricted with the configured depth bound.
	reqs := synth.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Restriction.Expr())
	assert.Equal(t, 4, reqs[0].MaxDepth)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SplicesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RollbacksTotal))
}

func TestRunNoCandidates(t *testing.T) {
	gen := &mock.Generator{DotText: dot.Write(flatTree())}
	synth := &mock.Synthesizer{}
	o := New(DefaultConfig(), testModel, gen, synth, testEvaluator())

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.Summary.CandidatesGenerated)
	assert.Equal(t, 0, synth.Calls())
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, res.Summary.Initial.Stats, res.Summary.Final.Stats)
}

func TestRunRejectionReasons(t *testing.T) {
	cases := []struct {
		name   string
		synth  *mock.Synthesizer
		reason string
	}{
		{
			name: "below threshold",
			synth: &mock.Synthesizer{Result: core.SynthesisResult{
				DotText: dot.Write(smallTree()), Value: 0.5, NodeCount: 1,
			}},
			reason: ReasonBelowThreshold,
		},
		{
			name: "not smaller",
			synth: &mock.Synthesizer{Result: core.SynthesisResult{
				DotText: dot.Write(chainTree()), Value: 0.99, NodeCount: 4,
			}},
			reason: ReasonNotSmaller,
		},
		{
			name:   "infeasible",
			synth:  &mock.Synthesizer{Err: core.ErrInfeasible},
			reason: ReasonInfeasible,
		},
		{
			name:   "candidate timeout",
			synth:  &mock.Synthesizer{Err: core.ErrCandidateTimeout},
			reason: ReasonTimeout,
		},
		{
			name:   "solver failure",
			synth:  &mock.Synthesizer{Err: errors.New("solver crashed")},
			reason: ReasonSynthesisFailed,
		},
		{
			name:   "unparseable result",
			synth:  &mock.Synthesizer{Result: core.SynthesisResult{DotText: "digraph {\n}\n", Value: 0.99}},
			reason: ReasonParseError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &mock.Generator{DotText: dot.Write(chainTree())}
			o := New(DefaultConfig(), testModel, gen, tc.synth, testEvaluator())

			res, err := o.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StateDone, res.State)
			assert.Equal(t, 0, res.Summary.Accepted)
			assert.Equal(t, 2, res.Summary.Rejected)
			for _, rec := range res.Summary.Candidates {
				assert.Equal(t, tc.reason, rec.Reason)
			}
			// Rejections leave the working tree untouched.
			assert.Equal(t, 4, res.Tree.Stats().NodeCount)
		})
	}
}

func TestRunRollsBackOnReVerification(t *testing.T) {
	initial := chainTree()
	gen := &mock.Generator{DotText: dot.Write(initial)}
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText: dot.Write(smallTree()), Value: 0.97, NodeCount: 1,
	}}

	// The whole-tree value collapses after any splice; every splice must
	// be rolled back.
	calls := 0
	eval := testEvaluator()
	eval.EvaluateFn = func(ctx context.Context, model core.ModelSpec, tree *core.Tree) (float64, error) {
		calls++
		if calls == 1 {
			return 0.98, nil // initial tree
		}
		return 0.5, nil
	}
	m := metrics.NewRefinementMetrics(prometheus.NewRegistry())

	o := New(DefaultConfig(), testModel, gen, synth, eval, WithMetrics(m))
	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, res.Summary.Accepted)
	assert.Equal(t, 2, res.Summary.Rejected)
	for _, rec := range res.Summary.Candidates {
		assert.Equal(t, ReasonReVerification, rec.Reason)
	}

	// Both rollbacks restored the tree exactly; the second candidate's id
	// path still resolved after the first rollback.
	assert.Equal(t, initial.Fingerprint(), res.Tree.Fingerprint())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RollbacksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SplicesTotal))
}

func TestRunGlobalTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutTotal = Duration(1) // expires before the first candidate

	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	synth := &mock.Synthesizer{}
	o := New(cfg, testModel, gen, synth, testEvaluator())

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.True(t, res.Summary.Partial)
	assert.Equal(t, core.ErrGlobalTimeout.Error(), res.Summary.AbortReason)

	// The initial tree still went through; no candidate was started.
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 0, synth.Calls())
	assert.Equal(t, 2, res.Summary.CandidatesGenerated)
	assert.Equal(t, 0, res.Summary.CandidatesProcessed)
	require.NotNil(t, res.Tree)
	assert.Equal(t, 4, res.Tree.Stats().NodeCount)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutTotal = 0

	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	o := New(cfg, testModel, gen, &mock.Synthesizer{}, testEvaluator())

	res, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateAborted, res.State)
	assert.Nil(t, res.Tree)
	// Validation fails before any tool runs.
	assert.Equal(t, 0, gen.Calls())
}

func TestRunInitialGenerationFails(t *testing.T) {
	t.Run("generator error", func(t *testing.T) {
		gen := &mock.Generator{Err: errors.New("no such model")}
		o := New(DefaultConfig(), testModel, gen, &mock.Synthesizer{}, testEvaluator())
		res, err := o.Run(context.Background())
		require.ErrorIs(t, err, core.ErrInitialGeneration)
		assert.Equal(t, StateAborted, res.State)
	})

	t.Run("malformed graph", func(t *testing.T) {
		gen := &mock.Generator{DotText: "digraph {\n}\n"}
		o := New(DefaultConfig(), testModel, gen, &mock.Synthesizer{}, testEvaluator())
		res, err := o.Run(context.Background())
		require.ErrorIs(t, err, core.ErrInitialGeneration)
		assert.Equal(t, StateAborted, res.State)
	})
}

func TestRunHybridizationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HybridizationEnabled = false

	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	synth := &mock.Synthesizer{}
	o := New(cfg, testModel, gen, synth, testEvaluator())

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 0, synth.Calls())
	assert.Equal(t, 4, res.Tree.Stats().NodeCount)
	assert.Equal(t, res.Summary.Initial, res.Summary.Final)
}

func TestRunUnsupportedPredicate(t *testing.T) {
	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText: dot.Write(smallTree()), Value: 0.5, NodeCount: 1,
	}}
	// The allowlist knows none of the tree's variables, so every
	// candidate with a non-empty path condition is untranslatable.
	o := New(DefaultConfig(), testModel, gen, synth, testEvaluator(),
		WithTranslator(constraint.New("unrelated")))

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Summary.Candidates, 2)
	assert.Equal(t, ReasonBelowThreshold, res.Summary.Candidates[0].Reason) // root, empty path
	assert.Equal(t, ReasonUnsupportedPredicate, res.Summary.Candidates[1].Reason)
	// The untranslatable candidate never reached the re-synthesizer.
	assert.Equal(t, 1, synth.Calls())
}

func TestRunIterationCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 1

	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText: dot.Write(smallTree()), Value: 0.5, NodeCount: 1,
	}}
	o := New(cfg, testModel, gen, synth, testEvaluator())

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Summary.CandidatesGenerated)
	assert.Equal(t, 1, res.Summary.CandidatesProcessed)
	assert.Equal(t, 1, synth.Calls())
}

func TestRunParallelMatchesSequential(t *testing.T) {
	run := func(parallelism int) *Result {
		cfg := DefaultConfig()
		cfg.Parallelism = parallelism
		gen := &mock.Generator{DotText: dot.Write(chainTree())}
		synth := &mock.Synthesizer{Result: core.SynthesisResult{
			DotText: dot.Write(smallTree()), Value: 0.97, NodeCount: 1,
		}}
		o := New(cfg, testModel, gen, synth, testEvaluator())
		res, err := o.Run(context.Background())
		require.NoError(t, err)
		return res
	}

	seq := run(1)
	par := run(3)

	assert.Equal(t, seq.State, par.State)
	assert.Equal(t, seq.Summary.Accepted, par.Summary.Accepted)
	assert.Equal(t, seq.Summary.Rejected, par.Summary.Rejected)
	assert.Equal(t, seq.Summary.Final.Stats, par.Summary.Final.Stats)
	assert.Equal(t, seq.Tree.Fingerprint(), par.Tree.Fingerprint())
}

func TestRunMonotonicAcceptance(t *testing.T) {
	gen := &mock.Generator{DotText: dot.Write(chainTree())}
	// Replacements shrink but never below two decision nodes, so nested
	// candidates keep qualifying until they go stale.
	synth := &mock.Synthesizer{Result: core.SynthesisResult{
		DotText: dot.Write(core.NewTree(dec(0, "x", 2,
			dec(1, "x", 1, lf(2, "b0"), lf(3, "b1")),
			lf(4, "b2")))),
		Value: 0.97, NodeCount: 2,
	}}
	o := New(DefaultConfig(), testModel, gen, synth, testEvaluator())

	res, err := o.Run(context.Background())
	require.NoError(t, err)

	// Every acceptance strictly shrank the tree.
	count := res.Summary.Initial.NodeCount
	for _, rec := range res.Summary.Candidates {
		if rec.Status == "accepted" {
			assert.Less(t, rec.ReplacementNodes, rec.SubtreeNodes)
			assert.GreaterOrEqual(t, rec.Value, rec.Threshold)
		}
	}
	assert.Less(t, res.Summary.Final.NodeCount, count)
}
