package core

import (
	"context"
	"strings"
	"time"
)

// ModelSpec points at the state-space model and the specification the
// external tools consume.
type ModelSpec struct {
	ModelPath    string
	PropertyPath string
}

// Restriction is a conjunctive constraint over the state space, produced
// by the constraint translator and consumed by the re-synthesizer.
type Restriction struct {
	Clauses []string
}

// Expr renders the conjunction in the re-synthesizer's input syntax.
func (r *Restriction) Expr() string {
	if r == nil || len(r.Clauses) == 0 {
		return ""
	}
	return strings.Join(r.Clauses, " & ")
}

// Generator is the external fast tree generator: it converts a tabular
// control policy into a decision tree and returns the tree graph text.
type Generator interface {
	GenerateTree(ctx context.Context, model ModelSpec) (string, error)
}

// SynthesisRequest restricts an optimal re-synthesis call to a region of
// the state space and bounds its size and time.
type SynthesisRequest struct {
	Model       ModelSpec
	Restriction *Restriction
	MaxDepth    int
	Timeout     time.Duration
}

// SynthesisResult carries the re-synthesizer's candidate subtree.
type SynthesisResult struct {
	DotText   string
	Value     float64
	NodeCount int
}

// Synthesizer is the external constrained re-synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
}

// Evaluator computes expected values against the model: whole-tree values
// for V_initial / re-verification, and optimal / baseline values of a
// restricted region for the acceptance threshold.
type Evaluator interface {
	Evaluate(ctx context.Context, model ModelSpec, tree *Tree) (float64, error)
	OptimalValue(ctx context.Context, model ModelSpec, r *Restriction) (float64, error)
	BaselineValue(ctx context.Context, model ModelSpec, r *Restriction) (float64, error)
}
