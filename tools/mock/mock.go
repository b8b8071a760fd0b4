// Package mock provides in-process implementations of the external tools
// for tests and demo runs.
package mock

import (
	"context"
	"sync"

	"github.com/dtsynth/refine/core"
)

// Generator implements core.Generator with scriptable behavior.
type Generator struct {
	DotText string
	Err     error

	// GenerateFn overrides the canned response when set.
	GenerateFn func(ctx context.Context, model core.ModelSpec) (string, error)

	mu    sync.Mutex
	calls int
}

func (g *Generator) GenerateTree(ctx context.Context, model core.ModelSpec) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.GenerateFn != nil {
		return g.GenerateFn(ctx, model)
	}
	return g.DotText, g.Err
}

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Synthesizer implements core.Synthesizer with scriptable behavior.
type Synthesizer struct {
	Result core.SynthesisResult
	Err    error

	// SynthesizeFn overrides the canned response when set.
	SynthesizeFn func(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error)

	mu       sync.Mutex
	calls    int
	requests []core.SynthesisRequest
}

func (s *Synthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.SynthesizeFn != nil {
		return s.SynthesizeFn(ctx, req)
	}
	return s.Result, s.Err
}

func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of every request seen, for assertions.
func (s *Synthesizer) Requests() []core.SynthesisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.SynthesisRequest(nil), s.requests...)
}

// Evaluator implements core.Evaluator with fixed values, overridable per
// call.
type Evaluator struct {
	TreeValue float64
	Optimal   float64
	Baseline  float64
	Err       error

	EvaluateFn func(ctx context.Context, model core.ModelSpec, tree *core.Tree) (float64, error)
	OptimalFn  func(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error)
	BaselineFn func(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error)

	mu            sync.Mutex
	evaluateCalls int
}

func (e *Evaluator) Evaluate(ctx context.Context, model core.ModelSpec, tree *core.Tree) (float64, error) {
	e.mu.Lock()
	e.evaluateCalls++
	e.mu.Unlock()
	if e.EvaluateFn != nil {
		return e.EvaluateFn(ctx, model, tree)
	}
	return e.TreeValue, e.Err
}

func (e *Evaluator) EvaluateCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateCalls
}

func (e *Evaluator) OptimalValue(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error) {
	if e.OptimalFn != nil {
		return e.OptimalFn(ctx, model, r)
	}
	return e.Optimal, e.Err
}

func (e *Evaluator) BaselineValue(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error) {
	if e.BaselineFn != nil {
		return e.BaselineFn(ctx, model, r)
	}
	return e.Baseline, e.Err
}
