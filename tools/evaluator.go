package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/dot"
	"github.com/dtsynth/refine/pkg/metrics"
)

const evalCacheSize = 256

// Evaluator drives the external model value evaluator. It prints a single
// scalar on stdout. Whole-tree evaluations are cached by the tree's
// structural fingerprint: re-verification after a rollback re-evaluates
// trees the engine has already measured.
type Evaluator struct {
	Path    string
	Timeout time.Duration

	Limiter *rate.Limiter
	Metrics *metrics.RefinementMetrics

	cache *lru.Cache[string, float64]
}

// NewEvaluator builds an evaluator client with an LRU result cache.
func NewEvaluator(path string, timeout time.Duration) (*Evaluator, error) {
	cache, err := lru.New[string, float64](evalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluator cache: %w", err)
	}
	return &Evaluator{Path: path, Timeout: timeout, cache: cache}, nil
}

// Evaluate computes the expected value of a whole tree against the model.
func (e *Evaluator) Evaluate(ctx context.Context, model core.ModelSpec, tree *core.Tree) (float64, error) {
	key := "tree:" + tree.Fingerprint()
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	tmp, err := os.CreateTemp("", "refine-tree-*.dot")
	if err != nil {
		return 0, fmt.Errorf("evaluator: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(dot.Write(tree)); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("evaluator: %w", err)
	}
	tmp.Close()

	v, err := e.run(ctx, model, "--tree", filepath.Clean(tmp.Name()))
	if err != nil {
		return 0, err
	}
	e.cache.Add(key, v)
	return v, nil
}

// OptimalValue computes the best achievable value within a restricted
// region of the state space.
func (e *Evaluator) OptimalValue(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error) {
	return e.restricted(ctx, model, r, "optimal")
}

// BaselineValue computes the value of the least-informed policy within a
// restricted region; together with OptimalValue it anchors the acceptance
// threshold.
func (e *Evaluator) BaselineValue(ctx context.Context, model core.ModelSpec, r *core.Restriction) (float64, error) {
	return e.restricted(ctx, model, r, "baseline")
}

func (e *Evaluator) restricted(ctx context.Context, model core.ModelSpec, r *core.Restriction, mode string) (float64, error) {
	key := mode + ":" + r.Expr()
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}
	args := []string{"--mode", mode}
	if expr := r.Expr(); expr != "" {
		args = append(args, "--restrict", expr)
	}
	v, err := e.run(ctx, model, args...)
	if err != nil {
		return 0, err
	}
	e.cache.Add(key, v)
	return v, nil
}

func (e *Evaluator) run(ctx context.Context, model core.ModelSpec, extra ...string) (float64, error) {
	args := []string{"--prism", model.ModelPath, "--prop", model.PropertyPath}
	args = append(args, extra...)

	start := time.Now()
	out, err := runTool(ctx, e.Limiter, e.Path, e.Timeout, args)
	if e.Metrics != nil {
		e.Metrics.ObserveToolCall("evaluator", time.Since(start), err)
	}
	if err != nil {
		return 0, fmt.Errorf("evaluator failed: %w", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("evaluator printed %q, want a scalar: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}
