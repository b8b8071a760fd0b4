package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/pkg/limiter"
	"github.com/dtsynth/refine/pkg/metrics"
)

// exit code contract of the re-synthesizer binary
const exitInfeasible = 3

// Resynth drives the external constrained re-synthesizer. Given the model
// and an optional state-space restriction it prints a JSON document on
// stdout:
//
//	{"value": 0.87, "node_count": 2, "tree": "digraph { ... }"}
//
// A restriction-infeasible call exits with a dedicated code.
type Resynth struct {
	Path      string
	ExtraArgs []string

	Limiter  *rate.Limiter
	Breakers *limiter.CircuitBreakerManager
	Metrics  *metrics.RefinementMetrics
}

// NewResynth builds a re-synthesizer client with a circuit breaker, so a
// solver that keeps failing stops being invoked for a while.
func NewResynth(path string) *Resynth {
	return &Resynth{Path: path, Breakers: limiter.NewCircuitBreakerManager()}
}

type resynthOutput struct {
	Value     float64 `json:"value"`
	NodeCount int     `json:"node_count"`
	Tree      string  `json:"tree"`
}

// Synthesize runs one constrained re-synthesis with the request's own
// time budget. Timeouts map to ErrCandidateTimeout and infeasible
// restrictions to ErrInfeasible; both reject only this candidate.
func (r *Resynth) Synthesize(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error) {
	args := []string{
		"--prism", req.Model.ModelPath,
		"--prop", req.Model.PropertyPath,
		"--max-depth", strconv.Itoa(req.MaxDepth),
		"--format", "json",
	}
	if expr := req.Restriction.Expr(); expr != "" {
		args = append(args, "--restrict", expr)
	}
	args = append(args, r.ExtraArgs...)

	run := func() (any, error) {
		return runTool(ctx, r.Limiter, r.Path, req.Timeout, args)
	}

	start := time.Now()
	var out any
	var err error
	if r.Breakers != nil {
		out, err = r.Breakers.Execute("resynthesizer", run)
	} else {
		out, err = run()
	}
	if r.Metrics != nil {
		r.Metrics.ObserveToolCall("resynthesizer", time.Since(start), err)
	}
	if err != nil {
		return core.SynthesisResult{}, r.mapError(err, req.Timeout)
	}

	var parsed resynthOutput
	if jerr := json.Unmarshal([]byte(out.(string)), &parsed); jerr != nil {
		return core.SynthesisResult{}, core.ParseErrorf("re-synthesizer output is not valid JSON: %v", jerr)
	}
	if strings.TrimSpace(parsed.Tree) == "" {
		return core.SynthesisResult{}, core.ParseErrorf("re-synthesizer returned no tree")
	}
	slog.InfoContext(ctx, "re-synthesis finished",
		"value", parsed.Value,
		"node_count", parsed.NodeCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return core.SynthesisResult{DotText: parsed.Tree, Value: parsed.Value, NodeCount: parsed.NodeCount}, nil
}

func (r *Resynth) mapError(err error, timeout time.Duration) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("re-synthesizer circuit open: %w", err)
	}
	msg := err.Error()
	if strings.Contains(msg, "timed out") {
		return fmt.Errorf("%w after %s", core.ErrCandidateTimeout, timeout)
	}
	if strings.Contains(msg, "exit status "+strconv.Itoa(exitInfeasible)) {
		return core.ErrInfeasible
	}
	return fmt.Errorf("re-synthesizer failed: %w", err)
}
