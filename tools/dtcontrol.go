// Package tools implements the external collaborators of the refinement
// engine: the fast tree generator, the constrained re-synthesizer and the
// model value evaluator, each driven as an OS process with its own
// timeout.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/time/rate"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/pkg/metrics"
)

// DtControl drives the external fast tree generator. It converts a
// tabular control policy into a decision tree and writes the DOT graph to
// stdout.
type DtControl struct {
	Path      string
	Timeout   time.Duration
	ExtraArgs []string

	// Limiter bounds the subprocess spawn rate; nil means unlimited.
	Limiter *rate.Limiter
	Metrics *metrics.RefinementMetrics
}

// NewDtControl builds a generator client with the given binary path.
func NewDtControl(path string, timeout time.Duration) *DtControl {
	return &DtControl{Path: path, Timeout: timeout}
}

// GenerateTree runs the generator against the model and returns the raw
// DOT text. Failures and timeouts map to ErrInitialGeneration: without an
// initial tree there is nothing to refine.
func (d *DtControl) GenerateTree(ctx context.Context, model core.ModelSpec) (string, error) {
	args := []string{"--prism", model.ModelPath, "--prop", model.PropertyPath, "--export-dot", "-"}
	args = append(args, d.ExtraArgs...)

	start := time.Now()
	out, err := runTool(ctx, d.Limiter, d.Path, d.Timeout, args)
	if d.Metrics != nil {
		d.Metrics.ObserveToolCall("generator", time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInitialGeneration, err)
	}
	slog.InfoContext(ctx, "generator produced tree graph", "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// runTool spawns one external tool invocation with a per-call timeout and
// returns its stdout.
func runTool(ctx context.Context, limiter *rate.Limiter, path string, timeout time.Duration, args []string) (string, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s timed out after %s", path, timeout)
		}
		return "", fmt.Errorf("%s failed: %v (stderr: %s)", path, err, truncate(stderr.String(), 512))
	}
	return stdout.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
