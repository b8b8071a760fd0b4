package refine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/slicer"
)

// refineParallel overlaps the external-tool work of several candidates.
// Preparation (translate, threshold queries, re-synthesis) is read-only
// with respect to the working tree and runs on up to Parallelism
// goroutines; acceptance, splicing and re-verification stay strictly
// sequential in candidate order, so results are identical to a
// sequential run except that staleness is only discovered at apply time
// and a stale candidate may have spent tool calls it would otherwise
// have skipped.
func (o *Orchestrator) refineParallel(ctx context.Context, tree *core.Tree, cands []slicer.SubProblem, deadline time.Time, currentValue *float64, sum *Summary) bool {
	limit := len(cands)
	if o.cfg.MaxIterations > 0 && o.cfg.MaxIterations < limit {
		limit = o.cfg.MaxIterations
	}

	preps := make([]prepared, limit)
	starts := make([]time.Time, limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	scheduled := 0
	for i := 0; i < limit; i++ {
		if !time.Now().Before(deadline) {
			break
		}
		i := i
		starts[i] = time.Now()
		scheduled++
		g.Go(func() error {
			preps[i] = o.prepare(gctx, cands[i])
			return nil
		})
	}
	_ = g.Wait()

	timedOut := scheduled < limit
	for i := 0; i < scheduled; i++ {
		if !time.Now().Before(deadline) {
			o.log.WarnContext(ctx, "global timeout reached", "processed", sum.CandidatesProcessed, "remaining", scheduled-i)
			return true
		}
		cand := cands[i]
		rec := CandidateRecord{
			Index:         i,
			IDPath:        cand.IDPath,
			PathCondition: cand.Path.String(),
			SubtreeDepth:  cand.Depth,
			SubtreeNodes:  cand.NodeCount,
		}
		switch {
		case o.isStale(cand.IDPath):
			rec.Status = statusRejected
			rec.Reason = ReasonStale
			rec.ElapsedMS = time.Since(starts[i]).Milliseconds()
			if o.metrics != nil {
				o.metrics.RecordCandidate(statusRejected, ReasonStale)
			}
		case preps[i].reason != "":
			rec.Status = statusRejected
			rec.Reason = preps[i].reason
			rec.ElapsedMS = time.Since(starts[i]).Milliseconds()
			if o.metrics != nil {
				o.metrics.RecordCandidate(statusRejected, preps[i].reason)
			}
		default:
			rec.Threshold = preps[i].threshold
			rec.Value = preps[i].result.Value
			rec.ReplacementNodes = preps[i].repl.Root.DecisionCount()
			rec = o.apply(ctx, tree, cand, preps[i], rec, starts[i], currentValue)
		}
		sum.record(rec)
		o.logCandidate(ctx, rec)
	}
	return timedOut
}
