// Package slicer identifies sub-trees of a policy tree worth
// re-optimizing, together with the decision path leading to them.
package slicer

import (
	"sort"
	"strings"

	"github.com/dtsynth/refine/core"
)

// Step records one branch decision on the way from the root to a node:
// the ancestor's predicate and the branch that was taken.
type Step struct {
	Predicate core.Predicate
	Branch    string
}

// PathCondition is the ordered sequence of branch decisions from the tree
// root down to (but not including) a node. Empty iff the node is the root.
type PathCondition []Step

// String renders the condition with branch-effective operators, e.g.
// "x <= 5 AND y > 3" for true(x<=5), false(y<=3).
func (pc PathCondition) String() string {
	if len(pc) == 0 {
		return "root"
	}
	parts := make([]string, 0, len(pc))
	for _, s := range pc {
		p := s.Predicate
		if s.Branch == core.BranchFalse {
			if comp, ok := p.Operator.Complement(); ok {
				p.Operator = comp
			}
		}
		parts = append(parts, p.String())
	}
	return strings.Join(parts, " AND ")
}

// SubProblem is one unit of refinement work: a sub-tree root inside the
// main tree, the path condition to reach it, its size, and the id path
// needed to locate it again for splicing.
type SubProblem struct {
	Root      *core.Node
	Path      PathCondition
	Depth     int // height of the sub-tree
	NodeCount int // decision nodes within it
	IDPath    []int
}

// Params bound which sub-trees qualify as candidates.
type Params struct {
	MaxRootDepth    int
	MinSubtreeDepth int
	MinNodeCount    int
}

// DefaultParams mirrors the reference thresholds.
func DefaultParams(maxRootDepth int) Params {
	return Params{MaxRootDepth: maxRootDepth, MinSubtreeDepth: 3, MinNodeCount: 2}
}

// Comparator orders candidates; it reports whether a should be refined
// before b.
type Comparator func(a, b SubProblem) bool

// ByDepthDescending refines the tallest sub-trees first. This is the
// default, matching the reference behavior; see ByDepthAscending for the
// opposite reading of the same reference.
func ByDepthDescending(a, b SubProblem) bool { return a.Depth > b.Depth }

// ByDepthAscending refines the shallowest sub-trees first.
func ByDepthAscending(a, b SubProblem) bool { return a.Depth < b.Depth }

// ByNodeCountDescending refines the largest sub-trees first.
func ByNodeCountDescending(a, b SubProblem) bool { return a.NodeCount > b.NodeCount }

// Extract traverses the tree depth-first and emits every decision node
// whose own depth is below MaxRootDepth and whose sub-tree meets the
// height and size thresholds. Candidates may nest: a node can be emitted
// and still have descendant candidates. The result is sorted stably by
// cmp (ByDepthDescending when nil), so the order is deterministic and the
// extraction idempotent.
func Extract(tree *core.Tree, p Params, cmp Comparator) []SubProblem {
	if cmp == nil {
		cmp = ByDepthDescending
	}
	var out []SubProblem
	if tree == nil || tree.Root == nil {
		return out
	}

	var traverse func(n *core.Node, cond PathCondition, ids []int)
	traverse = func(n *core.Node, cond PathCondition, ids []int) {
		if n.Leaf || n.Depth >= p.MaxRootDepth {
			return
		}
		ids = append(ids, n.ID)
		height := n.Height()
		count := n.DecisionCount()
		if height >= p.MinSubtreeDepth && count >= p.MinNodeCount {
			out = append(out, SubProblem{
				Root:      n,
				Path:      append(PathCondition(nil), cond...),
				Depth:     height,
				NodeCount: count,
				IDPath:    append([]int(nil), ids...),
			})
		}
		for _, branch := range []string{core.BranchTrue, core.BranchFalse} {
			child := n.Child(branch)
			if child == nil {
				continue
			}
			next := append(append(PathCondition(nil), cond...), Step{Predicate: n.Predicate, Branch: branch})
			traverse(child, next, ids)
		}
	}
	traverse(tree.Root, nil, nil)

	sort.SliceStable(out, func(i, j int) bool { return cmp(out[i], out[j]) })
	return out
}
