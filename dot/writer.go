package dot

import (
	"fmt"
	"strings"

	"github.com/dtsynth/refine/core"
)

// Write serializes a tree to the same DOT dialect Parse accepts, so that
// Write∘Parse round-trips to an isomorphic tree. Node names are assigned
// in depth-first order, independent of the tree's internal ids.
func Write(tree *core.Tree) string {
	var b strings.Builder
	b.WriteString("digraph DecisionTree {\n")
	b.WriteString("  node [shape=box];\n")

	var edges []string
	counter := 0
	var emit func(n *core.Node) int
	emit = func(n *core.Node) int {
		id := counter
		counter++
		if n.Leaf {
			fmt.Fprintf(&b, "  n%d [label=\"action: %s\", shape=ellipse];\n", id, n.Action)
			return id
		}
		fmt.Fprintf(&b, "  n%d [label=\"%s\"];\n", id, n.Predicate.String())
		for _, branch := range []string{core.BranchTrue, core.BranchFalse} {
			if child := n.Child(branch); child != nil {
				childID := emit(child)
				edges = append(edges, fmt.Sprintf("  n%d -> n%d [label=\"%s\"];\n", id, childID, branch))
			}
		}
		return id
	}
	if tree != nil && tree.Root != nil {
		emit(tree.Root)
	}
	for _, e := range edges {
		b.WriteString(e)
	}
	b.WriteString("}\n")
	return b.String()
}
