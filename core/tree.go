package core

import (
	"fmt"
	"hash/fnv"
	"strconv"
)

// Tree owns a policy decision tree. All nodes belong exclusively to one
// Tree instance; subtrees handed out for analysis are copies.
type Tree struct {
	Root   *Node
	nextID int
}

// NewTree wraps root into a Tree, assigns depths and reserves the id
// counter above the largest id present.
func NewTree(root *Node) *Tree {
	t := &Tree{Root: root}
	maxID := -1
	if root != nil {
		root.Walk(func(n *Node) bool {
			if n.ID > maxID {
				maxID = n.ID
			}
			return true
		})
		assignDepths(root, 0)
	}
	t.nextID = maxID + 1
	return t
}

func assignDepths(n *Node, depth int) {
	n.Depth = depth
	for _, c := range n.Children {
		assignDepths(c, depth+1)
	}
}

// Stats summarizes the structure of a tree.
type Stats struct {
	Depth     int `json:"depth"`
	NodeCount int `json:"node_count"`
	LeafCount int `json:"leaf_count"`
}

func (t *Tree) Stats() Stats {
	if t == nil || t.Root == nil {
		return Stats{}
	}
	return Stats{
		Depth:     t.Root.Height(),
		NodeCount: t.Root.DecisionCount(),
		LeafCount: t.Root.LeafCount(),
	}
}

// Copy returns an independent deep copy of the tree.
func (t *Tree) Copy() *Tree {
	if t == nil {
		return nil
	}
	return &Tree{Root: t.Root.Copy(), nextID: t.nextID}
}

// Validate checks the structural invariants: a root exists, every node is
// reached exactly once from the root (single parent, no cycles), decision
// nodes have both branches and leaves carry an action.
func (t *Tree) Validate() error {
	if t == nil || t.Root == nil {
		return &ParseError{Msg: "tree has no root"}
	}
	seen := map[*Node]bool{}
	var verify func(n *Node) error
	verify = func(n *Node) error {
		if seen[n] {
			return &ParseError{Msg: fmt.Sprintf("node %d reachable via two paths", n.ID)}
		}
		seen[n] = true
		if n.Leaf {
			if n.Action == "" {
				return &ParseError{Msg: fmt.Sprintf("leaf %d has no action", n.ID)}
			}
			if len(n.Children) != 0 {
				return &ParseError{Msg: fmt.Sprintf("leaf %d has children", n.ID)}
			}
			return nil
		}
		if n.Child(BranchTrue) == nil || n.Child(BranchFalse) == nil {
			return &ParseError{Msg: fmt.Sprintf("decision node %d is missing a branch", n.ID)}
		}
		if !n.Predicate.Operator.Known() {
			return &ParseError{Msg: fmt.Sprintf("decision node %d has no predicate", n.ID)}
		}
		for _, branch := range sortedBranches(n.Children) {
			if err := verify(n.Children[branch]); err != nil {
				return err
			}
		}
		return nil
	}
	return verify(t.Root)
}

// SplicePoint identifies where a splice landed, so the same slot can be
// spliced again (rollback re-splices the retained original).
type SplicePoint struct {
	// NewPath is the id path from the root to the replacement's root.
	NewPath []int
	// Replaced is the subtree that was removed; still owned by the tree's
	// caller, never referenced by the tree after the splice.
	Replaced *Node
}

// Splice replaces the subtree addressed by the id path (root id first,
// target subtree root id last) with repl. The tree takes ownership of
// repl: its nodes get fresh ids and depths. Navigation is O(depth); the
// rest of the tree is untouched.
func (t *Tree) Splice(path []int, repl *Node) (*SplicePoint, error) {
	if t == nil || t.Root == nil {
		return nil, fmt.Errorf("splice: empty tree")
	}
	if repl == nil {
		return nil, fmt.Errorf("splice: nil replacement")
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("splice: empty path")
	}
	if t.Root.ID != path[0] {
		return nil, fmt.Errorf("splice: path starts at %d, root is %d", path[0], t.Root.ID)
	}

	if len(path) == 1 {
		old := t.Root
		t.Root = repl
		t.adopt(repl, 0)
		return &SplicePoint{NewPath: []int{repl.ID}, Replaced: old}, nil
	}

	// Walk to the parent of the target.
	parent := t.Root
	for i := 1; i < len(path)-1; i++ {
		next := childByID(parent, path[i])
		if next == nil {
			return nil, fmt.Errorf("splice: no child %d under node %d", path[i], parent.ID)
		}
		parent = next
	}
	targetID := path[len(path)-1]
	branch := ""
	for _, b := range sortedBranches(parent.Children) {
		if parent.Children[b].ID == targetID {
			branch = b
			break
		}
	}
	if branch == "" {
		return nil, fmt.Errorf("splice: node %d has no child %d", parent.ID, targetID)
	}
	old := parent.Children[branch]
	parent.Children[branch] = repl
	t.adopt(repl, parent.Depth+1)

	newPath := make([]int, len(path))
	copy(newPath, path[:len(path)-1])
	newPath[len(path)-1] = repl.ID
	return &SplicePoint{NewPath: newPath, Replaced: old}, nil
}

func childByID(n *Node, id int) *Node {
	for _, c := range n.Children {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// adopt renumbers a freshly spliced subtree so ids stay unique within the
// tree, and fixes depths below the splice point.
func (t *Tree) adopt(n *Node, depth int) {
	n.ID = t.nextID
	t.nextID++
	n.Depth = depth
	for _, branch := range sortedBranches(n.Children) {
		t.adopt(n.Children[branch], depth+1)
	}
}

// Restore undoes a splice: the removed subtree goes back into its slot
// with its original ids, so pending id paths into it stay valid. Only
// meaningful while the tree is otherwise unchanged since the splice.
func (t *Tree) Restore(p *SplicePoint) error {
	if t == nil || t.Root == nil || p == nil || p.Replaced == nil || len(p.NewPath) == 0 {
		return fmt.Errorf("restore: invalid splice point")
	}
	if len(p.NewPath) == 1 {
		if t.Root.ID != p.NewPath[0] {
			return fmt.Errorf("restore: root is %d, splice point says %d", t.Root.ID, p.NewPath[0])
		}
		t.Root = p.Replaced
		assignDepths(t.Root, 0)
		return nil
	}
	parent := t.Root
	if parent.ID != p.NewPath[0] {
		return fmt.Errorf("restore: path starts at %d, root is %d", p.NewPath[0], parent.ID)
	}
	for i := 1; i < len(p.NewPath)-1; i++ {
		next := childByID(parent, p.NewPath[i])
		if next == nil {
			return fmt.Errorf("restore: no child %d under node %d", p.NewPath[i], parent.ID)
		}
		parent = next
	}
	targetID := p.NewPath[len(p.NewPath)-1]
	for _, branch := range sortedBranches(parent.Children) {
		if parent.Children[branch].ID == targetID {
			parent.Children[branch] = p.Replaced
			assignDepths(p.Replaced, parent.Depth+1)
			return nil
		}
	}
	return fmt.Errorf("restore: node %d has no child %d", parent.ID, targetID)
}

// FindPath returns the node addressed by an id path, or an error if the
// path no longer resolves (e.g. after a splice higher up).
func (t *Tree) FindPath(path []int) (*Node, error) {
	if t == nil || t.Root == nil || len(path) == 0 || t.Root.ID != path[0] {
		return nil, fmt.Errorf("path does not resolve from root")
	}
	n := t.Root
	for i := 1; i < len(path); i++ {
		n = childByID(n, path[i])
		if n == nil {
			return nil, fmt.Errorf("path element %d does not resolve", path[i])
		}
	}
	return n, nil
}

// Fingerprint is a stable structural hash: two isomorphic trees (same
// predicates, actions and branch structure, ids ignored) share it. Used
// as the evaluator cache key.
func (t *Tree) Fingerprint() string {
	h := fnv.New64a()
	if t != nil && t.Root != nil {
		writeFingerprint(h, t.Root)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeFingerprint(h interface{ Write([]byte) (int, error) }, n *Node) {
	if n.Leaf {
		h.Write([]byte("L:" + n.Action + ";"))
		return
	}
	h.Write([]byte("D:" + n.Predicate.String() + "("))
	for _, branch := range sortedBranches(n.Children) {
		h.Write([]byte(branch + "="))
		writeFingerprint(h, n.Children[branch])
	}
	h.Write([]byte(")"))
}
