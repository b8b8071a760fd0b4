package core

import (
	"fmt"
	"strconv"
)

// Operator is a comparison operator in a decision predicate.
type Operator string

const (
	OpLE Operator = "<="
	OpLT Operator = "<"
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpEQ Operator = "=="
)

// Complement returns the strict complement of the operator, i.e. the test
// that holds exactly when the original test fails. Equality has no
// expressible complement in the predicate grammar.
func (op Operator) Complement() (Operator, bool) {
	switch op {
	case OpLE:
		return OpGT, true
	case OpLT:
		return OpGE, true
	case OpGT:
		return OpLE, true
	case OpGE:
		return OpLT, true
	default:
		return "", false
	}
}

// Known reports whether op is part of the supported predicate grammar.
func (op Operator) Known() bool {
	switch op {
	case OpLE, OpLT, OpGT, OpGE, OpEQ:
		return true
	}
	return false
}

// Predicate is the test performed at a decision node.
type Predicate struct {
	Variable string
	Operator Operator
	Bound    float64
}

func (p Predicate) String() string {
	return p.Variable + " " + string(p.Operator) + " " + strconv.FormatFloat(p.Bound, 'g', -1, 64)
}

// Branch labels of a binary decision node.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// Node is one node of a policy decision tree. Decision nodes carry a
// predicate and one child per branch label; leaves carry an action.
type Node struct {
	ID        int
	Depth     int
	Leaf      bool
	Predicate Predicate
	Action    string
	Children  map[string]*Node
}

// Child returns the child reached via the given branch label.
func (n *Node) Child(branch string) *Node {
	if n.Children == nil {
		return nil
	}
	return n.Children[branch]
}

// Height is the length of the longest path from n to a leaf.
func (n *Node) Height() int {
	if n == nil || n.Leaf {
		return 0
	}
	max := 0
	for _, c := range n.Children {
		if h := c.Height(); h > max {
			max = h
		}
	}
	return max + 1
}

// DecisionCount counts decision (non-leaf) nodes in the subtree.
func (n *Node) DecisionCount() int {
	if n == nil || n.Leaf {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		count += c.DecisionCount()
	}
	return count
}

// LeafCount counts leaves in the subtree.
func (n *Node) LeafCount() int {
	if n == nil {
		return 0
	}
	if n.Leaf {
		return 1
	}
	count := 0
	for _, c := range n.Children {
		count += c.LeafCount()
	}
	return count
}

// Copy returns a deep copy of the subtree rooted at n. Copies never alias
// the original: a copied subtree may be mutated while the main tree is in
// use.
func (n *Node) Copy() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		ID:        n.ID,
		Depth:     n.Depth,
		Leaf:      n.Leaf,
		Predicate: n.Predicate,
		Action:    n.Action,
	}
	if n.Children != nil {
		cp.Children = make(map[string]*Node, len(n.Children))
		for branch, child := range n.Children {
			cp.Children[branch] = child.Copy()
		}
	}
	return cp
}

// Walk visits the subtree depth-first in deterministic branch order (true
// branch before false, other labels sorted) and stops early if fn returns
// false.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, branch := range sortedBranches(n.Children) {
		if !n.Children[branch].Walk(fn) {
			return false
		}
	}
	return true
}

func sortedBranches(children map[string]*Node) []string {
	if len(children) == 0 {
		return nil
	}
	branches := make([]string, 0, len(children))
	if _, ok := children[BranchTrue]; ok {
		branches = append(branches, BranchTrue)
	}
	if _, ok := children[BranchFalse]; ok {
		branches = append(branches, BranchFalse)
	}
	if len(branches) == len(children) {
		return branches
	}
	rest := make([]string, 0, len(children)-len(branches))
	for b := range children {
		if b != BranchTrue && b != BranchFalse {
			rest = append(rest, b)
		}
	}
	for i := 1; i < len(rest); i++ {
		for j := i; j > 0 && rest[j] < rest[j-1]; j-- {
			rest[j], rest[j-1] = rest[j-1], rest[j]
		}
	}
	return append(branches, rest...)
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.Leaf {
		return fmt.Sprintf("leaf(%d, action=%s)", n.ID, n.Action)
	}
	return fmt.Sprintf("node(%d, %s)", n.ID, n.Predicate)
}
