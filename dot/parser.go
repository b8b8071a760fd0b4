// Package dot parses and serializes the textual tree-graph format the
// external tools exchange: DOT digraphs with labeled nodes and labeled
// true/false edges.
package dot

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/dtsynth/refine/core"
)

var (
	edgeRe      = regexp.MustCompile(`^(\w+)\s*->\s*(\w+)\s*(?:\[([^\]]*)\])?\s*;?$`)
	nodeRe      = regexp.MustCompile(`^(\w+)\s*\[([^\]]*)\]\s*;?$`)
	labelRe     = regexp.MustCompile(`label\s*=\s*"([^"]*)"`)
	predicateRe = regexp.MustCompile(`^\s*(\w+)\s*(<=|>=|==|<|>)\s*(-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)\s*$`)
	actionRe    = regexp.MustCompile(`^\s*(?i:action|choose)\s*:\s*(\w+)\s*$`)
	bareWordRe  = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*$`)
)

type rawNode struct {
	name    string
	label   string
	hasDecl bool
	// edges in declaration order; branch is the edge label if present
	edges []rawEdge
}

type rawEdge struct {
	dst    string
	branch string
}

// Parse converts a DOT tree graph into a validated decision tree. It
// fails closed: unknown labels, a missing or ambiguous root, nodes with
// two parents, cycles and partial decision nodes are all ParseErrors.
func Parse(text string) (*core.Tree, error) {
	nodes := map[string]*rawNode{}
	order := []string{}
	indegree := map[string]int{}

	ensure := func(name string) *rawNode {
		if n, ok := nodes[name]; ok {
			return n
		}
		n := &rawNode{name: name}
		nodes[name] = n
		order = append(order, name)
		return n
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "{" || line == "}" ||
			strings.HasPrefix(line, "digraph") ||
			strings.HasPrefix(line, "node ") ||
			strings.HasPrefix(line, "node[") ||
			strings.HasPrefix(line, "//") {
			continue
		}
		if m := edgeRe.FindStringSubmatch(line); m != nil {
			src, dst := ensure(m[1]), ensure(m[2])
			branch := ""
			if lm := labelRe.FindStringSubmatch(m[3]); lm != nil {
				branch = normalizeBranch(lm[1])
			}
			src.edges = append(src.edges, rawEdge{dst: dst.name, branch: branch})
			indegree[dst.name]++
			continue
		}
		if m := nodeRe.FindStringSubmatch(line); m != nil {
			n := ensure(m[1])
			n.hasDecl = true
			if lm := labelRe.FindStringSubmatch(m[2]); lm != nil {
				n.label = lm[1]
			}
			continue
		}
		return nil, core.ParseErrorf("unrecognized line %q", line)
	}

	if len(nodes) == 0 {
		return nil, core.ParseErrorf("empty graph")
	}

	// The root is the unique node nothing points at.
	rootName := ""
	for _, name := range order {
		if indegree[name] == 0 {
			if rootName != "" {
				return nil, &core.ParseError{Msg: "no unique root"}
			}
			rootName = name
		}
	}
	if rootName == "" {
		return nil, &core.ParseError{Msg: "no unique root"}
	}
	for _, name := range order {
		if indegree[name] > 1 {
			return nil, core.ParseErrorf("node %s has more than one parent", name)
		}
	}

	nextID := 0
	visiting := map[string]bool{}
	var build func(name string, depth int) (*core.Node, error)
	build = func(name string, depth int) (*core.Node, error) {
		if visiting[name] {
			return nil, core.ParseErrorf("cycle through node %s", name)
		}
		visiting[name] = true
		raw := nodes[name]
		node := &core.Node{ID: nextID, Depth: depth}
		nextID++

		if len(raw.edges) == 0 {
			action, err := parseAction(raw.label)
			if err != nil {
				return nil, err
			}
			node.Leaf = true
			node.Action = action
			return node, nil
		}

		pred, err := parsePredicate(raw.label)
		if err != nil {
			return nil, err
		}
		node.Predicate = pred
		node.Children = map[string]*core.Node{}
		if len(raw.edges) != 2 {
			return nil, core.ParseErrorf("decision node %s has %d branches, want 2", name, len(raw.edges))
		}
		for i, e := range raw.edges {
			branch := e.branch
			if branch == "" {
				// Unlabeled edges follow the generator's convention:
				// first edge is the true branch, second the false one.
				if i == 0 {
					branch = core.BranchTrue
				} else {
					branch = core.BranchFalse
				}
			}
			if _, dup := node.Children[branch]; dup {
				return nil, core.ParseErrorf("decision node %s has two %q branches", name, branch)
			}
			child, err := build(e.dst, depth+1)
			if err != nil {
				return nil, err
			}
			node.Children[branch] = child
		}
		if node.Child(core.BranchTrue) == nil || node.Child(core.BranchFalse) == nil {
			return nil, core.ParseErrorf("decision node %s is missing a branch", name)
		}
		return node, nil
	}

	root, err := build(rootName, 0)
	if err != nil {
		return nil, err
	}
	if len(visiting) != len(nodes) {
		return nil, core.ParseErrorf("%d nodes unreachable from root", len(nodes)-len(visiting))
	}

	tree := core.NewTree(root)
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

func normalizeBranch(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "true", "yes":
		return core.BranchTrue
	case "false", "no":
		return core.BranchFalse
	default:
		return ""
	}
}

// parsePredicate recognizes the inline predicate convention, e.g.
// "x <= 5" or "level>2.5".
func parsePredicate(label string) (core.Predicate, error) {
	m := predicateRe.FindStringSubmatch(label)
	if m == nil {
		return core.Predicate{}, core.ParseErrorf("label %q is not a predicate", label)
	}
	bound, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return core.Predicate{}, core.ParseErrorf("label %q has a bad bound: %v", label, err)
	}
	return core.Predicate{Variable: m[1], Operator: core.Operator(m[2]), Bound: bound}, nil
}

// parseAction recognizes the two leaf conventions: a tagged label
// ("action: a0", "choose: left") or a plain identifier. Anything else
// fails closed instead of being guessed at.
func parseAction(label string) (string, error) {
	if m := actionRe.FindStringSubmatch(label); m != nil {
		return m[1], nil
	}
	if m := bareWordRe.FindStringSubmatch(label); m != nil {
		return m[1], nil
	}
	return "", core.ParseErrorf("label %q is not an action", label)
}
