package refine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/dot"
)

// TreeReport captures one tree's shape and value for the summary.
type TreeReport struct {
	core.Stats
	Value float64 `json:"value"`
}

// Summary is the machine-readable account of one run, exported as
// summary.json next to the final tree artifacts.
type Summary struct {
	State               string            `json:"state"`
	Partial             bool              `json:"partial,omitempty"`
	AbortReason         string            `json:"abort_reason,omitempty"`
	ElapsedSeconds      float64           `json:"elapsed_seconds"`
	Initial             TreeReport        `json:"initial"`
	Final               TreeReport        `json:"final"`
	CandidatesGenerated int               `json:"candidates_generated"`
	CandidatesProcessed int               `json:"candidates_processed"`
	Accepted            int               `json:"accepted"`
	Rejected            int               `json:"rejected"`
	Candidates          []CandidateRecord `json:"candidates"`
}

func (s *Summary) record(rec CandidateRecord) {
	s.Candidates = append(s.Candidates, rec)
	s.CandidatesProcessed++
	if rec.Status == statusAccepted {
		s.Accepted++
	} else {
		s.Rejected++
	}
}

// treeJSON is the nested export format: leaves carry the action,
// decision nodes the predicate and the two branch subtrees.
type treeJSON struct {
	Type      string               `json:"type"`
	Action    string               `json:"action,omitempty"`
	Predicate string               `json:"predicate,omitempty"`
	Children  map[string]*treeJSON `json:"children,omitempty"`
}

func toTreeJSON(n *core.Node) *treeJSON {
	if n.Leaf {
		return &treeJSON{Type: "leaf", Action: n.Action}
	}
	out := &treeJSON{
		Type:      "inner",
		Predicate: n.Predicate.String(),
		Children:  make(map[string]*treeJSON, len(n.Children)),
	}
	for branch, child := range n.Children {
		out.Children[branch] = toTreeJSON(child)
	}
	return out
}

// MarshalTreeJSON renders a tree in the nested JSON export format.
func MarshalTreeJSON(tree *core.Tree) ([]byte, error) {
	if tree == nil || tree.Root == nil {
		return nil, fmt.Errorf("cannot export empty tree")
	}
	return json.MarshalIndent(toTreeJSON(tree.Root), "", "  ")
}

// ExportArtifacts writes summary.json, and when a tree exists also
// final_tree.dot and final_tree.json, into dir. An aborted run with no
// tree still gets its summary.
func ExportArtifacts(dir string, tree *core.Tree, sum *Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if tree == nil || tree.Root == nil {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "final_tree.dot"), []byte(dot.Write(tree)), 0o644); err != nil {
		return fmt.Errorf("failed to write final tree graph: %w", err)
	}
	treeData, err := MarshalTreeJSON(tree)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "final_tree.json"), treeData, 0o644); err != nil {
		return fmt.Errorf("failed to write final tree JSON: %w", err)
	}
	return nil
}

// readInitialDot loads a pre-exported tree graph instead of invoking the
// generator.
func readInitialDot(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read initial tree graph %s: %w", path, err)
	}
	return string(data), nil
}
