package refine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtsynth/refine/dot"
)

func TestMarshalTreeJSON(t *testing.T) {
	data, err := MarshalTreeJSON(chainTree())
	require.NoError(t, err)

	var root treeJSON
	require.NoError(t, json.Unmarshal(data, &root))
	assert.Equal(t, "inner", root.Type)
	assert.Equal(t, "x <= 4", root.Predicate)
	require.Contains(t, root.Children, "true")
	require.Contains(t, root.Children, "false")
	assert.Equal(t, "leaf", root.Children["false"].Type)
	assert.Equal(t, "a4", root.Children["false"].Action)
	assert.Equal(t, "inner", root.Children["true"].Type)
}

func TestMarshalTreeJSONEmpty(t *testing.T) {
	_, err := MarshalTreeJSON(nil)
	assert.Error(t, err)
}

func TestExportArtifacts(t *testing.T) {
	dir := t.TempDir()
	tree := chainTree()
	sum := &Summary{State: string(StateDone), CandidatesGenerated: 2}
	sum.Final = TreeReport{Stats: tree.Stats(), Value: 0.97}

	require.NoError(t, ExportArtifacts(dir, tree, sum))

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, string(StateDone), got.State)
	assert.Equal(t, 2, got.CandidatesGenerated)

	// The exported DOT round-trips through the parser.
	dotData, err := os.ReadFile(filepath.Join(dir, "final_tree.dot"))
	require.NoError(t, err)
	parsed, err := dot.Parse(string(dotData))
	require.NoError(t, err)
	assert.Equal(t, tree.Fingerprint(), parsed.Fingerprint())

	_, err = os.Stat(filepath.Join(dir, "final_tree.json"))
	assert.NoError(t, err)
}

func TestExportArtifactsWithoutTree(t *testing.T) {
	dir := t.TempDir()
	sum := &Summary{State: string(StateAborted), Partial: true, AbortReason: "boom"}

	require.NoError(t, ExportArtifacts(dir, nil, sum))

	_, err := os.Stat(filepath.Join(dir, "summary.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "final_tree.dot"))
	assert.True(t, os.IsNotExist(err))
}
