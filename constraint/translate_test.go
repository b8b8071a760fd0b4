package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/slicer"
)

func step(variable string, op core.Operator, bound float64, branch string) slicer.Step {
	return slicer.Step{
		Predicate: core.Predicate{Variable: variable, Operator: op, Bound: bound},
		Branch:    branch,
	}
}

func TestTranslatePreservesOperators(t *testing.T) {
	tr := New()
	r, err := tr.Translate(slicer.PathCondition{
		step("x", core.OpLE, 5, core.BranchTrue),
		step("y", core.OpGE, 2, core.BranchTrue),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x <= 5", "y >= 2"}, r.Clauses)
	assert.Equal(t, "x <= 5 & y >= 2", r.Expr())
}

func TestTranslateFalseBranchStrictComplement(t *testing.T) {
	tr := New()
	r, err := tr.Translate(slicer.PathCondition{
		step("x", core.OpLE, 5, core.BranchFalse),
		step("y", core.OpLT, 3, core.BranchFalse),
	})
	require.NoError(t, err)
	// <= complements to the strict >, never >=; < complements to >=.
	assert.Equal(t, []string{"x > 5", "y >= 3"}, r.Clauses)
}

func TestTranslateEmptyCondition(t *testing.T) {
	tr := New()
	r, err := tr.Translate(nil)
	require.NoError(t, err)
	assert.Empty(t, r.Clauses)
	assert.Equal(t, "", r.Expr())
}

func TestTranslateUnsupported(t *testing.T) {
	t.Run("unknown operator", func(t *testing.T) {
		_, err := New().Translate(slicer.PathCondition{step("x", "~", 1, core.BranchTrue)})
		var uerr *core.UnsupportedPredicateError
		require.ErrorAs(t, err, &uerr)
	})

	t.Run("equality on false branch", func(t *testing.T) {
		_, err := New().Translate(slicer.PathCondition{step("x", core.OpEQ, 1, core.BranchFalse)})
		var uerr *core.UnsupportedPredicateError
		require.ErrorAs(t, err, &uerr)
		assert.Contains(t, err.Error(), "complement")
	})

	t.Run("variable outside allowlist", func(t *testing.T) {
		tr := New("x", "y")
		_, err := tr.Translate(slicer.PathCondition{step("z", core.OpLE, 1, core.BranchTrue)})
		var uerr *core.UnsupportedPredicateError
		require.ErrorAs(t, err, &uerr)

		_, err = tr.Translate(slicer.PathCondition{step("x", core.OpLE, 1, core.BranchTrue)})
		require.NoError(t, err)
	})

	t.Run("foreign branch label", func(t *testing.T) {
		_, err := New().Translate(slicer.PathCondition{step("x", core.OpLE, 1, "maybe")})
		var uerr *core.UnsupportedPredicateError
		require.ErrorAs(t, err, &uerr)
	})
}
