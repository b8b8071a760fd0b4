// Package constraint turns a path condition into the conjunctive
// state-space restriction the external re-synthesizer consumes.
package constraint

import (
	"github.com/dtsynth/refine/core"
	"github.com/dtsynth/refine/slicer"
)

// Translator converts path conditions syntactically, one clause per path
// element. When Variables is non-nil it acts as an allowlist of state
// variables the downstream input format knows about.
type Translator struct {
	Variables map[string]struct{}
}

// New builds a translator. An empty variable list means every variable is
// accepted.
func New(variables ...string) *Translator {
	t := &Translator{}
	if len(variables) > 0 {
		t.Variables = make(map[string]struct{}, len(variables))
		for _, v := range variables {
			t.Variables[v] = struct{}{}
		}
	}
	return t
}

// Translate produces the restriction "only states reachable by exactly
// this sequence of branch choices". Operator semantics are preserved
// exactly: the true branch keeps the node's operator, the false branch
// becomes the strict complement (<= turns into >, never >=), so boundary
// states are neither duplicated nor lost.
func (t *Translator) Translate(pc slicer.PathCondition) (*core.Restriction, error) {
	r := &core.Restriction{Clauses: make([]string, 0, len(pc))}
	for _, step := range pc {
		p := step.Predicate
		if !p.Operator.Known() {
			return nil, &core.UnsupportedPredicateError{Predicate: p, Reason: "unknown operator"}
		}
		if t.Variables != nil {
			if _, ok := t.Variables[p.Variable]; !ok {
				return nil, &core.UnsupportedPredicateError{Predicate: p, Reason: "variable outside the supported grammar"}
			}
		}
		switch step.Branch {
		case core.BranchTrue:
		case core.BranchFalse:
			comp, ok := p.Operator.Complement()
			if !ok {
				return nil, &core.UnsupportedPredicateError{Predicate: p, Reason: "operator has no strict complement"}
			}
			p.Operator = comp
		default:
			return nil, &core.UnsupportedPredicateError{Predicate: p, Reason: "branch label " + step.Branch + " is not translatable"}
		}
		r.Clauses = append(r.Clauses, p.String())
	}
	return r, nil
}
