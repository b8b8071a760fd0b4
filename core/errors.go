package core

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed tree graph. It is fatal when the initial
// tree fails to parse and a per-candidate rejection when a re-synthesizer
// result fails to parse.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return "parse error: " + e.Msg }

// ParseErrorf builds a ParseError with a formatted message.
func ParseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedPredicateError reports a path condition element the
// constraint translator cannot express; the candidate is skipped.
type UnsupportedPredicateError struct {
	Predicate Predicate
	Reason    string
}

func (e *UnsupportedPredicateError) Error() string {
	return fmt.Sprintf("unsupported predicate %q: %s", e.Predicate.String(), e.Reason)
}

var (
	// ErrInitialGeneration aborts the whole run: without an initial tree
	// there is nothing to refine.
	ErrInitialGeneration = errors.New("initial tree generation failed")

	// ErrCandidateTimeout rejects one candidate; the run continues.
	ErrCandidateTimeout = errors.New("candidate synthesis timed out")

	// ErrInfeasible marks a restriction the re-synthesizer cannot satisfy.
	ErrInfeasible = errors.New("constraint infeasible")

	// ErrGlobalTimeout stops the refinement loop with partial results.
	ErrGlobalTimeout = errors.New("global time budget exhausted")

	// ErrReVerification marks an accepted candidate that violated the
	// specification once spliced; the splice is rolled back.
	ErrReVerification = errors.New("re-verification failed")
)
