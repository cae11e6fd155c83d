// Package aqerr defines the error kinds the engine propagates across package
// boundaries, per the error-handling design: InvalidArgument, BackingStoreFailure,
// InvariantViolation and PlanningAmbiguity each carry different recovery rules for
// their callers.
package aqerr

import (
	"fmt"
)

// Kind is one of the engine's sentinel error categories.
type Kind string

const (
	// InvalidArgument covers bad fractions, missing table names, unsupported sketch
	// types. No state change; fail the operation locally.
	InvalidArgument Kind = "invalid_argument"

	// BackingStoreFailure covers SQL errors from the backing store. Surfaced to the
	// caller as a query failure, except for the MLOptimizer's exact-baseline timing
	// comparison, which swallows it and falls back to the predicted speedup.
	BackingStoreFailure Kind = "backing_store_failure"

	// InvariantViolation covers sketch deserialization length mismatches and HLL
	// merges across mismatched register counts. Fail loudly.
	InvariantViolation Kind = "invariant_violation"

	// PlanningAmbiguity covers missing stats or an unparseable table name. Never
	// blocks a query; the planner degrades silently to exact.
	PlanningAmbiguity Kind = "planning_ambiguity"
)

// Error wraps an underlying cause with one of the engine's error kinds.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, aqerr.ErrInvalidArgument) work by comparing Kind values
// against the sentinel errors below.
func (e *Error) Is(target error) bool {
	k, ok := target.(*kindSentinel)
	if !ok {
		return false
	}
	return e.Kind == k.kind
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return string(k.kind) }

// Sentinels usable with errors.Is(err, aqerr.ErrInvalidArgument).
var (
	ErrInvalidArgument     = &kindSentinel{InvalidArgument}
	ErrBackingStoreFailure = &kindSentinel{BackingStoreFailure}
	ErrInvariantViolation  = &kindSentinel{InvariantViolation}
	ErrPlanningAmbiguity   = &kindSentinel{PlanningAmbiguity}
)

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid is a convenience constructor for InvalidArgument errors.
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// StoreFailure is a convenience constructor for BackingStoreFailure errors.
func StoreFailure(op string, err error) *Error {
	return &Error{Kind: BackingStoreFailure, Op: op, Err: err}
}

// Invariant is a convenience constructor for InvariantViolation errors.
func Invariant(op, format string, args ...any) *Error {
	return &Error{Kind: InvariantViolation, Op: op, Err: fmt.Errorf(format, args...)}
}
