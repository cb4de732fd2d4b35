/*
errors.go - Centralized error types for the adjudication engine

PURPOSE:
  All error types in one place. Domain outcomes (NOT_COVERED, WAITING_PERIOD,
  ANNUAL_LIMIT_REACHED, APPROVED) are NOT errors: they are returned as
  ClaimDecision values. Errors are reserved for two categories.

ERROR CATEGORIES:
  1. Contract violations - caller bugs: Commit on a rejected decision,
     Commit with arguments that don't match the decision, a plan or
     procedure that the catalog has never heard of.
  2. Persistence faults - ledger or catalog storage failures. Retryable.
     Evaluate fails closed: no decision is returned at all.

USAGE:
  decision, err := adj.Evaluate(ctx, input)
  switch {
  case benefit.IsRetryable(err):
      // try again later
  case benefit.IsContractViolation(err):
      // bug in the caller, surface loudly
  }

SEE ALSO:
  - adjudicator.go: Produces these errors
  - ledger.go: Wraps store failures as PersistenceError
*/
package benefit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrContractViolation marks a programming fault in the caller.
	ErrContractViolation = errors.New("contract violation")

	// ErrCommitNotApproved is returned when Commit is called with a decision
	// that was not APPROVED.
	ErrCommitNotApproved = errors.New("commit requires an approved decision")

	// ErrCommitMismatch is returned when Commit arguments don't match the decision.
	ErrCommitMismatch = errors.New("commit arguments do not match decision")

	// ErrUnknownPlan is returned when a plan does not exist at all.
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrUnknownProcedure is returned when a procedure does not exist at all.
	ErrUnknownProcedure = errors.New("unknown procedure")

	// ErrInvalidInput is returned when Evaluate is missing required dates.
	ErrInvalidInput = errors.New("invalid evaluation input")

	// ErrInvalidUsageKey is returned for keys with missing components.
	ErrInvalidUsageKey = errors.New("invalid usage key")

	// ErrPersistence marks a storage failure. Safe to retry.
	ErrPersistence = errors.New("persistence failure")

	// ErrNoActiveMembership is returned when a pet has no membership on the date.
	ErrNoActiveMembership = errors.New("no active membership")

	// ErrAmbiguousMembership is returned when more than one membership is active.
	ErrAmbiguousMembership = errors.New("more than one active membership")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ContractViolationError describes a caller bug.
type ContractViolationError struct {
	Op     string // "evaluate", "commit"
	Detail string
	Err    error // the specific sentinel (ErrCommitNotApproved, ErrUnknownPlan, ...)
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s: contract violation: %v (%s)", e.Op, e.Err, e.Detail)
}

// Is lets callers match both ErrContractViolation and the specific sentinel.
func (e *ContractViolationError) Is(target error) bool {
	return target == ErrContractViolation
}

func (e *ContractViolationError) Unwrap() error { return e.Err }

func contractViolation(op string, err error, format string, args ...any) error {
	return &ContractViolationError{Op: op, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a storage failure with the operation and key.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceError(op, key string, err error) error {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsContractViolation returns true if the error is a caller bug.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsNotFound returns true if the error indicates a missing catalog entity or membership.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrUnknownProcedure) ||
		errors.Is(err, ErrNoActiveMembership)
}
