// Package errors defines the engine's typed domain errors plus the
// four-way transaction outcome: SUCCESS, USER_ABORT, SYSTEM_ABORT, BUG.
// Ordinary domain outcomes are plain typed errors, one struct per
// outcome with Error() via fmt.Sprintf; concurrency-conflict and
// contract-violation errors are wrapped with cockroachdb/errors so a
// BUG carries a stack trace all the way to pkg/crashreport.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Status is the four-way outcome every transaction operation collapses to.
type Status int

const (
	// SUCCESS means the operation (or commit) completed and its effects are
	// visible to subsequent transactions.
	SUCCESS Status = iota
	// UserAbort is an explicit domain-level rollback (e.g. a workload's 1%
	// rollback rule). It is not retried.
	UserAbort
	// SystemAbort is a concurrency conflict: lock failure, validation
	// failure, phantom detection. The retry driver restarts the transaction.
	SystemAbort
	// Bug is reserved for contract violations (double-commit, operating on
	// a finished handle). It is never a legitimate workload outcome.
	Bug
)

func (s Status) String() string {
	switch s {
	case SUCCESS:
		return "SUCCESS"
	case UserAbort:
		return "USER_ABORT"
	case SystemAbort:
		return "SYSTEM_ABORT"
	case Bug:
		return "BUG"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// TableAlreadyExistsError means RegisterTable was called twice for the same id.
type TableAlreadyExistsError struct {
	TableID fmt.Stringer
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %s already registered", e.TableID)
}

// TableNotFoundError means the named table was never registered with the
// schema catalog.
type TableNotFoundError struct {
	TableID fmt.Stringer
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %s not found", e.TableID)
}

// AlreadyPresentError is returned by insert when the key is known present.
type AlreadyPresentError struct {
	Key fmt.Stringer
}

func (e *AlreadyPresentError) Error() string {
	return fmt.Sprintf("key %s already present", e.Key)
}

// NotPresentError is returned by update/remove when the key does not exist.
type NotPresentError struct {
	Key fmt.Stringer
}

func (e *NotPresentError) Error() string {
	return fmt.Sprintf("key %s not present", e.Key)
}

// ConflictError wraps any lock-acquisition failure, validation mismatch, or
// timestamp-order check failure discovered during execution or commit. It
// always corresponds to Status == SystemAbort.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %s", e.Reason)
}

// PhantomError is a ConflictError raised specifically by node-observation
// (leaf version stamp) revalidation failing at commit.
type PhantomError struct {
	Reason string
}

func (e *PhantomError) Error() string {
	return fmt.Sprintf("phantom detected: %s", e.Reason)
}

// BugError wraps a contract violation: double-commit, operating on a
// finished handle, or any other precondition violation. It is constructed
// with a stack trace via cockroachdb/errors so pkg/crashreport has
// something to report.
type BugError struct {
	cause error
}

// NewBug builds a BugError, attaching a stack trace via cockroachdb/errors.
func NewBug(format string, args ...interface{}) *BugError {
	return &BugError{cause: cockroacherrors.NewWithDepthf(1, format, args...)}
}

// WrapBug wraps an existing error as a contract violation.
func WrapBug(err error, msg string) *BugError {
	return &BugError{cause: cockroacherrors.WithMessage(cockroacherrors.WithStack(err), msg)}
}

func (e *BugError) Error() string { return e.cause.Error() }
func (e *BugError) Unwrap() error { return e.cause }

// StatusOf classifies err into the four-way outcome the transaction facade
// and retry driver (pkg/txn) operate on. A nil error is SUCCESS.
func StatusOf(err error) Status {
	if err == nil {
		return SUCCESS
	}
	switch {
	case cockroacherrors.HasType(err, (*BugError)(nil)):
		return Bug
	case cockroacherrors.HasType(err, (*ConflictError)(nil)),
		cockroacherrors.HasType(err, (*PhantomError)(nil)):
		return SystemAbort
	default:
		return UserAbort
	}
}

// Re-exported so callers needing cockroachdb/errors' richer formatting
// (%+v stack traces, Wrapf/Newf) don't need a second import alongside this
// package.
var (
	Wrapf = cockroacherrors.Wrapf
	Newf  = cockroacherrors.Newf
	Is    = cockroacherrors.Is
	As    = cockroacherrors.As
	Cause = cockroacherrors.Cause
)
