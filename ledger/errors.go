/*
errors.go - Typed failures of the ledger core

PURPOSE:
  All error types in one place. Every failure here is scoped to the single
  operation that raised it; none leaves the store partially written.

ERROR CATEGORIES:
  1. Client errors - bad references, bad amounts, unbalanced or
     over-allocated batches, blocked deletions
  2. Concurrency errors - contention and timeouts; callers retry
  3. Lookup errors - missing records on read paths

USAGE:
  if errors.Is(err, ledger.ErrOverAllocation) {
      var oa *ledger.OverAllocationError
      errors.As(err, &oa) // oa.TripID names the offending trip
  }

SEE ALSO:
  - api/errors.go: maps these to HTTP problem responses
  - store/sqlite, store/postgres: translate driver errors into these
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidReference is returned when an entry names an account, party,
	// driver, trip or category that does not exist.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidAmount is returned for non-positive or over-precision amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOverAllocation is returned when an allocation would push a trip's
	// received amount past its revenue.
	ErrOverAllocation = errors.New("over allocation")

	// ErrUnbalancedBatch is returned when allocation lines do not sum to the
	// declared payment amount.
	ErrUnbalancedBatch = errors.New("unbalanced batch")

	// ErrContention is returned when the store could not serialize the
	// operation against concurrent writers. Retryable.
	ErrContention = errors.New("contention")

	// ErrTimeout is returned when a mutating operation could not complete
	// within its deadline. Retryable.
	ErrTimeout = errors.New("timeout")

	// ErrReferentialBlock is returned when deleting a record that entries
	// still reference.
	ErrReferentialBlock = errors.New("referential block")

	// ErrNotFound is returned by read paths for missing records.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate")

	// ErrAlreadyReversed is returned when reversing an entry twice, or
	// reversing a reversal.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrInvalidInput is returned for malformed requests that are not
	// amount or reference problems (empty names, unknown kinds).
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ReferenceError names the missing or unusable record.
type ReferenceError struct {
	Kind   string // "account", "party", "driver", "trip", "category"
	ID     string
	Reason string
}

func (e *ReferenceError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid reference: %s %q: %s", e.Kind, e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid reference: %s %q does not exist", e.Kind, e.ID)
}

func (e *ReferenceError) Unwrap() error { return ErrInvalidReference }

// OverAllocationError names the trip whose outstanding balance was exceeded.
type OverAllocationError struct {
	TripID      TripID
	Requested   Amount
	Outstanding Amount
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("over allocation: trip %s requested %s, outstanding %s",
		e.TripID, e.Requested, e.Outstanding)
}

func (e *OverAllocationError) Unwrap() error { return ErrOverAllocation }

// UnbalancedBatchError reports the declared amount against the line total.
type UnbalancedBatchError struct {
	Declared Amount
	Lines    Amount
}

func (e *UnbalancedBatchError) Error() string {
	return fmt.Sprintf("unbalanced batch: declared %s, lines sum to %s", e.Declared, e.Lines)
}

func (e *UnbalancedBatchError) Unwrap() error { return ErrUnbalancedBatch }

// ReferentialBlockError reports how many entries still point at the record.
type ReferentialBlockError struct {
	Kind    string
	ID      string
	Entries int
}

func (e *ReferentialBlockError) Error() string {
	return fmt.Sprintf("cannot delete %s %q: %d ledger entries reference it", e.Kind, e.ID, e.Entries)
}

func (e *ReferentialBlockError) Unwrap() error { return ErrReferentialBlock }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOverAllocation) ||
		errors.Is(err, ErrUnbalancedBatch) ||
		errors.Is(err, ErrReferentialBlock) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrInvalidInput)
}

func refErr(kind, id string) error { return &ReferenceError{Kind: kind, ID: id} }
