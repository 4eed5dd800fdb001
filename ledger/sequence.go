/*
sequence.go - Gap-less number issuance per scope

PURPOSE:
  Issues strictly increasing numbers starting at 1 for a scope key such
  as (trip, vehicle plate, month+year) or (receipt, global). No two
  callers ever receive the same number for the same scope.

STORAGE:
  Counters live in the store's sequence table and are bumped with a single
  atomic increment-and-return inside a transaction. There is no in-process
  counter; several server processes may share one store.

GAPS:
  A number is never reused. If the record consuming a number is later
  deleted, or its transaction fails after issuance commits, the number is
  simply missing from the final data.

RETRIES:
  Issue fails with ErrContention if the counter cannot be committed.
  IssueWithRetry retries a bounded number of times with linear backoff;
  there are no unbounded loops here.

SEE ALSO:
  - fleet/numbering.go: trip and receipt display formats
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Scope classes used by the engine itself.
const (
	ClassEntry       = "entry"
	ClassReceipt     = "receipt"
	ClassDriverTx    = "driver_tx"
	GlobalPartition  = "global"
	scopeKeySplitter = ":"
)

// ScopeKey partitions a counter. Period may be empty for unbounded scopes.
type ScopeKey struct {
	Class     string
	Partition string
	Period    string
}

func (k ScopeKey) String() string {
	return k.Class + scopeKeySplitter + k.Partition + scopeKeySplitter + k.Period
}

func (k ScopeKey) Validate() error {
	if k.Class == "" || k.Partition == "" {
		return fmt.Errorf("scope key %q: class and partition required: %w", k.String(), ErrInvalidInput)
	}
	for _, part := range []string{k.Class, k.Partition, k.Period} {
		if strings.Contains(part, scopeKeySplitter) {
			return fmt.Errorf("scope key part %q contains %q: %w", part, scopeKeySplitter, ErrInvalidInput)
		}
	}
	return nil
}

// ParseScopeKey is the inverse of ScopeKey.String.
func ParseScopeKey(s string) (ScopeKey, error) {
	parts := strings.Split(s, scopeKeySplitter)
	if len(parts) != 3 {
		return ScopeKey{}, fmt.Errorf("scope key %q: want class:partition:period: %w", s, ErrInvalidInput)
	}
	k := ScopeKey{Class: parts[0], Partition: parts[1], Period: parts[2]}
	return k, k.Validate()
}

// MonthPeriodKey renders the period component for monthly scopes.
func MonthPeriodKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

var (
	entryScope    = ScopeKey{Class: ClassEntry, Partition: GlobalPartition}
	receiptScope  = ScopeKey{Class: ClassReceipt, Partition: GlobalPartition}
	driverTxScope = ScopeKey{Class: ClassDriverTx, Partition: GlobalPartition}
)

// ReceiptScope is the global scope allocation receipts are numbered in.
func ReceiptScope() ScopeKey { return receiptScope }

// =============================================================================
// ISSUE
// =============================================================================

// Issue reserves the next number for key.
func (e *Engine) Issue(ctx context.Context, key ScopeKey) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	var n int64
	err := e.withTx(ctx, "issue", func(s Store) error {
		var err error
		n, err = s.NextSequence(ctx, key.String())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("issue %s: %w", key, err)
	}
	e.observer.SequenceIssued(key.Class)
	return n, nil
}

// IssueWithRetry retries Issue on contention up to the configured bound.
func (e *Engine) IssueWithRetry(ctx context.Context, key ScopeKey) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		n, err := e.Issue(ctx, key)
		if err == nil {
			return n, nil
		}
		if !IsRetryable(err) {
			return 0, err
		}
		lastErr = err
		e.logger.Warn("sequence contention, retrying",
			slog.String("scope", key.String()), slog.Int("attempt", attempt))

		if attempt == e.retries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, errors.Join(lastErr, ctx.Err())
		case <-time.After(time.Duration(attempt) * e.backoff):
		}
	}
	return 0, lastErr
}

// CurrentSequence returns the last issued number for key, 0 if none.
func (e *Engine) CurrentSequence(ctx context.Context, key ScopeKey) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	return e.store.CurrentSequence(ctx, key.String())
}
