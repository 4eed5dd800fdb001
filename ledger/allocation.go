/*
allocation.go - Splitting one payment across several trips

PURPOSE:
  A party pays once and the cashier decides how much of the payment
  settles each trip. Allocate records that decision as a batch: one income
  entry per line, all sharing a batch id and a receipt number.

PRECONDITIONS (checked inside the transaction, after locking):
  - request amount > 0 and every line amount > 0
  - sum(lines) == amount                     -> *UnbalancedBatchError
  - per trip: sum(lines on trip) <= outstanding
    where outstanding = revenue - received   -> *OverAllocationError

ATOMICITY:
  Trips are locked in id order, then every line is validated, then the
  entries are appended and each trip's status re-derived. Any failure rolls
  back everything including the receipt number. Two concurrent allocations
  on the same trip serialize on the trip lock; the second sees the first's
  entries when computing outstanding.

  The engine never splits a payment on its own. Lines are always supplied
  by the caller.

SEE ALSO:
  - projection.go: outstanding and payment status
  - fleet/numbering.go: receipt display format
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// AllocationLine assigns part of a payment to one trip.
type AllocationLine struct {
	TripID TripID `json:"trip_id"`
	Amount Amount `json:"amount"`
}

// AllocationRequest describes one payment and how it is split.
type AllocationRequest struct {
	Amount     Amount
	AccountID  AccountID
	CategoryID CategoryID
	PartyID    PartyID // defaults per line to the trip's party
	Date       time.Time
	Note       string
	Lines      []AllocationLine
}

// TripAllocation reports one trip's position around the allocation.
type TripAllocation struct {
	TripID            TripID        `json:"trip_id"`
	Revenue           Amount        `json:"revenue"`
	Allocated         Amount        `json:"allocated"`
	OutstandingBefore Amount        `json:"outstanding_before"`
	OutstandingAfter  Amount        `json:"outstanding_after"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
}

type AllocationResult struct {
	BatchID       BatchID          `json:"batch_id"`
	ReceiptNumber int64            `json:"receipt_number"`
	Entries       []Entry          `json:"entries"`
	Trips         []TripAllocation `json:"trips"`
}

// Allocate validates and records the batch atomically.
func (e *Engine) Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error) {
	if err := validateAllocation(req); err != nil {
		e.observer.AllocationRejected(rejectReason(err))
		return AllocationResult{}, err
	}
	if req.Date.IsZero() {
		req.Date = e.now()
	}

	// Per-trip totals, trips in lock order.
	perTrip := make(map[TripID]Amount, len(req.Lines))
	for _, l := range req.Lines {
		perTrip[l.TripID] = perTrip[l.TripID].Add(l.Amount)
	}
	ids := make([]TripID, 0, len(perTrip))
	for id := range perTrip {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var result AllocationResult
	err := e.withTx(ctx, "allocate", func(s Store) error {
		if err := s.LockTrips(ctx, ids); err != nil {
			return err
		}
		if _, err := getAccount(ctx, s, req.AccountID); err != nil {
			return err
		}
		cat, err := getCategory(ctx, s, req.CategoryID)
		if err != nil {
			return err
		}
		if cat.Polarity != DirectionIncome {
			return &ReferenceError{Kind: "category", ID: string(req.CategoryID), Reason: "allocation needs an income category"}
		}
		if req.PartyID != "" {
			if _, err := getParty(ctx, s, req.PartyID); err != nil {
				return err
			}
		}

		trips := make(map[TripID]*Trip, len(ids))
		before := make(map[TripID]Projection, len(ids))
		for _, id := range ids {
			t, err := getTrip(ctx, s, id)
			if err != nil {
				return err
			}
			entries, err := s.LoadEntries(ctx, EntryFilter{TripID: id})
			if err != nil {
				return err
			}
			p := Project(*t, entries, e.tolerance)
			if perTrip[id].GreaterThan(p.Outstanding) {
				return &OverAllocationError{TripID: id, Requested: perTrip[id], Outstanding: p.Outstanding}
			}
			trips[id] = t
			before[id] = p
		}

		receipt, err := s.NextSequence(ctx, receiptScope.String())
		if err != nil {
			return err
		}
		batch := BatchID(newID())
		note := req.Note
		if note == "" {
			note = fmt.Sprintf("receipt %d", receipt)
		}

		entries := make([]Entry, 0, len(req.Lines))
		for _, l := range req.Lines {
			party := req.PartyID
			if party == "" {
				party = trips[l.TripID].PartyID
			}
			en, err := appendEntry(ctx, s, Entry{
				Amount:     l.Amount,
				Direction:  DirectionIncome,
				Date:       Day(req.Date),
				AccountID:  req.AccountID,
				PartyID:    party,
				TripID:     l.TripID,
				CategoryID: req.CategoryID,
				BatchID:    batch,
				Note:       note,
			}, e.now())
			if err != nil {
				return err
			}
			entries = append(entries, en)
		}

		allocs := make([]TripAllocation, 0, len(ids))
		for _, id := range ids {
			after, err := refreshTripStatus(ctx, s, id, e.tolerance)
			if err != nil {
				return err
			}
			allocs = append(allocs, TripAllocation{
				TripID:            id,
				Revenue:           after.Revenue,
				Allocated:         perTrip[id],
				OutstandingBefore: before[id].Outstanding,
				OutstandingAfter:  after.Outstanding,
				PaymentStatus:     after.PaymentStatus,
			})
		}

		result = AllocationResult{BatchID: batch, ReceiptNumber: receipt, Entries: entries, Trips: allocs}
		return nil
	})
	if err != nil {
		e.observer.AllocationRejected(rejectReason(err))
		return AllocationResult{}, err
	}

	e.invalidate(ctx, ids...)
	e.observer.SequenceIssued(ClassReceipt)
	e.observer.AllocationCommitted(len(req.Lines))
	e.logger.Info("allocation committed",
		slog.String("batch_id", string(result.BatchID)),
		slog.Int64("receipt", result.ReceiptNumber),
		slog.String("amount", req.Amount.String()),
		slog.Int("lines", len(req.Lines)))
	return result, nil
}

func validateAllocation(req AllocationRequest) error {
	if err := validateAmount(req.Amount); err != nil {
		return err
	}
	if len(req.Lines) == 0 {
		return fmt.Errorf("allocation has no lines: %w", ErrInvalidInput)
	}
	sum := Zero()
	for i, l := range req.Lines {
		if l.TripID == "" {
			return fmt.Errorf("line %d has no trip: %w", i, ErrInvalidInput)
		}
		if err := validateAmount(l.Amount); err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		sum = sum.Add(l.Amount)
	}
	if !sum.Equal(req.Amount) {
		return &UnbalancedBatchError{Declared: req.Amount, Lines: sum}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrOverAllocation):
		return "over_allocation"
	case errors.Is(err, ErrUnbalancedBatch):
		return "unbalanced"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case IsRetryable(err):
		return "contention"
	}
	return "other"
}
