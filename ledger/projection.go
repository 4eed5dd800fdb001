/*
projection.go - Trip revenue, expense, profit and payment status

PURPOSE:
  Pure read-side derivation of a trip's financial state from its
  attributes plus the entries that reference it. Nothing computed here is
  the source of truth; the cached Revenue and PaymentStatus on Trip are
  rewritten from this function on every write that affects them.

RULES:
  revenue       = weight x rate, rounded to Precision
  received      = income entries on the trip - reversals of those
  total_expense = expense entries on the trip - reversals of those
  profit        = revenue - total_expense
  outstanding   = revenue - received

  payment status:
    Unpaid   received is zero
    Paid     revenue > 0 and received >= revenue - tolerance
    Partial  anything else

SEE ALSO:
  - allocation.go: uses Outstanding to reject over-allocation
  - cache/projection.go: optional Redis cache of Projection
*/
package ledger

import "context"

// Projection is the financial view of one trip.
type Projection struct {
	TripID        TripID        `json:"trip_id"`
	Revenue       Amount        `json:"revenue"`
	Received      Amount        `json:"received"`
	TotalExpense  Amount        `json:"total_expense"`
	Profit        Amount        `json:"profit"`
	Outstanding   Amount        `json:"outstanding"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// Project derives the trip's projection. Entries for other trips are ignored.
func Project(t Trip, entries []Entry, tolerance Amount) Projection {
	onTrip := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.TripID == t.ID {
			onTrip = append(onTrip, e)
		}
	}
	received, expense := splitBuckets(onTrip)

	revenue := t.ComputeRevenue()
	return Projection{
		TripID:        t.ID,
		Revenue:       revenue,
		Received:      received,
		TotalExpense:  expense,
		Profit:        revenue.Sub(expense),
		Outstanding:   revenue.Sub(received),
		PaymentStatus: DerivePaymentStatus(revenue, received, tolerance),
	}
}

// DerivePaymentStatus applies the payment status rule.
func DerivePaymentStatus(revenue, received, tolerance Amount) PaymentStatus {
	switch {
	case !received.IsPositive():
		return PaymentUnpaid
	case revenue.IsPositive() && received.GreaterOrEqual(revenue.Sub(tolerance.Abs())):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// splitBuckets nets entries into income and expense totals. A reversal
// always carries the opposite direction of the entry it offsets, so it is
// subtracted from that entry's bucket.
func splitBuckets(entries []Entry) (income, expense Amount) {
	income, expense = Zero(), Zero()
	for _, e := range entries {
		bucket, amount := e.Direction, e.Amount
		if e.IsReversal() {
			bucket, amount = e.Direction.Opposite(), e.Amount.Neg()
		}
		if bucket == DirectionIncome {
			income = income.Add(amount)
		} else {
			expense = expense.Add(amount)
		}
	}
	return income, expense
}

// =============================================================================
// PROJECTION SERVICE - Store-backed, optionally cached
// =============================================================================

// ProjectTrip loads the trip and its entries and projects them. When a
// cache is configured it is consulted first.
func (e *Engine) ProjectTrip(ctx context.Context, id TripID) (Projection, error) {
	load := func(ctx context.Context) (Projection, error) {
		return projectFrom(ctx, e.store, id, e.tolerance)
	}
	if e.cache == nil {
		return load(ctx)
	}
	return e.cache.Fetch(ctx, id, load)
}

func projectFrom(ctx context.Context, s Store, id TripID, tolerance Amount) (Projection, error) {
	t, err := s.GetTrip(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	entries, err := s.LoadEntries(ctx, EntryFilter{TripID: id})
	if err != nil {
		return Projection{}, err
	}
	return Project(*t, entries, tolerance), nil
}

// refreshTripStatus re-derives and persists a trip's cached revenue and
// status inside the caller's transaction.
func refreshTripStatus(ctx context.Context, s Store, id TripID, tolerance Amount) (Projection, error) {
	t, err := s.GetTrip(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	entries, err := s.LoadEntries(ctx, EntryFilter{TripID: id})
	if err != nil {
		return Projection{}, err
	}
	p := Project(*t, entries, tolerance)
	if !p.Revenue.Equal(t.Revenue) || p.PaymentStatus != t.PaymentStatus {
		if err := s.UpdateTripStatus(ctx, id, p.Revenue, p.PaymentStatus); err != nil {
			return Projection{}, err
		}
	}
	return p, nil
}
