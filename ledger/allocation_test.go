package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// ALLOCATION TESTS
// =============================================================================

func TestAllocate_StatusProgression(t *testing.T) {
	// GIVEN: a trip with revenue 10000.00
	eng := newTestEngine(t)
	ctx := context.Background()

	// WHEN: 4000.00 is allocated
	res, err := eng.Allocate(ctx, singleLine("trip-1", "4000.00"))
	require.NoError(t, err)

	// THEN: the trip is partially paid
	require.Len(t, res.Trips, 1)
	assert.Equal(t, ledger.PaymentPartial, res.Trips[0].PaymentStatus)
	requireAmount(t, "10000.00", res.Trips[0].OutstandingBefore)
	requireAmount(t, "6000.00", res.Trips[0].OutstandingAfter)

	// WHEN: the remaining 6000.00 is allocated
	res, err = eng.Allocate(ctx, singleLine("trip-1", "6000.00"))
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPaid, res.Trips[0].PaymentStatus)

	trip, err := eng.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPaid, trip.PaymentStatus)

	// THEN: any further allocation is rejected and names the trip
	_, err = eng.Allocate(ctx, singleLine("trip-1", "0.01"))
	require.ErrorIs(t, err, ledger.ErrOverAllocation)
	var oa *ledger.OverAllocationError
	require.True(t, errors.As(err, &oa))
	assert.Equal(t, ledger.TripID("trip-1"), oa.TripID)
	requireAmount(t, "0.00", oa.Outstanding)
}

func TestAllocate_BatchEntriesShareBatchAndReceipt(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerTrip(t, eng, "trip-2", "5", "1000.00")

	res, err := eng.Allocate(ctx, ledger.AllocationRequest{
		Amount:     amt("7000.00"),
		AccountID:  "cash",
		CategoryID: "freight",
		Date:       march(15),
		Lines: []ledger.AllocationLine{
			{TripID: "trip-2", Amount: amt("5000.00")},
			{TripID: "trip-1", Amount: amt("2000.00")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.ReceiptNumber)
	require.Len(t, res.Entries, 2)
	for _, e := range res.Entries {
		assert.Equal(t, res.BatchID, e.BatchID)
		assert.Equal(t, ledger.DirectionIncome, e.Direction)
		assert.Equal(t, ledger.PartyID("acme"), e.PartyID, "party defaults to the trip's party")
	}

	batch, err := eng.Query(ctx, ledger.EntryFilter{BatchID: res.BatchID})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	// Trips come back in lock order.
	require.Len(t, res.Trips, 2)
	assert.Equal(t, ledger.TripID("trip-1"), res.Trips[0].TripID)
	assert.Equal(t, ledger.PaymentPaid, res.Trips[1].PaymentStatus)

	bal, err := eng.AccountBalance(ctx, "cash", ledger.Day(testNow))
	require.NoError(t, err)
	requireAmount(t, "8000.00", bal)

	next, err := eng.Allocate(ctx, singleLine("trip-1", "1.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ReceiptNumber)
}

func TestAllocate_UnbalancedBatch(t *testing.T) {
	eng := newTestEngine(t)

	req := singleLine("trip-1", "100.00")
	req.Amount = amt("150.00")
	_, err := eng.Allocate(context.Background(), req)

	require.ErrorIs(t, err, ledger.ErrUnbalancedBatch)
	var ub *ledger.UnbalancedBatchError
	require.True(t, errors.As(err, &ub))
	requireAmount(t, "100.00", ub.Lines)
}

func TestAllocate_RejectsNonPositiveLines(t *testing.T) {
	eng := newTestEngine(t)

	req := ledger.AllocationRequest{
		Amount: amt("100.00"), AccountID: "cash", CategoryID: "freight",
		Lines: []ledger.AllocationLine{
			{TripID: "trip-1", Amount: amt("150.00")},
			{TripID: "trip-1", Amount: amt("-50.00")},
		},
	}
	_, err := eng.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestAllocate_RequiresIncomeCategory(t *testing.T) {
	eng := newTestEngine(t)

	req := singleLine("trip-1", "100.00")
	req.CategoryID = "fuel"
	_, err := eng.Allocate(context.Background(), req)
	assert.ErrorIs(t, err, ledger.ErrInvalidReference)
}

func TestAllocate_IsAtomic(t *testing.T) {
	// GIVEN: a batch whose second trip would be over-allocated
	eng := newTestEngine(t)
	ctx := context.Background()
	registerTrip(t, eng, "trip-2", "1", "500.00")

	_, err := eng.Allocate(ctx, ledger.AllocationRequest{
		Amount: amt("1500.00"), AccountID: "cash", CategoryID: "freight", Date: march(15),
		Lines: []ledger.AllocationLine{
			{TripID: "trip-1", Amount: amt("900.00")},
			{TripID: "trip-2", Amount: amt("600.00")},
		},
	})
	require.ErrorIs(t, err, ledger.ErrOverAllocation)

	// THEN: nothing was written, not even the receipt number
	entries, err := eng.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	receipts, err := eng.CurrentSequence(ctx, ledger.ReceiptScope())
	require.NoError(t, err)
	assert.Equal(t, int64(0), receipts)

	trip, err := eng.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentUnpaid, trip.PaymentStatus)
}

func TestAllocate_SameTripTwiceIsSummed(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Allocate(context.Background(), ledger.AllocationRequest{
		Amount: amt("12000.00"), AccountID: "cash", CategoryID: "freight",
		Lines: []ledger.AllocationLine{
			{TripID: "trip-1", Amount: amt("6000.00")},
			{TripID: "trip-1", Amount: amt("6000.00")},
		},
	})
	assert.ErrorIs(t, err, ledger.ErrOverAllocation)
}

func TestAllocate_ConcurrentOverAllocation(t *testing.T) {
	// GIVEN: two concurrent allocations of 60% of the same trip
	eng := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Allocate(ctx, singleLine("trip-1", "6000.00"))
		}(i)
	}
	wg.Wait()

	// THEN: exactly one commits, the other is rejected
	var ok, over int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrOverAllocation):
			over++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, over)

	p, err := eng.ProjectTrip(ctx, "trip-1")
	require.NoError(t, err)
	requireAmount(t, "6000.00", p.Received)
}
