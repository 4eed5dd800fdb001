package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_AssignsIDNumberAndDefaults(t *testing.T) {
	eng := newTestEngine(t)

	e := appendEntry(t, eng, ledger.Entry{Amount: amt("250.00"), CategoryID: "fuel"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, int64(1), e.Number)
	assert.Equal(t, ledger.DirectionExpense, e.Direction, "direction defaults to category polarity")
	assert.Equal(t, ledger.Day(testNow), e.Date, "date defaults to today")

	second := appendEntry(t, eng, ledger.Entry{Amount: amt("10.00"), CategoryID: "fuel"})
	assert.Equal(t, int64(2), second.Number)
}

func TestAppend_RejectsBadAmounts(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for _, raw := range []string{"0", "-5.00", "10.005"} {
		_, err := eng.Append(ctx, ledger.Entry{Amount: amt(raw), AccountID: "cash", CategoryID: "fuel"})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, raw)
	}

	entries, err := eng.Query(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppend_RejectsUnknownReferences(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cases := map[string]ledger.Entry{
		"account":  {AccountID: "nope", CategoryID: "fuel"},
		"category": {AccountID: "cash", CategoryID: "nope"},
		"party":    {AccountID: "cash", CategoryID: "fuel", PartyID: "nope"},
		"driver":   {AccountID: "cash", CategoryID: "fuel", DriverID: "nope"},
		"trip":     {AccountID: "cash", CategoryID: "fuel", TripID: "nope"},
	}
	for kind, e := range cases {
		e.Amount = amt("1.00")
		_, err := eng.Append(ctx, e)
		require.ErrorIs(t, err, ledger.ErrInvalidReference, kind)

		var ref *ledger.ReferenceError
		require.True(t, errors.As(err, &ref))
		assert.Equal(t, kind, ref.Kind)
	}

	// No number was consumed by the failed appends.
	n, err := eng.CurrentSequence(ctx, ledger.ScopeKey{Class: ledger.ClassEntry, Partition: ledger.GlobalPartition})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAppend_TripEntryUpdatesPaymentStatus(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	appendEntry(t, eng, ledger.Entry{Amount: amt("4000.00"), CategoryID: "freight", TripID: "trip-1", PartyID: "acme"})

	trip, err := eng.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPartial, trip.PaymentStatus)
}

func TestQuery_OrdersByDateThenNumber(t *testing.T) {
	eng := newTestEngine(t)

	late := appendEntry(t, eng, ledger.Entry{Amount: amt("1.00"), CategoryID: "fuel", Date: march(10)})
	early := appendEntry(t, eng, ledger.Entry{Amount: amt("2.00"), CategoryID: "fuel", Date: march(5)})
	sameDay := appendEntry(t, eng, ledger.Entry{Amount: amt("3.00"), CategoryID: "fuel", Date: march(5)})

	entries, err := eng.Query(context.Background(), ledger.EntryFilter{AccountID: "cash"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []ledger.EntryID{early.ID, sameDay.ID, late.ID},
		[]ledger.EntryID{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestQuery_Filters(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	appendEntry(t, eng, ledger.Entry{Amount: amt("100.00"), CategoryID: "fuel", DriverID: "d1", Date: march(2)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("200.00"), CategoryID: "freight", PartyID: "acme", Date: march(3)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("300.00"), CategoryID: "fuel", TripID: "trip-1", Date: march(4)})

	byDriver, err := eng.Query(ctx, ledger.EntryFilter{DriverID: "d1"})
	require.NoError(t, err)
	assert.Len(t, byDriver, 1)

	expenses, err := eng.Query(ctx, ledger.EntryFilter{Direction: ledger.DirectionExpense})
	require.NoError(t, err)
	assert.Len(t, expenses, 2)

	ranged, err := eng.Query(ctx, ledger.EntryFilter{From: march(3), To: march(3)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, ledger.PartyID("acme"), ranged[0].PartyID)
}

// =============================================================================
// REVERSE
// =============================================================================

func TestReverse_OffsetsOriginal(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	orig := appendEntry(t, eng, ledger.Entry{Amount: amt("4000.00"), CategoryID: "freight", TripID: "trip-1"})

	rev, err := eng.Reverse(ctx, orig.ID, march(16), "")
	require.NoError(t, err)
	assert.Equal(t, orig.ID, rev.ReversalOf)
	assert.Equal(t, ledger.DirectionExpense, rev.Direction)
	assert.True(t, orig.Amount.Equal(rev.Amount))
	assert.Equal(t, orig.TripID, rev.TripID)

	bal, err := eng.AccountBalance(ctx, "cash", ledger.NewDate(2030, 1, 1))
	require.NoError(t, err)
	requireAmount(t, "1000.00", bal)

	trip, err := eng.Trip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentUnpaid, trip.PaymentStatus)
}

func TestReverse_OnlyOnce(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	orig := appendEntry(t, eng, ledger.Entry{Amount: amt("50.00"), CategoryID: "fuel"})
	rev, err := eng.Reverse(ctx, orig.ID, march(16), "typo")
	require.NoError(t, err)

	_, err = eng.Reverse(ctx, orig.ID, march(16), "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)

	_, err = eng.Reverse(ctx, rev.ID, march(16), "")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReversed)
}

func TestReverse_UnknownEntry(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Reverse(context.Background(), "missing", march(16), "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
