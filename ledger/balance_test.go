package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestAccountBalance_AsOf(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	appendEntry(t, eng, ledger.Entry{Amount: amt("500.00"), CategoryID: "freight", Date: march(2)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("120.25"), CategoryID: "fuel", Date: march(5)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("80.00"), CategoryID: "fuel", Date: march(9)})

	tests := []struct {
		asOf int
		want string
	}{
		{1, "1000.00"},
		{2, "1500.00"},
		{5, "1379.75"},
		{31, "1299.75"},
	}
	for _, tt := range tests {
		bal, err := eng.AccountBalance(ctx, "cash", march(tt.asOf))
		require.NoError(t, err)
		requireAmount(t, tt.want, bal)
	}
}

func TestAccountBalance_UnknownAccount(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.AccountBalance(context.Background(), "nope", march(1))
	assert.ErrorIs(t, err, ledger.ErrInvalidReference)
}

func TestPartyBalance_SignedSumOfTaggedEntries(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	appendEntry(t, eng, ledger.Entry{Amount: amt("3000.00"), CategoryID: "freight", PartyID: "acme", Date: march(3)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("200.00"), CategoryID: "fuel", PartyID: "acme", Date: march(4)})
	appendEntry(t, eng, ledger.Entry{Amount: amt("999.00"), CategoryID: "freight", Date: march(4)})

	bal, err := eng.PartyBalance(ctx, "acme", march(31))
	require.NoError(t, err)
	requireAmount(t, "2800.00", bal)

	bal, err = eng.Balance(ctx, ledger.PartySubject("acme"), march(3))
	require.NoError(t, err)
	requireAmount(t, "3000.00", bal)
}

func TestIncremental_MatchesFullFold(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	subject := ledger.AccountSubject("cash")

	// Zero entries: incremental is just the opening balance.
	inc, err := eng.Incremental(ctx, subject)
	require.NoError(t, err)
	requireAmount(t, "1000.00", inc)

	appendEntry(t, eng, ledger.Entry{Amount: amt("400.00"), CategoryID: "freight", Date: march(10)})
	inc, err = eng.Incremental(ctx, subject)
	require.NoError(t, err)
	requireAmount(t, "1400.00", inc)

	// A backdated entry lands before the snapshot's date but after its number.
	appendEntry(t, eng, ledger.Entry{Amount: amt("150.00"), CategoryID: "fuel", Date: march(1)})
	inc, err = eng.Incremental(ctx, subject)
	require.NoError(t, err)

	full, err := eng.AccountBalance(ctx, "cash", time.Time{})
	require.NoError(t, err)
	requireAmount(t, "1250.00", full)
	assert.True(t, full.Equal(inc))
}

func TestIncremental_FollowsOpeningBalanceEdits(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	appendEntry(t, eng, ledger.Entry{Amount: amt("100.00"), CategoryID: "freight"})
	_, err := eng.Incremental(ctx, ledger.AccountSubject("cash"))
	require.NoError(t, err)

	_, err = eng.SaveAccount(ctx, ledger.Account{ID: "cash", Name: "Cash Box", OpeningBalance: amt("2500.00")})
	require.NoError(t, err)

	inc, err := eng.Incremental(ctx, ledger.AccountSubject("cash"))
	require.NoError(t, err)
	requireAmount(t, "2600.00", inc)
}

func TestPartyStatement(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	registerTrip(t, eng, "trip-2", "2", "750.00")

	_, err := eng.Allocate(ctx, singleLine("trip-1", "2500.00"))
	require.NoError(t, err)

	st, err := eng.PartyStatement(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Trips)
	requireAmount(t, "11500.00", st.Billed)
	requireAmount(t, "2500.00", st.Received)
	requireAmount(t, "9000.00", st.Outstanding)
}
