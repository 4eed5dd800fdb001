package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 20, 10, 0, 0, 0, time.UTC)

func amt(s string) ledger.Amount { return ledger.MustAmount(s) }

func march(day int) time.Time { return ledger.NewDate(2025, time.March, day) }

// newTestEngine returns an engine over a fresh memory store seeded with:
//
//	account  cash       opening 1000.00
//	party    acme
//	category freight    income
//	category fuel       expense
//	driver   d1
//	trip     trip-1     acme, 10 x 1000.00 = 10000.00
func newTestEngine(t *testing.T) *ledger.Engine {
	t.Helper()
	eng := ledger.New(store.NewMemory(), ledger.Config{Now: func() time.Time { return testNow }})
	seed(t, eng)
	return eng
}

func seed(t *testing.T, eng *ledger.Engine) {
	t.Helper()
	ctx := context.Background()

	_, err := eng.SaveAccount(ctx, ledger.Account{ID: "cash", Name: "Cash Box", OpeningBalance: amt("1000.00")})
	require.NoError(t, err)
	_, err = eng.SaveParty(ctx, ledger.Party{ID: "acme", Name: "Acme Logistics"})
	require.NoError(t, err)
	_, err = eng.SaveCategory(ctx, ledger.Category{ID: "freight", Name: "Freight Income", Polarity: ledger.DirectionIncome})
	require.NoError(t, err)
	_, err = eng.SaveCategory(ctx, ledger.Category{ID: "fuel", Name: "Fuel Expense", Polarity: ledger.DirectionExpense})
	require.NoError(t, err)
	_, err = eng.SaveDriver(ctx, ledger.Driver{ID: "d1", Name: "Ravi"})
	require.NoError(t, err)
	registerTrip(t, eng, "trip-1", "10", "1000.00")
}

func registerTrip(t *testing.T, eng *ledger.Engine, id ledger.TripID, weight, rate string) ledger.Trip {
	t.Helper()
	trip, err := eng.RegisterTrip(context.Background(), ledger.Trip{
		ID:           id,
		Number:       "TRK-01-" + string(id),
		VehiclePlate: "TRK-01",
		PartyID:      "acme",
		DriverID:     "d1",
		Date:         march(1),
		Weight:       decimal.RequireFromString(weight),
		Rate:         amt(rate),
	})
	require.NoError(t, err)
	return trip
}

func appendEntry(t *testing.T, eng *ledger.Engine, e ledger.Entry) ledger.Entry {
	t.Helper()
	if e.AccountID == "" {
		e.AccountID = "cash"
	}
	saved, err := eng.Append(context.Background(), e)
	require.NoError(t, err)
	return saved
}

func singleLine(trip ledger.TripID, amount string) ledger.AllocationRequest {
	return ledger.AllocationRequest{
		Amount:     amt(amount),
		AccountID:  "cash",
		CategoryID: "freight",
		Date:       march(15),
		Lines:      []ledger.AllocationLine{{TripID: trip, Amount: amt(amount)}},
	}
}

func requireAmount(t *testing.T, want string, got ledger.Amount) {
	t.Helper()
	require.True(t, amt(want).Equal(got), "want %s, got %s", want, got)
}
