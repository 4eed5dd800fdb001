package fleet

import (
	"context"
	"errors"

	"github.com/warp/fleet-ledger/ledger"
)

// DefaultCategories is the category set a fresh ledger starts with.
func DefaultCategories() []ledger.Category {
	return []ledger.Category{
		{ID: "freight-income", Name: "Freight Income", Polarity: ledger.DirectionIncome},
		{ID: "party-payment", Name: "Party Payment", Polarity: ledger.DirectionIncome},
		{ID: "trip-revenue", Name: "Trip Revenue", Polarity: ledger.DirectionIncome},
		{ID: "fuel-expense", Name: "Fuel Expense", Polarity: ledger.DirectionExpense},
		{ID: "maintenance-expense", Name: "Maintenance Expense", Polarity: ledger.DirectionExpense},
		{ID: "driver-payment", Name: "Driver Payment", Polarity: ledger.DirectionExpense},
		{ID: "other", Name: "Other", Polarity: ledger.DirectionExpense},
	}
}

// EnsureDefaultCategories saves the defaults that do not exist yet and
// returns how many were created. Existing categories are left untouched.
func EnsureDefaultCategories(ctx context.Context, eng *ledger.Engine) (int, error) {
	created := 0
	for _, c := range DefaultCategories() {
		_, err := eng.Store().GetCategory(ctx, c.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return created, err
		}
		if _, err := eng.SaveCategory(ctx, c); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
