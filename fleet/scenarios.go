/*
scenarios.go - Demo data loaders

PURPOSE:
  Populates a ledger with realistic fleet data for demos and manual
  testing. Every loader goes through the public engine operations, so the
  data obeys the same rules as production writes.

AVAILABLE SCENARIOS:
  single-trip:      one trip, one partial payment
  batch-receipt:    one receipt split across three trips of one party
  driver-ledger:    salary, allowance, loan and repayment for a driver
  monthly-expenses: fuel and maintenance through a month, one reversal

NOTE:
  Loaders are additive and reuse fixed ids for reference data, so loading
  twice adds a second set of trips and entries to the same accounts.

SEE ALSO:
  - api/handlers.go: ListScenarios, LoadScenario
*/
package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fleet-ledger/ledger"
)

// Scenario describes a loadable demo data set.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var scenarios = []Scenario{
	{ID: "single-trip", Name: "Single Trip", Description: "One trip with a partial payment"},
	{ID: "batch-receipt", Name: "Batch Receipt", Description: "One payment allocated across three trips"},
	{ID: "driver-ledger", Name: "Driver Ledger", Description: "Salary, allowance, loan and repayment"},
	{ID: "monthly-expenses", Name: "Monthly Expenses", Description: "Fuel and maintenance with a reversed bill"},
}

func Scenarios() []Scenario { return append([]Scenario(nil), scenarios...) }

// Loader loads scenarios into an engine.
type Loader struct {
	engine   *ledger.Engine
	numberer *TripNumberer
	now      func() time.Time
}

func NewLoader(engine *ledger.Engine) *Loader {
	return &Loader{engine: engine, numberer: NewTripNumberer(engine), now: time.Now}
}

// Load runs the named scenario.
func (l *Loader) Load(ctx context.Context, id string) error {
	if err := l.base(ctx); err != nil {
		return fmt.Errorf("scenario %s: base data: %w", id, err)
	}
	var err error
	switch id {
	case "single-trip":
		err = l.loadSingleTrip(ctx)
	case "batch-receipt":
		err = l.loadBatchReceipt(ctx)
	case "driver-ledger":
		err = l.loadDriverLedger(ctx)
	case "monthly-expenses":
		err = l.loadMonthlyExpenses(ctx)
	default:
		return fmt.Errorf("scenario %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	return nil
}

func (l *Loader) base(ctx context.Context) error {
	if _, err := EnsureDefaultCategories(ctx, l.engine); err != nil {
		return err
	}
	if _, err := l.engine.SaveAccount(ctx, ledger.Account{ID: "cash", Name: "Cash Box", OpeningBalance: ledger.MustAmount("25000.00")}); err != nil {
		return err
	}
	if _, err := l.engine.SaveAccount(ctx, ledger.Account{ID: "bank", Name: "Bank Current", Number: "0042-118"}); err != nil {
		return err
	}
	if _, err := l.engine.SaveParty(ctx, ledger.Party{ID: "sharma-steel", Name: "Sharma Steel", State: "MH"}); err != nil {
		return err
	}
	_, err := l.engine.SaveDriver(ctx, ledger.Driver{ID: "ravi", Name: "Ravi Kumar", EmployeeID: "DRV-07"})
	return err
}

func (l *Loader) trip(ctx context.Context, plate string, date time.Time, weight, rate string) (ledger.Trip, error) {
	return l.numberer.RegisterTrip(ctx, ledger.Trip{
		ID:           ledger.TripID(uuid.NewString()),
		VehiclePlate: plate,
		PartyID:      "sharma-steel",
		DriverID:     "ravi",
		Date:         date,
		Weight:       decimal.RequireFromString(weight),
		Rate:         ledger.MustAmount(rate),
	})
}

func (l *Loader) firstOfMonth() time.Time {
	now := l.now()
	return ledger.NewDate(now.Year(), now.Month(), 1)
}

func (l *Loader) loadSingleTrip(ctx context.Context) error {
	t, err := l.trip(ctx, "TRK-01", l.firstOfMonth(), "10", "1000.00")
	if err != nil {
		return err
	}
	_, err = l.engine.Allocate(ctx, ledger.AllocationRequest{
		Amount: ledger.MustAmount("4000.00"), AccountID: "bank", CategoryID: "party-payment",
		Lines: []ledger.AllocationLine{{TripID: t.ID, Amount: ledger.MustAmount("4000.00")}},
	})
	return err
}

func (l *Loader) loadBatchReceipt(ctx context.Context) error {
	start := l.firstOfMonth()
	var lines []ledger.AllocationLine
	for i, w := range []string{"12", "8.5", "15"} {
		t, err := l.trip(ctx, "TRK-02", start.AddDate(0, 0, i*3), w, "850.00")
		if err != nil {
			return err
		}
		lines = append(lines, ledger.AllocationLine{TripID: t.ID, Amount: t.Revenue})
	}
	// The last trip is only partly paid.
	lines[2].Amount = ledger.MustAmount("5000.00")

	total := ledger.Zero()
	for _, line := range lines {
		total = total.Add(line.Amount)
	}
	_, err := l.engine.Allocate(ctx, ledger.AllocationRequest{
		Amount: total, AccountID: "bank", CategoryID: "party-payment", Lines: lines,
	})
	return err
}

func (l *Loader) loadDriverLedger(ctx context.Context) error {
	start := l.firstOfMonth()
	txs := []ledger.DriverTransaction{
		{Kind: ledger.DriverSalary, Amount: ledger.MustAmount("18000.00"), Description: "monthly salary"},
		{Kind: ledger.DriverAllowance, Amount: ledger.MustAmount("1500.00"), Description: "road allowance"},
		{Kind: ledger.DriverLoan, Amount: ledger.MustAmount("5000.00"), Description: "advance"},
		{Kind: ledger.DriverRepayment, Amount: ledger.MustAmount("1000.00"), Description: "advance repayment"},
		{Kind: ledger.DriverPayment, Amount: ledger.MustAmount("12000.00"), Description: "salary paid"},
	}
	for i, tx := range txs {
		tx.DriverID = "ravi"
		tx.Date = start.AddDate(0, 0, i)
		if _, err := l.engine.RecordDriverTransaction(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) loadMonthlyExpenses(ctx context.Context) error {
	start := l.firstOfMonth()
	bills := []struct {
		category ledger.CategoryID
		amount   string
		note     string
	}{
		{"fuel-expense", "6400.00", "diesel TRK-01"},
		{"fuel-expense", "5900.00", "diesel TRK-02"},
		{"maintenance-expense", "2300.00", "tyre change"},
		{"fuel-expense", "6400.00", "diesel TRK-01 (duplicate)"},
	}
	var last ledger.Entry
	for i, b := range bills {
		e, err := l.engine.Append(ctx, ledger.Entry{
			Amount: ledger.MustAmount(b.amount), AccountID: "cash", CategoryID: b.category,
			DriverID: "ravi", Date: start.AddDate(0, 0, i*5), Note: b.note,
		})
		if err != nil {
			return err
		}
		last = e
	}
	_, err := l.engine.Reverse(ctx, last.ID, last.Date, "duplicate bill")
	return err
}
