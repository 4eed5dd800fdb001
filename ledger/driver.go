package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// =============================================================================
// DRIVER LEDGER - Pocket balance per driver
// =============================================================================
//
// Sign convention, from the company's point of view:
//
//   salary, allowance, repayment   +  company owes the driver more
//   loan, payment                  -  driver owes the company / was paid
//   other                          direction chosen by the caller
//
// A positive balance means the company owes the driver.

func (k DriverTransactionKind) Valid() bool {
	switch k {
	case DriverSalary, DriverAllowance, DriverLoan, DriverRepayment, DriverPayment, DriverOther:
		return true
	}
	return false
}

// Sign returns +1 or -1 for kind; DriverOther defers to dir.
func (k DriverTransactionKind) Sign(dir Direction) int {
	switch k {
	case DriverSalary, DriverAllowance, DriverRepayment:
		return 1
	case DriverLoan, DriverPayment:
		return -1
	}
	if dir == DirectionExpense {
		return -1
	}
	return 1
}

// Signed returns the amount with the kind's sign applied.
func (tx DriverTransaction) Signed() Amount {
	if tx.Kind.Sign(tx.Direction) < 0 {
		return tx.Amount.Neg()
	}
	return tx.Amount
}

// RecordDriverTransaction validates and appends a driver transaction.
func (e *Engine) RecordDriverTransaction(ctx context.Context, tx DriverTransaction) (DriverTransaction, error) {
	if !tx.Kind.Valid() {
		return DriverTransaction{}, fmt.Errorf("driver transaction kind %q: %w", tx.Kind, ErrInvalidInput)
	}
	if err := validateAmount(tx.Amount); err != nil {
		return DriverTransaction{}, err
	}
	if tx.Kind == DriverOther && !tx.Direction.Valid() {
		return DriverTransaction{}, fmt.Errorf("driver transaction of kind other needs a direction: %w", ErrInvalidInput)
	}
	if tx.Kind != DriverOther {
		tx.Direction = DirectionIncome
		if tx.Kind.Sign("") < 0 {
			tx.Direction = DirectionExpense
		}
	}
	if tx.Date.IsZero() {
		tx.Date = e.now()
	}
	tx.Date = Day(tx.Date)
	tx.Description = strings.TrimSpace(tx.Description)

	err := e.withTx(ctx, "driver_transaction", func(s Store) error {
		if _, err := getDriver(ctx, s, tx.DriverID); err != nil {
			return err
		}
		n, err := s.NextSequence(ctx, driverTxScope.String())
		if err != nil {
			return err
		}
		if tx.ID == "" {
			tx.ID = DriverTransactionID(newID())
		}
		tx.Number = n
		tx.CreatedAt = e.now().UTC()
		return s.AppendDriverTransaction(ctx, tx)
	})
	if err != nil {
		return DriverTransaction{}, err
	}
	e.logger.Debug("driver transaction recorded",
		slog.String("driver_id", string(tx.DriverID)),
		slog.String("kind", string(tx.Kind)),
		slog.String("amount", tx.Amount.String()))
	return tx, nil
}

// DriverBalance folds the driver's transactions dated on or before asOf.
func (e *Engine) DriverBalance(ctx context.Context, id DriverID, asOf time.Time) (Amount, error) {
	if _, err := getDriver(ctx, e.store, id); err != nil {
		return Amount{}, err
	}
	txs, err := e.store.LoadDriverTransactions(ctx, id, asOf)
	if err != nil {
		return Amount{}, err
	}
	total := Zero()
	for _, tx := range txs {
		total = total.Add(tx.Signed())
	}
	return total, nil
}

func (e *Engine) DriverTransactions(ctx context.Context, id DriverID) ([]DriverTransaction, error) {
	if _, err := getDriver(ctx, e.store, id); err != nil {
		return nil, err
	}
	return e.store.LoadDriverTransactions(ctx, id, time.Time{})
}
