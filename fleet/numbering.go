/*
numbering.go - Trip and receipt display numbers

PURPOSE:
  Pure formatting over numbers issued by the ledger sequence. A trip
  number is PLATE-SEQ/MM/YYYY, counted per vehicle plate per month:

    TRK-01-1/03/2025, TRK-01-2/03/2025, TRK-01-3/03/2025

  Receipts are numbered globally: RCPT-000001.

PLATES:
  A plate may itself contain dashes; parsing splits on the last dash.
  Plates must not contain ':' (the scope key separator) or '/'.

SEE ALSO:
  - ledger/sequence.go: gap-less issuance
  - trips.go: issuing numbers when trips are registered
*/
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/fleet-ledger/ledger"
)

// ClassTrip is the sequence class for trip numbers.
const ClassTrip = "trip"

// TripScope is the counter scope for one plate in one month.
func TripScope(plate string, month time.Month, year int) ledger.ScopeKey {
	return ledger.ScopeKey{Class: ClassTrip, Partition: plate, Period: ledger.MonthPeriodKey(year, month)}
}

func FormatTripNumber(plate string, seq int64, month time.Month, year int) string {
	return fmt.Sprintf("%s-%d/%02d/%04d", plate, seq, int(month), year)
}

// TripNumber is a parsed trip display number.
type TripNumber struct {
	Plate string
	Seq   int64
	Month time.Month
	Year  int
}

func (n TripNumber) String() string { return FormatTripNumber(n.Plate, n.Seq, n.Month, n.Year) }

// ParseTripNumber is the inverse of FormatTripNumber.
func ParseTripNumber(s string) (TripNumber, error) {
	dash := strings.LastIndex(s, "-")
	if dash <= 0 {
		return TripNumber{}, fmt.Errorf("trip number %q: missing plate: %w", s, ledger.ErrInvalidInput)
	}
	parts := strings.Split(s[dash+1:], "/")
	if len(parts) != 3 {
		return TripNumber{}, fmt.Errorf("trip number %q: want PLATE-SEQ/MM/YYYY: %w", s, ledger.ErrInvalidInput)
	}
	seq, err1 := strconv.ParseInt(parts[0], 10, 64)
	month, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil || seq < 1 || month < 1 || month > 12 || len(parts[2]) != 4 {
		return TripNumber{}, fmt.Errorf("trip number %q: want PLATE-SEQ/MM/YYYY: %w", s, ledger.ErrInvalidInput)
	}
	return TripNumber{Plate: s[:dash], Seq: seq, Month: time.Month(month), Year: year}, nil
}

func validatePlate(plate string) error {
	plate = strings.TrimSpace(plate)
	if plate == "" || strings.ContainsAny(plate, ":/ ") {
		return fmt.Errorf("vehicle plate %q: %w", plate, ledger.ErrInvalidInput)
	}
	return nil
}

// ReceiptScope is the global receipt counter scope.
func ReceiptScope() ledger.ScopeKey { return ledger.ReceiptScope() }

func FormatReceiptNumber(n int64) string { return fmt.Sprintf("RCPT-%06d", n) }

// =============================================================================
// TRIP NUMBERER
// =============================================================================

// TripNumberer issues trip numbers through the ledger sequence.
type TripNumberer struct {
	engine *ledger.Engine
}

func NewTripNumberer(engine *ledger.Engine) *TripNumberer {
	return &TripNumberer{engine: engine}
}

// Next issues the next number for plate in date's month.
func (n *TripNumberer) Next(ctx context.Context, plate string, date time.Time) (string, error) {
	if err := validatePlate(plate); err != nil {
		return "", err
	}
	date = ledger.Day(date)
	seq, err := n.engine.IssueWithRetry(ctx, TripScope(plate, date.Month(), date.Year()))
	if err != nil {
		return "", err
	}
	return FormatTripNumber(plate, seq, date.Month(), date.Year()), nil
}
