/*
Package ledger provides the financial core of the fleet application.

PURPOSE:
  Everything that moves money lives here: gap-less sequence numbers for
  trips and receipts, the signed entry ledger, balance folding, payment
  allocation across trips and the trip financial projection. The rest of
  the application (trip forms, dashboards, documents) calls into this
  package and never writes money rows itself.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a money value in the single implicit currency
  - Direction: income (+) or expense (-)
  - Entry: an immutable signed movement against an account
  - Trip: the financial attributes of a trip registered by the trip module
  - DriverTransaction: a movement in a driver's pocket balance

DESIGN PRINCIPLES:
  1. Immutability: entries are never edited, only offset by reversals
  2. Precision: decimal.Decimal, two fractional digits, no floats
  3. Derivation: balances and payment status are folds over entries
  4. Optional links: party, driver, trip and batch are plain optional
     fields on Entry, an empty ID means "not linked"

USAGE:
  entry := ledger.Entry{
      Amount:     ledger.MustAmount("1500.00"),
      AccountID:  "cash",
      CategoryID: "fuel",
      TripID:     "trip-42",
  }
  saved, err := engine.Append(ctx, entry)

SEE ALSO:
  - store.go: persistence interfaces
  - allocation.go: batch payment allocation
  - projection.go: trip revenue, expense and payment status
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money in the single implicit currency
// =============================================================================

// Precision is the number of fractional digits an Amount may carry.
const Precision = 2

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount      { return Amount{Value: decimal.NewFromFloat(value)} }
func NewAmountFromInt(value int64) Amount { return Amount{Value: decimal.NewFromInt(value)} }

// ParseAmount parses a decimal string such as "1250.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, ErrInvalidAmount)
	}
	return Amount{Value: d}, nil
}

// MustAmount is ParseAmount for literals; it panics on malformed input.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func Zero() Amount { return Amount{} }

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs()} }
func (a Amount) Round() Amount                { return Amount{Value: a.Value.Round(Precision)} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.Value.GreaterThanOrEqual(b.Value) }
func (a Amount) String() string               { return a.Value.StringFixed(Precision) }

// HasValidPrecision reports whether the amount fits in Precision digits.
func (a Amount) HasValidPrecision() bool { return a.Value.Equal(a.Value.Round(Precision)) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "12.50" and 12.5.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount: %w", ErrInvalidAmount)
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds amounts together.
func Sum(amounts ...Amount) Amount {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type PartyID string
type DriverID string
type TripID string
type CategoryID string
type EntryID string
type BatchID string
type DriverTransactionID string

// =============================================================================
// DIRECTION - Sign applied to account balances
// =============================================================================

type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

func (d Direction) Valid() bool { return d == DirectionIncome || d == DirectionExpense }

// Opposite returns the direction that offsets d.
func (d Direction) Opposite() Direction {
	if d == DirectionIncome {
		return DirectionExpense
	}
	return DirectionIncome
}

// Apply returns amount signed for d: income is +, expense is -.
func (d Direction) Apply(amount Amount) Amount {
	if d == DirectionExpense {
		return amount.Neg()
	}
	return amount
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// Account is a cash box or bank account money moves through.
type Account struct {
	ID             AccountID
	Name           string
	Number         string
	OpeningBalance Amount
	Description    string
	CreatedAt      time.Time
}

// Party is a client or vendor. Its balance is derived from entries.
type Party struct {
	ID        PartyID
	Name      string
	Phone     string
	Address   string
	State     string
	CreatedAt time.Time
}

// Category labels entries; its polarity defaults an entry's direction.
type Category struct {
	ID          CategoryID
	Name        string
	Polarity    Direction
	Description string
}

type Driver struct {
	ID         DriverID
	Name       string
	EmployeeID string
	CreatedAt  time.Time
}

// =============================================================================
// TRIP - Financial attributes owned by the trip module
// =============================================================================

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Trip is registered by the trip module. Revenue and PaymentStatus are
// cached for display and rewritten on every change that affects them.
type Trip struct {
	ID            TripID
	Number        string
	VehiclePlate  string
	PartyID       PartyID
	DriverID      DriverID
	Date          time.Time
	Weight        decimal.Decimal
	Rate          Amount
	Revenue       Amount
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// ComputeRevenue is weight x rate at currency precision.
func (t Trip) ComputeRevenue() Amount {
	return t.Rate.Mul(t.Weight).Round()
}

// =============================================================================
// ENTRY - Immutable signed movement
// =============================================================================

// Entry is a single money movement against an account. Amount is always
// positive; Direction carries the sign.
type Entry struct {
	ID            EntryID
	Number        int64 // global insertion order, issued from the entry sequence
	Amount        Amount
	Direction     Direction
	Date          time.Time
	AccountID     AccountID
	PartyID       PartyID
	DriverID      DriverID
	TripID        TripID
	CategoryID    CategoryID
	BatchID       BatchID
	ReversalOf    EntryID
	Note          string
	AttachmentRef string
	CreatedAt     time.Time
}

// Signed returns the amount with the direction's sign applied.
func (e Entry) Signed() Amount { return e.Direction.Apply(e.Amount) }

func (e Entry) IsReversal() bool { return e.ReversalOf != "" }

// EntryFilter selects entries. Zero fields do not filter.
type EntryFilter struct {
	AccountID   AccountID
	PartyID     PartyID
	DriverID    DriverID
	TripID      TripID
	CategoryID  CategoryID
	BatchID     BatchID
	ReversalOf  EntryID
	Direction   Direction
	From        time.Time // inclusive
	To          time.Time // inclusive
	AfterNumber int64     // entries with Number > AfterNumber
}

// Matches reports whether e passes the filter.
func (f EntryFilter) Matches(e Entry) bool {
	switch {
	case f.AccountID != "" && e.AccountID != f.AccountID:
		return false
	case f.PartyID != "" && e.PartyID != f.PartyID:
		return false
	case f.DriverID != "" && e.DriverID != f.DriverID:
		return false
	case f.TripID != "" && e.TripID != f.TripID:
		return false
	case f.CategoryID != "" && e.CategoryID != f.CategoryID:
		return false
	case f.BatchID != "" && e.BatchID != f.BatchID:
		return false
	case f.ReversalOf != "" && e.ReversalOf != f.ReversalOf:
		return false
	case f.Direction != "" && e.Direction != f.Direction:
		return false
	case !f.From.IsZero() && e.Date.Before(Day(f.From)):
		return false
	case !f.To.IsZero() && e.Date.After(Day(f.To)):
		return false
	case e.Number <= f.AfterNumber:
		return false
	}
	return true
}

// =============================================================================
// DRIVER TRANSACTION - Driver pocket balance movements
// =============================================================================

type DriverTransactionKind string

const (
	DriverSalary    DriverTransactionKind = "salary"
	DriverAllowance DriverTransactionKind = "allowance"
	DriverLoan      DriverTransactionKind = "loan"
	DriverRepayment DriverTransactionKind = "repayment"
	DriverPayment   DriverTransactionKind = "payment"
	DriverOther     DriverTransactionKind = "other"
)

// DriverTransaction moves a driver's pocket balance. A positive driver
// balance means the company owes the driver.
type DriverTransaction struct {
	ID          DriverTransactionID
	Number      int64
	DriverID    DriverID
	Kind        DriverTransactionKind
	Amount      Amount
	Direction   Direction // only read for DriverOther
	Date        time.Time
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// SNAPSHOT - Cached balance for incremental computation
// =============================================================================

type SubjectKind string

const (
	SubjectAccount SubjectKind = "account"
	SubjectParty   SubjectKind = "party"
	SubjectDriver  SubjectKind = "driver"
)

// Subject identifies whose balance is computed.
type Subject struct {
	Kind SubjectKind
	ID   string
}

func AccountSubject(id AccountID) Subject { return Subject{Kind: SubjectAccount, ID: string(id)} }
func PartySubject(id PartyID) Subject     { return Subject{Kind: SubjectParty, ID: string(id)} }
func DriverSubject(id DriverID) Subject   { return Subject{Kind: SubjectDriver, ID: string(id)} }

func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

// Snapshot records a balance folded up to LastNumber. It is a cache;
// the entry history stays the source of truth.
type Snapshot struct {
	Subject    Subject
	Opening    Amount
	Balance    Amount
	LastNumber int64
	TakenAt    time.Time
}
