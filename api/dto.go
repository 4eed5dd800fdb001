/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS AND DATES:
  Amounts travel as decimal strings ("1250.50"); JSON numbers are accepted
  on input. Dates are YYYY-MM-DD.

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags in
  decodeAndValidate. Business rules (positive amounts, existing references,
  balanced batches) stay in the ledger engine.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: Problem responses
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

type AccountRequest struct {
	ID             string `json:"id" validate:"required,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	Number         string `json:"number" validate:"max=64"`
	OpeningBalance string `json:"opening_balance" validate:"omitempty,numeric"`
	Description    string `json:"description"`
}

func (r AccountRequest) toAccount() (ledger.Account, error) {
	opening := ledger.Zero()
	if r.OpeningBalance != "" {
		var err error
		if opening, err = ledger.ParseAmount(r.OpeningBalance); err != nil {
			return ledger.Account{}, err
		}
	}
	return ledger.Account{
		ID:             ledger.AccountID(r.ID),
		Name:           r.Name,
		Number:         r.Number,
		OpeningBalance: opening,
		Description:    r.Description,
	}, nil
}

type AccountDTO struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Number         string        `json:"number,omitempty"`
	OpeningBalance ledger.Amount `json:"opening_balance"`
	Description    string        `json:"description,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Number:         a.Number,
		OpeningBalance: a.OpeningBalance,
		Description:    a.Description,
		CreatedAt:      a.CreatedAt,
	}
}

type PartyRequest struct {
	ID      string `json:"id" validate:"required,max=64"`
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=32"`
	Address string `json:"address"`
	State   string `json:"state" validate:"max=64"`
}

type PartyDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toPartyDTO(p ledger.Party) PartyDTO {
	return PartyDTO{ID: string(p.ID), Name: p.Name, Phone: p.Phone, Address: p.Address, State: p.State, CreatedAt: p.CreatedAt}
}

type CategoryRequest struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	Polarity    string `json:"polarity" validate:"required,oneof=income expense"`
	Description string `json:"description"`
}

type CategoryDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Polarity    string `json:"polarity"`
	Description string `json:"description,omitempty"`
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{ID: string(c.ID), Name: c.Name, Polarity: string(c.Polarity), Description: c.Description}
}

type ReassignCategoryRequest struct {
	To string `json:"to" validate:"required"`
}

type DriverRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	EmployeeID string `json:"employee_id" validate:"max=64"`
}

type DriverDTO struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	EmployeeID string    `json:"employee_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toDriverDTO(d ledger.Driver) DriverDTO {
	return DriverDTO{ID: string(d.ID), Name: d.Name, EmployeeID: d.EmployeeID, CreatedAt: d.CreatedAt}
}

// =============================================================================
// TRIPS
// =============================================================================

type TripRequest struct {
	ID           string `json:"id" validate:"required,max=64"`
	Number       string `json:"number"`
	VehiclePlate string `json:"vehicle_plate" validate:"required_without=Number,excludesall=:/"`
	PartyID      string `json:"party_id"`
	DriverID     string `json:"driver_id"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Weight       string `json:"weight" validate:"required,numeric"`
	Rate         string `json:"rate" validate:"required,numeric"`
}

func (r TripRequest) toTrip() (ledger.Trip, error) {
	date, err := ledger.ParseDate(r.Date)
	if err != nil {
		return ledger.Trip{}, fmt.Errorf("date %q: %w", r.Date, ledger.ErrInvalidInput)
	}
	weight, err := decimal.NewFromString(r.Weight)
	if err != nil {
		return ledger.Trip{}, fmt.Errorf("weight %q: %w", r.Weight, ledger.ErrInvalidAmount)
	}
	rate, err := ledger.ParseAmount(r.Rate)
	if err != nil {
		return ledger.Trip{}, err
	}
	return ledger.Trip{
		ID:           ledger.TripID(r.ID),
		Number:       r.Number,
		VehiclePlate: r.VehiclePlate,
		PartyID:      ledger.PartyID(r.PartyID),
		DriverID:     ledger.DriverID(r.DriverID),
		Date:         date,
		Weight:       weight,
		Rate:         rate,
	}, nil
}

type TripDTO struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	VehiclePlate  string        `json:"vehicle_plate,omitempty"`
	PartyID       string        `json:"party_id,omitempty"`
	DriverID      string        `json:"driver_id,omitempty"`
	Date          string        `json:"date"`
	Weight        string        `json:"weight"`
	Rate          ledger.Amount `json:"rate"`
	Revenue       ledger.Amount `json:"revenue"`
	PaymentStatus string        `json:"payment_status"`
}

func toTripDTO(t ledger.Trip) TripDTO {
	return TripDTO{
		ID:            string(t.ID),
		Number:        t.Number,
		VehiclePlate:  t.VehiclePlate,
		PartyID:       string(t.PartyID),
		DriverID:      string(t.DriverID),
		Date:          t.Date.Format(ledger.DateLayout),
		Weight:        t.Weight.String(),
		Rate:          t.Rate,
		Revenue:       t.Revenue,
		PaymentStatus: string(t.PaymentStatus),
	}
}

// ProjectionDTO adds the auto-close verdict to a trip projection.
type ProjectionDTO struct {
	ledger.Projection
	Closable bool `json:"closable"`
}

// =============================================================================
// ENTRIES
// =============================================================================

type EntryRequest struct {
	Amount        string `json:"amount" validate:"required,numeric"`
	Direction     string `json:"direction" validate:"omitempty,oneof=income expense"`
	Date          string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	AccountID     string `json:"account_id" validate:"required"`
	PartyID       string `json:"party_id"`
	DriverID      string `json:"driver_id"`
	TripID        string `json:"trip_id"`
	CategoryID    string `json:"category_id" validate:"required"`
	Note          string `json:"note" validate:"max=500"`
	AttachmentRef string `json:"attachment_ref" validate:"max=500"`
}

func (r EntryRequest) toEntry() (ledger.Entry, error) {
	amount, err := ledger.ParseAmount(r.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	date, err := optionalDate(r.Date)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		Amount:        amount,
		Direction:     ledger.Direction(r.Direction),
		Date:          date,
		AccountID:     ledger.AccountID(r.AccountID),
		PartyID:       ledger.PartyID(r.PartyID),
		DriverID:      ledger.DriverID(r.DriverID),
		TripID:        ledger.TripID(r.TripID),
		CategoryID:    ledger.CategoryID(r.CategoryID),
		Note:          r.Note,
		AttachmentRef: r.AttachmentRef,
	}, nil
}

type EntryDTO struct {
	ID            string        `json:"id"`
	Number        int64         `json:"number"`
	Amount        ledger.Amount `json:"amount"`
	Direction     string        `json:"direction"`
	Signed        ledger.Amount `json:"signed"`
	Date          string        `json:"date"`
	AccountID     string        `json:"account_id"`
	PartyID       string        `json:"party_id,omitempty"`
	DriverID      string        `json:"driver_id,omitempty"`
	TripID        string        `json:"trip_id,omitempty"`
	CategoryID    string        `json:"category_id"`
	BatchID       string        `json:"batch_id,omitempty"`
	ReversalOf    string        `json:"reversal_of,omitempty"`
	Note          string        `json:"note,omitempty"`
	AttachmentRef string        `json:"attachment_ref,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		Number:        e.Number,
		Amount:        e.Amount,
		Direction:     string(e.Direction),
		Signed:        e.Signed(),
		Date:          e.Date.Format(ledger.DateLayout),
		AccountID:     string(e.AccountID),
		PartyID:       string(e.PartyID),
		DriverID:      string(e.DriverID),
		TripID:        string(e.TripID),
		CategoryID:    string(e.CategoryID),
		BatchID:       string(e.BatchID),
		ReversalOf:    string(e.ReversalOf),
		Note:          e.Note,
		AttachmentRef: e.AttachmentRef,
		CreatedAt:     e.CreatedAt,
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

type ReverseRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Note string `json:"note" validate:"max=500"`
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocationLineRequest struct {
	TripID string `json:"trip_id" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
}

type AllocationRequest struct {
	Amount     string                  `json:"amount" validate:"required,numeric"`
	AccountID  string                  `json:"account_id" validate:"required"`
	CategoryID string                  `json:"category_id" validate:"required"`
	PartyID    string                  `json:"party_id"`
	Date       string                  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Note       string                  `json:"note" validate:"max=500"`
	Lines      []AllocationLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (r AllocationRequest) toRequest() (ledger.AllocationRequest, error) {
	amount, err := ledger.ParseAmount(r.Amount)
	if err != nil {
		return ledger.AllocationRequest{}, err
	}
	date, err := optionalDate(r.Date)
	if err != nil {
		return ledger.AllocationRequest{}, err
	}
	lines := make([]ledger.AllocationLine, len(r.Lines))
	for i, l := range r.Lines {
		a, err := ledger.ParseAmount(l.Amount)
		if err != nil {
			return ledger.AllocationRequest{}, err
		}
		lines[i] = ledger.AllocationLine{TripID: ledger.TripID(l.TripID), Amount: a}
	}
	return ledger.AllocationRequest{
		Amount:     amount,
		AccountID:  ledger.AccountID(r.AccountID),
		CategoryID: ledger.CategoryID(r.CategoryID),
		PartyID:    ledger.PartyID(r.PartyID),
		Date:       date,
		Note:       r.Note,
		Lines:      lines,
	}, nil
}

type AllocationResultDTO struct {
	BatchID       string                  `json:"batch_id"`
	ReceiptNumber string                  `json:"receipt_number"`
	Entries       []EntryDTO              `json:"entries"`
	Trips         []ledger.TripAllocation `json:"trips"`
}

// =============================================================================
// DRIVERS
// =============================================================================

type DriverTransactionRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=salary allowance loan repayment payment other"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Direction   string `json:"direction" validate:"omitempty,oneof=income expense"`
	Date        string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Description string `json:"description" validate:"max=500"`
}

type DriverTransactionDTO struct {
	ID          string        `json:"id"`
	Number      int64         `json:"number"`
	DriverID    string        `json:"driver_id"`
	Kind        string        `json:"kind"`
	Amount      ledger.Amount `json:"amount"`
	Signed      ledger.Amount `json:"signed"`
	Date        string        `json:"date"`
	Description string        `json:"description,omitempty"`
}

func toDriverTransactionDTO(tx ledger.DriverTransaction) DriverTransactionDTO {
	return DriverTransactionDTO{
		ID:          string(tx.ID),
		Number:      tx.Number,
		DriverID:    string(tx.DriverID),
		Kind:        string(tx.Kind),
		Amount:      tx.Amount,
		Signed:      tx.Signed(),
		Date:        tx.Date.Format(ledger.DateLayout),
		Description: tx.Description,
	}
}

// =============================================================================
// BALANCES, SEQUENCES, SCENARIOS
// =============================================================================

type BalanceDTO struct {
	Subject string        `json:"subject"`
	AsOf    string        `json:"as_of,omitempty"`
	Mode    string        `json:"mode"`
	Balance ledger.Amount `json:"balance"`
}

type SequenceDTO struct {
	Scope   string `json:"scope"`
	Number  int64  `json:"number"`
	Display string `json:"display,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

func optionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	d, err := ledger.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, ledger.ErrInvalidInput)
	}
	return d, nil
}
