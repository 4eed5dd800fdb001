package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// =============================================================================
// ACCOUNTS, PARTIES, CATEGORIES, DRIVERS
// =============================================================================

func (e *Engine) SaveAccount(ctx context.Context, a Account) (Account, error) {
	if a.ID == "" || strings.TrimSpace(a.Name) == "" {
		return Account{}, fmt.Errorf("account id and name required: %w", ErrInvalidInput)
	}
	if !a.OpeningBalance.HasValidPrecision() {
		return Account{}, fmt.Errorf("opening balance %s: %w", a.OpeningBalance.Value, ErrInvalidAmount)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = e.now().UTC()
	}
	err := e.withTx(ctx, "save_account", func(s Store) error { return s.SaveAccount(ctx, a) })
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

func (e *Engine) SaveParty(ctx context.Context, p Party) (Party, error) {
	if p.ID == "" || strings.TrimSpace(p.Name) == "" {
		return Party{}, fmt.Errorf("party id and name required: %w", ErrInvalidInput)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.now().UTC()
	}
	err := e.withTx(ctx, "save_party", func(s Store) error { return s.SaveParty(ctx, p) })
	if err != nil {
		return Party{}, err
	}
	return p, nil
}

func (e *Engine) SaveCategory(ctx context.Context, c Category) (Category, error) {
	if c.ID == "" || strings.TrimSpace(c.Name) == "" {
		return Category{}, fmt.Errorf("category id and name required: %w", ErrInvalidInput)
	}
	if !c.Polarity.Valid() {
		return Category{}, fmt.Errorf("category polarity %q: %w", c.Polarity, ErrInvalidInput)
	}
	err := e.withTx(ctx, "save_category", func(s Store) error { return s.SaveCategory(ctx, c) })
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

func (e *Engine) SaveDriver(ctx context.Context, d Driver) (Driver, error) {
	if d.ID == "" || strings.TrimSpace(d.Name) == "" {
		return Driver{}, fmt.Errorf("driver id and name required: %w", ErrInvalidInput)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now().UTC()
	}
	err := e.withTx(ctx, "save_driver", func(s Store) error { return s.SaveDriver(ctx, d) })
	if err != nil {
		return Driver{}, err
	}
	return d, nil
}

func (e *Engine) Account(ctx context.Context, id AccountID) (*Account, error) {
	return e.store.GetAccount(ctx, id)
}

func (e *Engine) Accounts(ctx context.Context) ([]Account, error) { return e.store.ListAccounts(ctx) }
func (e *Engine) Parties(ctx context.Context) ([]Party, error)    { return e.store.ListParties(ctx) }
func (e *Engine) Categories(ctx context.Context) ([]Category, error) {
	return e.store.ListCategories(ctx)
}
func (e *Engine) Drivers(ctx context.Context) ([]Driver, error) { return e.store.ListDrivers(ctx) }

func (e *Engine) Trip(ctx context.Context, id TripID) (*Trip, error) { return e.store.GetTrip(ctx, id) }

// =============================================================================
// DELETION - Blocked while entries reference the record
// =============================================================================

func (e *Engine) DeleteAccount(ctx context.Context, id AccountID) error {
	return e.withTx(ctx, "delete_account", func(s Store) error {
		if _, err := s.GetAccount(ctx, id); err != nil {
			return err
		}
		if err := blockIfReferenced(ctx, s, "account", string(id), EntryFilter{AccountID: id}); err != nil {
			return err
		}
		return s.DeleteAccount(ctx, id)
	})
}

func (e *Engine) DeleteParty(ctx context.Context, id PartyID) error {
	return e.withTx(ctx, "delete_party", func(s Store) error {
		if _, err := s.GetParty(ctx, id); err != nil {
			return err
		}
		if err := blockIfReferenced(ctx, s, "party", string(id), EntryFilter{PartyID: id}); err != nil {
			return err
		}
		return s.DeleteParty(ctx, id)
	})
}

func (e *Engine) DeleteCategory(ctx context.Context, id CategoryID) error {
	return e.withTx(ctx, "delete_category", func(s Store) error {
		if _, err := s.GetCategory(ctx, id); err != nil {
			return err
		}
		if err := blockIfReferenced(ctx, s, "category", string(id), EntryFilter{CategoryID: id}); err != nil {
			return err
		}
		return s.DeleteCategory(ctx, id)
	})
}

func blockIfReferenced(ctx context.Context, s Store, kind, id string, f EntryFilter) error {
	n, err := s.CountEntries(ctx, f)
	if err != nil {
		return err
	}
	if n > 0 {
		return &ReferentialBlockError{Kind: kind, ID: id, Entries: n}
	}
	return nil
}

// ReassignCategory moves every entry from one category to another of the
// same polarity. Amounts, directions and balances are untouched.
func (e *Engine) ReassignCategory(ctx context.Context, from, to CategoryID) (int, error) {
	if from == to {
		return 0, fmt.Errorf("reassign category %s onto itself: %w", from, ErrInvalidInput)
	}
	var moved int
	err := e.withTx(ctx, "reassign_category", func(s Store) error {
		src, err := getCategory(ctx, s, from)
		if err != nil {
			return err
		}
		dst, err := getCategory(ctx, s, to)
		if err != nil {
			return err
		}
		if src.Polarity != dst.Polarity {
			return &ReferenceError{Kind: "category", ID: string(to),
				Reason: fmt.Sprintf("polarity %s does not match %s", dst.Polarity, src.Polarity)}
		}
		moved, err = s.ReassignCategory(ctx, from, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("category reassigned",
		slog.String("from", string(from)), slog.String("to", string(to)), slog.Int("entries", moved))
	return moved, nil
}

// =============================================================================
// TRIPS - Registered by the trip module
// =============================================================================

// RegisterTrip records a new trip's financial attributes. The trip number
// is issued beforehand (see fleet.TripNumberer).
func (e *Engine) RegisterTrip(ctx context.Context, t Trip) (Trip, error) {
	if err := validateTrip(t); err != nil {
		return Trip{}, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.now().UTC()
	}
	t.Date = Day(t.Date)
	err := e.withTx(ctx, "register_trip", func(s Store) error {
		if _, err := s.GetTrip(ctx, t.ID); err == nil {
			return fmt.Errorf("trip %s: %w", t.ID, ErrDuplicate)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := checkTripRefs(ctx, s, t); err != nil {
			return err
		}
		t.Revenue = t.ComputeRevenue()
		t.PaymentStatus = PaymentUnpaid
		return s.SaveTrip(ctx, t)
	})
	if err != nil {
		return Trip{}, err
	}
	// The id may have been used before a reset; drop any cached projection.
	e.invalidate(ctx, t.ID)
	return t, nil
}

// UpdateTrip replaces a trip's attributes, keeping its number when none is
// given, and re-derives cached revenue and payment status. An update that
// would leave revenue below what was already received fails with
// *OverAllocationError.
func (e *Engine) UpdateTrip(ctx context.Context, t Trip) (Trip, error) {
	if err := validateTrip(t); err != nil {
		return Trip{}, err
	}
	t.Date = Day(t.Date)
	err := e.withTx(ctx, "update_trip", func(s Store) error {
		if err := s.LockTrips(ctx, []TripID{t.ID}); err != nil {
			return err
		}
		existing, err := s.GetTrip(ctx, t.ID)
		if err != nil {
			return err
		}
		if err := checkTripRefs(ctx, s, t); err != nil {
			return err
		}
		if t.Number == "" {
			t.Number = existing.Number
		}
		t.CreatedAt = existing.CreatedAt
		entries, err := s.LoadEntries(ctx, EntryFilter{TripID: t.ID})
		if err != nil {
			return err
		}
		p := Project(t, entries, e.tolerance)
		if p.Outstanding.IsNegative() {
			return &OverAllocationError{TripID: t.ID, Requested: p.Received, Outstanding: p.Revenue}
		}
		t.Revenue = p.Revenue
		t.PaymentStatus = p.PaymentStatus
		return s.SaveTrip(ctx, t)
	})
	if err != nil {
		return Trip{}, err
	}
	e.invalidate(ctx, t.ID)
	return t, nil
}

func validateTrip(t Trip) error {
	if t.ID == "" {
		return fmt.Errorf("trip id required: %w", ErrInvalidInput)
	}
	if t.Weight.IsNegative() || t.Rate.IsNegative() {
		return fmt.Errorf("trip %s weight and rate must not be negative: %w", t.ID, ErrInvalidAmount)
	}
	if !t.Rate.HasValidPrecision() {
		return fmt.Errorf("trip %s rate %s: %w", t.ID, t.Rate.Value, ErrInvalidAmount)
	}
	return nil
}

func checkTripRefs(ctx context.Context, s Store, t Trip) error {
	if t.PartyID != "" {
		if _, err := getParty(ctx, s, t.PartyID); err != nil {
			return err
		}
	}
	if t.DriverID != "" {
		if _, err := getDriver(ctx, s, t.DriverID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOOKUPS - ErrNotFound becomes a ReferenceError
// =============================================================================

func getAccount(ctx context.Context, s Store, id AccountID) (*Account, error) {
	a, err := s.GetAccount(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, refErr("account", string(id))
	}
	return a, err
}

func getParty(ctx context.Context, s Store, id PartyID) (*Party, error) {
	p, err := s.GetParty(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, refErr("party", string(id))
	}
	return p, err
}

func getCategory(ctx context.Context, s Store, id CategoryID) (*Category, error) {
	c, err := s.GetCategory(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, refErr("category", string(id))
	}
	return c, err
}

func getDriver(ctx context.Context, s Store, id DriverID) (*Driver, error) {
	d, err := s.GetDriver(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, refErr("driver", string(id))
	}
	return d, err
}

func getTrip(ctx context.Context, s Store, id TripID) (*Trip, error) {
	t, err := s.GetTrip(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, refErr("trip", string(id))
	}
	return t, err
}
