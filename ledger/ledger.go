/*
ledger.go - Appending, querying and reversing entries

PURPOSE:
  The write path of the entry ledger. Every entry passes through Append,
  which validates it, gives it an id and a global entry number, persists it
  and re-derives the cached payment status of the referenced trip, all in
  one transaction.

ENTRY NUMBERS:
  Numbers come from the "entry:global:" counter inside the append
  transaction, so they follow commit order. Balance snapshots record the
  last folded number; a backdated entry still gets a higher number and is
  therefore never skipped by an incremental fold.

CORRECTIONS:
  There is no edit or delete. Reverse appends an entry with the same amount
  and references, the opposite direction and ReversalOf set. An entry can
  be reversed once and a reversal cannot itself be reversed.

SEE ALSO:
  - allocation.go: appends batches of income entries
  - balance.go: folds entries into balances
*/
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Append validates and records an entry, returning it with ID, Number and
// CreatedAt filled in. An empty Direction defaults to the category's
// polarity; a zero Date defaults to today.
func (e *Engine) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := validateAmount(entry.Amount); err != nil {
		return Entry{}, err
	}
	if entry.Direction != "" && !entry.Direction.Valid() {
		return Entry{}, fmt.Errorf("direction %q: %w", entry.Direction, ErrInvalidInput)
	}
	if entry.ReversalOf != "" {
		return Entry{}, fmt.Errorf("use Reverse to offset entry %s: %w", entry.ReversalOf, ErrInvalidInput)
	}
	if entry.Date.IsZero() {
		entry.Date = e.now()
	}
	entry.Date = Day(entry.Date)
	entry.Note = strings.TrimSpace(entry.Note)

	err := e.withTx(ctx, "append", func(s Store) error {
		if entry.TripID != "" {
			if err := s.LockTrips(ctx, []TripID{entry.TripID}); err != nil {
				return err
			}
		}
		var err error
		entry, err = appendEntry(ctx, s, entry, e.now())
		if err != nil {
			return err
		}
		if entry.TripID != "" {
			_, err = refreshTripStatus(ctx, s, entry.TripID, e.tolerance)
		}
		return err
	})
	if err != nil {
		return Entry{}, err
	}

	e.invalidate(ctx, entry.TripID)
	e.logger.Debug("entry appended",
		slog.String("entry_id", string(entry.ID)),
		slog.Int64("number", entry.Number),
		slog.String("account_id", string(entry.AccountID)),
		slog.String("amount", entry.Amount.String()),
		slog.String("direction", string(entry.Direction)))
	return entry, nil
}

// appendEntry checks references, numbers and persists one entry inside the
// caller's transaction.
func appendEntry(ctx context.Context, s Store, entry Entry, now time.Time) (Entry, error) {
	if _, err := getAccount(ctx, s, entry.AccountID); err != nil {
		return Entry{}, err
	}
	cat, err := getCategory(ctx, s, entry.CategoryID)
	if err != nil {
		return Entry{}, err
	}
	if entry.Direction == "" {
		entry.Direction = cat.Polarity
	}
	if entry.PartyID != "" {
		if _, err := getParty(ctx, s, entry.PartyID); err != nil {
			return Entry{}, err
		}
	}
	if entry.DriverID != "" {
		if _, err := getDriver(ctx, s, entry.DriverID); err != nil {
			return Entry{}, err
		}
	}
	if entry.TripID != "" {
		if _, err := getTrip(ctx, s, entry.TripID); err != nil {
			return Entry{}, err
		}
	}

	n, err := s.NextSequence(ctx, entryScope.String())
	if err != nil {
		return Entry{}, err
	}
	if entry.ID == "" {
		entry.ID = EntryID(newID())
	}
	entry.Number = n
	entry.CreatedAt = now.UTC()
	if err := s.AppendEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func validateAmount(a Amount) error {
	if !a.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", a, ErrInvalidAmount)
	}
	if !a.HasValidPrecision() {
		return fmt.Errorf("amount %s has more than %d fractional digits: %w", a.Value, Precision, ErrInvalidAmount)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// Query returns entries matching f ordered by (date, number).
func (e *Engine) Query(ctx context.Context, f EntryFilter) ([]Entry, error) {
	return e.store.LoadEntries(ctx, f)
}

func (e *Engine) Entry(ctx context.Context, id EntryID) (*Entry, error) {
	return e.store.GetEntry(ctx, id)
}

// =============================================================================
// REVERSAL - The only correction
// =============================================================================

// Reverse appends the offsetting entry for id, dated today unless date is
// given.
func (e *Engine) Reverse(ctx context.Context, id EntryID, date time.Time, note string) (Entry, error) {
	if date.IsZero() {
		date = e.now()
	}
	var rev Entry
	err := e.withTx(ctx, "reverse", func(s Store) error {
		orig, err := s.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if orig.TripID != "" {
			if err := s.LockTrips(ctx, []TripID{orig.TripID}); err != nil {
				return err
			}
		}
		if orig.IsReversal() {
			return fmt.Errorf("entry %s is a reversal: %w", id, ErrAlreadyReversed)
		}
		n, err := s.CountEntries(ctx, EntryFilter{ReversalOf: id})
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("entry %s: %w", id, ErrAlreadyReversed)
		}

		rev = *orig
		rev.ID = ""
		rev.Direction = orig.Direction.Opposite()
		rev.Date = Day(date)
		rev.ReversalOf = orig.ID
		rev.Note = strings.TrimSpace(note)
		if rev.Note == "" {
			rev.Note = "reversal of " + string(orig.ID)
		}
		rev, err = appendEntry(ctx, s, rev, e.now())
		if err != nil {
			return err
		}
		if rev.TripID != "" {
			_, err = refreshTripStatus(ctx, s, rev.TripID, e.tolerance)
		}
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	e.invalidate(ctx, rev.TripID)
	e.logger.Info("entry reversed",
		slog.String("entry_id", string(id)), slog.String("reversal_id", string(rev.ID)))
	return rev, nil
}
