/*
balance.go - Balance folding for accounts, parties and drivers

PURPOSE:
  Balances are never stored as the source of truth. They are folds over
  the entry history:

    account: opening balance + signed sum of entries on the account
    party:   signed sum of entries tagged with the party
    driver:  signed sum of driver transactions (see driver.go)

  An optional as-of date limits the fold to entries dated on or before it.

INCREMENTAL:
  Incremental continues from the stored snapshot, applying only entries
  numbered after the snapshot's LastNumber, then stores a fresh snapshot.
  Because opening balances may be edited, the snapshot keeps the opening it
  was taken with and the difference is applied on top. The result always
  equals the full fold; jobs/verify.go verifies that continuously.

SEE ALSO:
  - ledger.go: entry numbering
  - jobs/verify.go: fold vs incremental verification
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Fold returns opening plus the signed sum of entries.
func Fold(opening Amount, entries []Entry) Amount {
	total := opening
	for _, e := range entries {
		total = total.Add(e.Signed())
	}
	return total
}

// AccountBalance folds the account's entries dated on or before asOf. A
// zero asOf folds everything.
func (e *Engine) AccountBalance(ctx context.Context, id AccountID, asOf time.Time) (Amount, error) {
	a, err := getAccount(ctx, e.store, id)
	if err != nil {
		return Amount{}, err
	}
	entries, err := e.store.LoadEntries(ctx, EntryFilter{AccountID: id, To: asOf})
	if err != nil {
		return Amount{}, err
	}
	return Fold(a.OpeningBalance, entries), nil
}

// PartyBalance is the signed sum of entries tagged with the party.
func (e *Engine) PartyBalance(ctx context.Context, id PartyID, asOf time.Time) (Amount, error) {
	if _, err := getParty(ctx, e.store, id); err != nil {
		return Amount{}, err
	}
	entries, err := e.store.LoadEntries(ctx, EntryFilter{PartyID: id, To: asOf})
	if err != nil {
		return Amount{}, err
	}
	return Fold(Zero(), entries), nil
}

// Balance dispatches on the subject kind.
func (e *Engine) Balance(ctx context.Context, subject Subject, asOf time.Time) (Amount, error) {
	switch subject.Kind {
	case SubjectAccount:
		return e.AccountBalance(ctx, AccountID(subject.ID), asOf)
	case SubjectParty:
		return e.PartyBalance(ctx, PartyID(subject.ID), asOf)
	case SubjectDriver:
		return e.DriverBalance(ctx, DriverID(subject.ID), asOf)
	}
	return Amount{}, fmt.Errorf("subject kind %q: %w", subject.Kind, ErrInvalidInput)
}

// =============================================================================
// INCREMENTAL - Snapshot plus entries after it
// =============================================================================

// Incremental returns the subject's current balance starting from its last
// snapshot and stores a new snapshot at the latest folded position.
func (e *Engine) Incremental(ctx context.Context, subject Subject) (Amount, error) {
	opening, err := e.openingOf(ctx, subject)
	if err != nil {
		return Amount{}, err
	}
	snap, err := e.store.GetSnapshot(ctx, subject)
	if err != nil {
		return Amount{}, err
	}

	base, after := opening, int64(0)
	if snap != nil {
		base = snap.Balance.Add(opening.Sub(snap.Opening))
		after = snap.LastNumber
	}

	balance, last, err := e.foldAfter(ctx, subject, base, after)
	if err != nil {
		return Amount{}, err
	}
	if snap != nil && last == snap.LastNumber && opening.Equal(snap.Opening) {
		return balance, nil
	}

	next := Snapshot{Subject: subject, Opening: opening, Balance: balance, LastNumber: last, TakenAt: e.now().UTC()}
	if err := e.withTx(ctx, "snapshot", func(s Store) error { return s.SaveSnapshot(ctx, next) }); err != nil {
		return Amount{}, err
	}
	return balance, nil
}

func (e *Engine) openingOf(ctx context.Context, subject Subject) (Amount, error) {
	switch subject.Kind {
	case SubjectAccount:
		a, err := getAccount(ctx, e.store, AccountID(subject.ID))
		if err != nil {
			return Amount{}, err
		}
		return a.OpeningBalance, nil
	case SubjectParty:
		_, err := getParty(ctx, e.store, PartyID(subject.ID))
		return Zero(), err
	case SubjectDriver:
		_, err := getDriver(ctx, e.store, DriverID(subject.ID))
		return Zero(), err
	}
	return Amount{}, fmt.Errorf("subject kind %q: %w", subject.Kind, ErrInvalidInput)
}

// foldAfter applies movements numbered above after, returning the new
// balance and the highest number seen.
func (e *Engine) foldAfter(ctx context.Context, subject Subject, base Amount, after int64) (Amount, int64, error) {
	last := after
	if subject.Kind == SubjectDriver {
		txs, err := e.store.LoadDriverTransactions(ctx, DriverID(subject.ID), time.Time{})
		if err != nil {
			return Amount{}, 0, err
		}
		for _, tx := range txs {
			if tx.Number <= after {
				continue
			}
			base = base.Add(tx.Signed())
			last = max(last, tx.Number)
		}
		return base, last, nil
	}

	f := EntryFilter{AfterNumber: after}
	if subject.Kind == SubjectAccount {
		f.AccountID = AccountID(subject.ID)
	} else {
		f.PartyID = PartyID(subject.ID)
	}
	entries, err := e.store.LoadEntries(ctx, f)
	if err != nil {
		return Amount{}, 0, err
	}
	for _, en := range entries {
		last = max(last, en.Number)
	}
	return Fold(base, entries), last, nil
}

// =============================================================================
// PARTY STATEMENT - Billed vs received
// =============================================================================

// PartyStatement summarises what a party was billed against what it paid.
type PartyStatement struct {
	PartyID     PartyID `json:"party_id"`
	Trips       int     `json:"trips"`
	Billed      Amount  `json:"billed"`
	Received    Amount  `json:"received"`
	Outstanding Amount  `json:"outstanding"`
}

func (e *Engine) PartyStatement(ctx context.Context, id PartyID) (PartyStatement, error) {
	if _, err := getParty(ctx, e.store, id); err != nil {
		return PartyStatement{}, err
	}
	trips, err := e.store.ListTripsByParty(ctx, id)
	if err != nil {
		return PartyStatement{}, err
	}
	entries, err := e.store.LoadEntries(ctx, EntryFilter{PartyID: id})
	if err != nil {
		return PartyStatement{}, err
	}

	billed := Zero()
	for _, t := range trips {
		billed = billed.Add(t.ComputeRevenue())
	}
	received, _ := splitBuckets(entries)
	return PartyStatement{
		PartyID:     id,
		Trips:       len(trips),
		Billed:      billed,
		Received:    received,
		Outstanding: billed.Sub(received),
	}, nil
}
