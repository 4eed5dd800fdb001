/*
store.go - Persistence interfaces for the ledger core

PURPOSE:
  Defines the boundary between engine logic and the durable store. The
  engine owns every rule (validation, allocation checks, status
  derivation); stores only persist and translate driver errors.

KEY INTERFACES:
  Store:   reference data, entries, driver transactions, counters, snapshots
  TxStore: Store plus WithTx for all-or-nothing units of work

APPEND-ONLY CONTRACT:
  Entries and driver transactions have no update or delete method. The one
  exception is ReassignCategory, which moves classification metadata and
  never touches amount, direction, date or account.

TRANSACTIONS:
  Every mutating engine operation runs inside WithTx. Implementations must
  give the callback a Store bound to the transaction so that:
  - NextSequence is an atomic increment-and-return on the scoped counter
  - LockTrips serializes concurrent writers on the same trips until commit
  - a returned error rolls back every write made through the callback

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and embedding
  - store/sqlite: SQLite with immediate (write-locking) transactions
  - store/postgres: PostgreSQL via pgx with SELECT ... FOR UPDATE

SEE ALSO:
  - engine.go: wraps WithTx with deadlines and error translation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for persistence
// =============================================================================

type Store interface {
	// Reference data. Get* return ErrNotFound for missing records.
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	DeleteAccount(ctx context.Context, id AccountID) error

	SaveParty(ctx context.Context, p Party) error
	GetParty(ctx context.Context, id PartyID) (*Party, error)
	ListParties(ctx context.Context) ([]Party, error)
	DeleteParty(ctx context.Context, id PartyID) error

	SaveCategory(ctx context.Context, c Category) error
	GetCategory(ctx context.Context, id CategoryID) (*Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, id CategoryID) error

	SaveDriver(ctx context.Context, d Driver) error
	GetDriver(ctx context.Context, id DriverID) (*Driver, error)
	ListDrivers(ctx context.Context) ([]Driver, error)

	// Trips. SaveTrip inserts or replaces; ErrDuplicate if Number is taken
	// by another trip.
	SaveTrip(ctx context.Context, t Trip) error
	GetTrip(ctx context.Context, id TripID) (*Trip, error)
	ListTripsByParty(ctx context.Context, id PartyID) ([]Trip, error)
	UpdateTripStatus(ctx context.Context, id TripID, revenue Amount, status PaymentStatus) error

	// LockTrips blocks concurrent writers on the given trips until the
	// surrounding transaction ends. ids are sorted by the caller.
	LockTrips(ctx context.Context, ids []TripID) error

	// Entries. LoadEntries orders by (date, number).
	AppendEntry(ctx context.Context, e Entry) error
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)
	LoadEntries(ctx context.Context, f EntryFilter) ([]Entry, error)
	CountEntries(ctx context.Context, f EntryFilter) (int, error)
	ReassignCategory(ctx context.Context, from, to CategoryID) (int, error)

	// Driver transactions, ordered by (date, number). A zero asOf loads all.
	AppendDriverTransaction(ctx context.Context, tx DriverTransaction) error
	LoadDriverTransactions(ctx context.Context, id DriverID, asOf time.Time) ([]DriverTransaction, error)

	// Sequence counters. NextSequence creates the counter at 1 on first use.
	NextSequence(ctx context.Context, scope string) (int64, error)
	CurrentSequence(ctx context.Context, scope string) (int64, error)

	// Snapshots. GetSnapshot returns (nil, nil) when none exists.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	GetSnapshot(ctx context.Context, subject Subject) (*Snapshot, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
