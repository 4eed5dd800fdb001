/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  The embedded store for single-server deployments and tests. The same
  schema is mirrored for PostgreSQL in store/postgres; only placeholders,
  column types and locking differ.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries except category_id reassignment
  - No DELETE statements on ledger_entries or driver_transactions
  - Corrections are reversal entries; a unique index on reversal_of lets
    each entry be reversed at most once

KEY TABLES:
  sequence_counters:   scope -> last issued value
  accounts, parties, categories, drivers: reference data
  trips:               financial attributes + cached revenue/status
  ledger_entries:      immutable signed movements
  driver_transactions: driver pocket balance movements
  balance_snapshots:   cached folds, keyed by subject

CONCURRENCY:
  Connections are opened with _txlock=immediate, so every transaction takes
  the database write lock at BEGIN. Two writers never interleave, which
  makes the sequence increment and the allocation read-validate-write
  serializable without row locks. A writer that cannot get the lock within
  the busy timeout fails with ledger.ErrContention. Inside one process a
  single-slot semaphore additionally serializes WithTx so callers queue
  instead of spinning on the busy handler. The wait for the slot honours
  the caller's deadline and fails with ledger.ErrTimeout.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer and vice versa
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/fleet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.New(store, ledger.Config{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: server deployment
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/warp/fleet-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	*queries
	db     *sql.DB
	writer *semaphore.Weighted

	busyTimeout time.Duration
}

var _ ledger.TxStore = (*Store)(nil)

// DefaultBusyTimeout bounds how long SQLite retries a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*Store)

// WithBusyTimeout sets how long a connection waits on another process's
// write lock before the statement fails with ledger.ErrContention.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	store := &Store{writer: semaphore.NewWeighted(1), busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(store)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, store.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store.queries = &queries{q: db}
	store.db = db
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sequence_counters (
		scope TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		number TEXT,
		opening_balance TEXT NOT NULL DEFAULT '0',
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		state TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		polarity TEXT NOT NULL CHECK (polarity IN ('income', 'expense')),
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		employee_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		number TEXT UNIQUE,
		vehicle_plate TEXT,
		party_id TEXT REFERENCES parties(id),
		driver_id TEXT REFERENCES drivers(id),
		date TEXT NOT NULL,
		weight TEXT NOT NULL,
		rate TEXT NOT NULL,
		revenue TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_party ON trips(party_id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL CHECK (direction IN ('income', 'expense')),
		date TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		party_id TEXT REFERENCES parties(id),
		driver_id TEXT REFERENCES drivers(id),
		trip_id TEXT REFERENCES trips(id),
		category_id TEXT NOT NULL REFERENCES categories(id),
		batch_id TEXT,
		reversal_of TEXT REFERENCES ledger_entries(id),
		note TEXT,
		attachment_ref TEXT,
		created_at TEXT NOT NULL
	);

	-- Balance folds (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_date ON ledger_entries(account_id, date, number);
	CREATE INDEX IF NOT EXISTS idx_entries_party ON ledger_entries(party_id) WHERE party_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_trip ON ledger_entries(trip_id) WHERE trip_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_category ON ledger_entries(category_id);
	CREATE INDEX IF NOT EXISTS idx_entries_batch ON ledger_entries(batch_id) WHERE batch_id IS NOT NULL;

	-- An entry is reversed at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reversal_of
		ON ledger_entries(reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE TABLE IF NOT EXISTS driver_transactions (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL UNIQUE,
		driver_id TEXT NOT NULL REFERENCES drivers(id),
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_driver_tx_driver_date ON driver_transactions(driver_id, date, number);

	CREATE TABLE IF NOT EXISTS balance_snapshots (
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		opening TEXT NOT NULL,
		balance TEXT NOT NULL,
		last_number INTEGER NOT NULL,
		taken_at TEXT NOT NULL,
		PRIMARY KEY (subject_kind, subject_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.writer.Release(1)

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// acquire takes the single writer slot, giving up when ctx ends.
func (s *Store) acquire(ctx context.Context) error {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting for writer: %w", ledger.ErrTimeout, err)
		}
		return fmt.Errorf("waiting for writer: %w", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.writer.Release(1)

	tables := []string{
		"balance_snapshots", "driver_transactions", "ledger_entries", "trips",
		"drivers", "categories", "parties", "accounts", "sequence_counters",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by the pooled store and transaction-bound stores
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	return res, nil
}

func (s *queries) deleteByID(ctx context.Context, table, kind, id string) error {
	res, err := s.exec(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	query := `
		INSERT INTO accounts (id, name, number, opening_balance, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			number = excluded.number,
			opening_balance = excluded.opening_balance,
			description = excluded.description
	`
	_, err := s.exec(ctx, query,
		a.ID, a.Name, nullString(a.Number), a.OpeningBalance.Value.String(),
		nullString(a.Description), formatTime(a.CreatedAt),
	)
	return err
}

const accountColumns = "id, name, number, opening_balance, description, created_at"

func scanAccount(sc scanner) (ledger.Account, error) {
	var (
		a                   ledger.Account
		number, description sql.NullString
		opening, createdAt  string
	)
	if err := sc.Scan(&a.ID, &a.Name, &number, &opening, &description, &createdAt); err != nil {
		return a, err
	}
	var dec decoder
	a.Number = number.String
	a.Description = description.String
	a.OpeningBalance = dec.amount(opening)
	a.CreatedAt = dec.timestamp(createdAt)
	return a, dec.err
}

func (s *queries) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "account", string(id))
	}
	return &a, nil
}

func (s *queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return list(ctx, s.q, "SELECT "+accountColumns+" FROM accounts ORDER BY id", scanAccount)
}

func (s *queries) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	if err := s.deleteByID(ctx, "accounts", "account", string(id)); err != nil {
		return err
	}
	return s.deleteSnapshot(ctx, ledger.AccountSubject(id))
}

// =============================================================================
// PARTIES
// =============================================================================

func (s *queries) SaveParty(ctx context.Context, p ledger.Party) error {
	query := `
		INSERT INTO parties (id, name, phone, address, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			address = excluded.address,
			state = excluded.state
	`
	_, err := s.exec(ctx, query,
		p.ID, p.Name, nullString(p.Phone), nullString(p.Address), nullString(p.State), formatTime(p.CreatedAt),
	)
	return err
}

const partyColumns = "id, name, phone, address, state, created_at"

func scanParty(sc scanner) (ledger.Party, error) {
	var (
		p                     ledger.Party
		phone, address, state sql.NullString
		createdAt             string
	)
	if err := sc.Scan(&p.ID, &p.Name, &phone, &address, &state, &createdAt); err != nil {
		return p, err
	}
	var dec decoder
	p.Phone, p.Address, p.State = phone.String, address.String, state.String
	p.CreatedAt = dec.timestamp(createdAt)
	return p, dec.err
}

func (s *queries) GetParty(ctx context.Context, id ledger.PartyID) (*ledger.Party, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+partyColumns+" FROM parties WHERE id = ?", id)
	p, err := scanParty(row)
	if err != nil {
		return nil, notFound(err, "party", string(id))
	}
	return &p, nil
}

func (s *queries) ListParties(ctx context.Context) ([]ledger.Party, error) {
	return list(ctx, s.q, "SELECT "+partyColumns+" FROM parties ORDER BY id", scanParty)
}

func (s *queries) DeleteParty(ctx context.Context, id ledger.PartyID) error {
	if err := s.deleteByID(ctx, "parties", "party", string(id)); err != nil {
		return err
	}
	return s.deleteSnapshot(ctx, ledger.PartySubject(id))
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *queries) SaveCategory(ctx context.Context, c ledger.Category) error {
	query := `
		INSERT INTO categories (id, name, polarity, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			polarity = excluded.polarity,
			description = excluded.description
	`
	_, err := s.exec(ctx, query, c.ID, c.Name, c.Polarity, nullString(c.Description))
	return err
}

const categoryColumns = "id, name, polarity, description"

func scanCategory(sc scanner) (ledger.Category, error) {
	var (
		c           ledger.Category
		description sql.NullString
	)
	if err := sc.Scan(&c.ID, &c.Name, &c.Polarity, &description); err != nil {
		return c, err
	}
	c.Description = description.String
	return c, nil
}

func (s *queries) GetCategory(ctx context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
	c, err := scanCategory(row)
	if err != nil {
		return nil, notFound(err, "category", string(id))
	}
	return &c, nil
}

func (s *queries) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	return list(ctx, s.q, "SELECT "+categoryColumns+" FROM categories ORDER BY id", scanCategory)
}

func (s *queries) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	return s.deleteByID(ctx, "categories", "category", string(id))
}

// =============================================================================
// DRIVERS
// =============================================================================

func (s *queries) SaveDriver(ctx context.Context, d ledger.Driver) error {
	query := `
		INSERT INTO drivers (id, name, employee_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			employee_id = excluded.employee_id
	`
	_, err := s.exec(ctx, query, d.ID, d.Name, nullString(d.EmployeeID), formatTime(d.CreatedAt))
	return err
}

const driverColumns = "id, name, employee_id, created_at"

func scanDriver(sc scanner) (ledger.Driver, error) {
	var (
		d          ledger.Driver
		employeeID sql.NullString
		createdAt  string
	)
	if err := sc.Scan(&d.ID, &d.Name, &employeeID, &createdAt); err != nil {
		return d, err
	}
	var dec decoder
	d.EmployeeID = employeeID.String
	d.CreatedAt = dec.timestamp(createdAt)
	return d, dec.err
}

func (s *queries) GetDriver(ctx context.Context, id ledger.DriverID) (*ledger.Driver, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+driverColumns+" FROM drivers WHERE id = ?", id)
	d, err := scanDriver(row)
	if err != nil {
		return nil, notFound(err, "driver", string(id))
	}
	return &d, nil
}

func (s *queries) ListDrivers(ctx context.Context) ([]ledger.Driver, error) {
	return list(ctx, s.q, "SELECT "+driverColumns+" FROM drivers ORDER BY id", scanDriver)
}

// =============================================================================
// TRIPS
// =============================================================================

func (s *queries) SaveTrip(ctx context.Context, t ledger.Trip) error {
	query := `
		INSERT INTO trips (id, number, vehicle_plate, party_id, driver_id, date, weight, rate,
		                   revenue, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			vehicle_plate = excluded.vehicle_plate,
			party_id = excluded.party_id,
			driver_id = excluded.driver_id,
			date = excluded.date,
			weight = excluded.weight,
			rate = excluded.rate,
			revenue = excluded.revenue,
			payment_status = excluded.payment_status
	`
	_, err := s.exec(ctx, query,
		t.ID, nullString(t.Number), nullString(t.VehiclePlate),
		nullString(string(t.PartyID)), nullString(string(t.DriverID)),
		formatDate(t.Date), t.Weight.String(), t.Rate.Value.String(),
		t.Revenue.Value.String(), t.PaymentStatus, formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

const tripColumns = `id, number, vehicle_plate, party_id, driver_id, date, weight, rate,
	revenue, payment_status, created_at`

func scanTrip(sc scanner) (ledger.Trip, error) {
	var (
		t                                ledger.Trip
		number, plate, partyID, driverID sql.NullString
		date, weight, rate, revenue      string
		createdAt                        string
	)
	if err := sc.Scan(&t.ID, &number, &plate, &partyID, &driverID, &date, &weight, &rate,
		&revenue, &t.PaymentStatus, &createdAt); err != nil {
		return t, err
	}
	var dec decoder
	t.Number = number.String
	t.VehiclePlate = plate.String
	t.PartyID = ledger.PartyID(partyID.String)
	t.DriverID = ledger.DriverID(driverID.String)
	t.Date = dec.date(date)
	t.Weight = dec.numeric(weight)
	t.Rate = dec.amount(rate)
	t.Revenue = dec.amount(revenue)
	t.CreatedAt = dec.timestamp(createdAt)
	return t, dec.err
}

func (s *queries) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id)
	t, err := scanTrip(row)
	if err != nil {
		return nil, notFound(err, "trip", string(id))
	}
	return &t, nil
}

func (s *queries) ListTripsByParty(ctx context.Context, id ledger.PartyID) ([]ledger.Trip, error) {
	return list(ctx, s.q, "SELECT "+tripColumns+" FROM trips WHERE party_id = ? ORDER BY date, id", scanTrip, id)
}

func (s *queries) UpdateTripStatus(ctx context.Context, id ledger.TripID, revenue ledger.Amount, status ledger.PaymentStatus) error {
	res, err := s.exec(ctx, "UPDATE trips SET revenue = ?, payment_status = ? WHERE id = ?",
		revenue.Value.String(), status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("trip %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

// LockTrips is a no-op: immediate transactions already hold the database
// write lock for their whole duration.
func (s *queries) LockTrips(ctx context.Context, ids []ledger.TripID) error { return nil }

// =============================================================================
// ENTRIES (append-only)
// =============================================================================

func (s *queries) AppendEntry(ctx context.Context, e ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries
		(id, number, amount, direction, date, account_id, party_id, driver_id, trip_id,
		 category_id, batch_id, reversal_of, note, attachment_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		e.ID, e.Number, e.Amount.Value.String(), e.Direction, formatDate(e.Date), e.AccountID,
		nullString(string(e.PartyID)), nullString(string(e.DriverID)), nullString(string(e.TripID)),
		e.CategoryID, nullString(string(e.BatchID)), nullString(string(e.ReversalOf)),
		nullString(e.Note), nullString(e.AttachmentRef), formatTime(e.CreatedAt),
	)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) && e.ReversalOf != "" {
			return fmt.Errorf("entry %s: %w", e.ReversalOf, ledger.ErrAlreadyReversed)
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

const entryColumns = `id, number, amount, direction, date, account_id, party_id, driver_id, trip_id,
	category_id, batch_id, reversal_of, note, attachment_ref, created_at`

func scanEntry(sc scanner) (ledger.Entry, error) {
	var (
		e                                  ledger.Entry
		amount, date, createdAt            string
		partyID, driverID, tripID, batchID sql.NullString
		reversalOf, note, attachment       sql.NullString
	)
	err := sc.Scan(&e.ID, &e.Number, &amount, &e.Direction, &date, &e.AccountID,
		&partyID, &driverID, &tripID, &e.CategoryID, &batchID, &reversalOf,
		&note, &attachment, &createdAt)
	if err != nil {
		return e, err
	}
	var dec decoder
	e.Amount = dec.amount(amount)
	e.Date = dec.date(date)
	e.PartyID = ledger.PartyID(partyID.String)
	e.DriverID = ledger.DriverID(driverID.String)
	e.TripID = ledger.TripID(tripID.String)
	e.BatchID = ledger.BatchID(batchID.String)
	e.ReversalOf = ledger.EntryID(reversalOf.String)
	e.Note = note.String
	e.AttachmentRef = attachment.String
	e.CreatedAt = dec.timestamp(createdAt)
	return e, dec.err
}

func (s *queries) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, notFound(err, "entry", string(id))
	}
	return &e, nil
}

func (s *queries) LoadEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	where, args := entryWhere(f)
	query := "SELECT " + entryColumns + " FROM ledger_entries" + where + " ORDER BY date, number"
	return list(ctx, s.q, query, scanEntry, args...)
}

func (s *queries) CountEntries(ctx context.Context, f ledger.EntryFilter) (int, error) {
	where, args := entryWhere(f)
	var n int
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&n)
	return n, translate(err)
}

func entryWhere(f ledger.EntryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.AccountID != "" {
		add("account_id = ?", f.AccountID)
	}
	if f.PartyID != "" {
		add("party_id = ?", f.PartyID)
	}
	if f.DriverID != "" {
		add("driver_id = ?", f.DriverID)
	}
	if f.TripID != "" {
		add("trip_id = ?", f.TripID)
	}
	if f.CategoryID != "" {
		add("category_id = ?", f.CategoryID)
	}
	if f.BatchID != "" {
		add("batch_id = ?", f.BatchID)
	}
	if f.ReversalOf != "" {
		add("reversal_of = ?", f.ReversalOf)
	}
	if f.Direction != "" {
		add("direction = ?", f.Direction)
	}
	if !f.From.IsZero() {
		add("date >= ?", formatDate(f.From))
	}
	if !f.To.IsZero() {
		add("date <= ?", formatDate(f.To))
	}
	if f.AfterNumber > 0 {
		add("number > ?", f.AfterNumber)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *queries) ReassignCategory(ctx context.Context, from, to ledger.CategoryID) (int, error) {
	res, err := s.exec(ctx, "UPDATE ledger_entries SET category_id = ? WHERE category_id = ?", to, from)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// DRIVER TRANSACTIONS (append-only)
// =============================================================================

func (s *queries) AppendDriverTransaction(ctx context.Context, tx ledger.DriverTransaction) error {
	query := `
		INSERT INTO driver_transactions
		(id, number, driver_id, kind, amount, direction, date, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query,
		tx.ID, tx.Number, tx.DriverID, tx.Kind, tx.Amount.Value.String(), tx.Direction,
		formatDate(tx.Date), nullString(tx.Description), formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append driver transaction: %w", err)
	}
	return nil
}

func scanDriverTransaction(sc scanner) (ledger.DriverTransaction, error) {
	var (
		tx                      ledger.DriverTransaction
		amount, date, createdAt string
		description             sql.NullString
	)
	err := sc.Scan(&tx.ID, &tx.Number, &tx.DriverID, &tx.Kind, &amount, &tx.Direction,
		&date, &description, &createdAt)
	if err != nil {
		return tx, err
	}
	var dec decoder
	tx.Amount = dec.amount(amount)
	tx.Date = dec.date(date)
	tx.Description = description.String
	tx.CreatedAt = dec.timestamp(createdAt)
	return tx, dec.err
}

func (s *queries) LoadDriverTransactions(ctx context.Context, id ledger.DriverID, asOf time.Time) ([]ledger.DriverTransaction, error) {
	query := `
		SELECT id, number, driver_id, kind, amount, direction, date, description, created_at
		FROM driver_transactions
		WHERE driver_id = ? AND (? = '' OR date <= ?)
		ORDER BY date, number
	`
	bound := ""
	if !asOf.IsZero() {
		bound = formatDate(asOf)
	}
	return list(ctx, s.q, query, scanDriverTransaction, id, bound, bound)
}

// =============================================================================
// SEQUENCE COUNTERS
// =============================================================================

// NextSequence bumps the scope's counter in one statement; the immediate
// transaction around it makes the increment exclusive.
func (s *queries) NextSequence(ctx context.Context, scope string) (int64, error) {
	query := `
		INSERT INTO sequence_counters (scope, last_value) VALUES (?, 1)
		ON CONFLICT(scope) DO UPDATE SET last_value = sequence_counters.last_value + 1
		RETURNING last_value
	`
	var n int64
	if err := s.q.QueryRowContext(ctx, query, scope).Scan(&n); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, translate(err))
	}
	return n, nil
}

func (s *queries) CurrentSequence(ctx context.Context, scope string) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, "SELECT last_value FROM sequence_counters WHERE scope = ?", scope).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, translate(err)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (s *queries) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	query := `
		INSERT INTO balance_snapshots (subject_kind, subject_id, opening, balance, last_number, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_kind, subject_id) DO UPDATE SET
			opening = excluded.opening,
			balance = excluded.balance,
			last_number = excluded.last_number,
			taken_at = excluded.taken_at
		WHERE excluded.last_number >= balance_snapshots.last_number
	`
	_, err := s.exec(ctx, query,
		snap.Subject.Kind, snap.Subject.ID, snap.Opening.Value.String(), snap.Balance.Value.String(),
		snap.LastNumber, formatTime(snap.TakenAt),
	)
	return err
}

func (s *queries) GetSnapshot(ctx context.Context, subject ledger.Subject) (*ledger.Snapshot, error) {
	var (
		snap                     ledger.Snapshot
		opening, balance, takenAt string
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT opening, balance, last_number, taken_at FROM balance_snapshots
		 WHERE subject_kind = ? AND subject_id = ?`,
		subject.Kind, subject.ID,
	).Scan(&opening, &balance, &snap.LastNumber, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	var dec decoder
	snap.Subject = subject
	snap.Opening = dec.amount(opening)
	snap.Balance = dec.amount(balance)
	snap.TakenAt = dec.timestamp(takenAt)
	if dec.err != nil {
		return nil, dec.err
	}
	return &snap, nil
}

func (s *queries) deleteSnapshot(ctx context.Context, subject ledger.Subject) error {
	_, err := s.exec(ctx, "DELETE FROM balance_snapshots WHERE subject_kind = ? AND subject_id = ?",
		subject.Kind, subject.ID)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func list[T any](ctx context.Context, q dbtx, query string, scan func(scanner) (T, error), args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	return out, translate(rows.Err())
}

// translate maps SQLite failures onto ledger sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ledger.ErrContention, err)
	case se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
		return fmt.Errorf("%w: %v", ledger.ErrDuplicate, err)
	case se.ExtendedCode == sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %v", ledger.ErrReferentialBlock, err)
	}
	return err
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return translate(err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(t time.Time) string { return ledger.Day(t).Format(ledger.DateLayout) }


func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// decoder parses stored text columns, keeping the first failure so a
// corrupt row surfaces as an error instead of a zero value.
type decoder struct {
	err error
}

func (d *decoder) fail(kind, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("decode %s %q: %w", kind, value, err)
	}
}

func (d *decoder) numeric(value string) decimal.Decimal {
	v, err := decimal.NewFromString(value)
	if err != nil {
		d.fail("decimal", value, err)
	}
	return v
}

func (d *decoder) amount(value string) ledger.Amount {
	return ledger.Amount{Value: d.numeric(value)}
}

func (d *decoder) date(value string) time.Time {
	t, err := ledger.ParseDate(value)
	if err != nil {
		d.fail("date", value, err)
	}
	return t
}

func (d *decoder) timestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		d.fail("timestamp", value, err)
	}
	return t
}
