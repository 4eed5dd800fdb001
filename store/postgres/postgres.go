/*
Package postgres provides a PostgreSQL implementation of ledger.TxStore
on top of pgx.

PURPOSE:
  The server store. Several application processes share one database;
  every guarantee the engine relies on is enforced by PostgreSQL itself.

CONCURRENCY:
  Transactions run at READ COMMITTED with row locks:
  - sequence_counters: INSERT ... ON CONFLICT DO UPDATE ... RETURNING takes
    the counter row lock, so concurrent issuers queue on it until commit
  - trips: LockTrips runs SELECT ... FOR UPDATE in id order, so concurrent
    allocations on one trip serialize and re-read received amounts after
    the first commits
  Each transaction sets lock_timeout; a lock wait past it, a deadlock or a
  serialization failure surfaces as ledger.ErrContention.

ERROR CODES:
  40001, 40P01, 55P03 -> ErrContention
  57014               -> ErrTimeout
  23505               -> ErrDuplicate
  23503               -> ErrReferentialBlock

SEE ALSO:
  - store/sqlite: embedded store with the same schema
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/fleet-ledger/ledger"
)

// Store implements ledger.TxStore on a pgx pool.
type Store struct {
	*queries
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ ledger.TxStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds row lock waits inside transactions. Default 2s.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// New connects to dsn, pings and migrates.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{queries: &queries{q: pool}, pool: pool, lockTimeout: 2 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sequence_counters (
	scope TEXT PRIMARY KEY,
	last_value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	number TEXT,
	opening_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
	description TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS parties (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT,
	address TEXT,
	state TEXT,
	created_at TIMESTAMPTZ NOT NULL
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
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS trips (
	id TEXT PRIMARY KEY,
	number TEXT UNIQUE,
	vehicle_plate TEXT,
	party_id TEXT REFERENCES parties(id),
	driver_id TEXT REFERENCES drivers(id),
	date DATE NOT NULL,
	weight NUMERIC NOT NULL,
	rate NUMERIC(18,2) NOT NULL,
	revenue NUMERIC(18,2) NOT NULL,
	payment_status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trips_party ON trips(party_id);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	number BIGINT NOT NULL UNIQUE,
	amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
	direction TEXT NOT NULL CHECK (direction IN ('income', 'expense')),
	date DATE NOT NULL,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	party_id TEXT REFERENCES parties(id),
	driver_id TEXT REFERENCES drivers(id),
	trip_id TEXT REFERENCES trips(id),
	category_id TEXT NOT NULL REFERENCES categories(id),
	batch_id TEXT,
	reversal_of TEXT REFERENCES ledger_entries(id),
	note TEXT,
	attachment_ref TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_account_date ON ledger_entries(account_id, date, number);
CREATE INDEX IF NOT EXISTS idx_entries_party ON ledger_entries(party_id) WHERE party_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entries_trip ON ledger_entries(trip_id) WHERE trip_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entries_category ON ledger_entries(category_id);
CREATE INDEX IF NOT EXISTS idx_entries_batch ON ledger_entries(batch_id) WHERE batch_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reversal_of
	ON ledger_entries(reversal_of) WHERE reversal_of IS NOT NULL;

CREATE TABLE IF NOT EXISTS driver_transactions (
	id TEXT PRIMARY KEY,
	number BIGINT NOT NULL UNIQUE,
	driver_id TEXT NOT NULL REFERENCES drivers(id),
	kind TEXT NOT NULL,
	amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
	direction TEXT NOT NULL,
	date DATE NOT NULL,
	description TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_driver_tx_driver_date ON driver_transactions(driver_id, date, number);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	subject_kind TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	opening NUMERIC(18,2) NOT NULL,
	balance NUMERIC(18,2) NOT NULL,
	last_number BIGINT NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (subject_kind, subject_id)
);
`

// WithTx executes fn inside a read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return translate(fmt.Errorf("postgres: begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return translate(err)
		}
	}

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translate(fmt.Errorf("postgres: commit tx: %w", err))
	}
	return nil
}

// Reset truncates every table (for tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE balance_snapshots, driver_transactions, ledger_entries, trips,
		drivers, categories, parties, accounts, sequence_counters`)
	return err
}

// =============================================================================
// QUERIES - Shared by the pool and transaction-bound stores
// =============================================================================

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q dbtx
}

func (s *queries) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := s.q.Exec(ctx, sql, args...)
	return tag, translate(err)
}

func (s *queries) deleteByID(ctx context.Context, table, kind, id string) error {
	tag, err := s.exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return nil
}

// Accounts

func (s *queries) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := s.exec(ctx, `INSERT INTO accounts (id, name, number, opening_balance, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, number=EXCLUDED.number,
	opening_balance=EXCLUDED.opening_balance, description=EXCLUDED.description`,
		string(a.ID), a.Name, nullText(a.Number), a.OpeningBalance.Value.String(), nullText(a.Description), a.CreatedAt)
	return err
}

const accountColumns = "id, name, COALESCE(number,''), opening_balance::text, COALESCE(description,''), created_at"

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		a           ledger.Account
		id, opening string
	)
	err := row.Scan(&id, &a.Name, &a.Number, &opening, &a.Description, &a.CreatedAt)
	if err != nil {
		return a, err
	}
	var dec decoder
	a.ID = ledger.AccountID(id)
	a.OpeningBalance = dec.amount(opening)
	return a, dec.err
}

func (s *queries) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, err := scanAccount(s.q.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id=$1", string(id)))
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

// Parties

func (s *queries) SaveParty(ctx context.Context, p ledger.Party) error {
	_, err := s.exec(ctx, `INSERT INTO parties (id, name, phone, address, state, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, phone=EXCLUDED.phone,
	address=EXCLUDED.address, state=EXCLUDED.state`,
		string(p.ID), p.Name, nullText(p.Phone), nullText(p.Address), nullText(p.State), p.CreatedAt)
	return err
}

const partyColumns = "id, name, COALESCE(phone,''), COALESCE(address,''), COALESCE(state,''), created_at"

func scanParty(row pgx.Row) (ledger.Party, error) {
	var (
		p  ledger.Party
		id string
	)
	err := row.Scan(&id, &p.Name, &p.Phone, &p.Address, &p.State, &p.CreatedAt)
	p.ID = ledger.PartyID(id)
	return p, err
}

func (s *queries) GetParty(ctx context.Context, id ledger.PartyID) (*ledger.Party, error) {
	p, err := scanParty(s.q.QueryRow(ctx, "SELECT "+partyColumns+" FROM parties WHERE id=$1", string(id)))
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

// Categories

func (s *queries) SaveCategory(ctx context.Context, c ledger.Category) error {
	_, err := s.exec(ctx, `INSERT INTO categories (id, name, polarity, description)
VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, polarity=EXCLUDED.polarity, description=EXCLUDED.description`,
		string(c.ID), c.Name, string(c.Polarity), nullText(c.Description))
	return err
}

const categoryColumns = "id, name, polarity, COALESCE(description,'')"

func scanCategory(row pgx.Row) (ledger.Category, error) {
	var (
		c            ledger.Category
		id, polarity string
	)
	err := row.Scan(&id, &c.Name, &polarity, &c.Description)
	c.ID = ledger.CategoryID(id)
	c.Polarity = ledger.Direction(polarity)
	return c, err
}

func (s *queries) GetCategory(ctx context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	c, err := scanCategory(s.q.QueryRow(ctx, "SELECT "+categoryColumns+" FROM categories WHERE id=$1", string(id)))
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

// Drivers

func (s *queries) SaveDriver(ctx context.Context, d ledger.Driver) error {
	_, err := s.exec(ctx, `INSERT INTO drivers (id, name, employee_id, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, employee_id=EXCLUDED.employee_id`,
		string(d.ID), d.Name, nullText(d.EmployeeID), d.CreatedAt)
	return err
}

const driverColumns = "id, name, COALESCE(employee_id,''), created_at"

func scanDriver(row pgx.Row) (ledger.Driver, error) {
	var (
		d  ledger.Driver
		id string
	)
	err := row.Scan(&id, &d.Name, &d.EmployeeID, &d.CreatedAt)
	d.ID = ledger.DriverID(id)
	return d, err
}

func (s *queries) GetDriver(ctx context.Context, id ledger.DriverID) (*ledger.Driver, error) {
	d, err := scanDriver(s.q.QueryRow(ctx, "SELECT "+driverColumns+" FROM drivers WHERE id=$1", string(id)))
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
	_, err := s.exec(ctx, `INSERT INTO trips (id, number, vehicle_plate, party_id, driver_id, date, weight, rate,
	revenue, payment_status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET number=EXCLUDED.number, vehicle_plate=EXCLUDED.vehicle_plate,
	party_id=EXCLUDED.party_id, driver_id=EXCLUDED.driver_id, date=EXCLUDED.date, weight=EXCLUDED.weight,
	rate=EXCLUDED.rate, revenue=EXCLUDED.revenue, payment_status=EXCLUDED.payment_status`,
		string(t.ID), nullText(t.Number), nullText(t.VehiclePlate), nullText(string(t.PartyID)),
		nullText(string(t.DriverID)), ledger.Day(t.Date), t.Weight.String(), t.Rate.Value.String(),
		t.Revenue.Value.String(), string(t.PaymentStatus), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

const tripColumns = `id, COALESCE(number,''), COALESCE(vehicle_plate,''), COALESCE(party_id,''),
	COALESCE(driver_id,''), date, weight::text, rate::text, revenue::text, payment_status, created_at`

func scanTrip(row pgx.Row) (ledger.Trip, error) {
	var (
		t                             ledger.Trip
		id, partyID, driverID         string
		weight, rate, revenue, status string
	)
	err := row.Scan(&id, &t.Number, &t.VehiclePlate, &partyID, &driverID, &t.Date,
		&weight, &rate, &revenue, &status, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	var dec decoder
	t.ID = ledger.TripID(id)
	t.PartyID = ledger.PartyID(partyID)
	t.DriverID = ledger.DriverID(driverID)
	t.Date = ledger.Day(t.Date)
	t.Weight = dec.numeric(weight)
	t.Rate = dec.amount(rate)
	t.Revenue = dec.amount(revenue)
	t.PaymentStatus = ledger.PaymentStatus(status)
	return t, dec.err
}

func (s *queries) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	t, err := scanTrip(s.q.QueryRow(ctx, "SELECT "+tripColumns+" FROM trips WHERE id=$1", string(id)))
	if err != nil {
		return nil, notFound(err, "trip", string(id))
	}
	return &t, nil
}

func (s *queries) ListTripsByParty(ctx context.Context, id ledger.PartyID) ([]ledger.Trip, error) {
	return list(ctx, s.q, "SELECT "+tripColumns+" FROM trips WHERE party_id=$1 ORDER BY date, id", scanTrip, string(id))
}

func (s *queries) UpdateTripStatus(ctx context.Context, id ledger.TripID, revenue ledger.Amount, status ledger.PaymentStatus) error {
	tag, err := s.exec(ctx, "UPDATE trips SET revenue=$1, payment_status=$2 WHERE id=$3",
		revenue.Value.String(), string(status), string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trip %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

// LockTrips takes row locks on the trips in id order.
func (s *queries) LockTrips(ctx context.Context, ids []ledger.TripID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}
	rows, err := s.q.Query(ctx, "SELECT id FROM trips WHERE id = ANY($1) ORDER BY id FOR UPDATE", keys)
	if err != nil {
		return translate(err)
	}
	rows.Close()
	return translate(rows.Err())
}

// =============================================================================
// ENTRIES (append-only)
// =============================================================================

func (s *queries) AppendEntry(ctx context.Context, e ledger.Entry) error {
	_, err := s.exec(ctx, `INSERT INTO ledger_entries
	(id, number, amount, direction, date, account_id, party_id, driver_id, trip_id,
	 category_id, batch_id, reversal_of, note, attachment_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		string(e.ID), e.Number, e.Amount.Value.String(), string(e.Direction), ledger.Day(e.Date),
		string(e.AccountID), nullText(string(e.PartyID)), nullText(string(e.DriverID)),
		nullText(string(e.TripID)), string(e.CategoryID), nullText(string(e.BatchID)),
		nullText(string(e.ReversalOf)), nullText(e.Note), nullText(e.AttachmentRef), e.CreatedAt)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) && e.ReversalOf != "" {
			return fmt.Errorf("entry %s: %w", e.ReversalOf, ledger.ErrAlreadyReversed)
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

const entryColumns = `id, number, amount::text, direction, date, account_id, COALESCE(party_id,''),
	COALESCE(driver_id,''), COALESCE(trip_id,''), category_id, COALESCE(batch_id,''),
	COALESCE(reversal_of,''), COALESCE(note,''), COALESCE(attachment_ref,''), created_at`

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e                                    ledger.Entry
		id, amount, direction, account       string
		party, driver, trip, category, batch string
		reversalOf                           string
	)
	err := row.Scan(&id, &e.Number, &amount, &direction, &e.Date, &account, &party, &driver, &trip,
		&category, &batch, &reversalOf, &e.Note, &e.AttachmentRef, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	var dec decoder
	e.ID = ledger.EntryID(id)
	e.Amount = dec.amount(amount)
	e.Direction = ledger.Direction(direction)
	e.Date = ledger.Day(e.Date)
	e.AccountID = ledger.AccountID(account)
	e.PartyID = ledger.PartyID(party)
	e.DriverID = ledger.DriverID(driver)
	e.TripID = ledger.TripID(trip)
	e.CategoryID = ledger.CategoryID(category)
	e.BatchID = ledger.BatchID(batch)
	e.ReversalOf = ledger.EntryID(reversalOf)
	return e, dec.err
}

func (s *queries) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	e, err := scanEntry(s.q.QueryRow(ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id=$1", string(id)))
	if err != nil {
		return nil, notFound(err, "entry", string(id))
	}
	return &e, nil
}

func (s *queries) LoadEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	where, args := entryWhere(f)
	return list(ctx, s.q, "SELECT "+entryColumns+" FROM ledger_entries"+where+" ORDER BY date, number", scanEntry, args...)
}

func (s *queries) CountEntries(ctx context.Context, f ledger.EntryFilter) (int, error) {
	where, args := entryWhere(f)
	var n int
	err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries"+where, args...).Scan(&n)
	return n, translate(err)
}

func entryWhere(f ledger.EntryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(col, len(args)))
	}
	if f.AccountID != "" {
		add("account_id = $%d", string(f.AccountID))
	}
	if f.PartyID != "" {
		add("party_id = $%d", string(f.PartyID))
	}
	if f.DriverID != "" {
		add("driver_id = $%d", string(f.DriverID))
	}
	if f.TripID != "" {
		add("trip_id = $%d", string(f.TripID))
	}
	if f.CategoryID != "" {
		add("category_id = $%d", string(f.CategoryID))
	}
	if f.BatchID != "" {
		add("batch_id = $%d", string(f.BatchID))
	}
	if f.ReversalOf != "" {
		add("reversal_of = $%d", string(f.ReversalOf))
	}
	if f.Direction != "" {
		add("direction = $%d", string(f.Direction))
	}
	if !f.From.IsZero() {
		add("date >= $%d", ledger.Day(f.From))
	}
	if !f.To.IsZero() {
		add("date <= $%d", ledger.Day(f.To))
	}
	if f.AfterNumber > 0 {
		add("number > $%d", f.AfterNumber)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *queries) ReassignCategory(ctx context.Context, from, to ledger.CategoryID) (int, error) {
	tag, err := s.exec(ctx, "UPDATE ledger_entries SET category_id=$1 WHERE category_id=$2", string(to), string(from))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =============================================================================
// DRIVER TRANSACTIONS (append-only)
// =============================================================================

func (s *queries) AppendDriverTransaction(ctx context.Context, tx ledger.DriverTransaction) error {
	_, err := s.exec(ctx, `INSERT INTO driver_transactions
	(id, number, driver_id, kind, amount, direction, date, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		string(tx.ID), tx.Number, string(tx.DriverID), string(tx.Kind), tx.Amount.Value.String(),
		string(tx.Direction), ledger.Day(tx.Date), nullText(tx.Description), tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("append driver transaction: %w", err)
	}
	return nil
}

func scanDriverTransaction(row pgx.Row) (ledger.DriverTransaction, error) {
	var (
		tx                                  ledger.DriverTransaction
		id, driver, kind, amount, direction string
	)
	err := row.Scan(&id, &tx.Number, &driver, &kind, &amount, &direction, &tx.Date, &tx.Description, &tx.CreatedAt)
	if err != nil {
		return tx, err
	}
	var dec decoder
	tx.ID = ledger.DriverTransactionID(id)
	tx.DriverID = ledger.DriverID(driver)
	tx.Kind = ledger.DriverTransactionKind(kind)
	tx.Amount = dec.amount(amount)
	tx.Direction = ledger.Direction(direction)
	tx.Date = ledger.Day(tx.Date)
	return tx, dec.err
}

func (s *queries) LoadDriverTransactions(ctx context.Context, id ledger.DriverID, asOf time.Time) ([]ledger.DriverTransaction, error) {
	query := `SELECT id, number, driver_id, kind, amount::text, direction, date, COALESCE(description,''), created_at
FROM driver_transactions
WHERE driver_id=$1 AND date <= COALESCE($2, 'infinity'::date)
ORDER BY date, number`
	var bound any
	if !asOf.IsZero() {
		bound = ledger.Day(asOf)
	}
	return list(ctx, s.q, query, scanDriverTransaction, string(id), bound)
}

// =============================================================================
// SEQUENCE COUNTERS
// =============================================================================

// NextSequence increments under the counter row lock held until commit.
func (s *queries) NextSequence(ctx context.Context, scope string) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, `INSERT INTO sequence_counters (scope, last_value) VALUES ($1, 1)
ON CONFLICT (scope) DO UPDATE SET last_value = sequence_counters.last_value + 1
RETURNING last_value`, scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", scope, translate(err))
	}
	return n, nil
}

func (s *queries) CurrentSequence(ctx context.Context, scope string) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, "SELECT last_value FROM sequence_counters WHERE scope=$1", scope).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, translate(err)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (s *queries) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	_, err := s.exec(ctx, `INSERT INTO balance_snapshots (subject_kind, subject_id, opening, balance, last_number, taken_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (subject_kind, subject_id) DO UPDATE SET opening=EXCLUDED.opening, balance=EXCLUDED.balance,
	last_number=EXCLUDED.last_number, taken_at=EXCLUDED.taken_at
WHERE EXCLUDED.last_number >= balance_snapshots.last_number`,
		string(snap.Subject.Kind), snap.Subject.ID, snap.Opening.Value.String(), snap.Balance.Value.String(),
		snap.LastNumber, snap.TakenAt)
	return err
}

func (s *queries) GetSnapshot(ctx context.Context, subject ledger.Subject) (*ledger.Snapshot, error) {
	var (
		snap             ledger.Snapshot
		opening, balance string
	)
	err := s.q.QueryRow(ctx, `SELECT opening::text, balance::text, last_number, taken_at
FROM balance_snapshots WHERE subject_kind=$1 AND subject_id=$2`,
		string(subject.Kind), subject.ID).Scan(&opening, &balance, &snap.LastNumber, &snap.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	var dec decoder
	snap.Subject = subject
	snap.Opening = dec.amount(opening)
	snap.Balance = dec.amount(balance)
	if dec.err != nil {
		return nil, dec.err
	}
	return &snap, nil
}

func (s *queries) deleteSnapshot(ctx context.Context, subject ledger.Subject) error {
	_, err := s.exec(ctx, "DELETE FROM balance_snapshots WHERE subject_kind=$1 AND subject_id=$2",
		string(subject.Kind), subject.ID)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func list[T any](ctx context.Context, q dbtx, sql string, scan func(pgx.Row) (T, error), args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, translate(rows.Err())
}

// translate maps PostgreSQL error codes onto ledger sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %v", ledger.ErrContention, err)
	case "57014":
		return fmt.Errorf("%w: %v", ledger.ErrTimeout, err)
	case "23505":
		return fmt.Errorf("%w: %v", ledger.ErrDuplicate, err)
	case "23503":
		return fmt.Errorf("%w: %v", ledger.ErrReferentialBlock, err)
	}
	return err
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	return translate(err)
}

func nullText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// decoder parses numeric text columns, keeping the first failure so a
// corrupt row surfaces as an error instead of a zero value.
type decoder struct {
	err error
}

func (d *decoder) numeric(value string) decimal.Decimal {
	v, err := decimal.NewFromString(value)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("decode numeric %q: %w", value, err)
	}
	return v
}

func (d *decoder) amount(value string) ledger.Amount {
	return ledger.Amount{Value: d.numeric(value)}
}
