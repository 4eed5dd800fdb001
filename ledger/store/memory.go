// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps everything in maps guarded by one mutex. WithTx holds the
// mutex for the whole callback, so transactions are fully serialized.
// Queued transactions wait on writer, which honours their deadline.
type Memory struct {
	writer *semaphore.Weighted
	mu     sync.RWMutex
	d      data
}

type data struct {
	accounts   map[ledger.AccountID]ledger.Account
	parties    map[ledger.PartyID]ledger.Party
	categories map[ledger.CategoryID]ledger.Category
	drivers    map[ledger.DriverID]ledger.Driver
	trips      map[ledger.TripID]ledger.Trip
	entries    []ledger.Entry
	driverTxs  []ledger.DriverTransaction
	sequences  map[string]int64
	snapshots  map[ledger.Subject]ledger.Snapshot
}

func NewMemory() *Memory {
	return &Memory{writer: semaphore.NewWeighted(1), d: data{
		accounts:   make(map[ledger.AccountID]ledger.Account),
		parties:    make(map[ledger.PartyID]ledger.Party),
		categories: make(map[ledger.CategoryID]ledger.Category),
		drivers:    make(map[ledger.DriverID]ledger.Driver),
		trips:      make(map[ledger.TripID]ledger.Trip),
		sequences:  make(map[string]int64),
		snapshots:  make(map[ledger.Subject]ledger.Snapshot),
	}}
}

var _ ledger.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := m.writer.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waiting for writer: %w", ledger.ErrTimeout, err)
		}
		return err
	}
	defer m.writer.Release(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	saved := m.d.clone()
	if err := fn(&m.d); err != nil {
		m.d = saved
		return err
	}
	if err := ctx.Err(); err != nil {
		m.d = saved
		return err
	}
	return nil
}

func (d *data) clone() data {
	return data{
		accounts:   maps.Clone(d.accounts),
		parties:    maps.Clone(d.parties),
		categories: maps.Clone(d.categories),
		drivers:    maps.Clone(d.drivers),
		trips:      maps.Clone(d.trips),
		entries:    slices.Clone(d.entries),
		driverTxs:  slices.Clone(d.driverTxs),
		sequences:  maps.Clone(d.sequences),
		snapshots:  maps.Clone(d.snapshots),
	}
}

// =============================================================================
// LOCKED DELEGATES
// =============================================================================

func (m *Memory) SaveAccount(ctx context.Context, a ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveAccount(ctx, a)
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetAccount(ctx, id)
}

func (m *Memory) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListAccounts(ctx)
}

func (m *Memory) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteAccount(ctx, id)
}

func (m *Memory) SaveParty(ctx context.Context, p ledger.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveParty(ctx, p)
}

func (m *Memory) GetParty(ctx context.Context, id ledger.PartyID) (*ledger.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetParty(ctx, id)
}

func (m *Memory) ListParties(ctx context.Context) ([]ledger.Party, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListParties(ctx)
}

func (m *Memory) DeleteParty(ctx context.Context, id ledger.PartyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteParty(ctx, id)
}

func (m *Memory) SaveCategory(ctx context.Context, c ledger.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveCategory(ctx, c)
}

func (m *Memory) GetCategory(ctx context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetCategory(ctx, id)
}

func (m *Memory) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListCategories(ctx)
}

func (m *Memory) DeleteCategory(ctx context.Context, id ledger.CategoryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.DeleteCategory(ctx, id)
}

func (m *Memory) SaveDriver(ctx context.Context, dr ledger.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveDriver(ctx, dr)
}

func (m *Memory) GetDriver(ctx context.Context, id ledger.DriverID) (*ledger.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetDriver(ctx, id)
}

func (m *Memory) ListDrivers(ctx context.Context) ([]ledger.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListDrivers(ctx)
}

func (m *Memory) SaveTrip(ctx context.Context, t ledger.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveTrip(ctx, t)
}

func (m *Memory) GetTrip(ctx context.Context, id ledger.TripID) (*ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetTrip(ctx, id)
}

func (m *Memory) ListTripsByParty(ctx context.Context, id ledger.PartyID) ([]ledger.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListTripsByParty(ctx, id)
}

func (m *Memory) UpdateTripStatus(ctx context.Context, id ledger.TripID, revenue ledger.Amount, status ledger.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateTripStatus(ctx, id, revenue, status)
}

func (m *Memory) LockTrips(ctx context.Context, ids []ledger.TripID) error { return nil }

func (m *Memory) AppendEntry(ctx context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendEntry(ctx, e)
}

func (m *Memory) GetEntry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetEntry(ctx, id)
}

func (m *Memory) LoadEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.LoadEntries(ctx, f)
}

func (m *Memory) CountEntries(ctx context.Context, f ledger.EntryFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.CountEntries(ctx, f)
}

func (m *Memory) ReassignCategory(ctx context.Context, from, to ledger.CategoryID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ReassignCategory(ctx, from, to)
}

func (m *Memory) AppendDriverTransaction(ctx context.Context, tx ledger.DriverTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendDriverTransaction(ctx, tx)
}

func (m *Memory) LoadDriverTransactions(ctx context.Context, id ledger.DriverID, asOf time.Time) ([]ledger.DriverTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.LoadDriverTransactions(ctx, id, asOf)
}

func (m *Memory) NextSequence(ctx context.Context, scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.NextSequence(ctx, scope)
}

func (m *Memory) CurrentSequence(ctx context.Context, scope string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.CurrentSequence(ctx, scope)
}

func (m *Memory) SaveSnapshot(ctx context.Context, s ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveSnapshot(ctx, s)
}

func (m *Memory) GetSnapshot(ctx context.Context, subject ledger.Subject) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetSnapshot(ctx, subject)
}

// =============================================================================
// UNLOCKED STATE - Also the Store handed to WithTx callbacks
// =============================================================================

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ledger.ErrNotFound)
}

func (d *data) SaveAccount(_ context.Context, a ledger.Account) error {
	d.accounts[a.ID] = a
	return nil
}

func (d *data) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, notFound("account", id)
	}
	return &a, nil
}

func (d *data) ListAccounts(_ context.Context) ([]ledger.Account, error) {
	out := slices.Collect(maps.Values(d.accounts))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	if _, ok := d.accounts[id]; !ok {
		return notFound("account", id)
	}
	delete(d.accounts, id)
	delete(d.snapshots, ledger.AccountSubject(id))
	return nil
}

func (d *data) SaveParty(_ context.Context, p ledger.Party) error {
	d.parties[p.ID] = p
	return nil
}

func (d *data) GetParty(_ context.Context, id ledger.PartyID) (*ledger.Party, error) {
	p, ok := d.parties[id]
	if !ok {
		return nil, notFound("party", id)
	}
	return &p, nil
}

func (d *data) ListParties(_ context.Context) ([]ledger.Party, error) {
	out := slices.Collect(maps.Values(d.parties))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) DeleteParty(_ context.Context, id ledger.PartyID) error {
	if _, ok := d.parties[id]; !ok {
		return notFound("party", id)
	}
	for _, t := range d.trips {
		if t.PartyID == id {
			return &ledger.ReferentialBlockError{Kind: "party", ID: string(id)}
		}
	}
	delete(d.parties, id)
	delete(d.snapshots, ledger.PartySubject(id))
	return nil
}

func (d *data) SaveCategory(_ context.Context, c ledger.Category) error {
	d.categories[c.ID] = c
	return nil
}

func (d *data) GetCategory(_ context.Context, id ledger.CategoryID) (*ledger.Category, error) {
	c, ok := d.categories[id]
	if !ok {
		return nil, notFound("category", id)
	}
	return &c, nil
}

func (d *data) ListCategories(_ context.Context) ([]ledger.Category, error) {
	out := slices.Collect(maps.Values(d.categories))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) DeleteCategory(_ context.Context, id ledger.CategoryID) error {
	if _, ok := d.categories[id]; !ok {
		return notFound("category", id)
	}
	delete(d.categories, id)
	return nil
}

func (d *data) SaveDriver(_ context.Context, dr ledger.Driver) error {
	d.drivers[dr.ID] = dr
	return nil
}

func (d *data) GetDriver(_ context.Context, id ledger.DriverID) (*ledger.Driver, error) {
	dr, ok := d.drivers[id]
	if !ok {
		return nil, notFound("driver", id)
	}
	return &dr, nil
}

func (d *data) ListDrivers(_ context.Context) ([]ledger.Driver, error) {
	out := slices.Collect(maps.Values(d.drivers))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) SaveTrip(_ context.Context, t ledger.Trip) error {
	if t.Number != "" {
		for id, other := range d.trips {
			if id != t.ID && other.Number == t.Number {
				return fmt.Errorf("trip number %s: %w", t.Number, ledger.ErrDuplicate)
			}
		}
	}
	d.trips[t.ID] = t
	return nil
}

func (d *data) GetTrip(_ context.Context, id ledger.TripID) (*ledger.Trip, error) {
	t, ok := d.trips[id]
	if !ok {
		return nil, notFound("trip", id)
	}
	return &t, nil
}

func (d *data) ListTripsByParty(_ context.Context, id ledger.PartyID) ([]ledger.Trip, error) {
	var out []ledger.Trip
	for _, t := range d.trips {
		if t.PartyID == id {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *data) UpdateTripStatus(_ context.Context, id ledger.TripID, revenue ledger.Amount, status ledger.PaymentStatus) error {
	t, ok := d.trips[id]
	if !ok {
		return notFound("trip", id)
	}
	t.Revenue = revenue
	t.PaymentStatus = status
	d.trips[id] = t
	return nil
}

// LockTrips is a no-op: the caller already holds the store mutex.
func (d *data) LockTrips(_ context.Context, _ []ledger.TripID) error { return nil }

func (d *data) AppendEntry(_ context.Context, e ledger.Entry) error {
	for _, existing := range d.entries {
		if existing.ID == e.ID {
			return fmt.Errorf("entry %s: %w", e.ID, ledger.ErrDuplicate)
		}
	}

	// Binary search for insertion point keeps entries in (date, number) order.
	i := sort.Search(len(d.entries), func(i int) bool {
		x := d.entries[i]
		if !x.Date.Equal(e.Date) {
			return x.Date.After(e.Date)
		}
		return x.Number > e.Number
	})
	d.entries = slices.Insert(d.entries, i, e)
	return nil
}

func (d *data) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	for _, e := range d.entries {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, notFound("entry", id)
}

func (d *data) LoadEntries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range d.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *data) CountEntries(_ context.Context, f ledger.EntryFilter) (int, error) {
	n := 0
	for _, e := range d.entries {
		if f.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (d *data) ReassignCategory(_ context.Context, from, to ledger.CategoryID) (int, error) {
	n := 0
	for i := range d.entries {
		if d.entries[i].CategoryID == from {
			d.entries[i].CategoryID = to
			n++
		}
	}
	return n, nil
}

func (d *data) AppendDriverTransaction(_ context.Context, tx ledger.DriverTransaction) error {
	i := sort.Search(len(d.driverTxs), func(i int) bool {
		x := d.driverTxs[i]
		if !x.Date.Equal(tx.Date) {
			return x.Date.After(tx.Date)
		}
		return x.Number > tx.Number
	})
	d.driverTxs = slices.Insert(d.driverTxs, i, tx)
	return nil
}

func (d *data) LoadDriverTransactions(_ context.Context, id ledger.DriverID, asOf time.Time) ([]ledger.DriverTransaction, error) {
	var out []ledger.DriverTransaction
	for _, tx := range d.driverTxs {
		if tx.DriverID != id {
			continue
		}
		if !asOf.IsZero() && tx.Date.After(ledger.Day(asOf)) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (d *data) NextSequence(_ context.Context, scope string) (int64, error) {
	d.sequences[scope]++
	return d.sequences[scope], nil
}

func (d *data) CurrentSequence(_ context.Context, scope string) (int64, error) {
	return d.sequences[scope], nil
}

func (d *data) SaveSnapshot(_ context.Context, s ledger.Snapshot) error {
	// Never move a snapshot backwards.
	if cur, ok := d.snapshots[s.Subject]; ok && cur.LastNumber > s.LastNumber {
		return nil
	}
	d.snapshots[s.Subject] = s
	return nil
}

func (d *data) GetSnapshot(_ context.Context, subject ledger.Subject) (*ledger.Snapshot, error) {
	s, ok := d.snapshots[subject]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
