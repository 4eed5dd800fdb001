/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Reference data, entries and balances through the router
- Trip numbering and projection
- Allocation status progression and over-allocation problems
- Problem document mapping, validation and rate limiting
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/jobs"
	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/observability"
	"github.com/warp/fleet-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 20, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	router http.Handler
	engine *ledger.Engine
}

func newTestServer(t *testing.T, opts RouterOptions, hopts ...HandlerOption) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eng := ledger.New(store, ledger.Config{Now: func() time.Time { return testNow }})
	h := NewHandler(eng, hopts...)
	h.now = func() time.Time { return testNow }
	return &testServer{t: t, router: NewRouter(h, opts), engine: eng}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// mustDo asserts the status and decodes the JSON body.
func (s *testServer) mustDo(method, path string, body any, status int) map[string]any {
	s.t.Helper()
	rec := s.do(method, path, body)
	require.Equal(s.t, status, rec.Code, rec.Body.String())
	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return out
}

// seed creates account cash (opening 1000.00), party acme, categories
// freight (income) and fuel (expense), and driver d1.
func (s *testServer) seed() {
	s.t.Helper()
	s.mustDo(http.MethodPost, "/api/accounts", AccountRequest{ID: "cash", Name: "Cash", OpeningBalance: "1000.00"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/parties", PartyRequest{ID: "acme", Name: "Acme"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/categories", CategoryRequest{ID: "freight", Name: "Freight", Polarity: "income"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/categories", CategoryRequest{ID: "fuel", Name: "Fuel", Polarity: "expense"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/drivers", DriverRequest{ID: "d1", Name: "Ravi"}, http.StatusCreated)
}

func (s *testServer) registerTrip(id string) map[string]any {
	s.t.Helper()
	return s.mustDo(http.MethodPost, "/api/trips", TripRequest{
		ID: id, VehiclePlate: "TRK-01", PartyID: "acme", DriverID: "d1",
		Date: "2025-03-01", Weight: "10", Rate: "1000.00",
	}, http.StatusCreated)
}

func allocation(trip, amount string) AllocationRequest {
	return AllocationRequest{
		Amount: amount, AccountID: "cash", CategoryID: "freight",
		Lines: []AllocationLineRequest{{TripID: trip, Amount: amount}},
	}
}

// =============================================================================
// ENTRIES AND BALANCES
// =============================================================================

func TestEntries_AppendQueryAndBalance(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()

	in := s.mustDo(http.MethodPost, "/api/entries", EntryRequest{
		Amount: "250.50", AccountID: "cash", CategoryID: "freight", PartyID: "acme", Date: "2025-03-05",
	}, http.StatusCreated)
	assert.Equal(t, "income", in["direction"])
	assert.Equal(t, "250.50", in["signed"])

	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{
		Amount: "50.00", AccountID: "cash", CategoryID: "fuel", DriverID: "d1", Date: "2025-03-10",
	}, http.StatusCreated)

	bal := s.mustDo(http.MethodGet, "/api/accounts/cash/balance", nil, http.StatusOK)
	assert.Equal(t, "1200.50", bal["balance"])
	assert.Equal(t, "fold", bal["mode"])

	inc := s.mustDo(http.MethodGet, "/api/accounts/cash/balance?mode=incremental", nil, http.StatusOK)
	assert.Equal(t, "1200.50", inc["balance"])

	asOf := s.mustDo(http.MethodGet, "/api/accounts/cash/balance?as_of=2025-03-06", nil, http.StatusOK)
	assert.Equal(t, "1250.50", asOf["balance"])
	assert.Equal(t, "2025-03-06", asOf["as_of"])

	party := s.mustDo(http.MethodGet, "/api/parties/acme/balance", nil, http.StatusOK)
	assert.Equal(t, "250.50", party["balance"])

	rec := s.do(http.MethodGet, "/api/entries?category_id=fuel&from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []EntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "d1", entries[0].DriverID)
	assert.Equal(t, "-50.00", entries[0].Signed.String())

	got := s.mustDo(http.MethodGet, "/api/entries/"+in["id"].(string), nil, http.StatusOK)
	assert.Equal(t, in["number"], got["number"])
}

func TestEntries_ReverseOnce(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()

	in := s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "80.00", AccountID: "cash", CategoryID: "fuel"}, http.StatusCreated)
	id := in["id"].(string)

	rev := s.mustDo(http.MethodPost, "/api/entries/"+id+"/reverse", ReverseRequest{Note: "duplicate bill"}, http.StatusCreated)
	assert.Equal(t, id, rev["reversal_of"])
	assert.Equal(t, "income", rev["direction"])

	problem := s.mustDo(http.MethodPost, "/api/entries/"+id+"/reverse", nil, http.StatusConflict)
	assert.Equal(t, "/problems/already-reversed", problem["type"])

	bal := s.mustDo(http.MethodGet, "/api/accounts/cash/balance", nil, http.StatusOK)
	assert.Equal(t, "1000.00", bal["balance"])
}

func TestEntries_Errors(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()

	tests := []struct {
		name   string
		body   any
		status int
		typ    string
	}{
		{"negative amount", EntryRequest{Amount: "-5.00", AccountID: "cash", CategoryID: "fuel"}, http.StatusBadRequest, "/problems/invalid-amount"},
		{"sub-cent amount", EntryRequest{Amount: "1.005", AccountID: "cash", CategoryID: "fuel"}, http.StatusBadRequest, "/problems/invalid-amount"},
		{"unknown account", EntryRequest{Amount: "5.00", AccountID: "vault", CategoryID: "fuel"}, http.StatusUnprocessableEntity, "/problems/invalid-reference"},
		{"missing category", EntryRequest{Amount: "5.00", AccountID: "cash"}, http.StatusBadRequest, "/problems/validation"},
		{"unknown field", map[string]any{"amount": "5.00", "account_id": "cash", "category_id": "fuel", "color": "red"}, http.StatusBadRequest, "/problems/invalid-input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/entries", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
			var p map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.typ, p["type"])
			assert.Equal(t, "/api/entries", p["instance"])
		})
	}

	p := s.mustDo(http.MethodGet, "/api/entries/missing", nil, http.StatusNotFound)
	assert.Equal(t, "/problems/not-found", p["type"])
	s.mustDo(http.MethodGet, "/api/entries?direction=sideways", nil, http.StatusBadRequest)
}

func TestValidationProblem_ListsFields(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	p := s.mustDo(http.MethodPost, "/api/categories", CategoryRequest{ID: "x", Name: "X", Polarity: "sideways"}, http.StatusBadRequest)
	fields, ok := p["fields"].(map[string]any)
	require.True(t, ok, p)
	assert.Equal(t, "oneof", fields["Polarity"])
}

// =============================================================================
// TRIPS AND ALLOCATIONS
// =============================================================================

func TestTrips_NumberedPerPlateAndMonth(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()

	first := s.registerTrip("trip-1")
	assert.Equal(t, "TRK-01-1/03/2025", first["number"])
	assert.Equal(t, "10000.00", first["revenue"])
	assert.Equal(t, "unpaid", first["payment_status"])

	second := s.registerTrip("trip-2")
	assert.Equal(t, "TRK-01-2/03/2025", second["number"])

	s.mustDo(http.MethodPost, "/api/trips", TripRequest{
		ID: "trip-1", VehiclePlate: "TRK-01", Date: "2025-03-02", Weight: "1", Rate: "1.00",
	}, http.StatusConflict)

	bad := s.mustDo(http.MethodPost, "/api/trips", TripRequest{
		ID: "trip-3", VehiclePlate: "TRK/01", Date: "2025-03-02", Weight: "1", Rate: "1.00",
	}, http.StatusBadRequest)
	assert.Equal(t, "/problems/validation", bad["type"])
}

func TestTrips_UpdateRederivesRevenue(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.registerTrip("trip-1")

	updated := s.mustDo(http.MethodPut, "/api/trips/trip-1", TripRequest{
		VehiclePlate: "TRK-01", PartyID: "acme", Date: "2025-03-01", Weight: "12", Rate: "1000.00",
	}, http.StatusOK)
	assert.Equal(t, "12000.00", updated["revenue"])
	assert.Equal(t, "TRK-01-1/03/2025", updated["number"])

	s.mustDo(http.MethodPut, "/api/trips/trip-1", TripRequest{
		ID: "other", VehiclePlate: "TRK-01", Date: "2025-03-01", Weight: "12", Rate: "1000.00",
	}, http.StatusBadRequest)
	s.mustDo(http.MethodPut, "/api/trips/ghost", TripRequest{
		VehiclePlate: "TRK-01", Date: "2025-03-01", Weight: "1", Rate: "1.00",
	}, http.StatusNotFound)
}

func TestAllocations_StatusProgression(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.registerTrip("trip-1")

	res := s.mustDo(http.MethodPost, "/api/allocations", allocation("trip-1", "4000.00"), http.StatusCreated)
	assert.Equal(t, "RCPT-000001", res["receipt_number"])
	assert.NotEmpty(t, res["batch_id"])

	p := s.mustDo(http.MethodGet, "/api/trips/trip-1/projection", nil, http.StatusOK)
	assert.Equal(t, "partial", p["payment_status"])
	assert.Equal(t, "6000.00", p["outstanding"])
	assert.Equal(t, false, p["closable"])

	s.mustDo(http.MethodPost, "/api/allocations", allocation("trip-1", "6000.00"), http.StatusCreated)
	p = s.mustDo(http.MethodGet, "/api/trips/trip-1/projection", nil, http.StatusOK)
	assert.Equal(t, "paid", p["payment_status"])
	assert.Equal(t, true, p["closable"])

	over := s.mustDo(http.MethodPost, "/api/allocations", allocation("trip-1", "0.01"), http.StatusUnprocessableEntity)
	assert.Equal(t, "/problems/over-allocation", over["type"])
	assert.Equal(t, "trip-1", over["trip_id"])
	assert.Equal(t, "0.01", over["requested"])
	assert.Equal(t, "0.00", over["outstanding"])

	st := s.mustDo(http.MethodGet, "/api/parties/acme/statement", nil, http.StatusOK)
	assert.Equal(t, "10000.00", st["billed"])
	assert.Equal(t, "10000.00", st["received"])
	assert.Equal(t, "0.00", st["outstanding"])
}

func TestAllocations_UnbalancedBatch(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.registerTrip("trip-1")
	s.registerTrip("trip-2")

	req := AllocationRequest{
		Amount: "5000.00", AccountID: "cash", CategoryID: "freight",
		Lines: []AllocationLineRequest{{TripID: "trip-1", Amount: "3000.00"}, {TripID: "trip-2", Amount: "1000.00"}},
	}
	p := s.mustDo(http.MethodPost, "/api/allocations", req, http.StatusUnprocessableEntity)
	assert.Equal(t, "/problems/unbalanced-batch", p["type"])
	assert.Equal(t, "5000.00", p["declared"])
	assert.Equal(t, "4000.00", p["lines"])

	entries := s.mustDo(http.MethodGet, "/api/trips/trip-1/projection", nil, http.StatusOK)
	assert.Equal(t, "0.00", entries["received"])
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func TestCategories_DeleteBlockedThenReassigned(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.mustDo(http.MethodPost, "/api/categories", CategoryRequest{ID: "diesel", Name: "Diesel", Polarity: "expense"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "40.00", AccountID: "cash", CategoryID: "diesel"}, http.StatusCreated)

	blocked := s.mustDo(http.MethodDelete, "/api/categories/diesel", nil, http.StatusConflict)
	assert.Equal(t, "/problems/referential-block", blocked["type"])
	assert.EqualValues(t, 1, blocked["entries"])

	s.mustDo(http.MethodPost, "/api/categories/diesel/reassign", ReassignCategoryRequest{To: "freight"}, http.StatusUnprocessableEntity)
	moved := s.mustDo(http.MethodPost, "/api/categories/diesel/reassign", ReassignCategoryRequest{To: "fuel"}, http.StatusOK)
	assert.EqualValues(t, 1, moved["entries"])

	s.mustDo(http.MethodDelete, "/api/categories/diesel", nil, http.StatusNoContent)
}

func TestPartiesAndAccounts_DeleteBlocked(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "10.00", AccountID: "cash", CategoryID: "freight", PartyID: "acme"}, http.StatusCreated)

	s.mustDo(http.MethodDelete, "/api/parties/acme", nil, http.StatusConflict)
	s.mustDo(http.MethodDelete, "/api/accounts/cash", nil, http.StatusConflict)

	s.mustDo(http.MethodPost, "/api/accounts", AccountRequest{ID: "spare", Name: "Spare"}, http.StatusCreated)
	s.mustDo(http.MethodDelete, "/api/accounts/spare", nil, http.StatusNoContent)
	s.mustDo(http.MethodDelete, "/api/accounts/spare", nil, http.StatusNotFound)
}

func TestDrivers_TransactionsAndBalance(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()

	post := func(body DriverTransactionRequest) map[string]any {
		return s.mustDo(http.MethodPost, "/api/drivers/d1/transactions", body, http.StatusCreated)
	}
	post(DriverTransactionRequest{Kind: "salary", Amount: "15000.00", Date: "2025-03-01"})
	loan := post(DriverTransactionRequest{Kind: "loan", Amount: "2000.00", Date: "2025-03-05"})
	assert.Equal(t, "-2000.00", loan["signed"])
	post(DriverTransactionRequest{Kind: "other", Amount: "100.00", Direction: "expense", Date: "2025-03-07"})

	bal := s.mustDo(http.MethodGet, "/api/drivers/d1/balance", nil, http.StatusOK)
	assert.Equal(t, "12900.00", bal["balance"])
	asOf := s.mustDo(http.MethodGet, "/api/drivers/d1/balance?as_of=2025-03-02", nil, http.StatusOK)
	assert.Equal(t, "15000.00", asOf["balance"])

	s.mustDo(http.MethodPost, "/api/drivers/d1/transactions", DriverTransactionRequest{Kind: "other", Amount: "1.00"}, http.StatusBadRequest)
	s.mustDo(http.MethodPost, "/api/drivers/ghost/transactions", DriverTransactionRequest{Kind: "salary", Amount: "1.00"}, http.StatusUnprocessableEntity)

	rec := s.do(http.MethodGet, "/api/drivers/d1/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []DriverTransactionDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	assert.Len(t, txs, 3)
}

// =============================================================================
// SEQUENCES AND REPORTS
// =============================================================================

func TestSequences_IssueAndDisplay(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	first := s.mustDo(http.MethodPost, "/api/sequences/trip:TRK-01:2025-03/next", nil, http.StatusCreated)
	assert.EqualValues(t, 1, first["number"])
	assert.Equal(t, "TRK-01-1/03/2025", first["display"])

	second := s.mustDo(http.MethodPost, "/api/sequences/trip:TRK-01:2025-03/next", nil, http.StatusCreated)
	assert.EqualValues(t, 2, second["number"])

	other := s.mustDo(http.MethodPost, "/api/sequences/trip:TRK-01:2025-04/next", nil, http.StatusCreated)
	assert.EqualValues(t, 1, other["number"])

	s.mustDo(http.MethodPost, "/api/sequences/nonsense/next", nil, http.StatusBadRequest)
}

func TestSummary_ForPeriod(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seed()
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "500.00", AccountID: "cash", CategoryID: "freight", Date: "2025-03-03"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "120.00", AccountID: "cash", CategoryID: "fuel", Date: "2025-03-04"}, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "999.00", AccountID: "cash", CategoryID: "freight", Date: "2025-04-01"}, http.StatusCreated)

	sum := s.mustDo(http.MethodGet, "/api/reports/summary?from=2025-03-01&to=2025-03-31", nil, http.StatusOK)
	assert.Equal(t, "500.00", sum["total_income"])
	assert.Equal(t, "120.00", sum["total_expense"])
	assert.Equal(t, "380.00", sum["net"])

	// Defaults to the current month.
	month := s.mustDo(http.MethodGet, "/api/reports/summary", nil, http.StatusOK)
	assert.Equal(t, "380.00", month["net"])

	s.mustDo(http.MethodGet, "/api/reports/summary?from=2025-03-31&to=2025-03-01", nil, http.StatusBadRequest)
}

// =============================================================================
// SCENARIOS, ADMIN, OPERATIONS
// =============================================================================

func TestScenarios_ListAndLoad(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	list := s.mustDo(http.MethodGet, "/api/scenarios", nil, http.StatusOK)
	assert.Len(t, list["scenarios"], 4)
	assert.Equal(t, "", list["current"])

	s.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "single-trip"}, http.StatusOK)
	list = s.mustDo(http.MethodGet, "/api/scenarios", nil, http.StatusOK)
	assert.Equal(t, "single-trip", list["current"])

	s.mustDo(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, http.StatusNotFound)

	s.mustDo(http.MethodPost, "/api/reset", nil, http.StatusOK)
	rec := s.do(http.MethodGet, "/api/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestReset_NotMountedInProduction(t *testing.T) {
	s := newTestServer(t, RouterOptions{Production: true})
	req := httptest.NewRequest(http.MethodPost, "https://ledger.local/api/reset", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminVerify(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.mustDo(http.MethodPost, "/api/admin/verify", nil, http.StatusNotImplemented)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	eng := ledger.New(store, ledger.Config{})
	s = &testServer{t: t, engine: eng, router: NewRouter(NewHandler(eng, WithVerifier(jobs.NewVerifier(eng, nil, nil))), RouterOptions{})}
	s.seed()
	s.mustDo(http.MethodPost, "/api/entries", EntryRequest{Amount: "10.00", AccountID: "cash", CategoryID: "fuel"}, http.StatusCreated)

	report := s.mustDo(http.MethodPost, "/api/admin/verify?kinds=account", nil, http.StatusOK)
	assert.EqualValues(t, 1, report["checked"])
	assert.Empty(t, report["mismatches"])

	s.mustDo(http.MethodPost, "/api/admin/verify?kinds=planet", nil, http.StatusBadRequest)
}

type fakeQueue struct{ calls int }

func (q *fakeQueue) EnqueueVerifyBalances(context.Context) (*asynq.TaskInfo, error) {
	q.calls++
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueDefault}, nil
}

func TestAdminVerify_AsyncEnqueues(t *testing.T) {
	q := &fakeQueue{}
	s := newTestServer(t, RouterOptions{}, WithJobQueue(q))

	res := s.mustDo(http.MethodPost, "/api/admin/verify?async=true", nil, http.StatusAccepted)
	assert.Equal(t, "task-1", res["task_id"])
	assert.Equal(t, 1, q.calls)
}

func TestOperations_HealthMetricsAndHeaders(t *testing.T) {
	m := observability.NewMetrics()
	s := newTestServer(t, RouterOptions{Metrics: m})

	rec := s.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	s.mustDo(http.MethodGet, "/api/entries/missing", nil, http.StatusNotFound)

	rec = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fleet_http_requests_total{code="404",route="/api/entries/{id}"} 1`)
}

func TestWriteRoutes_RateLimited(t *testing.T) {
	s := newTestServer(t, RouterOptions{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		s.mustDo(http.MethodPost, "/api/parties", PartyRequest{ID: fmt.Sprintf("p%d", i), Name: "P"}, http.StatusCreated)
	}
	rec := s.do(http.MethodPost, "/api/parties", PartyRequest{ID: "p9", Name: "P"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Reads are not limited.
	s.mustDo(http.MethodGet, "/api/parties", nil, http.StatusOK)
}

// =============================================================================
// PROBLEM MAPPING
// =============================================================================

func TestProblemFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("issue: %w", ledger.ErrContention), http.StatusServiceUnavailable},
		{ledger.ErrTimeout, http.StatusServiceUnavailable},
		{&ledger.OverAllocationError{TripID: "t"}, http.StatusUnprocessableEntity},
		{&ledger.UnbalancedBatchError{}, http.StatusUnprocessableEntity},
		{&ledger.ReferenceError{Kind: "account", ID: "x"}, http.StatusUnprocessableEntity},
		{&ledger.ReferentialBlockError{Kind: "party", ID: "x", Entries: 2}, http.StatusConflict},
		{ledger.ErrAlreadyReversed, http.StatusConflict},
		{ledger.ErrDuplicate, http.StatusConflict},
		{ledger.ErrNotFound, http.StatusNotFound},
		{ledger.ErrInvalidAmount, http.StatusBadRequest},
		{ledger.ErrInvalidInput, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, problemFor(tt.err).Status)
		})
	}

	internal := problemFor(errors.New("secret dsn in message"))
	assert.Empty(t, internal.Detail, "internal details are not exposed")
}

func TestWriteProblem_RetryAfterOnContention(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/allocations", nil)
	rec := httptest.NewRecorder()
	writeProblem(rec, req, problemFor(ledger.ErrContention))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "/problems/contention", p["type"])
	assert.Equal(t, "/api/allocations", p["instance"])
}
