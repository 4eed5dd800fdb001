/*
handlers.go - HTTP API handlers for the fleet ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger and fleet packages.

ENDPOINTS:
  Reference data:
    POST   /api/accounts                    Create or update account
    GET    /api/accounts                    List accounts
    GET    /api/accounts/{id}/balance       Balance (?as_of=, ?mode=incremental)
    DELETE /api/accounts/{id}               Delete unreferenced account
    POST   /api/parties                     Create or update party
    GET    /api/parties                     List parties
    GET    /api/parties/{id}/balance        Signed balance of tagged entries
    GET    /api/parties/{id}/statement      Billed vs received
    DELETE /api/parties/{id}                Delete unreferenced party
    POST   /api/categories                  Create or update category
    GET    /api/categories                  List categories
    DELETE /api/categories/{id}             Delete unreferenced category
    POST   /api/categories/{id}/reassign    Move entries to another category

  Drivers:
    POST   /api/drivers                     Create or update driver
    GET    /api/drivers                     List drivers
    POST   /api/drivers/{id}/transactions   Record salary, loan, ...
    GET    /api/drivers/{id}/transactions   Transaction history
    GET    /api/drivers/{id}/balance        Pocket balance (?as_of=)

  Trips:
    POST   /api/trips                       Register trip, issuing its number
    PUT    /api/trips/{id}                  Update trip attributes
    GET    /api/trips/{id}                  Trip details
    GET    /api/trips/{id}/projection       Revenue, received, profit, status

  Entries and allocations:
    POST   /api/entries                     Append entry
    GET    /api/entries                     Query entries
    GET    /api/entries/{id}                Entry details
    POST   /api/entries/{id}/reverse        Append reversing entry
    POST   /api/allocations                 Split one payment across trips

  Other:
    POST   /api/sequences/{scope}/next      Issue next number in scope
    GET    /api/reports/summary             Income/expense for ?from=&to=
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Load a demo scenario
    POST   /api/admin/verify                Run the balance integrity check (?async=true enqueues)
    POST   /api/reset                       Wipe the database (dev only)

REQUEST FLOW:
  1. Decode JSON and validate shape (decodeAndValidate)
  2. Convert to ledger types (dto.go)
  3. Call the engine
  4. Serialize response, or a problem document on error (errors.go)

SECURITY NOTE:
  No authentication. Write routes are rate limited per client IP.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/warp/fleet-ledger/fleet"
	"github.com/warp/fleet-ledger/jobs"
	"github.com/warp/fleet-ledger/ledger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine   *ledger.Engine
	numberer *fleet.TripNumberer
	loader   *fleet.Loader
	verifier *jobs.Verifier
	queue    VerifyEnqueuer
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithVerifier enables POST /api/admin/verify.
func WithVerifier(v *jobs.Verifier) HandlerOption {
	return func(h *Handler) { h.verifier = v }
}

// VerifyEnqueuer hands an integrity check to the worker; jobs.Client
// implements it.
type VerifyEnqueuer interface {
	EnqueueVerifyBalances(ctx context.Context) (*asynq.TaskInfo, error)
}

// WithJobQueue lets POST /api/admin/verify?async=true enqueue the check.
func WithJobQueue(q VerifyEnqueuer) HandlerOption {
	return func(h *Handler) { h.queue = q }
}

// WithLogger sets the logger for server-side failures.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *ledger.Engine, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine:   engine,
		numberer: fleet.NewTripNumberer(engine),
		loader:   fleet.NewLoader(engine),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, ledger.ErrInvalidInput)
	}
	return nil
}

// decodeAndValidate decodes the body into dst and checks its struct tags.
// It writes the problem response itself and reports whether to continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return h.validateRequest(w, r, dst)
}

func (h *Handler) validateRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		writeProblem(w, r, validationProblem(err))
		return false
	}
	return true
}

// asOfParam reads ?as_of=YYYY-MM-DD; empty means no cut-off.
func asOfParam(r *http.Request) (time.Time, error) {
	return optionalDate(r.URL.Query().Get("as_of"))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	account, err := req.toAccount()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.engine.SaveAccount(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(saved))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.engine.Accounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	h.writeBalance(w, r, ledger.AccountSubject(ledger.AccountID(chi.URLParam(r, "id"))))
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteAccount(r.Context(), ledger.AccountID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeBalance serves a subject balance. mode=incremental uses the
// snapshot path and ignores as_of.
func (h *Handler) writeBalance(w http.ResponseWriter, r *http.Request, subject ledger.Subject) {
	ctx := r.Context()
	dto := BalanceDTO{Subject: subject.String(), Mode: "fold"}

	var (
		bal ledger.Amount
		err error
	)
	if r.URL.Query().Get("mode") == "incremental" {
		dto.Mode = "incremental"
		bal, err = h.engine.Incremental(ctx, subject)
	} else {
		var asOf time.Time
		if asOf, err = asOfParam(r); err == nil {
			if !asOf.IsZero() {
				dto.AsOf = asOf.Format(ledger.DateLayout)
			}
			bal, err = h.engine.Balance(ctx, subject, asOf)
		}
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto.Balance = bal
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// PARTIES
// =============================================================================

func (h *Handler) CreateParty(w http.ResponseWriter, r *http.Request) {
	var req PartyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	saved, err := h.engine.SaveParty(r.Context(), ledger.Party{
		ID:      ledger.PartyID(req.ID),
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
		State:   req.State,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPartyDTO(saved))
}

func (h *Handler) ListParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.engine.Parties(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]PartyDTO, len(parties))
	for i, p := range parties {
		dtos[i] = toPartyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPartyBalance(w http.ResponseWriter, r *http.Request) {
	h.writeBalance(w, r, ledger.PartySubject(ledger.PartyID(chi.URLParam(r, "id"))))
}

func (h *Handler) GetPartyStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.PartyStatement(r.Context(), ledger.PartyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) DeleteParty(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteParty(r.Context(), ledger.PartyID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	saved, err := h.engine.SaveCategory(r.Context(), ledger.Category{
		ID:          ledger.CategoryID(req.ID),
		Name:        req.Name,
		Polarity:    ledger.Direction(req.Polarity),
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(saved))
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.engine.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReassignCategory(w http.ResponseWriter, r *http.Request) {
	var req ReassignCategoryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	from := ledger.CategoryID(chi.URLParam(r, "id"))
	moved, err := h.engine.ReassignCategory(r.Context(), from, ledger.CategoryID(req.To))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": req.To, "entries": moved})
}

// =============================================================================
// DRIVERS
// =============================================================================

func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req DriverRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	saved, err := h.engine.SaveDriver(r.Context(), ledger.Driver{
		ID:         ledger.DriverID(req.ID),
		Name:       req.Name,
		EmployeeID: req.EmployeeID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriverDTO(saved))
}

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.engine.Drivers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]DriverDTO, len(drivers))
	for i, d := range drivers {
		dtos[i] = toDriverDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordDriverTransaction(w http.ResponseWriter, r *http.Request) {
	var req DriverTransactionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := ledger.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.engine.RecordDriverTransaction(r.Context(), ledger.DriverTransaction{
		DriverID:    ledger.DriverID(chi.URLParam(r, "id")),
		Kind:        ledger.DriverTransactionKind(req.Kind),
		Amount:      amount,
		Direction:   ledger.Direction(req.Direction),
		Date:        date,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDriverTransactionDTO(tx))
}

func (h *Handler) ListDriverTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.engine.DriverTransactions(r.Context(), ledger.DriverID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]DriverTransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toDriverTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetDriverBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.DriverID(chi.URLParam(r, "id"))
	asOf, err := asOfParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := h.engine.DriverBalance(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := BalanceDTO{Subject: ledger.DriverSubject(id).String(), Mode: "fold", Balance: bal}
	if !asOf.IsZero() {
		dto.AsOf = asOf.Format(ledger.DateLayout)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// TRIPS
// =============================================================================

func (h *Handler) RegisterTrip(w http.ResponseWriter, r *http.Request) {
	var req TripRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	trip, err := req.toTrip()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.numberer.RegisterTrip(r.Context(), trip)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTripDTO(saved))
}

func (h *Handler) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	var req TripRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if req.ID != "" && req.ID != id {
		h.writeError(w, r, fmt.Errorf("body id %q does not match path %q: %w", req.ID, id, ledger.ErrInvalidInput))
		return
	}
	req.ID = id
	if !h.validateRequest(w, r, &req) {
		return
	}
	trip, err := req.toTrip()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.numberer.UpdateTrip(r.Context(), trip)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(saved))
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.engine.Trip(r.Context(), ledger.TripID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTripDTO(*trip))
}

func (h *Handler) GetTripProjection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.TripID(chi.URLParam(r, "id"))
	trip, err := h.engine.Trip(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.engine.ProjectTrip(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProjectionDTO{
		Projection: p,
		Closable:   fleet.ShouldAutoClose(p, trip.Date, h.now()),
	})
}

// =============================================================================
// ENTRIES
// =============================================================================

func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.engine.Append(r.Context(), entry)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(saved))
}

func (h *Handler) QueryEntries(w http.ResponseWriter, r *http.Request) {
	f, err := entryFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.engine.Query(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func entryFilterFromQuery(r *http.Request) (ledger.EntryFilter, error) {
	q := r.URL.Query()
	f := ledger.EntryFilter{
		AccountID:  ledger.AccountID(q.Get("account_id")),
		PartyID:    ledger.PartyID(q.Get("party_id")),
		DriverID:   ledger.DriverID(q.Get("driver_id")),
		TripID:     ledger.TripID(q.Get("trip_id")),
		CategoryID: ledger.CategoryID(q.Get("category_id")),
		BatchID:    ledger.BatchID(q.Get("batch_id")),
		Direction:  ledger.Direction(q.Get("direction")),
	}
	if f.Direction != "" && !f.Direction.Valid() {
		return f, fmt.Errorf("direction %q: %w", f.Direction, ledger.ErrInvalidInput)
	}
	var err error
	if f.From, err = optionalDate(q.Get("from")); err != nil {
		return f, err
	}
	if f.To, err = optionalDate(q.Get("to")); err != nil {
		return f, err
	}
	if s := q.Get("after"); s != "" {
		if f.AfterNumber, err = strconv.ParseInt(s, 10, 64); err != nil {
			return f, fmt.Errorf("after %q: %w", s, ledger.ErrInvalidInput)
		}
	}
	return f, nil
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.Entry(r.Context(), ledger.EntryID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(*entry))
}

func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	// An empty body reverses with today's date.
	if r.ContentLength != 0 {
		if !h.decodeAndValidate(w, r, &req) {
			return
		}
	}
	date, err := optionalDate(req.Date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rev, err := h.engine.Reverse(r.Context(), ledger.EntryID(chi.URLParam(r, "id")), date, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(rev))
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	alloc, err := req.toRequest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.Allocate(r.Context(), alloc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AllocationResultDTO{
		BatchID:       string(res.BatchID),
		ReceiptNumber: fleet.FormatReceiptNumber(res.ReceiptNumber),
		Entries:       toEntryDTOs(res.Entries),
		Trips:         res.Trips,
	})
}

// =============================================================================
// SEQUENCES
// =============================================================================

// IssueSequence reserves the next number in {scope}, written as
// class:partition:period (period may be empty).
func (h *Handler) IssueSequence(w http.ResponseWriter, r *http.Request) {
	key, err := ledger.ParseScopeKey(chi.URLParam(r, "scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.engine.IssueWithRetry(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SequenceDTO{Scope: key.String(), Number: n, Display: displayNumber(key, n)})
}

// displayNumber formats n the way the fleet module prints it, when the
// class has a known format.
func displayNumber(key ledger.ScopeKey, n int64) string {
	switch key.Class {
	case fleet.ClassTrip:
		period, err := time.Parse("2006-01", key.Period)
		if err != nil {
			return ""
		}
		return fleet.FormatTripNumber(key.Partition, n, period.Month(), period.Year())
	case ledger.ClassReceipt:
		return fleet.FormatReceiptNumber(n)
	}
	return ""
}

// =============================================================================
// REPORTS
// =============================================================================

// GetSummary totals entries between from and to. Both default to the
// current month.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	p := ledger.MonthPeriod(now.Year(), now.Month())
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		d, err := optionalDate(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		p.Start = d
	}
	if s := q.Get("to"); s != "" {
		d, err := optionalDate(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		p.End = d
	}
	summary, err := h.engine.Summary(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": fleet.Scenarios(),
		"current":   current,
	})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.loader.Load(r.Context(), req.ScenarioID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) VerifyBalances(w http.ResponseWriter, r *http.Request) {
	if h.queue != nil && r.URL.Query().Get("async") == "true" {
		info, err := h.queue.EnqueueVerifyBalances(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
		return
	}
	if h.verifier == nil {
		writeProblem(w, r, Problem{
			Type:   "/problems/not-configured",
			Title:  "Integrity verifier not configured",
			Status: http.StatusNotImplemented,
		})
		return
	}
	var kinds []ledger.SubjectKind
	for _, k := range strings.Split(r.URL.Query().Get("kinds"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, ledger.SubjectKind(k))
		}
	}
	report, err := h.verifier.VerifyBalances(r.Context(), kinds...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type resetter interface {
	Reset(ctx context.Context) error
}

// ResetDatabase wipes all data. Mounted only outside production.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.engine.Store().(resetter)
	if !ok {
		h.writeError(w, r, errors.New("store does not support reset"))
		return
	}
	if err := rs.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.engine.Store().(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
