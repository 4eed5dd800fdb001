/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Metrics:    Request count and latency by route pattern
  2. RequestID:  Unique ID per request for tracing
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Security headers, HTTPS redirect in production
  6. CORS:       Cross-origin requests for frontend

  Write routes additionally pass a per-IP rate limiter.

ROUTE GROUPS:
  /api/accounts/*       Accounts and balances
  /api/parties/*        Parties, balances, statements
  /api/categories/*     Categories and reassignment
  /api/drivers/*        Drivers and their transactions
  /api/trips/*          Trip registration and projection
  /api/entries/*        Ledger entries and reversals
  /api/allocations      Payment allocation
  /api/sequences/*      Sequence issuing
  /api/reports/*        Summary reports
  /api/scenarios/*      Demo scenarios
  /api/admin/*          Integrity check
  /api/reset            Database reset (dev only)
  /metrics, /healthz    Operations

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/warp/fleet-ledger/observability"
)

// RouterOptions configures NewRouter. The zero value is usable.
type RouterOptions struct {
	Metrics            *observability.Metrics
	RateLimitPerMinute int
	Production         bool
	AllowedOrigins     []string
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	}).Handler)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	writeLimit := writeLimiter(opts.RateLimitPerMinute)

	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", opts.Metrics.Handler().ServeHTTP)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Reads
		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{id}/balance", h.GetAccountBalance)
		r.Get("/parties", h.ListParties)
		r.Get("/parties/{id}/balance", h.GetPartyBalance)
		r.Get("/parties/{id}/statement", h.GetPartyStatement)
		r.Get("/categories", h.ListCategories)
		r.Get("/drivers", h.ListDrivers)
		r.Get("/drivers/{id}/transactions", h.ListDriverTransactions)
		r.Get("/drivers/{id}/balance", h.GetDriverBalance)
		r.Get("/trips/{id}", h.GetTrip)
		r.Get("/trips/{id}/projection", h.GetTripProjection)
		r.Get("/entries", h.QueryEntries)
		r.Get("/entries/{id}", h.GetEntry)
		r.Get("/reports/summary", h.GetSummary)
		r.Get("/scenarios", h.ListScenarios)

		// Writes
		r.Group(func(r chi.Router) {
			r.Use(writeLimit)

			r.Post("/accounts", h.CreateAccount)
			r.Delete("/accounts/{id}", h.DeleteAccount)
			r.Post("/parties", h.CreateParty)
			r.Delete("/parties/{id}", h.DeleteParty)
			r.Post("/categories", h.CreateCategory)
			r.Delete("/categories/{id}", h.DeleteCategory)
			r.Post("/categories/{id}/reassign", h.ReassignCategory)
			r.Post("/drivers", h.CreateDriver)
			r.Post("/drivers/{id}/transactions", h.RecordDriverTransaction)
			r.Post("/trips", h.RegisterTrip)
			r.Put("/trips/{id}", h.UpdateTrip)
			r.Post("/entries", h.AppendEntry)
			r.Post("/entries/{id}/reverse", h.ReverseEntry)
			r.Post("/allocations", h.Allocate)
			r.Post("/sequences/{scope}/next", h.IssueSequence)
			r.Post("/scenarios/load", h.LoadScenario)
			r.Post("/admin/verify", h.VerifyBalances)
			if !opts.Production {
				r.Post("/reset", h.ResetDatabase)
			}
		})
	})

	return r
}

// writeLimiter limits writes per client IP. A non-positive limit disables it.
func writeLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeProblem(w, r, Problem{
				Type:   "/problems/rate-limited",
				Title:  "Too many requests",
				Status: http.StatusTooManyRequests,
			})
		}),
	)
}
