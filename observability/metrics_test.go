package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/ledger/store"
	"github.com/warp/fleet-ledger/observability"
)

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := observability.NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/trips/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trips/t-1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/trips/t-2", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fleet_http_requests_total{code="404",route="/api/trips/{id}"} 2`)
}

func TestObserver_CountsEngineEvents(t *testing.T) {
	m := observability.NewMetrics()
	eng := ledger.New(store.NewMemory(), ledger.Config{Observer: m})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := eng.Issue(ctx, ledger.ScopeKey{Class: "trip", Partition: "TRK-01", Period: "2025-03"})
		require.NoError(t, err)
	}

	_, err := eng.Allocate(ctx, ledger.AllocationRequest{
		Amount: ledger.MustAmount("10.00"),
		Lines:  []ledger.AllocationLine{{TripID: "t", Amount: ledger.MustAmount("5.00")}},
	})
	require.ErrorIs(t, err, ledger.ErrUnbalancedBatch)

	expected := `
# HELP fleet_sequence_issued_total Sequence numbers issued by scope class.
# TYPE fleet_sequence_issued_total counter
fleet_sequence_issued_total{class="trip"} 3
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "fleet_sequence_issued_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "fleet_allocations_total"))
}

func TestTrackJob(t *testing.T) {
	m := observability.NewMetrics()

	require.NoError(t, m.TrackJob("verify")(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.TrackJob("verify")(boom), boom)
	m.BalanceMismatch(ledger.SubjectAccount)

	expected := `
# HELP fleet_jobs_total Background job runs by job and status.
# TYPE fleet_jobs_total counter
fleet_jobs_total{job="verify",status="failure"} 1
fleet_jobs_total{job="verify",status="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "fleet_jobs_total"))
}

func TestNilMetrics(t *testing.T) {
	var m *observability.Metrics
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	m.BalanceMismatch(ledger.SubjectDriver)
}
