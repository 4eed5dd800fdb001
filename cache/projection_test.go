package cache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fleet-ledger/cache"
	"github.com/warp/fleet-ledger/ledger"
	"github.com/warp/fleet-ledger/ledger/store"
)

func newTestCache(t *testing.T) (*cache.ProjectionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewProjectionCache(client, time.Minute, nil), mr
}

func countingLoader(calls *atomic.Int32, received string) func(context.Context) (ledger.Projection, error) {
	return func(context.Context) (ledger.Projection, error) {
		calls.Add(1)
		return ledger.Projection{
			TripID:        "trip-1",
			Revenue:       ledger.MustAmount("10000.00"),
			Received:      ledger.MustAmount(received),
			PaymentStatus: ledger.PaymentPartial,
		}, nil
	}
}

func TestFetch_CachesUntilInvalidated(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	p, err := c.Fetch(ctx, "trip-1", countingLoader(&calls, "4000.00"))
	require.NoError(t, err)
	assert.Equal(t, "4000.00", p.Received.String())

	p, err = c.Fetch(ctx, "trip-1", countingLoader(&calls, "9999.00"))
	require.NoError(t, err)
	assert.Equal(t, "4000.00", p.Received.String(), "served from cache")
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, c.InvalidateTrips(ctx, "trip-1", "trip-2"))

	p, err = c.Fetch(ctx, "trip-1", countingLoader(&calls, "6000.00"))
	require.NoError(t, err)
	assert.Equal(t, "6000.00", p.Received.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ExpiresAfterTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	_, err := c.Fetch(ctx, "trip-1", countingLoader(&calls, "1.00"))
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = c.Fetch(ctx, "trip-1", countingLoader(&calls, "1.00"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_ConcurrentMissesShareLoad(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	slow := func(ctx context.Context) (ledger.Projection, error) {
		time.Sleep(100 * time.Millisecond)
		return countingLoader(&calls, "1.00")(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(ctx, "trip-1", slow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_LeaderCancelDoesNotFailSharedLoad(t *testing.T) {
	c, _ := newTestCache(t)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) (ledger.Projection, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return ledger.Projection{}, err
		}
		return ledger.Projection{TripID: "trip-1", Received: ledger.MustAmount("10.00")}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Fetch(leaderCtx, "trip-1", load)
		leaderErr <- err
	}()
	<-started

	type result struct {
		p   ledger.Projection
		err error
	}
	follower := make(chan result, 1)
	go func() {
		p, err := c.Fetch(context.Background(), "trip-1", load)
		follower <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "10.00", got.p.Received.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_RedisDownFallsBackToLoader(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()
	var calls atomic.Int32

	p, err := c.Fetch(context.Background(), "trip-1", countingLoader(&calls, "1.00"))
	require.NoError(t, err)
	assert.Equal(t, "1.00", p.Received.String())

	err = c.InvalidateTrips(context.Background(), "trip-1")
	assert.Error(t, err)
}

func TestEngine_WritesInvalidateCachedProjection(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	eng := ledger.New(store.NewMemory(), ledger.Config{Cache: c})

	_, err := eng.SaveAccount(ctx, ledger.Account{ID: "cash", Name: "Cash"})
	require.NoError(t, err)
	_, err = eng.SaveCategory(ctx, ledger.Category{ID: "freight", Name: "Freight Income", Polarity: ledger.DirectionIncome})
	require.NoError(t, err)
	_, err = eng.RegisterTrip(ctx, ledger.Trip{
		ID: "trip-1", Date: ledger.NewDate(2025, time.March, 1),
		Weight: decimal.RequireFromString("10"), Rate: ledger.MustAmount("1000.00"),
	})
	require.NoError(t, err)

	p, err := eng.ProjectTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentUnpaid, p.PaymentStatus)

	_, err = eng.Allocate(ctx, ledger.AllocationRequest{
		Amount: ledger.MustAmount("4000.00"), AccountID: "cash", CategoryID: "freight",
		Lines: []ledger.AllocationLine{{TripID: "trip-1", Amount: ledger.MustAmount("4000.00")}},
	})
	require.NoError(t, err)

	p, err = eng.ProjectTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPartial, p.PaymentStatus)
	assert.Equal(t, "6000.00", p.Outstanding.String())
}

func TestEngine_RegisterTripDropsStaleProjection(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	register := func(eng *ledger.Engine, rate string) {
		_, err := eng.RegisterTrip(ctx, ledger.Trip{
			ID: "trip-1", Date: ledger.NewDate(2025, time.March, 1),
			Weight: decimal.RequireFromString("10"), Rate: ledger.MustAmount(rate),
		})
		require.NoError(t, err)
	}

	before := ledger.New(store.NewMemory(), ledger.Config{Cache: c})
	register(before, "1000.00")
	p, err := before.ProjectTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, "10000.00", p.Revenue.String())

	// A wiped database reuses the id; the shared cache must not answer for it.
	after := ledger.New(store.NewMemory(), ledger.Config{Cache: c})
	register(after, "500.00")
	p, err = after.ProjectTrip(ctx, "trip-1")
	require.NoError(t, err)
	assert.Equal(t, "5000.00", p.Revenue.String())
}
