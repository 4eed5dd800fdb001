package ledger_test

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/fleet-ledger/ledger"
)

// =============================================================================
// SEQUENCE TESTS
// =============================================================================

func TestIssue_StartsAtOneAndIncrements(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	key := ledger.ScopeKey{Class: "trip", Partition: "TRK-01", Period: "2025-03"}

	for want := int64(1); want <= 3; want++ {
		n, err := eng.Issue(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	// Another period starts over.
	n, err := eng.Issue(ctx, ledger.ScopeKey{Class: "trip", Partition: "TRK-01", Period: "2025-04"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cur, err := eng.CurrentSequence(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur)
}

func TestIssue_GaplessUnderConcurrency(t *testing.T) {
	// GIVEN: 50 goroutines issuing 10 numbers each from the same scope
	eng := newTestEngine(t)
	ctx := context.Background()
	key := ledger.ScopeKey{Class: "trip", Partition: "TRK-07", Period: "2025-03"}

	const workers, perWorker = 50, 10
	var (
		mu     sync.Mutex
		issued []int64
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				n, err := eng.IssueWithRetry(gctx, key)
				if err != nil {
					return err
				}
				mu.Lock()
				issued = append(issued, n)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: every number from 1 to 500 appears exactly once
	sort.Slice(issued, func(i, j int) bool { return issued[i] < issued[j] })
	require.Len(t, issued, workers*perWorker)
	for i, n := range issued {
		require.Equal(t, int64(i+1), n)
	}
}

func TestScopeKey_RoundTripAndValidation(t *testing.T) {
	key := ledger.ScopeKey{Class: "trip", Partition: "TRK-01", Period: ledger.MonthPeriodKey(2025, 3)}
	assert.Equal(t, "trip:TRK-01:2025-03", key.String())

	parsed, err := ledger.ParseScopeKey("trip:TRK-01:2025-03")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	global, err := ledger.ParseScopeKey("receipt:global:")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReceiptScope(), global)

	for _, bad := range []string{"", "trip", ":TRK-01:2025-03", "trip::2025-03", "a:b:c:d"} {
		_, err := ledger.ParseScopeKey(bad)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, bad)
	}

	_, err = newTestEngine(t).Issue(context.Background(), ledger.ScopeKey{Class: "trip", Partition: "a:b"})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}
