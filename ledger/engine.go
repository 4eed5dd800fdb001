package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// HOOKS - Optional collaborators
// =============================================================================

// Observer receives operational events. The observability package
// implements it with prometheus counters.
type Observer interface {
	SequenceIssued(class string)
	Contention(op string)
	AllocationCommitted(lines int)
	AllocationRejected(reason string)
}

// ProjectionCache stores trip projections between writes. Implementations
// must treat InvalidateTrips as authoritative: after it returns, Fetch of
// those trips reloads.
type ProjectionCache interface {
	Fetch(ctx context.Context, id TripID, load func(context.Context) (Projection, error)) (Projection, error)
	InvalidateTrips(ctx context.Context, ids ...TripID) error
}

type nopObserver struct{}

func (nopObserver) SequenceIssued(string)     {}
func (nopObserver) Contention(string)         {}
func (nopObserver) AllocationCommitted(int)   {}
func (nopObserver) AllocationRejected(string) {}

// =============================================================================
// ENGINE
// =============================================================================

// Config holds engine tunables. Zero values pick defaults.
type Config struct {
	Logger   *slog.Logger
	Observer Observer
	Cache    ProjectionCache

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	// TxTimeout bounds every mutating operation. Default 5s.
	TxTimeout time.Duration

	// MaxRetries bounds IssueWithRetry. Default 3.
	MaxRetries int

	// RetryBackoff is multiplied by the attempt number. Default 10ms.
	RetryBackoff time.Duration

	// Tolerance lets a trip count as paid when received is within this
	// amount of revenue. Default zero.
	Tolerance Amount
}

// Engine exposes every ledger operation over a TxStore.
type Engine struct {
	store     TxStore
	logger    *slog.Logger
	observer  Observer
	cache     ProjectionCache
	now       func() time.Time
	txTimeout time.Duration
	retries   int
	backoff   time.Duration
	tolerance Amount
}

func New(store TxStore, cfg Config) *Engine {
	e := &Engine{
		store:     store,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		cache:     cfg.Cache,
		now:       cfg.Now,
		txTimeout: cfg.TxTimeout,
		retries:   cfg.MaxRetries,
		backoff:   cfg.RetryBackoff,
		tolerance: cfg.Tolerance,
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.txTimeout <= 0 {
		e.txTimeout = 5 * time.Second
	}
	if e.retries <= 0 {
		e.retries = 3
	}
	if e.backoff <= 0 {
		e.backoff = 10 * time.Millisecond
	}
	return e
}

// Store returns the underlying store for read-only collaborators.
func (e *Engine) Store() Store { return e.store }

// Tolerance is the configured payment tolerance.
func (e *Engine) Tolerance() Amount { return e.tolerance }

// withTx runs fn in a bounded transaction. A deadline hit becomes
// ErrTimeout; contention is reported to the observer.
func (e *Engine) withTx(ctx context.Context, op string, fn func(Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()

	err := e.store.WithTx(ctx, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrContention):
		e.observer.Contention(op)
		return err
	case errors.Is(err, ErrTimeout):
		e.observer.Contention(op)
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		e.observer.Contention(op)
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return err
}

func (e *Engine) invalidate(ctx context.Context, ids ...TripID) {
	if e.cache == nil || len(ids) == 0 {
		return
	}
	if err := e.cache.InvalidateTrips(ctx, ids...); err != nil {
		e.logger.Warn("projection cache invalidation failed",
			slog.Any("trips", ids), slog.Any("error", err))
	}
}

func newID() string { return uuid.NewString() }
