/*
Package cache keeps trip projections in Redis between writes.

KEYS:
  fleet:projection:<trip>:gen       generation counter, bumped on invalidation
  fleet:projection:<trip>:<gen>     JSON projection, expires after the TTL

A load that races an invalidation writes under the old generation and is
never read again, so a projection computed before a commit cannot shadow
the committed state.

FAILURE MODE:
  Redis errors never fail a read. Fetch falls back to the loader and logs
  at Warn; InvalidateTrips returns the error so the engine can log it.

SEE ALSO:
  - ledger/engine.go: ProjectionCache interface
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/warp/fleet-ledger/ledger"
)

const keyPrefix = "fleet:projection:"

// NewClient connects to addr and pings it.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return client, nil
}

// ProjectionCache implements ledger.ProjectionCache.
type ProjectionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

var _ ledger.ProjectionCache = (*ProjectionCache)(nil)

// NewProjectionCache wraps client. A non-positive ttl defaults to 5 minutes.
func NewProjectionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *ProjectionCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProjectionCache{client: client, ttl: ttl, logger: logger}
}

func genKey(id ledger.TripID) string { return keyPrefix + string(id) + ":gen" }

func dataKey(id ledger.TripID, gen int64) string {
	return keyPrefix + string(id) + ":" + strconv.FormatInt(gen, 10)
}

// Fetch returns the cached projection or loads and stores it. Concurrent
// misses for one trip share a single load.
func (c *ProjectionCache) Fetch(ctx context.Context, id ledger.TripID, load func(context.Context) (ledger.Projection, error)) (ledger.Projection, error) {
	gen, err := c.client.Get(ctx, genKey(id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("projection cache unavailable", slog.String("trip_id", string(id)), slog.Any("error", err))
		return load(ctx)
	}
	key := dataKey(id, gen)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var p ledger.Projection
		if err := json.Unmarshal(payload, &p); err == nil {
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("projection cache read failed", slog.String("trip_id", string(id)), slog.Any("error", err))
		return load(ctx)
	}

	// The flight is shared; one caller giving up must not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		p, err := load(flightCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(p)
		if err == nil {
			err = c.client.Set(flightCtx, key, raw, c.ttl).Err()
		}
		if err != nil {
			c.logger.Warn("projection cache write failed", slog.String("trip_id", string(id)), slog.Any("error", err))
		}
		return p, nil
	})

	select {
	case <-ctx.Done():
		return ledger.Projection{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ledger.Projection{}, res.Err
		}
		return res.Val.(ledger.Projection), nil
	}
}

// InvalidateTrips bumps each trip's generation in one pipeline.
func (c *ProjectionCache) InvalidateTrips(ctx context.Context, ids ...ledger.TripID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, genKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}
