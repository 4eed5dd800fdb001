package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/warp/fleet-ledger/ledger"
)

const (
	// QueueDefault is the queue every ledger job runs on.
	QueueDefault = "default"
	// TaskVerifyBalances recomputes balances and reports snapshot drift.
	TaskVerifyBalances = "ledger:verify_balances"
)

// VerifyBalancesPayload selects subject kinds; empty checks all.
type VerifyBalancesPayload struct {
	Kinds []ledger.SubjectKind `json:"kinds,omitempty"`
}

func NewVerifyBalancesTask(kinds ...ledger.SubjectKind) (*asynq.Task, error) {
	data, err := json.Marshal(VerifyBalancesPayload{Kinds: kinds})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVerifyBalances, data), nil
}

// JobTracker times a job run; observability.Metrics.TrackJob fits.
type JobTracker func(job string) func(error) error

// VerifyBalancesHandler processes TaskVerifyBalances tasks.
func VerifyBalancesHandler(v *Verifier, track JobTracker) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VerifyBalancesPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
			}
		}
		done := func(err error) error { return err }
		if track != nil {
			done = track(TaskVerifyBalances)
		}

		// Mismatches are logged and counted, not retried.
		if _, err := v.VerifyBalances(ctx, payload.Kinds...); err != nil {
			v.logger.Warn("verify balances failed", slog.String("task", TaskVerifyBalances), slog.Any("error", err))
			return done(err)
		}
		return done(nil)
	}
}
