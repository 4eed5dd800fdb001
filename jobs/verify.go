/*
verify.go - Balance integrity check

PURPOSE:
  Recomputes every account, party and driver balance two ways (full fold
  and incremental over the stored snapshot) and reports where they
  disagree. Snapshots are a cache, so a mismatch means a snapshot was
  written wrong or the history was altered underneath it.

CONCURRENCY:
  Subjects are checked by a bounded errgroup. A write landing between the
  two computations can make them differ transiently, so a subject is only
  reported after a second disagreement.

SEE ALSO:
  - ledger/balance.go: Balance, Incremental
  - tasks.go: asynq task wrapping VerifyBalances
*/
package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/fleet-ledger/ledger"
)

// MismatchRecorder counts mismatches; observability.Metrics implements it.
type MismatchRecorder interface {
	BalanceMismatch(kind ledger.SubjectKind)
}

// Mismatch is one subject whose balances disagree.
type Mismatch struct {
	Subject     ledger.Subject `json:"subject"`
	Fold        ledger.Amount  `json:"fold"`
	Incremental ledger.Amount  `json:"incremental"`
}

// Report summarises one verification run.
type Report struct {
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// Verifier runs VerifyBalances against an engine.
type Verifier struct {
	engine      *ledger.Engine
	recorder    MismatchRecorder
	logger      *slog.Logger
	concurrency int
}

// NewVerifier builds a verifier. recorder and logger may be nil.
func NewVerifier(engine *ledger.Engine, recorder MismatchRecorder, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Verifier{engine: engine, recorder: recorder, logger: logger, concurrency: 4}
}

// VerifyBalances checks the subjects of the given kinds, or all kinds when
// none are given.
func (v *Verifier) VerifyBalances(ctx context.Context, kinds ...ledger.SubjectKind) (Report, error) {
	subjects, err := v.subjects(ctx, kinds)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report = Report{Checked: len(subjects), Mismatches: []Mismatch{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, subject := range subjects {
		g.Go(func() error {
			m, err := v.check(gctx, subject)
			if err != nil || m == nil {
				return err
			}
			mu.Lock()
			report.Mismatches = append(report.Mismatches, *m)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("verify balances: %w", err)
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].Subject.String() < report.Mismatches[j].Subject.String()
	})
	for _, m := range report.Mismatches {
		v.logger.Error("balance mismatch",
			slog.String("subject", m.Subject.String()),
			slog.String("fold", m.Fold.String()),
			slog.String("incremental", m.Incremental.String()))
		if v.recorder != nil {
			v.recorder.BalanceMismatch(m.Subject.Kind)
		}
	}
	v.logger.Info("balances verified",
		slog.Int("checked", report.Checked), slog.Int("mismatches", len(report.Mismatches)))
	return report, nil
}

func (v *Verifier) check(ctx context.Context, subject ledger.Subject) (*Mismatch, error) {
	var m Mismatch
	for attempt := 0; attempt < 2; attempt++ {
		inc, err := v.engine.Incremental(ctx, subject)
		if err != nil {
			return nil, err
		}
		fold, err := v.engine.Balance(ctx, subject, time.Time{})
		if err != nil {
			return nil, err
		}
		if fold.Equal(inc) {
			return nil, nil
		}
		m = Mismatch{Subject: subject, Fold: fold, Incremental: inc}
	}
	return &m, nil
}

func (v *Verifier) subjects(ctx context.Context, kinds []ledger.SubjectKind) ([]ledger.Subject, error) {
	if len(kinds) == 0 {
		kinds = []ledger.SubjectKind{ledger.SubjectAccount, ledger.SubjectParty, ledger.SubjectDriver}
	}
	var out []ledger.Subject
	for _, kind := range kinds {
		switch kind {
		case ledger.SubjectAccount:
			accounts, err := v.engine.Accounts(ctx)
			if err != nil {
				return nil, err
			}
			for _, a := range accounts {
				out = append(out, ledger.AccountSubject(a.ID))
			}
		case ledger.SubjectParty:
			parties, err := v.engine.Parties(ctx)
			if err != nil {
				return nil, err
			}
			for _, p := range parties {
				out = append(out, ledger.PartySubject(p.ID))
			}
		case ledger.SubjectDriver:
			drivers, err := v.engine.Drivers(ctx)
			if err != nil {
				return nil, err
			}
			for _, d := range drivers {
				out = append(out, ledger.DriverSubject(d.ID))
			}
		default:
			return nil, fmt.Errorf("subject kind %q: %w", kind, ledger.ErrInvalidInput)
		}
	}
	return out, nil
}
