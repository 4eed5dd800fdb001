/*
scheduler.go - In-process integrity scheduler

PURPOSE:
  Runs VerifyBalances on a ticker inside the server process. Used when no
  Redis is configured and the asynq worker is not deployed.

DESIGN:
  - One background goroutine, first run immediately on Start
  - Runs never overlap; a tick during a run is dropped by the ticker
  - Stop waits for the current run to finish

USAGE:
  s := jobs.NewScheduler(verifier, time.Hour, logger)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - worker.go: the asynq equivalent for multi-process deployments
*/
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Scheduler struct {
	verifier *Verifier
	interval time.Duration
	logger   *slog.Logger

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun Report
	runs    int
}

// NewScheduler checks every interval; a non-positive interval means hourly.
func NewScheduler(verifier *Verifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = verifier.logger
	}
	return &Scheduler{verifier: verifier, interval: interval, logger: logger}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.logger.Info("integrity scheduler started", slog.Duration("interval", s.interval))
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	ticker, stop := s.ticker, s.stop
	s.ticker, s.stop = nil, nil
	s.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	s.wg.Wait()
	s.logger.Info("integrity scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow verifies immediately and records the result.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	report, err := s.verifier.VerifyBalances(ctx)
	if err != nil {
		s.logger.Warn("scheduled verification failed", slog.Any("error", err))
		return Report{}, err
	}
	s.mu.Lock()
	s.lastRun = report
	s.runs++
	s.mu.Unlock()
	return report, nil
}

// LastRun returns the most recent successful report and the run count.
func (s *Scheduler) LastRun() (Report, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.runs
}

// NextRunTime estimates when the next tick fires.
func (s *Scheduler) NextRunTime() time.Time {
	return time.Now().Add(s.interval)
}
