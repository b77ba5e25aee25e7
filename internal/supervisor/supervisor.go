// Package supervisor owns process lifecycle: it starts the configured
// number of Domain Workers plus the Coverage Guardian, restarts any
// worker goroutine that panics, and tears everything down in order on
// shutdown. Grounded on cmd/crawler/main.go's signal.Notify shutdown
// goroutine and the Fiber recover middleware's recover-and-continue
// philosophy, applied here to worker goroutines instead of HTTP handlers.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/guardian"
	"github.com/domaintensor/crawler/internal/queue"
	"github.com/domaintensor/crawler/internal/worker"
	"github.com/domaintensor/crawler/pkg/models"
)

// Supervisor owns K Domain Worker goroutines and the Coverage Guardian.
type Supervisor struct {
	queue    *queue.DomainQueue
	guardian *guardian.Guardian

	newWorker func() *worker.Worker
	count     int
	claimTTL  time.Duration

	log *zap.Logger
	wg  sync.WaitGroup
}

type Deps struct {
	Queue     *queue.DomainQueue
	Guardian  *guardian.Guardian
	NewWorker func() *worker.Worker
	Config    *config.Config
	Log       *zap.Logger
}

func New(deps Deps) *Supervisor {
	return &Supervisor{
		queue:     deps.Queue,
		guardian:  deps.Guardian,
		newWorker: deps.NewWorker,
		count:     deps.Config.Worker.Count,
		claimTTL:  deps.Config.Guardian.StuckAfter,
		log:       deps.Log,
	}
}

// Run starts every worker and the Guardian, then blocks until ctx is
// cancelled (typically by a signal.NotifyContext upstream), at which
// point it stops the Guardian and waits for in-flight worker goroutines
// to notice ctx.Done() and return.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("supervisor starting", zap.Int("worker_count", s.count))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.guardian.Start(ctx)
	}()

	for i := 0; i < s.count; i++ {
		s.wg.Add(1)
		go s.runWorkerWithRestart(ctx, i)
	}

	<-ctx.Done()
	s.log.Info("supervisor shutting down")
	s.guardian.Stop()
	s.wg.Wait()
	s.log.Info("supervisor stopped")
}

// runWorkerWithRestart runs one worker slot for the lifetime of ctx,
// recovering from a panic in the worker's goroutine and replacing it
// with a fresh worker rather than letting one bad domain take down the
// whole crawl. A worker that returns cleanly (ctx cancelled) is
// not restarted.
func (s *Supervisor) runWorkerWithRestart(ctx context.Context, slot int) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}
		if s.runOnce(ctx, slot) {
			return
		}
		s.log.Warn("worker slot restarting after panic", zap.Int("slot", slot))
	}
}

// runOnce runs a single worker instance, recovering a panic into a log
// line. It returns true if the worker exited cleanly (ctx cancelled, no
// panic), false if it needs to be restarted.
func (s *Supervisor) runOnce(ctx context.Context, slot int) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker goroutine panicked",
				zap.Int("slot", slot), zap.Any("panic", r))
			clean = false
		}
	}()

	w := s.newWorker()
	w.Run(ctx)
	return true
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Claimed          int
	Completed        int
	Failed           int
	RemainingPending int
}

// ProcessBatch claims and processes up to limit domains synchronously on
// the calling goroutine, exposed as a boundary operation for an (out of
// scope) HTTP or CLI admin surface to drive the crawl on demand.
func (s *Supervisor) ProcessBatch(ctx context.Context, limit int) (BatchResult, error) {
	w := s.newWorker()
	domains, err := s.claimBatch(ctx, w, limit)
	if err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Claimed: len(domains)}
	for _, d := range domains {
		switch w.ProcessOne(ctx, d) {
		case worker.DomainCompleted:
			result.Completed++
		case worker.DomainFailed:
			result.Failed++
		}
	}

	remaining, err := s.queue.PendingCount(ctx)
	if err != nil {
		return result, err
	}
	result.RemainingPending = remaining
	return result, nil
}

func (s *Supervisor) claimBatch(ctx context.Context, w *worker.Worker, limit int) ([]*models.Domain, error) {
	return s.queue.Claim(ctx, "manual-batch", limit, s.claimTTL)
}

// PendingCount reports how many domains are currently eligible to claim.
func (s *Supervisor) PendingCount(ctx context.Context) (int, error) {
	return s.queue.PendingCount(ctx)
}

// ResetStuck reclaims domains stuck past their claim deadline, the same
// operation the Guardian runs on its own ticker, exposed for on-demand
// invocation.
func (s *Supervisor) ResetStuck(ctx context.Context) (int, error) {
	return s.guardian.ResetStuck(ctx)
}

// ReopenDomain forces one domain back to pending regardless of its
// current status, for manual reprocessing of a slice of the tensor.
func (s *Supervisor) ReopenDomain(ctx context.Context, domainID string) error {
	return s.queue.Reopen(ctx, domainID)
}
