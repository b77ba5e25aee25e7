// Package worker implements the Domain Worker: the unit of execution that
// claims domains, fans out to every enabled provider in parallel, and
// decides whether a domain is complete. It uses a fan-out-with-deadline
// executor style — goroutine per cell, wait group fan-in — generalized
// from "run one graph node concurrently" to "run one tensor cell".
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/backoff"
	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/keypool"
	"github.com/domaintensor/crawler/internal/provider"
	"github.com/domaintensor/crawler/internal/rategovernor"
	"github.com/domaintensor/crawler/internal/store"
	"github.com/domaintensor/crawler/pkg/models"
)

// Queue is the subset of the Queue component a Domain Worker drives a
// claimed batch through. Narrowed to an interface (rather than the
// concrete *queue.DomainQueue) so unit tests can exercise the state
// machine against an in-memory fake instead of a live database.
type Queue interface {
	Claim(ctx context.Context, workerID string, batchSize int, claimTTL time.Duration) ([]*models.Domain, error)
	Release(ctx context.Context, domainID, workerID string) error
	Complete(ctx context.Context, domainID, workerID string) error
	Fail(ctx context.Context, domainID, workerID, lastErr string, maxAttempts int, backoff time.Duration) error
}

// Store is the subset of the Response Store a Domain Worker needs,
// narrowed for the same reason as Queue above.
type Store interface {
	RowID(domainID, promptID, model string, at time.Time) string
	Put(ctx context.Context, row *models.ResponseRow) (bool, error)
	Coverage(ctx context.Context, domainID string, cells []models.Cell) (map[models.Cell]store.CellState, error)
}

// Worker is one Domain Worker: it claims a batch, drives every claimed
// domain through LOADED -> DISPATCHING -> COLLECTING -> DECIDING ->
// RELEASED, and loops until its context is cancelled.
type Worker struct {
	id string

	queue     Queue
	store     Store
	adapters  map[string]provider.Adapter
	keys      *keypool.Registry
	governors *rategovernor.Registry

	prompts []promptDef
	targets []modelTarget

	batchSize      int
	domainDeadline time.Duration
	maxAttempts    int
	grace          time.Duration

	retryBase  time.Duration
	retryCap   time.Duration
	retryMax   int
	claimTTL   time.Duration
	coverageFrac float64

	log *zap.Logger
}

// Deps bundles the constructor's collaborators.
type Deps struct {
	Queue     Queue
	Store     Store
	Adapters  map[string]provider.Adapter
	Keys      *keypool.Registry
	Governors *rategovernor.Registry
	Config    *config.Config
	Log       *zap.Logger
}

func New(deps Deps) *Worker {
	prompts := make([]promptDef, 0, len(deps.Config.Prompts))
	for _, p := range deps.Config.Prompts {
		prompts = append(prompts, promptDef{ID: p.PromptID, Text: p.Text})
	}

	var targets []modelTarget
	for _, p := range deps.Config.Providers {
		for _, m := range p.Models {
			targets = append(targets, modelTarget{Provider: p.Name, Model: m, Tier: models.Tier(p.Tier)})
		}
	}

	w := &Worker{
		id:             uuid.New().String(),
		queue:          deps.Queue,
		store:          deps.Store,
		adapters:       deps.Adapters,
		keys:           deps.Keys,
		governors:      deps.Governors,
		prompts:        prompts,
		targets:        targets,
		batchSize:      deps.Config.Worker.BatchSize,
		domainDeadline: deps.Config.Worker.DomainDeadline,
		maxAttempts:    deps.Config.Worker.MaxAttempts,
		grace:          deps.Config.Worker.Grace,
		retryBase:      deps.Config.Retry.Base,
		retryCap:       deps.Config.Retry.Cap,
		retryMax:       deps.Config.Retry.Max,
		claimTTL:       deps.Config.Guardian.StuckAfter,
		coverageFrac:   deps.Config.Coverage.RequiredFraction,
	}
	w.log = deps.Log.With(zap.String("worker_id", w.id))
	return w
}

// Run claims and processes batches until ctx is cancelled. A failed claim
// round retries after a short delay rather than tight-looping.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		domains, err := w.queue.Claim(ctx, w.id, w.batchSize, w.claimTTL)
		if err != nil {
			w.log.Warn("claim failed, backing off", zap.Error(err))
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		if len(domains) == 0 {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, d := range domains {
			if ctx.Err() != nil {
				w.releaseOnShutdown(d)
				continue
			}
			w.processDomain(ctx, d)
		}
	}
}

// DomainOutcome is what processDomain decided for one claimed domain, so a
// caller driving a manual batch can tally results.
type DomainOutcome int

const (
	// DomainReleased covers a claim given back without either deciding
	// outcome — a coverage read failed, so the domain stays pending and
	// will be reclaimed later. Not counted as completed or failed.
	DomainReleased DomainOutcome = iota
	DomainCompleted
	DomainFailed
)

// ProcessOne claims nothing; it drives a single already-claimed domain
// through the state machine. Exposed so a manual batch operation can
// reuse it without claiming through the normal Run loop.
func (w *Worker) ProcessOne(ctx context.Context, d *models.Domain) DomainOutcome {
	return w.processDomain(ctx, d)
}

func (w *Worker) releaseOnShutdown(d *models.Domain) {
	ctx, cancel := context.WithTimeout(context.Background(), w.grace)
	defer cancel()
	if err := w.queue.Release(ctx, d.ID, w.id); err != nil {
		w.log.Warn("failed to release domain on shutdown", zap.String("domain_id", d.ID), zap.Error(err))
	}
}

type cellOutcome struct {
	cell    models.Cell
	outcome models.Outcome
	err     error
}

// processDomain drives one claimed domain through the full state machine.
func (w *Worker) processDomain(parent context.Context, d *models.Domain) DomainOutcome {
	cells := allCells(w.prompts, w.targets)

	// LOADED: drop cells already satisfied (ok or permanent_error) by any
	// stored row for this domain.
	coverage, err := w.store.Coverage(parent, d.ID, cells)
	if err != nil {
		w.log.Warn("failed to read coverage, releasing claim", zap.String("domain_id", d.ID), zap.Error(err))
		w.releaseOnShutdown(d)
		return DomainReleased
	}

	var pending []models.Cell
	for _, c := range cells {
		if coverage[c] == store.CellMissing {
			pending = append(pending, c)
		}
	}

	ctx, cancel := context.WithTimeout(parent, w.domainDeadline)
	defer cancel()

	// DISPATCHING + COLLECTING: fan out in fixed tier order (fast first)
	// so the slowest provider doesn't delay the fastest ones, and collect
	// as each future completes.
	orderedPending := sortByTier(pending, w.targets)

	results := make(chan cellOutcome, len(orderedPending))
	var wg sync.WaitGroup
	for _, cell := range orderedPending {
		wg.Add(1)
		go func(cell models.Cell) {
			defer wg.Done()
			results <- w.runCell(ctx, d, cell)
		}(cell)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		if res.err != nil {
			w.log.Debug("cell did not persist", zap.String("domain_id", d.ID), zap.String("prompt_id", res.cell.PromptID), zap.String("model", res.cell.Model), zap.Error(res.err))
		}
	}

	// DECIDING: recompute coverage after this round's writes.
	finalCoverage, err := w.store.Coverage(parent, d.ID, cells)
	if err != nil {
		w.log.Warn("failed to read final coverage, releasing claim", zap.String("domain_id", d.ID), zap.Error(err))
		w.releaseOnShutdown(d)
		return DomainReleased
	}

	okCount := 0
	for _, c := range cells {
		if finalCoverage[c] == store.CellOK {
			okCount++
		}
	}
	fraction := 0.0
	if len(cells) > 0 {
		fraction = float64(okCount) / float64(len(cells))
	}

	if fraction >= w.coverageFrac {
		if err := w.queue.Complete(parent, d.ID, w.id); err != nil {
			w.log.Warn("failed to mark domain complete", zap.String("domain_id", d.ID), zap.Error(err))
		}
		return DomainCompleted
	}

	// coverage_shortfall: missing ok cells with no exhausting the domain's
	// attempt budget requeues with backoff; otherwise terminal error.
	lastErr := fmt.Sprintf("coverage %.2f below required %.2f", fraction, w.coverageFrac)
	domainBackoff := backoff.FullJitter(w.retryBase, w.retryCap, d.AttemptCount)
	if err := w.queue.Fail(parent, d.ID, w.id, lastErr, w.maxAttempts, domainBackoff); err != nil {
		w.log.Warn("failed to fail domain", zap.String("domain_id", d.ID), zap.Error(err))
	}
	return DomainFailed
}

// sortByTier orders cells fast-tier first so cheap, high-concurrency
// providers get dispatched before slow ones gate the batch.
func sortByTier(cells []models.Cell, targets []modelTarget) []models.Cell {
	tierOf := make(map[string]models.Tier, len(targets))
	for _, t := range targets {
		tierOf[t.Provider+"/"+t.Model] = t.Tier
	}
	out := make([]models.Cell, len(cells))
	copy(out, cells)
	rank := func(c models.Cell) int {
		return rategovernor.TierOrder[tierOf[c.Provider+"/"+c.Model]]
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j]) < rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
