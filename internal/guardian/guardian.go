// Package guardian implements the Coverage Guardian: a periodic
// maintenance loop that reclaims stuck work, reopens domains with
// incomplete coverage, and audits provider quality. It runs a
// time.NewTicker plus a select over the ticker and a stop channel, the
// same shape as any scheduler that needs to run a recurring pass without
// blocking its caller.
package guardian

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/keypool"
	"github.com/domaintensor/crawler/internal/store"
	"github.com/domaintensor/crawler/pkg/models"
)

// Queue is the subset of the Queue component the Coverage Guardian
// needs, narrowed to an interface so unit tests can exercise repair and
// reset logic against an in-memory fake instead of a live database.
type Queue interface {
	ResetStuck(ctx context.Context) (int, error)
	CompletedInWindow(ctx context.Context) ([]*models.Domain, error)
	Reopen(ctx context.Context, domainID string) error
}

// Store is the subset of the Response Store the Guardian needs.
type Store interface {
	Coverage(ctx context.Context, domainID string, cells []models.Cell) (map[models.Cell]store.CellState, error)
	OutcomeCountsSince(ctx context.Context, since time.Time) (map[string]store.ModelCounts, error)
}

type Guardian struct {
	queue Queue
	store Store
	keys  *keypool.Registry

	interval       time.Duration
	auditWindow    time.Duration
	auditThreshold float64

	// modelProvider maps a model name back to the provider that serves it,
	// the inverse of the config's provider->models list, needed because
	// domain_responses rows carry model, not provider.
	modelProvider map[string]string
	targets       []models.Cell // every (prompt, model, provider) coordinate

	log      *zap.Logger
	stopChan chan struct{}
	running  bool
}

type Deps struct {
	Queue  Queue
	Store  Store
	Keys   *keypool.Registry
	Config *config.Config
	Log    *zap.Logger
}

func New(deps Deps) *Guardian {
	modelProvider := make(map[string]string)
	var allModels []string
	for _, p := range deps.Config.Providers {
		for _, m := range p.Models {
			modelProvider[m] = p.Name
			allModels = append(allModels, m)
		}
	}

	var cells []models.Cell
	for _, prompt := range deps.Config.Prompts {
		for _, p := range deps.Config.Providers {
			for _, m := range p.Models {
				cells = append(cells, models.Cell{PromptID: prompt.PromptID, Model: m, Provider: p.Name})
			}
		}
	}

	return &Guardian{
		queue:          deps.Queue,
		store:          deps.Store,
		keys:           deps.Keys,
		interval:       deps.Config.Guardian.Interval,
		auditWindow:    deps.Config.Guardian.AuditWindow,
		auditThreshold: deps.Config.Guardian.AuditThreshold,
		modelProvider:  modelProvider,
		targets:        cells,
		log:            deps.Log,
		stopChan:       make(chan struct{}),
	}
}

// Start runs the maintenance loop until Stop is called. Never issues LLM
// calls and never writes to the Response Store — read-only with respect
// to it.
func (g *Guardian) Start(ctx context.Context) {
	if g.running {
		return
	}
	g.running = true
	g.log.Info("coverage guardian started", zap.Duration("interval", g.interval))

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runOnce(ctx)
		case <-g.stopChan:
			g.log.Info("coverage guardian stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (g *Guardian) Stop() {
	if !g.running {
		return
	}
	close(g.stopChan)
	g.running = false
}

func (g *Guardian) runOnce(ctx context.Context) {
	if n, err := g.ResetStuck(ctx); err != nil {
		g.log.Error("reset_stuck failed", zap.Error(err))
	} else if n > 0 {
		g.log.Info("reclaimed stuck domains", zap.Int("count", n))
	}

	if err := g.RepairCells(ctx); err != nil {
		g.log.Error("cell repair failed", zap.Error(err))
	}

	if err := g.AuditQuality(ctx); err != nil {
		g.log.Error("quality audit failed", zap.Error(err))
	}
}

// ResetStuck reclaims domains stuck in processing past their claim
// deadline.
func (g *Guardian) ResetStuck(ctx context.Context) (int, error) {
	return g.queue.ResetStuck(ctx)
}
