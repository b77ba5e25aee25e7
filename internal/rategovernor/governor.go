// Package rategovernor bounds concurrent in-flight calls and enforces
// minimum inter-call spacing per provider, the single serialization point
// that prevents one Domain Worker from monopolizing a provider. It is
// built on golang.org/x/sync/semaphore and golang.org/x/time/rate rather
// than a hand-rolled buffered channel, since those two packages map
// directly onto "max_in_flight" and "min_spacing" without custom
// bookkeeping.
package rategovernor

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/domaintensor/crawler/pkg/models"
)

// TierDefaults configures one pacing tier.
type TierDefaults struct {
	MaxInFlight int
	MinSpacing  float64 // calls per second expressed as a rate; 0 means unlimited.
}

// Governor gates outbound calls for a single provider.
type Governor struct {
	name    string
	tier    models.Tier
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func New(name string, tier models.Tier, maxInFlight int, minSpacing float64) *Governor {
	var limiter *rate.Limiter
	if minSpacing > 0 {
		limiter = rate.NewLimiter(rate.Limit(minSpacing), 1)
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Governor{
		name:    name,
		tier:    tier,
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		limiter: limiter,
	}
}

func (g *Governor) Tier() models.Tier { return g.tier }

// Acquire blocks until a dispatch slot is free and the minimum spacing has
// elapsed, then returns a release function. The caller must call release
// exactly once, after the outbound call returns — never holding it across
// anything but that single network call.
func (g *Governor) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("rate governor %s: %w", g.name, err)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.sem.Release(1)
			return nil, fmt.Errorf("rate governor %s: %w", g.name, err)
		}
	}
	return func() { g.sem.Release(1) }, nil
}

// TierOrder is the fixed dispatch order: fast first, so the slowest
// provider dominates wall time instead of being delayed behind faster
// ones.
var TierOrder = map[models.Tier]int{
	models.TierFast:   0,
	models.TierMedium: 1,
	models.TierSlow:   2,
}
