package guardian

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/store"
)

// RepairCells re-audits every domain currently marked completed: recompute
// actual coverage, and if any ok cell is missing and no
// permanent_error row covers it, the Worker marked the domain complete
// too eagerly, so revert it to pending.
func (g *Guardian) RepairCells(ctx context.Context) error {
	domains, err := g.queue.CompletedInWindow(ctx)
	if err != nil {
		return fmt.Errorf("failed to list completed domains: %w", err)
	}

	for _, d := range domains {
		coverage, err := g.store.Coverage(ctx, d.ID, g.targets)
		if err != nil {
			g.log.Error("failed to read coverage during repair", zap.String("domain_id", d.ID), zap.Error(err))
			continue
		}

		incomplete := false
		for _, state := range coverage {
			if state == store.CellMissing {
				incomplete = true
				break
			}
		}

		if incomplete {
			if err := g.queue.Reopen(ctx, d.ID); err != nil {
				g.log.Error("failed to reopen under-covered domain", zap.String("domain_id", d.ID), zap.Error(err))
				continue
			}
			g.log.Warn("reopened domain with incomplete coverage", zap.String("domain_id", d.ID))
		}
	}
	return nil
}

// AuditQuality scans recent outcome rows, and if a provider's
// permanent_error rate exceeds the configured threshold within the
// rolling audit window, raises a structured alert and cools every key in
// that provider's pool for one guardian interval.
func (g *Guardian) AuditQuality(ctx context.Context) error {
	since := time.Now().Add(-g.auditWindow)
	counts, err := g.store.OutcomeCountsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to read outcome counts: %w", err)
	}

	type providerTally struct {
		total, permanent int
	}
	byProvider := make(map[string]providerTally)
	for model, mc := range counts {
		providerName, ok := g.modelProvider[model]
		if !ok {
			continue
		}
		t := byProvider[providerName]
		t.total += mc.Total
		t.permanent += mc.PermanentErrors
		byProvider[providerName] = t
	}

	for providerName, t := range byProvider {
		if t.total == 0 {
			continue
		}
		rate := float64(t.permanent) / float64(t.total)
		if rate > g.auditThreshold {
			g.log.Warn("provider permanent_error rate exceeds threshold",
				zap.String("event", "coverage_guardian.provider_alert"),
				zap.String("provider", providerName),
				zap.Float64("permanent_error_rate", rate),
				zap.Float64("threshold", g.auditThreshold),
				zap.Int("total_calls", t.total),
			)
			if pool := g.keys.For(providerName); pool != nil {
				pool.DisableFor(g.interval)
			}
		}
	}
	return nil
}
