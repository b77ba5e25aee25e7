package store

import (
	"context"
	"fmt"
	"time"
)

// ModelCounts is the raw tally behind one model's recent outcomes.
type ModelCounts struct {
	Total           int
	PermanentErrors int
}

// OutcomeCountsSince aggregates per-model outcome counts since a cutoff,
// for the Guardian's quality audit. Aggregation is per model because that
// is what domain_responses stores; the Guardian maps models back to
// providers using its own configuration.
func (s *ResponseStore) OutcomeCountsSince(ctx context.Context, since time.Time) (map[string]ModelCounts, error) {
	const query = `
		SELECT model, outcome, COUNT(*) FROM domain_responses
		WHERE created_at >= $1
		GROUP BY model, outcome
	`
	rows, err := s.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ModelCounts)
	for rows.Next() {
		var model, outcome string
		var count int
		if err := rows.Scan(&model, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		mc := out[model]
		mc.Total += count
		if outcome == "permanent_error" {
			mc.PermanentErrors += count
		}
		out[model] = mc
	}
	return out, rows.Err()
}
