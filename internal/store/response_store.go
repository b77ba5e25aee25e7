// Package store is the append-only sink for normalized response rows: a
// thin struct wrapping *storage.PostgresDB with one method per operation,
// errors wrapped with context.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/domaintensor/crawler/internal/storage"
	"github.com/domaintensor/crawler/pkg/models"
)

type ResponseStore struct {
	db           *storage.PostgresDB
	minuteBucket time.Duration
}

func NewResponseStore(db *storage.PostgresDB, minuteBucket time.Duration) *ResponseStore {
	if minuteBucket <= 0 {
		minuteBucket = time.Minute
	}
	return &ResponseStore{db: db, minuteBucket: minuteBucket}
}

// RowID derives the deterministic primary key for a cell at the current
// minute bucket: sha256(domain_id|prompt_id|model|bucket), hex-encoded.
// This is the write-dedup primitive that makes a Put idempotent within a
// bucket.
func (s *ResponseStore) RowID(domainID, promptID, model string, at time.Time) string {
	bucket := at.Truncate(s.minuteBucket).Unix()
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", domainID, promptID, model, bucket)))
	return hex.EncodeToString(h[:])
}

// Put inserts a response row if no row already exists for its id. A
// duplicate insert within the same minute bucket is silently dropped —
// the store does not own retries.
func (s *ResponseStore) Put(ctx context.Context, row *models.ResponseRow) (inserted bool, err error) {
	const query = `
		INSERT INTO domain_responses
			(id, domain_id, model, prompt_id, response, tokens_in, tokens_out, latency_ms, key_index, attempt, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := s.db.Pool.Exec(ctx, query,
		row.ID, row.DomainID, row.Model, row.PromptID, row.Response,
		row.TokensIn, row.TokensOut, row.LatencyMs, row.KeyIndex, row.Attempt, row.Outcome,
	)
	if err != nil {
		return false, fmt.Errorf("failed to persist response row: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Coverage reports, for every (prompt_id, model) cell a caller asks about,
// whether an ok row or a permanent_error row exists for domainID (an ok
// row takes precedence). Every stored row for the domain counts, whatever
// its age: no time window is applied.
func (s *ResponseStore) Coverage(ctx context.Context, domainID string, cells []models.Cell) (map[models.Cell]CellState, error) {
	const query = `
		SELECT prompt_id, model, outcome FROM domain_responses
		WHERE domain_id = $1
	`
	rows, err := s.db.Pool.Query(ctx, query, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage: %w", err)
	}
	defer rows.Close()

	present := make(map[[2]string]models.Outcome)
	for rows.Next() {
		var promptID, model string
		var outcome models.Outcome
		if err := rows.Scan(&promptID, &model, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan coverage row: %w", err)
		}
		key := [2]string{promptID, model}
		if present[key] != models.OutcomeOK {
			present[key] = outcome
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[models.Cell]CellState, len(cells))
	for _, c := range cells {
		key := [2]string{c.PromptID, c.Model}
		switch present[key] {
		case models.OutcomeOK:
			out[c] = CellOK
		case models.OutcomePermanentError:
			out[c] = CellPermanentError
		default:
			out[c] = CellMissing
		}
	}
	return out, nil
}

// CellState is the observed state of one tensor cell.
type CellState int

const (
	CellMissing CellState = iota
	CellOK
	CellPermanentError
)
