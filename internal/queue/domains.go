// Package queue exposes the domains table as a safe work queue under
// parallel claimants: single-statement UPDATE ... WHERE id IN (SELECT ...
// FOR UPDATE SKIP LOCKED) claims, and worker-id-scoped UPDATEs for
// release/complete/fail so a worker can never mutate a claim it does not
// hold.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/domaintensor/crawler/internal/storage"
	"github.com/domaintensor/crawler/pkg/models"
)

type DomainQueue struct {
	db *storage.PostgresDB
}

func NewDomainQueue(db *storage.PostgresDB) *DomainQueue {
	return &DomainQueue{db: db}
}

// Enqueue inserts a new pending domain, case-folding the hostname so it is
// unique. Re-enqueuing an existing hostname is a no-op.
func (q *DomainQueue) Enqueue(ctx context.Context, hostname, source string) (string, error) {
	id := uuid.New().String()
	const query = `
		INSERT INTO domains (id, domain, source)
		VALUES ($1, LOWER($2), $3)
		ON CONFLICT (domain) DO NOTHING
		RETURNING id
	`
	var returnedID string
	err := q.db.Pool.QueryRow(ctx, query, id, hostname, source).Scan(&returnedID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to enqueue domain: %w", err)
	}
	return returnedID, nil
}

// Claim atomically selects up to batchSize domains that are pending (or
// processing with an expired claim), marks them processing under
// workerID, and sets a claim deadline. Oldest last_processed_at first,
// ties broken by id; concurrent claimants never overlap due to
// FOR UPDATE SKIP LOCKED.
func (q *DomainQueue) Claim(ctx context.Context, workerID string, batchSize int, claimTTL time.Duration) ([]*models.Domain, error) {
	const query = `
		UPDATE domains
		SET status = 'processing',
		    claim_holder = $1,
		    claim_deadline = NOW() + $2::interval,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM domains
			WHERE (status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= NOW()))
			   OR (status = 'processing' AND claim_deadline < NOW())
			ORDER BY last_processed_at ASC NULLS FIRST, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, domain, status, source, created_at, updated_at, last_processed_at,
		          attempt_count, last_error, claim_holder, claim_deadline, next_attempt_at
	`

	rows, err := q.db.Pool.Query(ctx, query, workerID, fmt.Sprintf("%d seconds", int(claimTTL.Seconds())), batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to claim domains: %w", err)
	}
	defer rows.Close()

	var out []*models.Domain
	for rows.Next() {
		d := &models.Domain{}
		if err := rows.Scan(
			&d.ID, &d.Domain, &d.Status, &d.Source, &d.CreatedAt, &d.UpdatedAt,
			&d.LastProcessedAt, &d.AttemptCount, &d.LastError, &d.ClaimHolder,
			&d.ClaimDeadline, &d.NextAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claimed domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Release reverts a domain to pending if still held by workerID.
func (q *DomainQueue) Release(ctx context.Context, domainID, workerID string) error {
	const query = `
		UPDATE domains
		SET status = 'pending', claim_holder = '', claim_deadline = NULL, updated_at = NOW()
		WHERE id = $1 AND claim_holder = $2
	`
	result, err := q.db.Pool.Exec(ctx, query, domainID, workerID)
	if err != nil {
		return fmt.Errorf("failed to release domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQueueContention
	}
	return nil
}

// Complete marks a domain completed iff still held by workerID.
func (q *DomainQueue) Complete(ctx context.Context, domainID, workerID string) error {
	const query = `
		UPDATE domains
		SET status = 'completed', last_processed_at = NOW(), claim_holder = '',
		    claim_deadline = NULL, last_error = '', updated_at = NOW()
		WHERE id = $1 AND claim_holder = $2
	`
	result, err := q.db.Pool.Exec(ctx, query, domainID, workerID)
	if err != nil {
		return fmt.Errorf("failed to complete domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQueueContention
	}
	return nil
}

// Fail increments attempt_count; if still under maxAttempts it requeues as
// pending behind a backoff window, otherwise it terminates the domain as
// error with lastErr recorded.
func (q *DomainQueue) Fail(ctx context.Context, domainID, workerID, lastErr string, maxAttempts int, backoff time.Duration) error {
	const query = `
		UPDATE domains
		SET attempt_count = attempt_count + 1,
		    last_error = $3,
		    updated_at = NOW(),
		    status = CASE WHEN attempt_count + 1 < $4 THEN 'pending' ELSE 'error' END,
		    claim_holder = CASE WHEN attempt_count + 1 < $4 THEN '' ELSE claim_holder END,
		    claim_deadline = CASE WHEN attempt_count + 1 < $4 THEN NULL ELSE claim_deadline END,
		    last_processed_at = CASE WHEN attempt_count + 1 >= $4 THEN NOW() ELSE last_processed_at END,
		    next_attempt_at = CASE WHEN attempt_count + 1 < $4 THEN NOW() + $5::interval ELSE next_attempt_at END
		WHERE id = $1 AND claim_holder = $2
	`
	result, err := q.db.Pool.Exec(ctx, query, domainID, workerID, lastErr, maxAttempts,
		fmt.Sprintf("%d seconds", int(backoff.Seconds())))
	if err != nil {
		return fmt.Errorf("failed to fail domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQueueContention
	}
	return nil
}

// ResetStuck reopens every domain stuck in processing past its claim
// deadline. Fatal-on-misuse: only the Coverage Guardian calls this.
func (q *DomainQueue) ResetStuck(ctx context.Context) (int, error) {
	const query = `
		UPDATE domains
		SET status = 'pending', claim_holder = '', claim_deadline = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claim_deadline < NOW()
	`
	result, err := q.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck domains: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// Reopen moves a domain of any status back to pending, clearing its claim
// and its backoff window (next_attempt_at) so it re-enters the claim pool
// immediately; attempt_count is left unchanged. This
// is the single primitive external collaborators use to force
// reprocessing of a slice of the tensor.
func (q *DomainQueue) Reopen(ctx context.Context, domainID string) error {
	const query = `
		UPDATE domains
		SET status = 'pending', claim_holder = '', claim_deadline = NULL,
		    next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := q.db.Pool.Exec(ctx, query, domainID)
	if err != nil {
		return fmt.Errorf("failed to reopen domain: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingCount returns the number of domains currently eligible to claim.
func (q *DomainQueue) PendingCount(ctx context.Context) (int, error) {
	const query = `
		SELECT COUNT(*) FROM domains
		WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
	`
	var count int
	if err := q.db.Pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending domains: %w", err)
	}
	return count, nil
}

// CompletedInWindow lists domains currently completed, for the Guardian's
// cell-repair pass.
func (q *DomainQueue) CompletedInWindow(ctx context.Context) ([]*models.Domain, error) {
	const query = `
		SELECT id, domain, status, source, created_at, updated_at, last_processed_at,
		       attempt_count, last_error, claim_holder, claim_deadline, next_attempt_at
		FROM domains WHERE status = 'completed'
	`
	rows, err := q.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed domains: %w", err)
	}
	defer rows.Close()

	var out []*models.Domain
	for rows.Next() {
		d := &models.Domain{}
		if err := rows.Scan(
			&d.ID, &d.Domain, &d.Status, &d.Source, &d.CreatedAt, &d.UpdatedAt,
			&d.LastProcessedAt, &d.AttemptCount, &d.LastError, &d.ClaimHolder,
			&d.ClaimDeadline, &d.NextAttemptAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan completed domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
