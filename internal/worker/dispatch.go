package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/backoff"
	"github.com/domaintensor/crawler/internal/provider"
	"github.com/domaintensor/crawler/pkg/models"
)

// runCell drives one (prompt, model) cell through the Rate Governor, Key
// Pool, and Provider Adapter, retrying transient failures with
// exponential-backoff-full-jitter up to retryMax attempts. A malformed
// body is treated as transient for its first two attempts, then escalated
// to permanent.
func (w *Worker) runCell(ctx context.Context, d *models.Domain, cell models.Cell) cellOutcome {
	governor := w.governors.For(cell.Provider)
	keys := w.keys.For(cell.Provider)
	adapter := w.adapters[cell.Provider]

	var promptText string
	for _, p := range w.prompts {
		if p.ID == cell.PromptID {
			promptText = p.Text
			break
		}
	}

	var lastErr error
	for attempt := 1; attempt <= w.retryMax; attempt++ {
		if ctx.Err() != nil {
			return cellOutcome{cell: cell, err: ctx.Err()}
		}

		if governor == nil || keys == nil || adapter == nil {
			return cellOutcome{cell: cell, err: fmt.Errorf("provider %s not wired", cell.Provider)}
		}

		handout, err := keys.Next(ctx)
		if err != nil {
			lastErr = err
			w.sleepBackoff(ctx, attempt)
			continue
		}

		release, err := governor.Acquire(ctx)
		if err != nil {
			return cellOutcome{cell: cell, err: err}
		}

		start := time.Now()
		result, callErr := adapter.Call(ctx, handout.Key, cell.Model, promptText)
		release()
		latency := int(time.Since(start).Milliseconds())

		if callErr == nil {
			keys.ReportSuccess(handout.Index)
			row := &models.ResponseRow{
				ID:        w.store.RowID(d.ID, cell.PromptID, cell.Model, time.Now()),
				DomainID:  d.ID,
				Model:     cell.Model,
				PromptID:  cell.PromptID,
				Response:  result.Content,
				TokensIn:  result.TokensIn,
				TokensOut: result.TokensOut,
				LatencyMs: latency,
				KeyIndex:  handout.Index,
				Attempt:   attempt,
				Outcome:   models.OutcomeOK,
			}
			if _, err := w.store.Put(ctx, row); err != nil {
				return cellOutcome{cell: cell, err: err}
			}
			return cellOutcome{cell: cell, outcome: models.OutcomeOK}
		}

		ce := provider.AsCallError(callErr)
		lastErr = ce
		keys.ReportFailure(handout.Index, ce.Error())

		effectiveKind := ce.Kind
		if effectiveKind == provider.KindMalformed {
			if attempt <= 2 {
				effectiveKind = provider.KindTransient
			} else {
				effectiveKind = provider.KindPermanent
			}
		}

		if effectiveKind == provider.KindPermanent {
			row := w.permanentErrorRow(d, cell, ce, attempt, handout.Index, latency)
			if _, err := w.store.Put(ctx, row); err != nil {
				return cellOutcome{cell: cell, err: err}
			}
			return cellOutcome{cell: cell, outcome: models.OutcomePermanentError}
		}

		w.log.Debug("transient failure, retrying",
			zap.String("domain_id", d.ID), zap.String("provider", cell.Provider),
			zap.String("model", cell.Model), zap.Int("attempt", attempt), zap.Error(ce))
		w.sleepBackoff(ctx, attempt)
	}

	// Retries exhausted: write a permanent_error row so the cell is not
	// endlessly retried within the window.
	row := w.permanentErrorRow(d, cell, lastErr, w.retryMax, -1, 0)
	if _, err := w.store.Put(ctx, row); err != nil {
		return cellOutcome{cell: cell, err: err}
	}
	return cellOutcome{cell: cell, outcome: models.OutcomePermanentError}
}

func (w *Worker) permanentErrorRow(d *models.Domain, cell models.Cell, cause error, attempt, keyIndex, latency int) *models.ResponseRow {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &models.ResponseRow{
		ID:        w.store.RowID(d.ID, cell.PromptID, cell.Model, time.Now()),
		DomainID:  d.ID,
		Model:     cell.Model,
		PromptID:  cell.PromptID,
		Response:  fmt.Sprintf("{\"kind\":\"permanent\",\"message\":%q}", msg),
		LatencyMs: latency,
		KeyIndex:  keyIndex,
		Attempt:   attempt,
		Outcome:   models.OutcomePermanentError,
	}
}

func (w *Worker) sleepBackoff(ctx context.Context, attempt int) {
	d := backoff.FullJitter(w.retryBase, w.retryCap, attempt)
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
