// Package keypool manages per-provider rotating credentials: an in-memory
// round-robin discovered from configuration at startup, so handouts never
// cost a DB round trip and state lives behind a sync.Mutex instead.
package keypool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domaintensor/crawler/internal/provider"
)

type keyState struct {
	key             string
	quarantineUntil time.Time
	cooldownUntil   time.Time
}

// Pool rotates credentials for a single provider.
type Pool struct {
	provider string
	mu       sync.Mutex
	keys     []*keyState
	next     int
	quarantine time.Duration
	cooldown   time.Duration
	log      *zap.Logger
}

func New(providerName string, keys []string, quarantine, cooldown time.Duration, log *zap.Logger) *Pool {
	states := make([]*keyState, len(keys))
	for i, k := range keys {
		states[i] = &keyState{key: k}
	}
	return &Pool{
		provider:   providerName,
		keys:       states,
		quarantine: quarantine,
		cooldown:   cooldown,
		log:        log,
	}
}

// Handout is a credential checked out from the pool, along with its index
// (persisted on the response row) so callers can report outcomes.
type Handout struct {
	Key   string
	Index int
}

// Next returns the next available key in round-robin order, skipping any
// key still in quarantine or cooldown. A provider with zero active keys
// is temporarily disabled: callers receive a transient error so affected
// domains are retried once a key recovers.
func (p *Pool) Next(ctx context.Context) (*Handout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.keys) == 0 {
		return nil, provider.NewTransient(0, fmt.Errorf("no keys configured for provider %s", p.provider))
	}

	now := time.Now()
	for i := 0; i < len(p.keys); i++ {
		idx := (p.next + i) % len(p.keys)
		ks := p.keys[idx]
		if ks.quarantineUntil.After(now) || ks.cooldownUntil.After(now) {
			continue
		}
		p.next = (idx + 1) % len(p.keys)
		return &Handout{Key: ks.key, Index: idx}, nil
	}

	return nil, provider.NewTransient(0, fmt.Errorf("all keys for provider %s are quarantined or cooling down", p.provider))
}

// ReportSuccess clears any cooldown on the key that just succeeded.
func (p *Pool) ReportSuccess(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.keys) {
		return
	}
	p.keys[index].cooldownUntil = time.Time{}
}

// ReportFailure cools or quarantines the key per the error's nature: a
// rate-limit (429) response cools the key briefly; an invalid-key response
// (401/403, or a provider-specific suspension) quarantines it for a much
// longer window.
func (p *Pool) ReportFailure(index int, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.keys) {
		return
	}

	ks := p.keys[index]
	now := time.Now()
	switch {
	case provider.IsKeyInvalidError(errMsg):
		ks.quarantineUntil = now.Add(p.quarantine)
		p.log.Warn("key quarantined", zap.String("provider", p.provider), zap.Int("key_index", index))
	case provider.IsRateLimitError(errMsg):
		ks.cooldownUntil = now.Add(p.cooldown)
		p.log.Warn("key cooling down", zap.String("provider", p.provider), zap.Int("key_index", index))
	}
}

// DisableFor cools every key in the pool for d, the Guardian's mechanism
// for backing a whole provider off for a cycle when its permanent_error
// rate crosses the audit threshold.
func (p *Pool) DisableFor(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until := time.Now().Add(d)
	for _, ks := range p.keys {
		if ks.cooldownUntil.Before(until) {
			ks.cooldownUntil = until
		}
	}
}

// ActiveCount reports how many keys are neither quarantined nor cooling
// down right now.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	n := 0
	for _, ks := range p.keys {
		if !ks.quarantineUntil.After(now) && !ks.cooldownUntil.After(now) {
			n++
		}
	}
	return n
}
