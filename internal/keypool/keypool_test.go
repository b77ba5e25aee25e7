package keypool

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, keys []string) *Pool {
	t.Helper()
	return New("test-provider", keys, 30*time.Minute, time.Minute, zap.NewNop())
}

func TestPool_Next_RoundRobin(t *testing.T) {
	p := newTestPool(t, []string{"k0", "k1", "k2"})
	ctx := context.Background()

	seen := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		h, err := p.Next(ctx)
		require.NoError(t, err)
		seen = append(seen, h.Key)
	}

	assert.Equal(t, []string{"k0", "k1", "k2", "k0", "k1", "k2"}, seen)
}

func TestPool_Next_NoKeysConfigured(t *testing.T) {
	p := newTestPool(t, nil)
	_, err := p.Next(context.Background())
	require.Error(t, err)
}

func TestPool_ReportFailure_RateLimitCoolsKeyTemporarily(t *testing.T) {
	p := newTestPool(t, []string{"k0", "k1"})
	ctx := context.Background()

	h, err := p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "k0", h.Key)

	p.ReportFailure(h.Index, "openrouter error (status 429): too many requests")

	// k0 is cooling down, so the next two handouts should both be k1.
	h1, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", h1.Key)

	h2, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", h2.Key)
}

func TestPool_ReportFailure_KeyInvalidQuarantinesLonger(t *testing.T) {
	p := New("test-provider", []string{"k0", "k1"}, time.Hour, time.Nanosecond, zap.NewNop())
	ctx := context.Background()

	h, err := p.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "k0", h.Key)

	p.ReportFailure(h.Index, "openrouter error (status 401): unauthorized")

	time.Sleep(2 * time.Millisecond)

	// k0 is quarantined for an hour, far longer than the cooldown window,
	// so it must still be skipped.
	h1, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "k1", h1.Key)
}

func TestPool_ReportSuccess_ClearsCooldown(t *testing.T) {
	p := New("test-provider", []string{"k0"}, time.Hour, time.Hour, zap.NewNop())
	ctx := context.Background()

	h, err := p.Next(ctx)
	require.NoError(t, err)

	p.ReportFailure(h.Index, "openrouter error (status 429): too many requests")
	assert.Equal(t, 0, p.ActiveCount())

	p.ReportSuccess(h.Index)
	assert.Equal(t, 1, p.ActiveCount())
}

func TestPool_Next_AllKeysCoolingDownIsTransientError(t *testing.T) {
	p := New("test-provider", []string{"k0"}, time.Hour, time.Hour, zap.NewNop())
	ctx := context.Background()

	h, err := p.Next(ctx)
	require.NoError(t, err)
	p.ReportFailure(h.Index, "429 too many requests")

	_, err = p.Next(ctx)
	require.Error(t, err)
}

func TestPool_DisableFor_CoolsEveryKey(t *testing.T) {
	p := newTestPool(t, []string{"k0", "k1", "k2"})
	p.DisableFor(time.Hour)

	assert.Equal(t, 0, p.ActiveCount())
}

func TestPool_DisableFor_NeverShortensExistingLongerCooldown(t *testing.T) {
	p := New("test-provider", []string{"k0"}, time.Minute, time.Hour, zap.NewNop())
	ctx := context.Background()

	h, err := p.Next(ctx)
	require.NoError(t, err)
	p.ReportFailure(h.Index, "429 too many requests") // cools for an hour

	p.DisableFor(time.Minute) // a shorter disable window must not shorten it

	assert.Equal(t, 0, p.ActiveCount())
}
