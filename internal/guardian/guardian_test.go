package guardian

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/keypool"
	"github.com/domaintensor/crawler/internal/store"
	"github.com/domaintensor/crawler/pkg/models"
)

type fakeQueue struct {
	resetStuckCount int
	resetStuckErr   error
	completed       []*models.Domain
	reopened        []string
}

func (q *fakeQueue) ResetStuck(ctx context.Context) (int, error) {
	return q.resetStuckCount, q.resetStuckErr
}

func (q *fakeQueue) CompletedInWindow(ctx context.Context) ([]*models.Domain, error) {
	return q.completed, nil
}

func (q *fakeQueue) Reopen(ctx context.Context, domainID string) error {
	q.reopened = append(q.reopened, domainID)
	return nil
}

type fakeStore struct {
	coverage map[string]map[models.Cell]store.CellState
	counts   map[string]store.ModelCounts
}

func (s *fakeStore) Coverage(ctx context.Context, domainID string, cells []models.Cell) (map[models.Cell]store.CellState, error) {
	return s.coverage[domainID], nil
}

func (s *fakeStore) OutcomeCountsSince(ctx context.Context, since time.Time) (map[string]store.ModelCounts, error) {
	return s.counts, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "openrouter", Models: []string{"gpt-4"}},
			{Name: "gemini", Models: []string{"gemini-pro"}},
		},
		Prompts: []config.PromptConfig{{PromptID: "p1"}},
		Guardian: config.GuardianConfig{
			Interval:       time.Hour,
			AuditWindow:    time.Hour,
			AuditThreshold: 0.5,
		},
	}
}

func TestRepairCells_ReopensDomainMissingAnOKCell(t *testing.T) {
	cfg := testConfig()
	cells := map[models.Cell]store.CellState{
		{PromptID: "p1", Model: "gpt-4", Provider: "openrouter"}:     store.CellMissing,
		{PromptID: "p1", Model: "gemini-pro", Provider: "gemini"}:     store.CellOK,
	}
	q := &fakeQueue{completed: []*models.Domain{{ID: "d1"}}}
	s := &fakeStore{coverage: map[string]map[models.Cell]store.CellState{"d1": cells}}

	g := New(Deps{Queue: q, Store: s, Keys: keypool.NewRegistry(nil, time.Minute, time.Minute, zap.NewNop()), Config: cfg, Log: zap.NewNop()})

	require.NoError(t, g.RepairCells(context.Background()))
	assert.Equal(t, []string{"d1"}, q.reopened)
}

func TestRepairCells_LeavesFullyCoveredDomainAlone(t *testing.T) {
	cfg := testConfig()
	cells := map[models.Cell]store.CellState{
		{PromptID: "p1", Model: "gpt-4", Provider: "openrouter"}:     store.CellOK,
		{PromptID: "p1", Model: "gemini-pro", Provider: "gemini"}:     store.CellPermanentError,
	}
	q := &fakeQueue{completed: []*models.Domain{{ID: "d1"}}}
	s := &fakeStore{coverage: map[string]map[models.Cell]store.CellState{"d1": cells}}

	g := New(Deps{Queue: q, Store: s, Keys: keypool.NewRegistry(nil, time.Minute, time.Minute, zap.NewNop()), Config: cfg, Log: zap.NewNop()})

	require.NoError(t, g.RepairCells(context.Background()))
	assert.Empty(t, q.reopened)
}

func TestAuditQuality_DisablesProviderOverThreshold(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := &fakeStore{counts: map[string]store.ModelCounts{
		"gpt-4": {Total: 10, PermanentErrors: 8}, // 80% > 50% threshold
	}}
	keys := keypool.NewRegistry(map[string][]string{"openrouter": {"k0"}}, time.Minute, time.Minute, zap.NewNop())

	g := New(Deps{Queue: q, Store: s, Keys: keys, Config: cfg, Log: zap.NewNop()})

	require.NoError(t, g.AuditQuality(context.Background()))
	assert.Equal(t, 0, keys.For("openrouter").ActiveCount(), "provider over threshold should have its keys cooled")
}

func TestAuditQuality_LeavesHealthyProviderAlone(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := &fakeStore{counts: map[string]store.ModelCounts{
		"gpt-4": {Total: 10, PermanentErrors: 1}, // 10% < 50% threshold
	}}
	keys := keypool.NewRegistry(map[string][]string{"openrouter": {"k0"}}, time.Minute, time.Minute, zap.NewNop())

	g := New(Deps{Queue: q, Store: s, Keys: keys, Config: cfg, Log: zap.NewNop()})

	require.NoError(t, g.AuditQuality(context.Background()))
	assert.Equal(t, 1, keys.For("openrouter").ActiveCount())
}

func TestResetStuck_DelegatesToQueue(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{resetStuckCount: 3}
	s := &fakeStore{}
	g := New(Deps{Queue: q, Store: s, Keys: keypool.NewRegistry(nil, time.Minute, time.Minute, zap.NewNop()), Config: cfg, Log: zap.NewNop()})

	n, err := g.ResetStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGuardian_StartStop_RunsUntilStopped(t *testing.T) {
	cfg := testConfig()
	cfg.Guardian.Interval = 5 * time.Millisecond
	q := &fakeQueue{}
	s := &fakeStore{}
	g := New(Deps{Queue: q, Store: s, Keys: keypool.NewRegistry(nil, time.Minute, time.Minute, zap.NewNop()), Config: cfg, Log: zap.NewNop()})

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		g.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	g.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guardian did not stop after Stop()")
	}
}
