package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/internal/keypool"
	"github.com/domaintensor/crawler/internal/provider"
	"github.com/domaintensor/crawler/internal/rategovernor"
	"github.com/domaintensor/crawler/internal/store"
	"github.com/domaintensor/crawler/pkg/models"
)

// fakeQueue is an in-memory Queue fake so the state machine can be
// exercised without a live Postgres.
type fakeQueue struct {
	mu         sync.Mutex
	claimBatch []*models.Domain
	completed  []string
	released   []string
	failCalls  []fakeFailCall
}

type fakeFailCall struct {
	domainID    string
	lastErr     string
	maxAttempts int
}

func (q *fakeQueue) Claim(ctx context.Context, workerID string, batchSize int, claimTTL time.Duration) ([]*models.Domain, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.claimBatch
	q.claimBatch = nil
	return out, nil
}

func (q *fakeQueue) Release(ctx context.Context, domainID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, domainID)
	return nil
}

func (q *fakeQueue) Complete(ctx context.Context, domainID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, domainID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, domainID, workerID, lastErr string, maxAttempts int, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failCalls = append(q.failCalls, fakeFailCall{domainID: domainID, lastErr: lastErr, maxAttempts: maxAttempts})
	return nil
}

// fakeStore mirrors ResponseStore.Coverage's semantics (keyed by
// prompt+model, blind to provider, exactly like the real SQL query)
// without needing a database.
type fakeStore struct {
	mu       sync.Mutex
	outcomes map[[2]string]models.Outcome
	puts     []*models.ResponseRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{outcomes: make(map[[2]string]models.Outcome)}
}

func (s *fakeStore) RowID(domainID, promptID, model string, at time.Time) string {
	return domainID + "|" + promptID + "|" + model
}

func (s *fakeStore) Put(ctx context.Context, row *models.ResponseRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, row)
	key := [2]string{row.PromptID, row.Model}
	if s.outcomes[key] != models.OutcomeOK {
		s.outcomes[key] = row.Outcome
	}
	return true, nil
}

func (s *fakeStore) Coverage(ctx context.Context, domainID string, cells []models.Cell) (map[models.Cell]store.CellState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.Cell]store.CellState, len(cells))
	for _, c := range cells {
		switch s.outcomes[[2]string{c.PromptID, c.Model}] {
		case models.OutcomeOK:
			out[c] = store.CellOK
		case models.OutcomePermanentError:
			out[c] = store.CellPermanentError
		default:
			out[c] = store.CellMissing
		}
	}
	return out, nil
}

type fakeAdapter struct {
	name   string
	callFn func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error)
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Call(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
	return a.callFn(ctx, apiKey, model, promptText)
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{{Name: "openrouter", Tier: "fast", Models: []string{"gpt-4"}}},
		Prompts:   []config.PromptConfig{{PromptID: "p1", Text: "hi"}},
		Worker: config.WorkerConfig{
			BatchSize:      10,
			DomainDeadline: time.Second,
			MaxAttempts:    3,
			Grace:          2 * time.Second,
		},
		Rate: config.RateConfig{
			Fast: config.TierRateConfig{MaxInFlight: 4},
		},
		Retry:    config.RetryConfig{Base: time.Millisecond, Cap: 10 * time.Millisecond, Max: 2},
		Store:    config.StoreConfig{MinuteBucket: time.Minute},
		Coverage: config.CoverageConfig{RequiredFraction: 1.0},
		Guardian: config.GuardianConfig{StuckAfter: 10 * time.Minute},
	}
}

func newTestWorker(t *testing.T, cfg *config.Config, q *fakeQueue, s *fakeStore, adapter provider.Adapter) *Worker {
	t.Helper()
	return New(Deps{
		Queue:     q,
		Store:     s,
		Adapters:  map[string]provider.Adapter{"openrouter": adapter},
		Keys:      keypool.NewRegistry(map[string][]string{"openrouter": {"k0"}}, time.Minute, time.Minute, zap.NewNop()),
		Governors: rategovernor.NewRegistryFromConfig(cfg.Providers, cfg.Rate),
		Config:    cfg,
		Log:       zap.NewNop(),
	})
}

func TestProcessDomain_AllCellsSucceed_CompletesDomain(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := newFakeStore()
	adapter := &fakeAdapter{name: "openrouter", callFn: func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
		return &provider.Result{Content: "a real answer"}, nil
	}}
	w := newTestWorker(t, cfg, q, s, adapter)

	w.ProcessOne(context.Background(), &models.Domain{ID: "d1"})

	assert.Equal(t, []string{"d1"}, q.completed)
	assert.Empty(t, q.failCalls)
}

func TestProcessDomain_AllCellsPermanentError_FailsBelowCoverage(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := newFakeStore()
	adapter := &fakeAdapter{name: "openrouter", callFn: func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
		return nil, provider.NewPermanent(400, assertErr("bad request"))
	}}
	w := newTestWorker(t, cfg, q, s, adapter)

	w.ProcessOne(context.Background(), &models.Domain{ID: "d1"})

	assert.Empty(t, q.completed)
	require.Len(t, q.failCalls, 1)
	assert.Equal(t, "d1", q.failCalls[0].domainID)
	assert.Equal(t, 3, q.failCalls[0].maxAttempts)
}

func TestProcessDomain_TransientRetriesExhausted_PersistsPermanentErrorRow(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := newFakeStore()
	calls := 0
	adapter := &fakeAdapter{name: "openrouter", callFn: func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
		calls++
		return nil, provider.NewTransient(503, assertErr("server is busy"))
	}}
	w := newTestWorker(t, cfg, q, s, adapter)

	w.ProcessOne(context.Background(), &models.Domain{ID: "d1"})

	assert.Equal(t, cfg.Retry.Max, calls, "should retry up to the configured max before giving up")
	require.Len(t, s.puts, 1)
	assert.Equal(t, models.OutcomePermanentError, s.puts[0].Outcome)
	require.Len(t, q.failCalls, 1)
}

func TestProcessDomain_AlreadyCoveredCellsAreNotReDispatched(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{}
	s := newFakeStore()
	s.outcomes[[2]string{"p1", "gpt-4"}] = models.OutcomeOK

	called := false
	adapter := &fakeAdapter{name: "openrouter", callFn: func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
		called = true
		return &provider.Result{Content: "should not happen"}, nil
	}}
	w := newTestWorker(t, cfg, q, s, adapter)

	w.ProcessOne(context.Background(), &models.Domain{ID: "d1"})

	assert.False(t, called, "a cell already ok in the current window must not be re-dispatched")
	assert.Equal(t, []string{"d1"}, q.completed)
}

func TestWorker_Run_ProcessesClaimedBatchThenIdles(t *testing.T) {
	cfg := testConfig()
	q := &fakeQueue{claimBatch: []*models.Domain{{ID: "d1"}}}
	s := newFakeStore()
	adapter := &fakeAdapter{name: "openrouter", callFn: func(ctx context.Context, apiKey, model, promptText string) (*provider.Result, error) {
		return &provider.Result{Content: "answer"}, nil
	}}
	w := newTestWorker(t, cfg, q, s, adapter)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []string{"d1"}, q.completed)
}

type assertErrString string

func (e assertErrString) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrString(msg) }
