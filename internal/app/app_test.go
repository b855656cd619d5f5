package app

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/config"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

type modelBackend struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func (b *modelBackend) CompleteStructured(_ context.Context, _ string, model string, _ llm.Options) (llm.Completion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[model]++
	return llm.Completion{Raw: json.RawMessage(b.responses[model]), Model: model}, nil
}

func (b *modelBackend) count(model string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[model]
}

func testConfig(t *testing.T, cacheBackend string) *config.Config {
	t.Helper()
	return &config.Config{
		DBPath:              filepath.Join(t.TempDir(), "data", "test.db"),
		Stage1Model:         "small",
		Stage2Model:         "large",
		Stage1Cost:          analysis.DefaultStage1Cost,
		Stage2Cost:          analysis.DefaultStage2Cost,
		StageTimeout:        5 * time.Second,
		EscalationThreshold: analysis.DefaultEscalationThreshold,
		CacheEnabled:        true,
		CacheBackend:        cacheBackend,
		MaxDocumentChars:    analysis.DefaultMaxDocumentChars,
		SingleFlight:        true,
	}
}

func escalatingBackend() *modelBackend {
	return &modelBackend{
		calls: make(map[string]int),
		responses: map[string]string{
			"small": `{"confidence": 0.4, "overall_risk": "medium", "clauses": [{"clause_id": "1.1", "classification": "FLAGGED", "risk_level": "medium", "risk_category": "arbitration"}]}`,
			"large": `{"confidence": 0.9, "overall_risk": "high", "clauses": [
				{"clause_id": "1.1", "classification": "PROBLEMATIC", "risk_level": "high", "risk_category": "arbitration"},
				{"clause_id": "2.1", "classification": "NORMAL", "risk_level": "low", "risk_category": "auto_renewal"}
			]}`,
		},
	}
}

func longDocument() string {
	return "1. Disputes\nAny dispute shall be resolved by binding arbitration on an individual basis.\n\n" +
		"2. Billing\n" + strings.Repeat("Your subscription renews automatically until you cancel. ", 30)
}

func TestApp_AnalyzeEscalatesCachesAndPersists(t *testing.T) {
	for _, backendName := range []string{config.CacheBackendSQLite, config.CacheBackendMemory} {
		t.Run(backendName, func(t *testing.T) {
			ctx := context.Background()
			backend := escalatingBackend()
			a, err := New(testConfig(t, backendName), WithBackend(backend))
			require.NoError(t, err)
			defer a.Close()

			var mu sync.Mutex
			var events []analysis.EventType
			unsubscribe := a.Subscribe(analysis.ObserverFunc(func(e analysis.Event) {
				mu.Lock()
				events = append(events, e.Type)
				mu.Unlock()
			}))

			res, err := a.Analyze(ctx, analysis.Document{ID: "tos-1", Text: longDocument(), Company: "Acme"})
			require.NoError(t, err)
			assert.Equal(t, 2, res.Stage)
			assert.True(t, res.Escalated)
			assert.InDelta(t, 0.0156, res.Cost, 1e-12)

			again, err := a.Analyze(ctx, analysis.Document{ID: "tos-2", Text: longDocument()})
			require.NoError(t, err)
			assert.True(t, again.FromCache)
			assert.Equal(t, 1, backend.count("small"))
			assert.Equal(t, 1, backend.count("large"))
			assert.Equal(t, uint64(1), a.Cache().Stats().Hits)

			count, err := a.DB().CountAnalyses(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 2, count)

			record, anomalies, err := a.DB().GetAnalysis(ctx, res.RunID)
			require.NoError(t, err)
			assert.Equal(t, "Acme", record.Company)
			assert.Equal(t, "large", record.Stage2Model)
			require.Len(t, anomalies, 1)
			assert.Equal(t, "1.1", anomalies[0].ClauseID)

			unsubscribe()
			_, err = a.Analyze(ctx, analysis.Document{Text: longDocument()})
			require.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, analysis.EventStarted, events[0])
			assert.Contains(t, events, analysis.EventEscalated)
			assert.Contains(t, events, analysis.EventCacheHit)
			assert.Len(t, events, 7)

			snap := a.Metrics().Snapshot()
			assert.Equal(t, uint64(3), snap.Analyses)
			assert.Equal(t, uint64(2), snap.CacheHits)
		})
	}
}

// gatedBackend holds its first call until release is closed.
type gatedBackend struct {
	*modelBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBackend) CompleteStructured(ctx context.Context, prompt string, model string, opts llm.Options) (llm.Completion, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.modelBackend.CompleteStructured(ctx, prompt, model, opts)
}

func TestApp_ConcurrentIdenticalUploadsPersistSeparately(t *testing.T) {
	ctx := context.Background()
	backend := &gatedBackend{modelBackend: escalatingBackend(), entered: make(chan struct{}), release: make(chan struct{})}
	a, err := New(testConfig(t, config.CacheBackendMemory), WithBackend(backend))
	require.NoError(t, err)
	defer a.Close()

	ids := []string{"upload-a", "upload-b"}
	results := make([]*analysis.Result, len(ids))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := a.Analyze(ctx, analysis.Document{ID: ids[0], Text: longDocument()})
		assert.NoError(t, err)
		results[0] = res
	}()
	<-backend.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := a.Analyze(ctx, analysis.Document{ID: ids[1], Text: longDocument()})
		assert.NoError(t, err)
		results[1] = res
	}()
	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	wg.Wait()

	require.NotNil(t, results[0])
	require.NotNil(t, results[1])
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, 1, backend.count("small"))
	assert.Equal(t, 1, backend.count("large"))

	leader, follower := results[0], results[1]
	assert.InDelta(t, 0.0156, leader.Cost, 1e-12)
	assert.Zero(t, follower.Cost)
	assert.InDelta(t, 0.0156, follower.CachedCost, 1e-12)
	assert.True(t, follower.Coalesced || follower.FromCache)

	count, err := a.DB().CountAnalyses(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "each caller's run is recorded")
	for i, res := range results {
		record, _, err := a.DB().GetAnalysis(ctx, res.RunID)
		require.NoError(t, err)
		assert.Equal(t, ids[i], record.DocumentID)
	}
	assert.InDelta(t, 0.0156, a.Metrics().Snapshot().TotalCost, 1e-12)
}

func TestApp_NoBackendDegrades(t *testing.T) {
	a, err := New(testConfig(t, config.CacheBackendMemory), WithBackend(nil))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Analyze(context.Background(), analysis.Document{Text: longDocument()})
	require.Error(t, err)
	var unavailable *analysis.StageUnavailableError
	assert.ErrorAs(t, err, &unavailable)
	require.NotNil(t, res)
	assert.True(t, res.Degraded())

	count, err := a.DB().CountAnalyses(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count, "degraded results are still recorded")
}

func TestApp_PurgeExpired(t *testing.T) {
	a, err := New(testConfig(t, config.CacheBackendSQLite), WithBackend(escalatingBackend()))
	require.NoError(t, err)
	defer a.Close()

	removed, err := a.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RunPurger(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop")
	}
}

func TestNewBackend(t *testing.T) {
	backend, err := NewBackend(&config.Config{LLM: config.LLMConfig{Dialect: "openai_chat"}})
	require.NoError(t, err)
	assert.Nil(t, backend)

	backend, err = NewBackend(&config.Config{
		LLM:      config.LLMConfig{Dialect: "openai_chat"},
		Fallback: config.LLMConfig{Dialect: "anthropic", APIKey: "k", Model: "claude"},
	})
	require.NoError(t, err)
	assert.NotNil(t, backend)

	backend, err = NewBackend(&config.Config{LLM: config.LLMConfig{Dialect: "gemini", APIKey: "k"}})
	require.NoError(t, err)
	_, ok := backend.(*llm.Client)
	assert.True(t, ok)

	_, err = NewBackend(&config.Config{LLM: config.LLMConfig{Dialect: "cohere", APIKey: "k"}})
	assert.Error(t, err)
}
