package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleResult(runID string, stage int, risk analysis.RiskLevel, cost float64) *analysis.Result {
	r := &analysis.Result{
		RunID:       runID,
		DocumentID:  "doc-" + runID,
		ContentKey:  "abc123",
		Stage:       stage,
		Escalated:   stage == 2,
		OverallRisk: risk,
		Confidence:  0.8,
		Cost:        cost,
		Stage1:      &analysis.Assessment{Stage: 1, Model: "triage", Cost: 0.0006},
		Clauses: []analysis.ClauseFinding{
			{ClauseID: "1.1", Section: "Disputes", Classification: analysis.ClassProblematic, RiskLevel: analysis.RiskHigh, RiskCategory: "arbitration"},
			{ClauseID: "1.2", Section: "Disputes", Classification: analysis.ClassNormal, RiskLevel: analysis.RiskLow, RiskCategory: "other"},
			{ClauseID: "2.1", Section: "Billing", Classification: analysis.ClassUnusual, RiskLevel: analysis.RiskMedium, RiskCategory: "auto_renewal"},
		},
	}
	if stage == 2 {
		r.Stage2 = &analysis.Assessment{Stage: 2, Model: "deep", Cost: 0.015}
	}
	return r
}

func TestNewAnalysisRecord_KeepsOnlyProblematicClauses(t *testing.T) {
	record, anomalies := NewAnalysisRecord(sampleResult("r1", 2, analysis.RiskHigh, 0.0156), " Acme ", "saas")
	assert.Equal(t, "Acme", record.Company)
	assert.Equal(t, "triage", record.Stage1Model)
	assert.Equal(t, "deep", record.Stage2Model)
	assert.Equal(t, 2, record.AnomalyCount)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "1.1", anomalies[0].ClauseID)
	assert.Equal(t, "UNUSUAL", anomalies[1].Classification)
	assert.EqualValues(t, 2, record.Summary()["stage_reached"])
}

func TestSaveAndGetAnalysis(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	record, anomalies := NewAnalysisRecord(sampleResult("run-a", 2, analysis.RiskHigh, 0.0156), "Acme", "")
	require.NoError(t, db.SaveAnalysis(ctx, record, anomalies))
	require.NotZero(t, record.ID)

	got, gotAnomalies, err := db.GetAnalysis(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "high", got.OverallRisk)
	assert.True(t, got.Escalated)
	require.Len(t, gotAnomalies, 2)
	assert.Equal(t, "arbitration", gotAnomalies[0].RiskCategory)

	byID, _, err := db.GetAnalysis(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "run-a", byID.RunID)

	_, _, err = db.GetAnalysis(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	again, againAnomalies := NewAnalysisRecord(sampleResult("run-a", 2, analysis.RiskHigh, 0.0156), "Acme", "")
	require.NoError(t, db.SaveAnalysis(ctx, again, againAnomalies[:1]))
	assert.Equal(t, record.ID, again.ID)
	_, gotAnomalies, err = db.GetAnalysis(ctx, "run-a")
	require.NoError(t, err)
	assert.Len(t, gotAnomalies, 1, "re-saving a run replaces its anomalies")
}

func TestListAnalyses(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	inputs := []*analysis.Result{
		sampleResult("a", 1, analysis.RiskLow, 0.0006),
		sampleResult("b", 2, analysis.RiskHigh, 0.0156),
		sampleResult("c", 1, analysis.RiskMedium, 0.0006),
	}
	for _, r := range inputs {
		record, anomalies := NewAnalysisRecord(r, "", "")
		require.NoError(t, db.SaveAnalysis(ctx, record, anomalies))
	}

	rows, total, err := db.ListAnalyses(ctx, AnalysisQuery{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].RunID)

	escalated := true
	rows, total, err = db.ListAnalyses(ctx, AnalysisQuery{Escalated: &escalated})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "b", rows[0].RunID)

	rows, _, err = db.ListAnalyses(ctx, AnalysisQuery{Risk: "LOW"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].RunID)

	stage := 1
	_, total, err = db.ListAnalyses(ctx, AnalysisQuery{Stage: &stage})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	rows, total, err = db.ListAnalyses(ctx, AnalysisQuery{Sort: "cost_desc", Limit: 1, Offset: 0})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].RunID)

	rate, computed, err := db.EscalationRate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, computed)
	assert.InDelta(t, 1.0/3.0, rate, 1e-9)

	count, err := db.CountAnalyses(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestCacheStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cache := db.Cache()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k1", []byte(`{"stage":1}`), time.Hour))
	require.NoError(t, cache.Set(ctx, "k2", []byte(`{"stage":2}`), 48*time.Hour))
	value, ok, err := cache.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stage":1}`, string(value))

	require.NoError(t, cache.Set(ctx, "k1", []byte(`{"stage":2}`), time.Hour))
	value, _, err = cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":2}`, string(value))

	now = now.Add(2 * time.Hour)
	_, ok, err = cache.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries are misses")

	purged, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, cache.Delete(ctx, "k2"))
	require.NoError(t, cache.Delete(ctx, "k2"))
	_, ok, err = cache.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEscalationRate_MatchesMetrics(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	failed := sampleResult("failed", 1, analysis.RiskMedium, 0.0006)
	failed.EscalationFailed = true
	degraded := sampleResult("degraded", 0, analysis.RiskMedium, 0)
	degraded.Stage1 = nil
	cached := sampleResult("cached", 1, analysis.RiskLow, 0)
	cached.FromCache = true
	cached.CachedCost = 0.0006
	coalesced := sampleResult("coalesced", 2, analysis.RiskHigh, 0)
	coalesced.Coalesced = true
	coalesced.CachedCost = 0.0156

	inputs := []*analysis.Result{
		sampleResult("plain", 1, analysis.RiskLow, 0.0006),
		sampleResult("escalated", 2, analysis.RiskHigh, 0.0156),
		failed,
		degraded,
		cached,
		coalesced,
	}
	metrics := analysis.NewMetrics(analysis.DefaultCostModel())
	for _, r := range inputs {
		metrics.RecordResult(r)
		record, anomalies := NewAnalysisRecord(r, "", "")
		require.NoError(t, db.SaveAnalysis(ctx, record, anomalies))
	}

	rate, computed, err := db.EscalationRate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, computed, "cache hits and coalesced runs are not computed runs")
	assert.InDelta(t, 0.75, rate, 1e-9, "failed escalations and degraded runs count as escalations")

	snap := metrics.Snapshot()
	assert.EqualValues(t, computed, snap.Computed)
	assert.InDelta(t, snap.EscalationRate, rate, 1e-9)
}
