package api

import (
	"time"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/cache"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/store"
)

// AnalyzeRequest submits one document for analysis.
type AnalyzeRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text" binding:"required"`
	Company    string `json:"company"`
	Industry   string `json:"industry"`
}

// AnalyzeResponse carries the full result and its flat summary.
type AnalyzeResponse struct {
	Result  *analysis.Result `json:"result"`
	Summary analysis.Summary `json:"summary"`
	Error   string           `json:"error,omitempty"`
}

// InvalidateRequest names the document whose cache entry should be dropped.
type InvalidateRequest struct {
	Text string `json:"text" binding:"required"`
}

// AnalysisDTO is the API representation of a persisted analysis.
type AnalysisDTO struct {
	ID               uint           `json:"id"`
	RunID            string         `json:"run_id"`
	DocumentID       string         `json:"document_id"`
	Company          string         `json:"company,omitempty"`
	Industry         string         `json:"industry,omitempty"`
	Stage            int            `json:"stage"`
	Escalated        bool           `json:"escalated"`
	EscalationFailed bool           `json:"escalation_failed"`
	FromCache        bool           `json:"from_cache"`
	Coalesced        bool           `json:"coalesced"`
	OverallRisk      string         `json:"overall_risk"`
	Confidence       float64        `json:"confidence"`
	Cost             float64        `json:"cost"`
	ProcessingTime   float64        `json:"processing_time"`
	AnomalyCount     int            `json:"anomaly_count"`
	Error            string         `json:"error,omitempty"`
	Summary          map[string]any `json:"summary,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AnomalyDTO is a persisted problematic clause.
type AnomalyDTO struct {
	ClauseID       string `json:"clause_id"`
	Section        string `json:"section"`
	Classification string `json:"classification"`
	RiskLevel      string `json:"risk_level"`
	RiskCategory   string `json:"risk_category"`
	Explanation    string `json:"explanation"`
	ConsumerImpact string `json:"consumer_impact,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`
}

// AnalysesResponse is one page of analyses.
type AnalysesResponse struct {
	Items []AnalysisDTO `json:"items"`
	Total int64         `json:"total"`
}

// AnalysisDetailResponse is an analysis with its anomalies.
type AnalysisDetailResponse struct {
	Analysis  AnalysisDTO  `json:"analysis"`
	Anomalies []AnomalyDTO `json:"anomalies"`
}

// CacheStatsResponse reports the cache state.
type CacheStatsResponse struct {
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend,omitempty"`
	Entries int64  `json:"entries"`
	cache.Stats
}

// FromModel converts a stored record to its DTO.
func FromModel(r store.AnalysisRecord) AnalysisDTO {
	return AnalysisDTO{
		ID:               r.ID,
		RunID:            r.RunID,
		DocumentID:       r.DocumentID,
		Company:          r.Company,
		Industry:         r.Industry,
		Stage:            r.Stage,
		Escalated:        r.Escalated,
		EscalationFailed: r.EscalationFailed,
		FromCache:        r.FromCache,
		Coalesced:        r.Coalesced,
		OverallRisk:      r.OverallRisk,
		Confidence:       round4(r.Confidence),
		Cost:             r.Cost,
		ProcessingTime:   round4(r.ProcessingTime),
		AnomalyCount:     r.AnomalyCount,
		Error:            r.Error,
		CreatedAt:        r.CreatedAt,
	}
}

// AnomalyFromModel converts a stored anomaly to its DTO.
func AnomalyFromModel(a store.Anomaly) AnomalyDTO {
	return AnomalyDTO{
		ClauseID:       a.ClauseID,
		Section:        a.Section,
		Classification: a.Classification,
		RiskLevel:      a.RiskLevel,
		RiskCategory:   a.RiskCategory,
		Explanation:    a.Explanation,
		ConsumerImpact: a.ConsumerImpact,
		Recommendation: a.Recommendation,
	}
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
