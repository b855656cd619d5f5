package analysis

import (
	"math"
	"time"
)

// Result is the unified outcome of one Analyze call. It is not modified
// after being returned.
type Result struct {
	RunID            string          `json:"run_id"`
	DocumentID       string          `json:"document_id"`
	ContentKey       string          `json:"content_key"`
	Stage            int             `json:"stage"`
	Escalated        bool            `json:"escalated"`
	Stage1           *Assessment     `json:"stage1_result,omitempty"`
	Stage2           *Assessment     `json:"stage2_result,omitempty"`
	Clauses          []ClauseFinding `json:"clauses"`
	OverallRisk      RiskLevel       `json:"overall_risk"`
	Confidence       float64         `json:"confidence"`
	Cost             float64         `json:"cost"`
	ProcessingTime   float64         `json:"processing_time"`
	FromCache        bool            `json:"from_cache"`
	Coalesced        bool            `json:"coalesced,omitempty"`
	CachedCost       float64         `json:"cached_cost,omitempty"`
	EscalationFailed bool            `json:"escalation_failed"`
	Error            string          `json:"error,omitempty"`
	AnalyzedAt       time.Time       `json:"analyzed_at"`

	costModel CostModel
}

// Degraded reports whether no stage produced a result.
func (r *Result) Degraded() bool {
	return r.Stage == 0
}

// EscalationAttempted reports whether the run was routed to the analyzer:
// it escalated, its escalation failed, or both stages failed. Escalation
// rates count these runs over all computed runs.
func (r *Result) EscalationAttempted() bool {
	return r.Escalated || r.EscalationFailed || r.Degraded()
}

// AnomalyCount counts clause findings in the problematic set.
func (r *Result) AnomalyCount() int {
	return anomalyCount(r.Clauses)
}

// StageSummary is the per-stage breakdown in a Summary.
type StageSummary struct {
	Model          string    `json:"model"`
	Confidence     float64   `json:"confidence"`
	OverallRisk    RiskLevel `json:"overall_risk"`
	ClauseCount    int       `json:"clause_count"`
	AnomalyCount   int       `json:"anomaly_count"`
	Cost           float64   `json:"cost"`
	ProcessingTime float64   `json:"processing_time"`
	Attempts       int       `json:"attempts"`
	Coercions      int       `json:"coercions"`
}

// Summary is the flat JSON view of a Result handed to collaborators.
type Summary struct {
	DocumentID          string        `json:"document_id"`
	StageReached        int           `json:"stage_reached"`
	Escalated           bool          `json:"escalated"`
	FinalRisk           RiskLevel     `json:"final_risk"`
	FinalConfidence     float64       `json:"final_confidence"`
	TotalCost           float64       `json:"total_cost"`
	TotalProcessingTime float64       `json:"total_processing_time"`
	AnomalyCount        int           `json:"anomaly_count"`
	CostEfficiency      float64       `json:"cost_efficiency"`
	Stage1              *StageSummary `json:"stage1,omitempty"`
	Stage2              *StageSummary `json:"stage2,omitempty"`
	FromCache           bool          `json:"from_cache"`
	Coalesced           bool          `json:"coalesced,omitempty"`
	EscalationFailed    bool          `json:"escalation_failed"`
	Error               string        `json:"error,omitempty"`
}

// Summary flattens the result. cost_efficiency is the percentage saved
// against running the deep analyzer alone; degraded results report 0.
func (r *Result) Summary() Summary {
	model := r.costModel
	if model.SingleStageCost() <= 0 {
		model = DefaultCostModel()
	}
	s := Summary{
		DocumentID:          r.DocumentID,
		StageReached:        r.Stage,
		Escalated:           r.Escalated,
		FinalRisk:           r.OverallRisk,
		FinalConfidence:     r.Confidence,
		TotalCost:           r.Cost,
		TotalProcessingTime: r.ProcessingTime,
		AnomalyCount:        r.AnomalyCount(),
		Stage1:              summarizeStage(r.Stage1),
		FromCache:           r.FromCache,
		Coalesced:           r.Coalesced,
		EscalationFailed:    r.EscalationFailed,
		Error:               r.Error,
	}
	if !r.Degraded() {
		s.CostEfficiency = round2(model.Efficiency(r.Cost))
	}
	if r.Escalated {
		s.Stage2 = summarizeStage(r.Stage2)
	}
	return s
}

func summarizeStage(a *Assessment) *StageSummary {
	if a == nil {
		return nil
	}
	return &StageSummary{
		Model:          a.Model,
		Confidence:     a.Confidence,
		OverallRisk:    a.OverallRisk,
		ClauseCount:    len(a.Clauses),
		AnomalyCount:   anomalyCount(a.Clauses),
		Cost:           a.Cost,
		ProcessingTime: a.ProcessingTime,
		Attempts:       a.Attempts,
		Coercions:      a.Coercions,
	}
}

// WithCostModel returns a copy of r whose Summary prices against m.
func (r *Result) WithCostModel(m CostModel) *Result {
	out := *r
	out.costModel = m
	return &out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
