package analysis

import (
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/scoring"
)

// Classification tags a clause finding.
type Classification string

const (
	ClassNormal      Classification = "NORMAL"
	ClassAnomaly     Classification = "ANOMALY"
	ClassFlagged     Classification = "FLAGGED"
	ClassProblematic Classification = "PROBLEMATIC"
	ClassUnusual     Classification = "UNUSUAL"
)

// Valid reports whether c is one of the fixed classification tags.
func (c Classification) Valid() bool {
	switch c {
	case ClassNormal, ClassAnomaly, ClassFlagged, ClassProblematic, ClassUnusual:
		return true
	}
	return false
}

// Problematic reports whether findings with this tag are persisted as anomalies.
func (c Classification) Problematic() bool {
	return c.Valid() && c != ClassNormal
}

// RiskLevel is the low/medium/high scale used for clauses and documents.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// ClauseFinding is one clause-level verdict produced by a stage.
type ClauseFinding struct {
	Section        string         `json:"section"`
	ClauseID       string         `json:"clause_id"`
	Classification Classification `json:"classification"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Explanation    string         `json:"explanation"`
	ConsumerImpact string         `json:"consumer_impact"`
	Recommendation string         `json:"recommendation"`
	RiskCategory   string         `json:"risk_category"`
}

// Assessment is the validated output of a single stage run.
type Assessment struct {
	Stage          int             `json:"stage"`
	Model          string          `json:"model"`
	Confidence     float64         `json:"confidence"`
	OverallRisk    RiskLevel       `json:"overall_risk"`
	Summary        string          `json:"summary,omitempty"`
	Clauses        []ClauseFinding `json:"clauses"`
	Cost           float64         `json:"cost"`
	ProcessingTime float64         `json:"processing_time"`
	Attempts       int             `json:"attempts"`
	Coercions      int             `json:"coercions"`
	Usage          llm.Usage       `json:"usage"`
}

// Document is the input to a single analysis.
type Document struct {
	ID       string
	Text     string
	Company  string
	Industry string
	// Clauses is optional; when empty the text is split with clauses.Extract.
	Clauses []clauses.Clause
}

// StageContext carries everything a stage needs besides the raw text.
type StageContext struct {
	DocumentID string
	Company    string
	Industry   string
	Clauses    []clauses.Clause
	Indicators []scoring.Indicator
	// Prior is the previous stage's assessment, nil for the first stage or
	// when the first stage failed.
	Prior *Assessment
}

// anomalyCount counts findings in the problematic set.
func anomalyCount(findings []ClauseFinding) int {
	n := 0
	for _, f := range findings {
		if f.Classification.Problematic() {
			n++
		}
	}
	return n
}
