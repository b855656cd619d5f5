package store

import (
	"encoding/json"
	"strings"
	"time"
)

// CacheEntry is one cached analysis result keyed by content hash.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:64"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnalysisRecord is the persisted summary of one analysis run.
type AnalysisRecord struct {
	ID                  uint    `gorm:"primaryKey"`
	RunID               string  `gorm:"size:64;uniqueIndex"`
	DocumentID          string  `gorm:"size:255;index"`
	ContentKey          string  `gorm:"size:64;index"`
	Company             string  `gorm:"size:255"`
	Industry            string  `gorm:"size:128"`
	Stage               int     `gorm:"index"`
	Escalated           bool    `gorm:"index"`
	EscalationFailed    bool
	EscalationAttempted bool // mirrors analysis.Result.EscalationAttempted
	FromCache           bool
	Coalesced           bool
	OverallRisk         string `gorm:"size:16;index"`
	Confidence          float64
	Cost                float64
	ProcessingTime      float64
	Stage1Model         string `gorm:"size:128"`
	Stage2Model         string `gorm:"size:128"`
	AnomalyCount        int
	Error               string    `gorm:"type:text"`
	SummaryJSON         string    `gorm:"type:text"`
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

// Anomaly is a persisted clause finding from the problematic set.
type Anomaly struct {
	ID             uint   `gorm:"primaryKey"`
	AnalysisID     uint   `gorm:"index"`
	ClauseID       string `gorm:"size:64"`
	Section        string `gorm:"size:255"`
	Classification string `gorm:"size:16;index"`
	RiskLevel      string `gorm:"size:16;index"`
	RiskCategory   string `gorm:"size:32;index"`
	Explanation    string `gorm:"type:text"`
	ConsumerImpact string `gorm:"type:text"`
	Recommendation string `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

// SetSummary stores the result summary as JSON.
func (r *AnalysisRecord) SetSummary(summary any) {
	payload, _ := json.Marshal(summary)
	r.SummaryJSON = string(payload)
}

// Summary decodes the stored summary into a generic map.
func (r *AnalysisRecord) Summary() map[string]any {
	if strings.TrimSpace(r.SummaryJSON) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(r.SummaryJSON), &out); err != nil {
		return nil
	}
	return out
}
