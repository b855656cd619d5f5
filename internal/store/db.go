package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
)

// ErrNotFound is returned when a requested analysis does not exist.
var ErrNotFound = errors.New("analysis not found")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&CacheEntry{}, &AnalysisRecord{}, &Anomaly{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewAnalysisRecord flattens a result into a record plus one anomaly row per
// clause in the problematic set.
func NewAnalysisRecord(r *analysis.Result, company, industry string) (*AnalysisRecord, []Anomaly) {
	record := &AnalysisRecord{
		RunID:            r.RunID,
		DocumentID:       r.DocumentID,
		ContentKey:       r.ContentKey,
		Company:          strings.TrimSpace(company),
		Industry:         strings.TrimSpace(industry),
		Stage:            r.Stage,
		Escalated:        r.Escalated,
		EscalationFailed: r.EscalationFailed,
		FromCache:        r.FromCache,
		Coalesced:        r.Coalesced,
		OverallRisk:      string(r.OverallRisk),
		Confidence:       r.Confidence,
		Cost:             r.Cost,
		ProcessingTime:   r.ProcessingTime,
		Error:            r.Error,
	}
	record.EscalationAttempted = r.EscalationAttempted()
	if r.Stage1 != nil {
		record.Stage1Model = r.Stage1.Model
	}
	if r.Stage2 != nil {
		record.Stage2Model = r.Stage2.Model
	}
	record.SetSummary(r.Summary())

	var anomalies []Anomaly
	for _, f := range r.Clauses {
		if !f.Classification.Problematic() {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			ClauseID:       f.ClauseID,
			Section:        f.Section,
			Classification: string(f.Classification),
			RiskLevel:      string(f.RiskLevel),
			RiskCategory:   f.RiskCategory,
			Explanation:    f.Explanation,
			ConsumerImpact: f.ConsumerImpact,
			Recommendation: f.Recommendation,
		})
	}
	record.AnomalyCount = len(anomalies)
	return record, anomalies
}

// SaveAnalysis writes the record and its anomalies in one transaction.
// Saving the same run twice replaces its anomalies.
func (d *Database) SaveAnalysis(ctx context.Context, record *AnalysisRecord, anomalies []Anomaly) error {
	if record == nil {
		return errors.New("analysis record is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		columns := []string{
			"document_id", "content_key", "company", "industry", "stage", "escalated",
			"escalation_failed", "escalation_attempted", "from_cache", "coalesced", "overall_risk", "confidence", "cost",
			"processing_time", "stage1_model", "stage2_model", "anomaly_count", "error", "summary_json",
		}
		record.ID = 0
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(record).Error; err != nil {
			return err
		}
		// The upsert may not report the id of an updated row.
		var ids []uint
		if err := tx.Model(&AnalysisRecord{}).Where("run_id = ?", record.RunID).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return fmt.Errorf("analysis %s missing after save", record.RunID)
		}
		record.ID = ids[0]
		if err := tx.Where("analysis_id = ?", record.ID).Delete(&Anomaly{}).Error; err != nil {
			return err
		}
		if len(anomalies) == 0 {
			return nil
		}
		for i := range anomalies {
			anomalies[i].ID = 0
			anomalies[i].AnalysisID = record.ID
		}
		return tx.CreateInBatches(anomalies, 250).Error
	})
}

// AnalysisQuery encapsulates filters and pagination for listing analyses.
type AnalysisQuery struct {
	Query     string
	Risk      string
	Stage     *int
	Escalated *bool
	Sort      string
	Offset    int
	Limit     int
}

// ListAnalyses returns paginated analysis records applying optional filters.
func (d *Database) ListAnalyses(ctx context.Context, opts AnalysisQuery) ([]AnalysisRecord, int64, error) {
	var total int64
	base := d.gorm.WithContext(ctx).Model(&AnalysisRecord{})
	if q := strings.TrimSpace(opts.Query); q != "" {
		like := fmt.Sprintf("%%%s%%", q)
		base = base.Where("document_id LIKE ? OR company LIKE ?", like, like)
	}
	if risk := strings.TrimSpace(opts.Risk); risk != "" {
		base = base.Where("overall_risk = ?", strings.ToLower(risk))
	}
	if opts.Stage != nil {
		base = base.Where("stage = ?", *opts.Stage)
	}
	if opts.Escalated != nil {
		base = base.Where("escalated = ?", *opts.Escalated)
	}

	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	queryBuilder := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}
	var rows []AnalysisRecord
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "cost_desc":
		return "analysis_records.cost DESC, analysis_records.id DESC"
	case "cost_asc":
		return "analysis_records.cost ASC, analysis_records.id DESC"
	case "confidence_asc":
		return "analysis_records.confidence ASC, analysis_records.id DESC"
	case "confidence_desc":
		return "analysis_records.confidence DESC, analysis_records.id DESC"
	case "anomalies_desc":
		return "analysis_records.anomaly_count DESC, analysis_records.id DESC"
	case "created_asc":
		return "analysis_records.created_at ASC, analysis_records.id ASC"
	default:
		return "analysis_records.id DESC"
	}
}

// GetAnalysis fetches a record by run id or numeric id, with its anomalies.
func (d *Database) GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, []Anomaly, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, ErrNotFound
	}
	db := d.gorm.WithContext(ctx)
	var record AnalysisRecord
	query := db.Where("run_id = ?", id)
	if numeric, err := strconv.ParseUint(id, 10, 64); err == nil {
		query = db.Where("run_id = ? OR id = ?", id, numeric)
	}
	if err := query.First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var anomalies []Anomaly
	if err := db.Where("analysis_id = ?", record.ID).Order("id ASC").Find(&anomalies).Error; err != nil {
		return nil, nil, err
	}
	return &record, anomalies, nil
}

// CountAnalyses returns the number of stored analyses.
func (d *Database) CountAnalyses(ctx context.Context) (int64, error) {
	var count int64
	if err := d.gorm.WithContext(ctx).Model(&AnalysisRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// EscalationRate is the share of computed analyses that were routed to the
// analyzer, along with the number of computed analyses. Runs served from the
// cache or by a concurrent identical analysis spent nothing and are excluded.
// It uses the same definition as analysis.Metrics.
func (d *Database) EscalationRate(ctx context.Context) (float64, int64, error) {
	var row struct {
		Computed  int64
		Escalated int64
	}
	err := d.gorm.WithContext(ctx).Model(&AnalysisRecord{}).
		Select("COUNT(*) AS computed, COALESCE(SUM(CASE WHEN escalation_attempted THEN 1 ELSE 0 END), 0) AS escalated").
		Where("from_cache = ? AND coalesced = ?", false, false).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	if row.Computed == 0 {
		return 0, 0, nil
	}
	return float64(row.Escalated) / float64(row.Computed), row.Computed, nil
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_analysis_records_created ON analysis_records(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_anomalies_analysis_category ON anomalies(analysis_id, risk_category)",
		"CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
