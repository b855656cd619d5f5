package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/scoring"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/util"
)

// DefaultMaxDocumentChars is the largest document accepted, in characters.
const DefaultMaxDocumentChars = 500000

// ResultCache stores results by document content. Implementations absorb
// their own failures: Get reports a miss, Put reports false.
type ResultCache interface {
	Get(ctx context.Context, text string) (*Result, bool)
	Put(ctx context.Context, text string, r *Result) bool
}

// Config tunes the orchestrator.
type Config struct {
	// EscalationThreshold: stage-1 confidence strictly below it escalates.
	EscalationThreshold float64
	MaxDocumentChars    int
	// SingleFlight coalesces concurrent analyses of identical content.
	SingleFlight bool
	CostModel    CostModel
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		EscalationThreshold: DefaultEscalationThreshold,
		MaxDocumentChars:    DefaultMaxDocumentChars,
		SingleFlight:        true,
		CostModel:           DefaultCostModel(),
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables result caching.
func WithCache(c ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithIndicators precomputes keyword risk indicators for stage prompts.
func WithIndicators(s *scoring.IndicatorScorer) Option {
	return func(o *Orchestrator) { o.indicators = s }
}

// WithMetrics shares a metrics instance with the caller.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// Orchestrator runs the classifier, escalates low-confidence documents to
// the analyzer and assembles one Result per document.
type Orchestrator struct {
	stage1     Stage
	stage2     Stage
	cfg        Config
	cache      ResultCache
	indicators *scoring.IndicatorScorer
	metrics    *Metrics
	observers  []Observer
	flight     singleflight.Group
}

// NewOrchestrator wires the two stages. Zero-valued limits in cfg fall back
// to defaults; the threshold is used as given.
func NewOrchestrator(stage1, stage2 Stage, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxDocumentChars <= 0 {
		cfg.MaxDocumentChars = DefaultMaxDocumentChars
	}
	if cfg.CostModel == (CostModel{}) {
		cfg.CostModel = DefaultCostModel()
	}
	o := &Orchestrator{stage1: stage1, stage2: stage2, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(cfg.CostModel)
	}
	return o
}

// Metrics exposes the orchestrator counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Analyze produces a Result for doc. It fails with *InputValidationError
// before any backend call, and with *StageUnavailableError, alongside a
// degraded Result, when neither stage could produce an assessment.
func (o *Orchestrator) Analyze(ctx context.Context, doc Document) (*Result, error) {
	if err := o.validate(doc.Text); err != nil {
		return nil, err
	}
	if !utf8.ValidString(doc.Text) {
		doc.Text = strings.ToValidUTF8(doc.Text, string(utf8.RuneError))
		logrus.WithField("document_id", doc.ID).Warn("document contains invalid UTF-8; replaced invalid bytes")
	}
	key := util.ContentKey(doc.Text)
	if strings.TrimSpace(doc.ID) == "" {
		doc.ID = "doc-" + key[:12]
	}
	if !o.cfg.SingleFlight {
		return o.analyze(ctx, doc, key)
	}

	// The shared computation outlives any single caller so that the others
	// and the cache still receive its result.
	timer := util.StartTimer()
	leader := false
	ch := o.flight.DoChan(key, func() (any, error) {
		leader = true
		return o.analyze(context.WithoutCancel(ctx), doc, key)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("analyze %s: %w", doc.ID, ctx.Err())
	case res := <-ch:
		result, _ := res.Val.(*Result)
		if !leader && result != nil {
			o.metrics.RecordCoalesced()
			result = coalescedCopy(result, doc.ID, timer.ElapsedSeconds())
		}
		return result, res.Err
	}
}

// coalescedCopy is the result handed to a caller that waited on another
// caller's analysis. It is a separate run that spent nothing.
func coalescedCopy(shared *Result, documentID string, waited float64) *Result {
	out := *shared
	out.RunID = uuid.NewString()
	out.DocumentID = documentID
	out.Coalesced = true
	if shared.Cost > 0 {
		out.CachedCost = shared.Cost
	}
	out.Cost = 0
	out.ProcessingTime = waited
	return &out
}

func (o *Orchestrator) validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return &InputValidationError{Reason: "document text is empty"}
	}
	if n := utf8.RuneCountInString(text); n > o.cfg.MaxDocumentChars {
		return &InputValidationError{Reason: fmt.Sprintf("document has %d characters, limit is %d", n, o.cfg.MaxDocumentChars)}
	}
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, doc Document, key string) (*Result, error) {
	timer := util.StartTimer()
	runID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{"run_id": runID, "document_id": doc.ID})
	o.emit(Event{Type: EventStarted, RunID: runID, DocumentID: doc.ID})

	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, doc.Text); ok {
			hit := *cached
			if hit.CachedCost == 0 {
				hit.CachedCost = cached.Cost
			}
			hit.RunID = runID
			hit.DocumentID = doc.ID
			hit.FromCache = true
			hit.Cost = 0
			hit.ProcessingTime = timer.ElapsedSeconds()
			hit.costModel = o.cfg.CostModel
			o.metrics.RecordResult(&hit)
			summary := hit.Summary()
			o.emit(Event{Type: EventCacheHit, RunID: runID, DocumentID: doc.ID, Stage: hit.Stage, Confidence: hit.Confidence, Summary: &summary})
			log.WithField("stage", hit.Stage).Info("analysis served from cache")
			return &hit, nil
		}
	}

	list := doc.Clauses
	if len(list) == 0 {
		list = clauses.Extract(doc.Text)
	}
	sc := &StageContext{
		DocumentID: doc.ID,
		Company:    doc.Company,
		Industry:   doc.Industry,
		Clauses:    list,
		Indicators: o.indicators.Scan(list),
	}

	s1, err1 := o.stage1.Assess(ctx, doc.Text, sc)
	if err1 != nil {
		o.emit(Event{Type: EventStageFailed, RunID: runID, DocumentID: doc.ID, Stage: 1, Message: err1.Error()})
		if ctx.Err() != nil {
			return nil, fmt.Errorf("analyze %s: %w", doc.ID, ctx.Err())
		}
	} else {
		o.emit(Event{Type: EventStageCompleted, RunID: runID, DocumentID: doc.ID, Stage: 1, Confidence: s1.Confidence, Cost: s1.Cost})
	}

	result := &Result{
		RunID:      runID,
		DocumentID: doc.ID,
		ContentKey: key,
		AnalyzedAt: time.Now().UTC(),
		costModel:  o.cfg.CostModel,
	}

	escalate := err1 != nil || s1.Confidence < o.cfg.EscalationThreshold
	if !escalate {
		result.adopt(1, s1)
		result.Stage1 = s1
		o.finish(ctx, doc, result, log)
		return result, nil
	}

	msg := "stage1 unavailable"
	if s1 != nil {
		msg = fmt.Sprintf("confidence %.2f below %.2f", s1.Confidence, o.cfg.EscalationThreshold)
	}
	o.emit(Event{Type: EventEscalated, RunID: runID, DocumentID: doc.ID, Stage: 2, Message: msg})
	log.WithField("reason", msg).Info("escalating to deep analysis")

	sc2 := *sc
	sc2.Prior = s1
	s2, err2 := o.stage2.Assess(ctx, doc.Text, &sc2)

	switch {
	case err2 == nil:
		o.emit(Event{Type: EventStageCompleted, RunID: runID, DocumentID: doc.ID, Stage: 2, Confidence: s2.Confidence, Cost: s2.Cost})
		result.adopt(2, s2)
		result.Escalated = true
		result.Stage1 = s1
		result.Stage2 = s2
		if s1 != nil {
			result.Cost += s1.Cost
			result.ProcessingTime += s1.ProcessingTime
		} else {
			result.Error = err1.Error()
		}
		o.finish(ctx, doc, result, log)
		return result, nil

	case err1 == nil:
		o.emit(Event{Type: EventStageFailed, RunID: runID, DocumentID: doc.ID, Stage: 2, Message: err2.Error()})
		result.adopt(1, s1)
		result.Stage1 = s1
		result.EscalationFailed = true
		result.Error = err2.Error()
		o.finish(ctx, doc, result, log)
		return result, nil

	default:
		o.emit(Event{Type: EventStageFailed, RunID: runID, DocumentID: doc.ID, Stage: 2, Message: err2.Error()})
		result.OverallRisk = RiskMedium
		result.Clauses = []ClauseFinding{}
		result.Error = errors.Join(err1, err2).Error()
		result.ProcessingTime = timer.ElapsedSeconds()
		o.finish(ctx, doc, result, log)
		return result, &StageUnavailableError{
			Stage:    "stage1+stage2",
			Attempts: attemptsOf(err1) + attemptsOf(err2),
			Err:      errors.Join(err1, err2),
		}
	}
}

// adopt copies the controlling fields from the highest stage executed.
func (r *Result) adopt(stage int, a *Assessment) {
	r.Stage = stage
	r.OverallRisk = a.OverallRisk
	r.Confidence = a.Confidence
	r.Clauses = a.Clauses
	r.Cost = a.Cost
	r.ProcessingTime = a.ProcessingTime
}

func (o *Orchestrator) finish(ctx context.Context, doc Document, result *Result, log *logrus.Entry) {
	if o.cache != nil && !result.Degraded() && !result.EscalationFailed {
		o.cache.Put(context.WithoutCancel(ctx), doc.Text, result)
	}
	o.metrics.RecordResult(result)

	summary := result.Summary()
	fields := logrus.Fields{
		"stage":        result.Stage,
		"escalated":    result.Escalated,
		"overall_risk": result.OverallRisk,
		"confidence":   result.Confidence,
		"cost":         result.Cost,
		"anomalies":    summary.AnomalyCount,
	}
	if result.Degraded() {
		log.WithFields(fields).WithField("error", result.Error).Error("analysis degraded: no stage available")
		o.emit(Event{Type: EventDegraded, RunID: result.RunID, DocumentID: result.DocumentID, Message: result.Error, Summary: &summary})
		return
	}
	if result.EscalationFailed {
		log.WithFields(fields).WithField("error", result.Error).Warn("deep analysis failed; returning classifier result")
	} else {
		log.WithFields(fields).Info("analysis completed")
	}
	o.emit(Event{Type: EventCompleted, RunID: result.RunID, DocumentID: result.DocumentID, Stage: result.Stage, Confidence: result.Confidence, Cost: result.Cost, Summary: &summary})
}

func (o *Orchestrator) emit(e Event) {
	if len(o.observers) == 0 {
		return
	}
	e.Timestamp = time.Now().UTC()
	for _, obs := range o.observers {
		obs.OnAnalysisEvent(e)
	}
}

func attemptsOf(err error) int {
	var unavailable *StageUnavailableError
	if errors.As(err, &unavailable) {
		return unavailable.Attempts
	}
	return 0
}
