package analysis

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/util"
)

// DefaultStageTimeout bounds a single backend call.
const DefaultStageTimeout = 60 * time.Second

// Stage assesses a document at one tier of the cascade.
type Stage interface {
	Name() string
	Tier() int
	Assess(ctx context.Context, text string, sc *StageContext) (*Assessment, error)
}

// StageConfig parameterises an LLM-backed stage.
type StageConfig struct {
	Name        string
	Tier        int
	Model       string
	UnitCost    float64
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Retry       RetryPolicy
	Prompt      PromptBuilder

	sleep sleepFunc
}

// StageOption adjusts a StageConfig.
type StageOption func(*StageConfig)

// WithStageTimeout overrides the per-call timeout.
func WithStageTimeout(d time.Duration) StageOption {
	return func(c *StageConfig) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRetryPolicy overrides the retry budgets.
func WithRetryPolicy(p RetryPolicy) StageOption {
	return func(c *StageConfig) { c.Retry = p }
}

// LLMStage issues one structured completion per assessment.
type LLMStage struct {
	cfg     StageConfig
	backend llm.Backend
}

// NewClassifier builds the cheap, fast first stage.
func NewClassifier(backend llm.Backend, model string, unitCost float64, opts ...StageOption) *LLMStage {
	cfg := StageConfig{
		Name:      "stage1",
		Tier:      1,
		Model:     model,
		UnitCost:  unitCost,
		MaxTokens: 2048,
		Prompt:    ClassifierPrompt,
	}
	return newLLMStage(backend, cfg, opts)
}

// NewAnalyzer builds the expensive deep-review second stage.
func NewAnalyzer(backend llm.Backend, model string, unitCost float64, opts ...StageOption) *LLMStage {
	cfg := StageConfig{
		Name:      "stage2",
		Tier:      2,
		Model:     model,
		UnitCost:  unitCost,
		MaxTokens: 8192,
		Prompt:    AnalyzerPrompt,
	}
	return newLLMStage(backend, cfg, opts)
}

func newLLMStage(backend llm.Backend, cfg StageConfig, opts []StageOption) *LLMStage {
	cfg.Timeout = DefaultStageTimeout
	cfg.Retry = DefaultRetryPolicy()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LLMStage{cfg: cfg, backend: backend}
}

// Name returns the stage label used in logs and errors.
func (s *LLMStage) Name() string { return s.cfg.Name }

// Tier returns 1 for the classifier and 2 for the analyzer.
func (s *LLMStage) Tier() int { return s.cfg.Tier }

// Model returns the configured model name.
func (s *LLMStage) Model() string { return s.cfg.Model }

// Assess builds the prompt, calls the backend with retries and validates the
// response. Failures are returned as *StageUnavailableError.
func (s *LLMStage) Assess(ctx context.Context, text string, sc *StageContext) (*Assessment, error) {
	if sc == nil {
		sc = &StageContext{}
	}
	if s.backend == nil {
		return nil, &StageUnavailableError{Stage: s.cfg.Name, Err: llm.ErrDisabled}
	}

	timer := util.StartTimer()
	system, user := s.cfg.Prompt(text, sc)
	opts := llm.Options{
		System:      system,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		JSONOnly:    true,
	}

	var (
		completion llm.Completion
		parsed     parsedAssessment
	)
	attempts, err := s.cfg.Retry.retry(ctx, s.cfg.Name, s.cfg.sleep, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		out, err := s.backend.CompleteStructured(callCtx, user, s.cfg.Model, opts)
		if err != nil {
			return err
		}
		p, err := parseAssessment(out.Raw)
		if err != nil {
			return err
		}
		completion, parsed = out, p
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"stage":       s.cfg.Name,
			"document_id": sc.DocumentID,
			"attempts":    attempts,
		}).Warn("stage unavailable")
		return nil, &StageUnavailableError{Stage: s.cfg.Name, Attempts: attempts, Err: classifyFailure(s.cfg.Name, err)}
	}

	logCoercions(s.cfg.Name, parsed.coercions)
	model := completion.Model
	if model == "" {
		model = s.cfg.Model
	}
	assessment := &Assessment{
		Stage:          s.cfg.Tier,
		Model:          model,
		Confidence:     parsed.confidence,
		OverallRisk:    parsed.overallRisk,
		Summary:        parsed.summary,
		Clauses:        fillSections(parsed.clauses, sc.Clauses),
		Cost:           s.cfg.UnitCost,
		ProcessingTime: timer.ElapsedSeconds(),
		Attempts:       attempts,
		Coercions:      len(parsed.coercions),
		Usage:          completion.Usage,
	}

	logrus.WithFields(logrus.Fields{
		"stage":        s.cfg.Name,
		"document_id":  sc.DocumentID,
		"model":        model,
		"confidence":   assessment.Confidence,
		"overall_risk": assessment.OverallRisk,
		"clauses":      len(assessment.Clauses),
		"elapsed_ms":   timer.ElapsedMs(),
	}).Info("stage completed")
	return assessment, nil
}

// fillSections copies the section heading from the extracted clause when the
// model omitted it.
func fillSections(findings []ClauseFinding, source []clauses.Clause) []ClauseFinding {
	if len(source) == 0 {
		return findings
	}
	sections := make(map[string]string, len(source))
	for _, c := range source {
		sections[c.ID] = c.Section
	}
	for i := range findings {
		if findings[i].Section == "" {
			findings[i].Section = sections[findings[i].ClauseID]
		}
	}
	return findings
}

var _ Stage = (*LLMStage)(nil)
