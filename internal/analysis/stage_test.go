package analysis

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

const validResponse = `{
  "confidence": 0.82,
  "overall_risk": "high",
  "summary": "Binding arbitration and auto-renewal.",
  "clauses": [
    {"section": "Disputes", "clause_id": "1.1", "classification": "PROBLEMATIC", "risk_level": "high", "risk_category": "arbitration", "explanation": "Waives court access."},
    {"clause_id": "2.1", "classification": "NORMAL", "risk_level": "low", "risk_category": "auto_renewal", "explanation": "Standard renewal."}
  ]
}`

func newTestClassifier(backend llm.Backend, opts ...StageOption) *LLMStage {
	opts = append([]StageOption{WithRetryPolicy(instantRetries())}, opts...)
	return NewClassifier(backend, "triage-model", DefaultStage1Cost, opts...)
}

func stageContext() *StageContext {
	return &StageContext{
		DocumentID: "doc-1",
		Company:    "Acme",
		Clauses: []clauses.Clause{
			{Section: "Disputes", ID: "1.1", Text: "Any dispute shall be resolved by binding arbitration."},
			{Section: "Billing", ID: "2.1", Text: "Your subscription renews automatically."},
		},
	}
}

func TestLLMStage_Assess(t *testing.T) {
	backend := &scriptedBackend{responses: []scripted{{raw: validResponse}}}
	stage := newTestClassifier(backend)

	a, err := stage.Assess(context.Background(), sampleDoc, stageContext())
	require.NoError(t, err)

	assert.Equal(t, 1, a.Stage)
	assert.Equal(t, "triage-model", a.Model)
	assert.Equal(t, 0.82, a.Confidence)
	assert.Equal(t, RiskHigh, a.OverallRisk)
	assert.Equal(t, "Binding arbitration and auto-renewal.", a.Summary)
	assert.Equal(t, DefaultStage1Cost, a.Cost)
	assert.Equal(t, 1, a.Attempts)
	assert.Zero(t, a.Coercions)
	assert.Equal(t, 120, a.Usage.Total())
	require.Len(t, a.Clauses, 2)
	assert.Equal(t, ClassProblematic, a.Clauses[0].Classification)
	assert.Equal(t, "arbitration", a.Clauses[0].RiskCategory)
	assert.Equal(t, "Billing", a.Clauses[1].Section, "missing section is filled from the extracted clause")
	assert.Equal(t, ClassNormal, a.Clauses[1].Classification)
}

func TestLLMStage_CoercesOutOfSchemaValues(t *testing.T) {
	raw := `{
	  "confidence": 1.4,
	  "overall_risk": "severe",
	  "clauses": [
	    {"clause_id": "1.1", "classification": "weird", "risk_level": "extreme", "risk_category": "misc"}
	  ]
	}`
	stage := newTestClassifier(&scriptedBackend{responses: []scripted{{raw: raw}}})

	a, err := stage.Assess(context.Background(), sampleDoc, stageContext())
	require.NoError(t, err)
	assert.Equal(t, 5, a.Coercions)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, RiskMedium, a.OverallRisk)
	require.Len(t, a.Clauses, 1)
	assert.Equal(t, ClassFlagged, a.Clauses[0].Classification)
	assert.Equal(t, RiskMedium, a.Clauses[0].RiskLevel)
	assert.Equal(t, "other", a.Clauses[0].RiskCategory)
}

func TestLLMStage_RetryBudgets(t *testing.T) {
	tests := []struct {
		name      string
		responses []scripted
		attempts  int
		succeeds  bool
		check     func(t *testing.T, err error)
	}{
		{
			name:      "transient then success",
			responses: []scripted{{err: &llm.StatusError{StatusCode: http.StatusServiceUnavailable}}, {raw: validResponse}},
			attempts:  2,
			succeeds:  true,
		},
		{
			name:      "rate limit exhausted",
			responses: []scripted{{err: &llm.StatusError{StatusCode: http.StatusTooManyRequests}}},
			attempts:  5,
			check: func(t *testing.T, err error) {
				var transient *TransientBackendError
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, llm.FailureRateLimited, transient.Class)
			},
		},
		{
			name:      "server errors exhausted",
			responses: []scripted{{err: &llm.StatusError{StatusCode: http.StatusBadGateway}}},
			attempts:  3,
			check: func(t *testing.T, err error) {
				var transient *TransientBackendError
				assert.ErrorAs(t, err, &transient)
			},
		},
		{
			name:      "malformed response",
			responses: []scripted{{raw: `{"summary": "no confidence"}`}},
			attempts:  2,
			check: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				require.ErrorAs(t, err, &malformed)
				assert.ErrorIs(t, err, llm.ErrMalformedResponse)
			},
		},
		{
			name:      "clauses not an array",
			responses: []scripted{{raw: `{"confidence": 0.9, "clauses": "none"}`}},
			attempts:  2,
			check: func(t *testing.T, err error) {
				var malformed *MalformedResponseError
				assert.ErrorAs(t, err, &malformed)
			},
		},
		{
			name:      "bad request",
			responses: []scripted{{err: &llm.StatusError{StatusCode: http.StatusBadRequest}}},
			attempts:  2,
			check: func(t *testing.T, err error) {
				var statusErr *llm.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
			},
		},
		{
			name:      "mixed classes keep separate budgets",
			responses: []scripted{{err: &llm.StatusError{StatusCode: http.StatusTooManyRequests}}, {err: &llm.StatusError{StatusCode: http.StatusBadGateway}}, {raw: `{}`}, {raw: validResponse}},
			attempts:  4,
			succeeds:  true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := &scriptedBackend{responses: tc.responses}
			a, err := newTestClassifier(backend).Assess(context.Background(), sampleDoc, stageContext())
			assert.Equal(t, tc.attempts, backend.callCount())
			if tc.succeeds {
				require.NoError(t, err)
				assert.Equal(t, tc.attempts, a.Attempts)
				return
			}
			require.Error(t, err)
			assert.Nil(t, a)
			var unavailable *StageUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, "stage1", unavailable.Stage)
			assert.Equal(t, tc.attempts, unavailable.Attempts)
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}
}

func TestLLMStage_HonoursRetryAfterWithinCap(t *testing.T) {
	backend := &scriptedBackend{responses: []scripted{
		{err: &llm.StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Hour}},
		{raw: validResponse},
	}}
	stage := newTestClassifier(backend)
	var slept []time.Duration
	stage.cfg.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	policy := instantRetries()
	policy.RateLimited.Max = 30 * time.Second
	stage.cfg.Retry = policy

	_, err := stage.Assess(context.Background(), sampleDoc, stageContext())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, slept)
}

func TestLLMStage_CanceledContextIsNotRetried(t *testing.T) {
	backend := &scriptedBackend{responses: []scripted{{raw: validResponse}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClassifier(backend).Assess(ctx, sampleDoc, stageContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, backend.callCount())
}

type blockingBackend struct {
	calls int
}

func (b *blockingBackend) CompleteStructured(ctx context.Context, _, _ string, _ llm.Options) (llm.Completion, error) {
	b.calls++
	<-ctx.Done()
	return llm.Completion{}, ctx.Err()
}

func TestLLMStage_PerCallTimeout(t *testing.T) {
	backend := &blockingBackend{}
	stage := newTestClassifier(backend, WithStageTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := stage.Assess(context.Background(), sampleDoc, stageContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var transient *TransientBackendError
	assert.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, backend.calls, "each attempt gets its own deadline")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLLMStage_NilBackend(t *testing.T) {
	_, err := NewAnalyzer(nil, "deep-model", DefaultStage2Cost).Assess(context.Background(), sampleDoc, nil)
	require.Error(t, err)
	var unavailable *StageUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "stage2", unavailable.Stage)
	assert.ErrorIs(t, err, llm.ErrDisabled)
}

func TestLLMStage_Prompts(t *testing.T) {
	backend := &scriptedBackend{responses: []scripted{{raw: validResponse}}}
	analyzer := NewAnalyzer(backend, "deep-model", DefaultStage2Cost, WithRetryPolicy(instantRetries()))

	sc := stageContext()
	sc.Prior = assessment(1, 0.4, RiskMedium, DefaultStage1Cost, 1)
	a, err := analyzer.Assess(context.Background(), sampleDoc, sc)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Stage)
	assert.Equal(t, DefaultStage2Cost, a.Cost)

	require.Len(t, backend.prompts, 1)
	prompt := backend.prompts[0]
	assert.Contains(t, prompt, "Company: Acme")
	assert.Contains(t, prompt, "[1.1] (Disputes)")
	assert.Contains(t, prompt, "Preliminary triage (confidence 0.40, overall risk medium)")
	assert.Contains(t, prompt, "Full document:")
	assert.Contains(t, prompt, `"clause_id": string`)
	assert.Contains(t, backend.systems[0], "senior consumer-protection lawyer")

	_, user := AnalyzerPrompt(sampleDoc, stageContext())
	assert.Contains(t, user, "No preliminary triage")

	_, user = ClassifierPrompt(strings.Repeat("x", classifierDocumentChars+50), &StageContext{})
	assert.Contains(t, user, "Industry: unknown")
	assert.Contains(t, user, "Keyword risk indicators: none detected.")
	assert.Contains(t, user, "…")
}
