package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/util"
)

// fakeStage returns a canned assessment or error.
type fakeStage struct {
	name       string
	tier       int
	assessment *Assessment
	err        error
	release    chan struct{}
	entered    chan struct{}

	calls    atomic.Int32
	mu       sync.Mutex
	last     *StageContext
	lastText string
}

func newFakeStage(tier int, a *Assessment, err error) *fakeStage {
	return &fakeStage{name: fmt.Sprintf("stage%d", tier), tier: tier, assessment: a, err: err}
}

func (f *fakeStage) Name() string { return f.name }
func (f *fakeStage) Tier() int    { return f.tier }

func (f *fakeStage) Assess(ctx context.Context, text string, sc *StageContext) (*Assessment, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = sc
	f.lastText = text
	f.mu.Unlock()
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, &StageUnavailableError{Stage: f.name, Attempts: 1, Err: ctx.Err()}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.assessment, nil
}

func (f *fakeStage) text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastText
}

func (f *fakeStage) lastContext() *StageContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func assessment(tier int, confidence float64, risk RiskLevel, cost float64, clauseCount int) *Assessment {
	findings := make([]ClauseFinding, clauseCount)
	for i := range findings {
		findings[i] = ClauseFinding{
			Section:        "Terms",
			ClauseID:       fmt.Sprintf("%d.%d", tier, i+1),
			Classification: ClassFlagged,
			RiskLevel:      risk,
			RiskCategory:   "other",
			Explanation:    "stage finding",
		}
	}
	return &Assessment{
		Stage:          tier,
		Model:          fmt.Sprintf("model-%d", tier),
		Confidence:     confidence,
		OverallRisk:    risk,
		Clauses:        findings,
		Cost:           cost,
		ProcessingTime: 0.25 * float64(tier),
		Attempts:       1,
	}
}

func unavailable(stage string) error {
	return &StageUnavailableError{Stage: stage, Attempts: 3, Err: &TransientBackendError{Stage: stage, Class: llm.FailureTransient, Err: fmt.Errorf("upstream 503")}}
}

// memoryCache round-trips results through JSON like a real backend.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, text string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[util.ContentKey(text)]
	if !ok {
		return nil, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (c *memoryCache) Put(_ context.Context, text string, r *Result) bool {
	data, err := json.Marshal(r)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[util.ContentKey(text)] = data
	c.puts++
	return true
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnAnalysisEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// scriptedBackend replays responses in order, repeating the last one.
type scriptedBackend struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
	prompts   []string
	systems   []string
}

type scripted struct {
	raw string
	err error
}

func (b *scriptedBackend) CompleteStructured(ctx context.Context, prompt, model string, opts llm.Options) (llm.Completion, error) {
	b.mu.Lock()
	idx := b.calls
	if idx >= len(b.responses) {
		idx = len(b.responses) - 1
	}
	b.calls++
	b.prompts = append(b.prompts, prompt)
	b.systems = append(b.systems, opts.System)
	next := b.responses[idx]
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Completion{}, err
	}
	if next.err != nil {
		return llm.Completion{}, next.err
	}
	return llm.Completion{Raw: json.RawMessage(next.raw), Model: model, Usage: llm.Usage{InputTokens: 100, OutputTokens: 20}}, nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// instantRetries keeps the production budgets without sleeping.
func instantRetries() RetryPolicy {
	p := DefaultRetryPolicy()
	p.RateLimited.Base = 0
	p.Transient.Base = 0
	p.Request.Base = 0
	p.Malformed.Base = 0
	return p
}
