package analysis

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
)

// Metrics accumulates cascade counters. All methods are safe for concurrent use.
type Metrics struct {
	analyses           atomic.Uint64
	computed           atomic.Uint64
	escalations        atomic.Uint64
	escalationFailures atomic.Uint64
	degraded           atomic.Uint64
	stage1Failures     atomic.Uint64
	cacheHits          atomic.Uint64
	coalesced          atomic.Uint64
	coercions          atomic.Uint64

	mu         sync.Mutex
	totalCost  float64
	stage1Cost float64
	stage2Cost float64
	duration   *histogram

	costModel CostModel
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Analyses           uint64  `json:"analyses"`
	Computed           uint64  `json:"computed"`
	Escalations        uint64  `json:"escalations"`
	EscalationRate     float64 `json:"escalation_rate"`
	EscalationFailures uint64  `json:"escalation_failures"`
	Degraded           uint64  `json:"degraded"`
	Stage1Failures     uint64  `json:"stage1_failures"`
	CacheHits          uint64  `json:"cache_hits"`
	Coalesced          uint64  `json:"coalesced"`
	Coercions          uint64  `json:"coercions"`
	TotalCost          float64 `json:"total_cost"`
	Stage1Cost         float64 `json:"stage1_cost"`
	Stage2Cost         float64 `json:"stage2_cost"`
	AverageCost        float64 `json:"average_cost"`
	ObservedSavings    float64 `json:"observed_savings"`
}

// NewMetrics returns empty counters priced against the given cost model.
func NewMetrics(model CostModel) *Metrics {
	return &Metrics{
		costModel: model,
		duration:  newHistogram([]float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}),
	}
}

// RecordResult folds one returned result into the counters.
func (m *Metrics) RecordResult(r *Result) {
	if m == nil || r == nil {
		return
	}
	m.analyses.Add(1)
	if r.FromCache {
		m.cacheHits.Add(1)
		return
	}
	if r.Coalesced {
		m.coalesced.Add(1)
		return
	}
	m.computed.Add(1)
	if r.EscalationAttempted() {
		m.escalations.Add(1)
	}
	if r.EscalationFailed {
		m.escalationFailures.Add(1)
	}
	if r.Degraded() {
		m.degraded.Add(1)
	}
	if r.Stage1 == nil {
		m.stage1Failures.Add(1)
	}

	var s1, s2 float64
	if r.Stage1 != nil {
		s1 = r.Stage1.Cost
		m.coercions.Add(uint64(r.Stage1.Coercions))
	}
	if r.Stage2 != nil {
		s2 = r.Stage2.Cost
		m.coercions.Add(uint64(r.Stage2.Coercions))
	}

	m.mu.Lock()
	m.totalCost += r.Cost
	m.stage1Cost += s1
	m.stage2Cost += s2
	m.mu.Unlock()
	m.duration.Observe(r.ProcessingTime)
}

// RecordCoalesced counts a caller served by another in-flight analysis.
func (m *Metrics) RecordCoalesced() {
	if m != nil {
		m.coalesced.Add(1)
	}
}

// Snapshot returns the current counters and derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	s := MetricsSnapshot{
		Analyses:           m.analyses.Load(),
		Computed:           m.computed.Load(),
		Escalations:        m.escalations.Load(),
		EscalationFailures: m.escalationFailures.Load(),
		Degraded:           m.degraded.Load(),
		Stage1Failures:     m.stage1Failures.Load(),
		CacheHits:          m.cacheHits.Load(),
		Coalesced:          m.coalesced.Load(),
		Coercions:          m.coercions.Load(),
	}
	m.mu.Lock()
	s.TotalCost = m.totalCost
	s.Stage1Cost = m.stage1Cost
	s.Stage2Cost = m.stage2Cost
	m.mu.Unlock()

	if s.Computed > 0 {
		s.EscalationRate = float64(s.Escalations) / float64(s.Computed)
	}
	if s.Analyses > 0 {
		s.AverageCost = s.TotalCost / float64(s.Analyses)
		if baseline := m.costModel.SingleStageCost() * float64(s.Analyses); baseline > 0 {
			s.ObservedSavings = (baseline - s.TotalCost) / baseline
		}
	}
	return s
}

// CostReport prices the cost model at the observed escalation rate.
func (m *Metrics) CostReport() CostReport {
	return m.costModel.Report(m.Snapshot().EscalationRate)
}

// WritePrometheus renders the counters in Prometheus text format.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	s := m.Snapshot()
	var buf bytes.Buffer
	writeCounter(&buf, "tc_analyses_total", "Analyses returned, including cache hits", s.Analyses)
	writeCounter(&buf, "tc_analyses_computed_total", "Analyses that ran at least one stage", s.Computed)
	writeCounter(&buf, "tc_escalations_total", "Analyses escalated to the deep analyzer", s.Escalations)
	writeCounter(&buf, "tc_escalation_failures_total", "Escalations whose deep analysis failed", s.EscalationFailures)
	writeCounter(&buf, "tc_degraded_total", "Analyses where both stages failed", s.Degraded)
	writeCounter(&buf, "tc_stage1_failures_total", "Analyses whose classifier stage failed", s.Stage1Failures)
	writeCounter(&buf, "tc_cache_hits_total", "Analyses served from the result cache", s.CacheHits)
	writeCounter(&buf, "tc_coalesced_total", "Callers served by a concurrent identical analysis", s.Coalesced)
	writeCounter(&buf, "tc_schema_coercions_total", "Out-of-schema values replaced with safe defaults", s.Coercions)
	writeGauge(&buf, "tc_escalation_rate", "Escalations divided by computed analyses", s.EscalationRate)
	writeGauge(&buf, "tc_cost_usd_total", "Total model spend in USD", s.TotalCost)
	writeGauge(&buf, "tc_cost_usd_average", "Average spend per analysis in USD", s.AverageCost)
	writeGauge(&buf, "tc_cost_savings_ratio", "Savings against the single-stage baseline", s.ObservedSavings)
	writeHistogram(&buf, "tc_analysis_duration_seconds", "Computed analysis duration in seconds", m.duration.Snapshot())
	_, err := w.Write(buf.Bytes())
	return err
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe places value in the first bucket whose bound is not below it.
func (h *histogram) Observe(value float64) {
	if value < 0 {
		value = 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeGauge(buf *bytes.Buffer, name, help string, value float64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s gauge\n", name)
	fmt.Fprintf(buf, "%s %s\n", name, formatFloat(value))
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
