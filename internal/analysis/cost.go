package analysis

const (
	// DefaultStage1Cost is the per-document cost of the classifier, in USD.
	DefaultStage1Cost = 0.0006
	// DefaultStage2Cost is the per-document cost of the deep analyzer, in USD.
	DefaultStage2Cost = 0.015
	// DefaultTargetEscalationRate is the escalation share the cascade is tuned for.
	DefaultTargetEscalationRate = 0.24
	// DefaultEscalationThreshold: a stage-1 confidence strictly below it escalates.
	DefaultEscalationThreshold = 0.55
)

// CostModel holds the unit costs the cascade is priced with. The single-stage
// baseline is running every document through the deep analyzer.
type CostModel struct {
	Stage1Cost           float64 `json:"stage1_cost"`
	Stage2Cost           float64 `json:"stage2_cost"`
	TargetEscalationRate float64 `json:"target_escalation_rate"`
}

// DefaultCostModel returns the production pricing.
func DefaultCostModel() CostModel {
	return CostModel{
		Stage1Cost:           DefaultStage1Cost,
		Stage2Cost:           DefaultStage2Cost,
		TargetEscalationRate: DefaultTargetEscalationRate,
	}
}

// SingleStageCost is the per-document cost without a cascade.
func (m CostModel) SingleStageCost() float64 {
	return m.Stage2Cost
}

// BlendedCost is the expected per-document cost at the given escalation rate.
func (m CostModel) BlendedCost(escalationRate float64) float64 {
	return m.Stage1Cost + escalationRate*m.Stage2Cost
}

// Savings is the fraction saved against the single-stage baseline at the
// given escalation rate.
func (m CostModel) Savings(escalationRate float64) float64 {
	single := m.SingleStageCost()
	if single <= 0 {
		return 0
	}
	return (single - m.BlendedCost(escalationRate)) / single
}

// Efficiency is the percentage saved by an actual spend against the
// single-stage baseline. Escalated documents cost slightly more than the
// baseline and report a negative value.
func (m CostModel) Efficiency(cost float64) float64 {
	single := m.SingleStageCost()
	if single <= 0 {
		return 0
	}
	return (single - cost) / single * 100
}

// CostReport describes the cost model at the target and an observed rate.
type CostReport struct {
	CostModel
	SingleStageCost        float64 `json:"single_stage_cost"`
	TargetBlendedCost      float64 `json:"target_blended_cost"`
	TargetSavings          float64 `json:"target_savings"`
	ObservedEscalationRate float64 `json:"observed_escalation_rate"`
	ObservedBlendedCost    float64 `json:"observed_blended_cost"`
	ObservedSavings        float64 `json:"observed_savings"`
}

// Report evaluates the model at its target rate and at observedRate.
func (m CostModel) Report(observedRate float64) CostReport {
	return CostReport{
		CostModel:              m,
		SingleStageCost:        m.SingleStageCost(),
		TargetBlendedCost:      m.BlendedCost(m.TargetEscalationRate),
		TargetSavings:          m.Savings(m.TargetEscalationRate),
		ObservedEscalationRate: observedRate,
		ObservedBlendedCost:    m.BlendedCost(observedRate),
		ObservedSavings:        m.Savings(observedRate),
	}
}
