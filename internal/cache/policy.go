package cache

import (
	"time"
	"unicode/utf8"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
)

const (
	DefaultMinChars            = 1000
	DefaultBaseTTL             = 7 * 24 * time.Hour
	DefaultExtendedTTL         = 14 * 24 * time.Hour
	DefaultHighCostThreshold   = 0.010
	DefaultHighConfidenceLevel = 0.85
)

// Policy decides whether a result is worth caching and for how long.
type Policy struct {
	MinChars       int
	BaseTTL        time.Duration
	ExtendedTTL    time.Duration
	HighCost       float64
	HighConfidence float64
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() Policy {
	return Policy{
		MinChars:       DefaultMinChars,
		BaseTTL:        DefaultBaseTTL,
		ExtendedTTL:    DefaultExtendedTTL,
		HighCost:       DefaultHighCostThreshold,
		HighConfidence: DefaultHighConfidenceLevel,
	}
}

// Decision is the outcome of Policy.Decide.
type Decision struct {
	Store  bool
	TTL    time.Duration
	Reason string
}

// Decide applies the storage rules: short documents are never stored, costly
// or high-confidence results always are, everything else is stored with the
// base TTL. Deep or high-confidence results keep the extended TTL.
func (p Policy) Decide(text string, r *analysis.Result) Decision {
	p = p.withDefaults()
	if r == nil || r.Degraded() {
		return Decision{Reason: "no result"}
	}
	if utf8.RuneCountInString(text) < p.MinChars {
		return Decision{Reason: "document too short"}
	}

	ttl := p.BaseTTL
	if r.Confidence > p.HighConfidence || r.Stage == 2 {
		ttl = p.ExtendedTTL
	}
	switch {
	case r.Cost > p.HighCost:
		return Decision{Store: true, TTL: ttl, Reason: "high cost"}
	case r.Confidence > p.HighConfidence:
		return Decision{Store: true, TTL: ttl, Reason: "high confidence"}
	default:
		return Decision{Store: true, TTL: ttl, Reason: "default"}
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MinChars <= 0 {
		p.MinChars = d.MinChars
	}
	if p.BaseTTL <= 0 {
		p.BaseTTL = d.BaseTTL
	}
	if p.ExtendedTTL <= 0 {
		p.ExtendedTTL = d.ExtendedTTL
	}
	if p.HighCost <= 0 {
		p.HighCost = d.HighCost
	}
	if p.HighConfidence <= 0 {
		p.HighConfidence = d.HighConfidence
	}
	return p
}
