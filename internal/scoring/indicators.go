package scoring

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
)

//go:embed risk_terms.json
var defaultRiskTerms []byte

// Category names a family of consumer-risk clauses.
type Category string

const (
	CategoryArbitration       Category = "arbitration"
	CategoryLiability         Category = "liability"
	CategoryAutoRenewal       Category = "auto_renewal"
	CategoryDataSharing       Category = "data_sharing"
	CategoryTermination       Category = "termination"
	CategoryUnilateralChanges Category = "unilateral_changes"
	CategoryFees              Category = "fees"
	CategoryIPRights          Category = "ip_rights"
	CategoryOther             Category = "other"
)

var knownCategories = map[Category]struct{}{
	CategoryArbitration:       {},
	CategoryLiability:         {},
	CategoryAutoRenewal:       {},
	CategoryDataSharing:       {},
	CategoryTermination:       {},
	CategoryUnilateralChanges: {},
	CategoryFees:              {},
	CategoryIPRights:          {},
	CategoryOther:             {},
}

// ValidCategory reports whether the value names a known risk category.
func ValidCategory(value string) bool {
	_, ok := knownCategories[Category(value)]
	return ok
}

// Indicator is a term-list hit for one clause in one category.
type Indicator struct {
	ClauseID   string   `json:"clause_id"`
	Section    string   `json:"section"`
	Category   Category `json:"category"`
	Severity   int      `json:"severity"`
	Terms      []string `json:"terms"`
	Confidence float64  `json:"confidence"`
}

// RiskLevel maps the indicator severity onto low/medium/high.
func (i Indicator) RiskLevel() string {
	switch {
	case i.Severity >= 4:
		return "high"
	case i.Severity >= 2:
		return "medium"
	default:
		return "low"
	}
}

// IndicatorScorer flags clauses against severity-ranked term lists.
type IndicatorScorer struct {
	terms map[Category]map[int][]string
}

// NewIndicatorScorer loads term lists from the JSON file at path, or the
// embedded defaults when path is empty.
func NewIndicatorScorer(path string) (*IndicatorScorer, error) {
	data := defaultRiskTerms
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read risk terms: %w", err)
		}
		data = raw
	}
	return parseIndicatorTerms(data)
}

func parseIndicatorTerms(data []byte) (*IndicatorScorer, error) {
	var raw map[string]map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal risk terms: %w", err)
	}
	terms := make(map[Category]map[int][]string)
	for name, bySeverity := range raw {
		category := Category(strings.ToLower(strings.TrimSpace(name)))
		if !ValidCategory(string(category)) {
			category = CategoryOther
		}
		for k, v := range bySeverity {
			severity := atoiSafe(k)
			if severity <= 0 {
				continue
			}
			for _, term := range v {
				if term = normalizeTerm(term); term != "" {
					if terms[category] == nil {
						terms[category] = make(map[int][]string)
					}
					terms[category][severity] = append(terms[category][severity], term)
				}
			}
		}
	}
	scorer := &IndicatorScorer{terms: terms}
	if err := scorer.Validate(); err != nil {
		return nil, err
	}
	return scorer, nil
}

// Score returns the highest-severity hit per category for a single clause,
// ordered by severity then category.
func (s *IndicatorScorer) Score(clause clauses.Clause) []Indicator {
	if s == nil {
		return nil
	}
	text := normalizeTerm(clause.Text)
	if text == "" {
		return nil
	}
	padded := " " + text + " "

	var out []Indicator
	for category, bySeverity := range s.terms {
		for severity := 5; severity >= 1; severity-- {
			var hits []string
			for _, term := range bySeverity[severity] {
				if strings.Contains(padded, " "+term+" ") {
					hits = append(hits, term)
				}
			}
			if len(hits) > 0 {
				out = append(out, Indicator{
					ClauseID:   clause.ID,
					Section:    clause.Section,
					Category:   category,
					Severity:   severity,
					Terms:      dedupe(hits),
					Confidence: confidenceForSeverity(severity),
				})
				break
			}
		}
	}
	sortIndicators(out)
	return out
}

// Scan scores every clause and returns all indicators in clause order.
func (s *IndicatorScorer) Scan(list []clauses.Clause) []Indicator {
	var out []Indicator
	for _, clause := range list {
		out = append(out, s.Score(clause)...)
	}
	return out
}

// MaxSeverity returns the highest severity across the indicators.
func MaxSeverity(indicators []Indicator) int {
	max := 0
	for _, ind := range indicators {
		if ind.Severity > max {
			max = ind.Severity
		}
	}
	return max
}

func sortIndicators(in []Indicator) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Severity != in[j].Severity {
			return in[i].Severity > in[j].Severity
		}
		return in[i].Category < in[j].Category
	})
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	sort.Strings(in)
	out := make([]string, 0, len(in))
	var prev string
	for _, item := range in {
		if item == prev {
			continue
		}
		out = append(out, item)
		prev = item
	}
	return out
}

func confidenceForSeverity(severity int) float64 {
	switch severity {
	case 5, 4:
		return 0.95
	case 3:
		return 0.80
	case 2:
		return 0.70
	case 1:
		return 0.60
	default:
		return 0.99
	}
}

// normalizeTerm lowercases and reduces text to single-spaced alphanumeric words.
func normalizeTerm(term string) string {
	var b strings.Builder
	b.Grow(len(term))
	space := true
	for _, r := range strings.ToLower(term) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			space = false
			continue
		}
		if r == '\'' || r == '’' {
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func atoiSafe(s string) int {
	var n int
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Terms exposes the raw category/severity map (primarily for testing).
func (s *IndicatorScorer) Terms() map[Category]map[int][]string {
	return s.terms
}

// Validate ensures the scorer has at least baseline configuration.
func (s *IndicatorScorer) Validate() error {
	if s == nil {
		return errors.New("indicator scorer is nil")
	}
	if len(s.terms) == 0 {
		return errors.New("risk terms missing")
	}
	return nil
}
