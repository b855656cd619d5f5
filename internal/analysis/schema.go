package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/scoring"
)

// Coercion records one out-of-schema value replaced with its safe default.
type Coercion struct {
	Field string
	From  string
	To    string
}

type parsedAssessment struct {
	confidence  float64
	overallRisk RiskLevel
	summary     string
	clauses     []ClauseFinding
	coercions   []Coercion
}

// parseAssessment validates a stage response against the fixed schema.
// Structural violations are errors; enum and range violations are coerced to
// safe defaults and recorded.
func parseAssessment(raw json.RawMessage) (parsedAssessment, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return parsedAssessment{}, fmt.Errorf("%w: decode assessment: %v", llm.ErrMalformedResponse, err)
	}

	var out parsedAssessment
	coerce := func(field, from, to string) {
		out.coercions = append(out.coercions, Coercion{Field: field, From: from, To: to})
	}

	conf, ok := flexFloat(top["confidence"])
	if !ok {
		return parsedAssessment{}, fmt.Errorf("%w: confidence missing or not numeric", llm.ErrMalformedResponse)
	}
	if _, isNumber := numberLiteral(top["confidence"]); !isNumber {
		coerce("confidence", string(top["confidence"]), strconv.FormatFloat(clampConfidence(conf), 'f', -1, 64))
	} else if clamped := clampConfidence(conf); clamped != conf {
		coerce("confidence", strconv.FormatFloat(conf, 'f', -1, 64), strconv.FormatFloat(clamped, 'f', -1, 64))
	}
	out.confidence = clampConfidence(conf)

	risk, _ := flexString(top["overall_risk"])
	out.overallRisk = RiskLevel(strings.ToLower(strings.TrimSpace(risk)))
	if !out.overallRisk.Valid() {
		coerce("overall_risk", risk, string(RiskMedium))
		out.overallRisk = RiskMedium
	}
	out.summary, _ = flexString(top["summary"])

	rawClauses := bytes.TrimSpace(top["clauses"])
	if len(rawClauses) == 0 || bytes.Equal(rawClauses, []byte("null")) {
		return out, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawClauses, &items); err != nil {
		return parsedAssessment{}, fmt.Errorf("%w: clauses is not an array", llm.ErrMalformedResponse)
	}

	out.clauses = make([]ClauseFinding, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			coerce(fmt.Sprintf("clauses[%d]", i), string(item), "dropped")
			continue
		}
		finding := ClauseFinding{}
		finding.Section, _ = flexString(fields["section"])
		finding.ClauseID, _ = flexString(fields["clause_id"])
		if strings.TrimSpace(finding.ClauseID) == "" {
			finding.ClauseID = "clause-" + strconv.Itoa(i+1)
			coerce(fmt.Sprintf("clauses[%d].clause_id", i), "", finding.ClauseID)
		}

		class, _ := flexString(fields["classification"])
		finding.Classification = Classification(strings.ToUpper(strings.TrimSpace(class)))
		if !finding.Classification.Valid() {
			coerce(fmt.Sprintf("clauses[%d].classification", i), class, string(ClassFlagged))
			finding.Classification = ClassFlagged
		}

		level, _ := flexString(fields["risk_level"])
		finding.RiskLevel = RiskLevel(strings.ToLower(strings.TrimSpace(level)))
		if !finding.RiskLevel.Valid() {
			coerce(fmt.Sprintf("clauses[%d].risk_level", i), level, string(RiskMedium))
			finding.RiskLevel = RiskMedium
		}

		category, _ := flexString(fields["risk_category"])
		finding.RiskCategory = strings.ToLower(strings.TrimSpace(category))
		if !scoring.ValidCategory(finding.RiskCategory) {
			coerce(fmt.Sprintf("clauses[%d].risk_category", i), category, string(scoring.CategoryOther))
			finding.RiskCategory = string(scoring.CategoryOther)
		}

		finding.Explanation, _ = flexString(fields["explanation"])
		if finding.Explanation == "" {
			finding.Explanation, _ = flexString(fields["legal_reasoning"])
		}
		finding.ConsumerImpact, _ = flexString(fields["consumer_impact"])
		finding.Recommendation, _ = flexString(fields["recommendation"])
		out.clauses = append(out.clauses, finding)
	}
	return out, nil
}

func logCoercions(stage string, coercions []Coercion) {
	for _, c := range coercions {
		logrus.WithFields(logrus.Fields{
			"stage": stage,
			"field": c.Field,
			"from":  c.From,
			"to":    c.To,
		}).Warn("coerced out-of-schema value")
	}
}

func clampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// flexString accepts a JSON string or number literal.
func flexString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	if lit, ok := numberLiteral(raw); ok {
		return lit, true
	}
	return "", false
}

// flexFloat accepts a JSON number or a numeric string, including "NaN".
func flexFloat(raw json.RawMessage) (float64, bool) {
	if lit, ok := numberLiteral(raw); ok {
		v, err := strconv.ParseFloat(lit, 64)
		return v, err == nil
	}
	s, ok := flexString(raw)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, false
	}
	if strings.HasSuffix(s, "%") {
		v /= 100
	}
	return v, true
}

func numberLiteral(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return "", false
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", false
	}
	return n.String(), true
}
