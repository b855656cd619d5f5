package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/scoring"
)

// PromptBuilder renders the system and user prompts for one stage call.
type PromptBuilder func(text string, sc *StageContext) (system, user string)

const responseSchema = `{
  "confidence": number between 0 and 1,
  "overall_risk": "low" | "medium" | "high",
  "summary": string,
  "clauses": [
    {
      "section": string,
      "clause_id": string,
      "classification": "NORMAL" | "ANOMALY" | "FLAGGED" | "PROBLEMATIC" | "UNUSUAL",
      "risk_level": "low" | "medium" | "high",
      "risk_category": "arbitration" | "liability" | "auto_renewal" | "data_sharing" | "termination" | "unilateral_changes" | "fees" | "ip_rights" | "other",
      "explanation": string,
      "consumer_impact": string,
      "recommendation": string
    }
  ]
}`

const (
	classifierSystem = "You are a consumer-protection analyst triaging Terms & Conditions. " +
		"Classify each listed clause quickly and report how confident you are that your triage " +
		"would survive a detailed legal review. Use low confidence when clauses are ambiguous, " +
		"unusual for the industry, or when the excerpt is incomplete."
	analyzerSystem = "You are a senior consumer-protection lawyer reviewing Terms & Conditions in depth. " +
		"Re-derive the complete list of clause findings from the full document. For every clause give " +
		"legal reasoning, the concrete consumer impact and a recommendation. A preliminary triage is " +
		"provided for context only; do not copy it."

	classifierClauseLimit   = 80
	classifierClauseChars   = 400
	classifierDocumentChars = 12000
	analyzerClauseLimit     = 200
	analyzerClauseChars     = 1200
)

// ClassifierPrompt builds the quick triage prompt.
func ClassifierPrompt(text string, sc *StageContext) (string, string) {
	var b strings.Builder
	writeHeader(&b, sc)
	writeIndicators(&b, sc.Indicators)
	if len(sc.Clauses) > 0 {
		writeClauses(&b, sc.Clauses, classifierClauseLimit, classifierClauseChars)
	} else {
		text = strings.TrimSpace(text)
		if n := utf8.RuneCountInString(text); n > classifierDocumentChars {
			fmt.Fprintf(&b, "Document excerpt (first %d of %d characters):\n", classifierDocumentChars, n)
		} else {
			b.WriteString("Document:\n")
		}
		b.WriteString(clip(text, classifierDocumentChars))
		b.WriteString("\n\n")
	}
	writeSchema(&b)
	return classifierSystem, b.String()
}

// AnalyzerPrompt builds the deep review prompt, including prior findings.
// The document is always sent whole.
func AnalyzerPrompt(text string, sc *StageContext) (string, string) {
	var b strings.Builder
	writeHeader(&b, sc)
	writeIndicators(&b, sc.Indicators)
	if len(sc.Clauses) > 0 {
		writeClauses(&b, sc.Clauses, analyzerClauseLimit, analyzerClauseChars)
	}
	if prior := sc.Prior; prior != nil {
		fmt.Fprintf(&b, "Preliminary triage (confidence %.2f, overall risk %s):\n", prior.Confidence, prior.OverallRisk)
		for _, f := range prior.Clauses {
			fmt.Fprintf(&b, "- [%s] %s %s/%s: %s\n", f.ClauseID, f.Classification, f.RiskLevel, f.RiskCategory, clip(f.Explanation, 200))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No preliminary triage is available; analyse from scratch.\n\n")
	}
	b.WriteString("Full document:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\n")
	writeSchema(&b)
	return analyzerSystem, b.String()
}

func writeHeader(b *strings.Builder, sc *StageContext) {
	company := strings.TrimSpace(sc.Company)
	if company == "" {
		company = "unknown"
	}
	industry := strings.TrimSpace(sc.Industry)
	if industry == "" {
		industry = "unknown"
	}
	fmt.Fprintf(b, "Company: %s\nIndustry: %s\n\n", company, industry)
}

func writeIndicators(b *strings.Builder, indicators []scoring.Indicator) {
	if len(indicators) == 0 {
		b.WriteString("Keyword risk indicators: none detected.\n\n")
		return
	}
	b.WriteString("Keyword risk indicators (severity 1-5):\n")
	for _, ind := range indicators {
		fmt.Fprintf(b, "- clause %s: %s severity %d (%s)\n", ind.ClauseID, ind.Category, ind.Severity, strings.Join(ind.Terms, ", "))
	}
	b.WriteString("\n")
}

func writeClauses(b *strings.Builder, list []clauses.Clause, limit, chars int) {
	b.WriteString("Clauses:\n")
	for i, c := range list {
		if i >= limit {
			fmt.Fprintf(b, "(%d further clauses omitted)\n", len(list)-limit)
			break
		}
		fmt.Fprintf(b, "[%s] (%s) %s\n", c.ID, c.Section, clip(c.Text, chars))
	}
	b.WriteString("\n")
}

func writeSchema(b *strings.Builder) {
	b.WriteString("Respond with JSON matching exactly this shape:\n")
	b.WriteString(responseSchema)
}

// clip shortens s to at most max characters, marking the cut.
func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	i, n := 0, 0
	for i < len(s) && n < max {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	return s[:i] + "…"
}
