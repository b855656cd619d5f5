package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/clauses"
)

func TestClip(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"short", "  Billing  ", 20, "Billing"},
		{"ascii cut", "abcdefgh", 3, "abc…"},
		{"multibyte cut", "déjà vu à Paris", 4, "déjà…"},
		{"invalid byte kept in place", "ab\xffcdef", 4, "ab\xffc…"},
		{"unlimited", "abcdef", 0, "abcdef"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, clip(tc.input, tc.max))
		})
	}
}

func TestAnalyzerPrompt_SendsWholeDocument(t *testing.T) {
	doc := "Terms of service.\n" + strings.Repeat("Section text that keeps going. ", 5000) + "FINAL CLAUSE: governing law."
	assert.Greater(t, utf8.RuneCountInString(doc), 150000)

	_, user := AnalyzerPrompt(doc, &StageContext{})
	assert.Contains(t, user, "FINAL CLAUSE: governing law.")
	assert.Contains(t, user, strings.TrimSpace(doc))
}

func TestAnalyzerPrompt_InvalidUTF8KeepsRestOfDocument(t *testing.T) {
	doc := "Terms \xff of service. " + strings.Repeat("Refunds are not available. ", 3000) + "TAIL MARKER"

	_, user := AnalyzerPrompt(doc, &StageContext{})
	assert.Contains(t, user, "TAIL MARKER")
	assert.Contains(t, user, "Refunds are not available.")

	sc := &StageContext{Clauses: []clauses.Clause{{ID: "1.1", Section: "Refunds", Text: "No \xff refunds " + strings.Repeat("ever ", 400)}}}
	_, user = AnalyzerPrompt(doc, sc)
	assert.Contains(t, user, "[1.1] (Refunds) No \xff refunds ever")
}

func TestClassifierPrompt_LabelsExcerpt(t *testing.T) {
	_, user := ClassifierPrompt("short document", &StageContext{})
	assert.Contains(t, user, "Document:\nshort document")

	long := strings.Repeat("é", classifierDocumentChars+10)
	_, user = ClassifierPrompt(long, &StageContext{})
	assert.Contains(t, user, "Document excerpt (first 12000 of 12010 characters):")
	assert.Contains(t, user, strings.Repeat("é", classifierDocumentChars)+"…")
}
