package clauses

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	preambleSection = "Preamble"
	minClauseChars  = 20
	maxHeadingChars = 90
)

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	numberedLine    = regexp.MustCompile(`(?i)^(?:section\s+|article\s+|clause\s+)?(\d+(?:\.\d+)*)[.):]?\s+(.+)$`)
	bulletPrefix    = regexp.MustCompile(`^(?:[-*•]|\([a-z0-9]+\)|[a-z]\))\s+`)
)

// Clause is one unit of contractual text with its enclosing section.
type Clause struct {
	Section string `json:"section"`
	ID      string `json:"clause_id"`
	Text    string `json:"text"`
}

// Extract splits a Terms & Conditions document into ordered clauses. Headings
// (markdown, numbered or all-caps lines) open a new section; paragraphs and
// numbered provisions inside a section become clauses. Clause ids are stable
// for the same input text.
func Extract(text string) []Clause {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	b := &builder{section: preambleSection, sectionKey: "0"}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			b.flush()
			continue
		}
		if title, number, ok := heading(line); ok {
			b.flush()
			b.openSection(title, number)
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			b.flush()
			b.pendingID = m[1]
			b.add(m[2])
			continue
		}
		if bulletPrefix.MatchString(line) {
			b.flush()
			b.add(bulletPrefix.ReplaceAllString(line, ""))
			continue
		}
		b.add(line)
	}
	b.flush()
	return b.out
}

type builder struct {
	out        []Clause
	section    string
	sectionKey string
	sections   int
	counter    int
	pendingID  string
	lines      []string
	seen       map[string]int
}

func (b *builder) openSection(title, number string) {
	b.sections++
	b.section = title
	b.counter = 0
	if number != "" {
		b.sectionKey = number
	} else {
		b.sectionKey = "s" + strconv.Itoa(b.sections)
	}
}

func (b *builder) add(line string) {
	b.lines = append(b.lines, line)
}

func (b *builder) flush() {
	if len(b.lines) == 0 {
		b.pendingID = ""
		return
	}
	body := strings.Join(b.lines, " ")
	b.lines = b.lines[:0]
	id := b.pendingID
	b.pendingID = ""
	if len(body) < minClauseChars {
		return
	}
	b.counter++
	if id == "" {
		id = b.sectionKey + "." + strconv.Itoa(b.counter)
	}
	b.out = append(b.out, Clause{Section: b.section, ID: b.unique(id), Text: body})
}

// unique suffixes repeated ids so every clause id in a document is distinct.
func (b *builder) unique(id string) string {
	if b.seen == nil {
		b.seen = make(map[string]int)
	}
	b.seen[id]++
	if n := b.seen[id]; n > 1 {
		return id + "-" + strconv.Itoa(n)
	}
	return id
}

// heading reports whether the line is a section heading and returns its title
// and section number, if any.
func heading(line string) (string, string, bool) {
	if m := markdownHeading.FindStringSubmatch(line); m != nil {
		title := strings.TrimSpace(strings.Trim(m[1], "#"))
		if nm := numberedLine.FindStringSubmatch(title); nm != nil && looksLikeTitle(nm[2]) {
			return strings.TrimSpace(nm[2]), nm[1], true
		}
		return title, "", title != ""
	}
	if len(line) > maxHeadingChars {
		return "", "", false
	}
	if m := numberedLine.FindStringSubmatch(line); m != nil {
		if !strings.Contains(m[1], ".") && looksLikeTitle(m[2]) {
			return strings.TrimSpace(strings.TrimSuffix(m[2], ":")), m[1], true
		}
		return "", "", false
	}
	if isUpperHeading(line) {
		return strings.TrimSuffix(line, ":"), "", true
	}
	return "", "", false
}

// looksLikeTitle is true for short phrases without sentence punctuation.
func looksLikeTitle(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxHeadingChars {
		return false
	}
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, ";") || strings.HasSuffix(s, ",") {
		return false
	}
	return len(strings.Fields(s)) <= 10
}

func isUpperHeading(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return letters >= 3 && !strings.HasSuffix(line, ".")
}
