// Package report turns a brief into printable markdown, HTML and PDF.
package report

import (
	"regexp"
	"strings"
)

// Section is one titled block of a narrative summary.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

var (
	numberedHeadingRe = regexp.MustCompile(`^\d+\.\s`)
	markdownHeadingRe = regexp.MustCompile(`^#{1,6}\s+`)
	headingKeywords   = []string{"overview", "activity", "patterns", "signals", "intelligence", "considerations", "conclusion"}
)

const maxKeywordHeadingLength = 100

// Sections splits a narrative into titled sections. A line starts a section when it
// is numbered ("1. Market Overview"), a markdown heading, or a short line naming one
// of the heading keywords. Text before the first heading and sections without body
// text are dropped.
func Sections(summary string) []Section {
	var (
		out     []Section
		title   string
		content []string
	)
	flush := func() {
		if title != "" && len(content) > 0 {
			out = append(out, Section{Title: title, Content: strings.Join(content, " ")})
		}
	}
	for _, raw := range strings.Split(summary, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if isHeading(line) {
			flush()
			title = headingTitle(line)
			content = nil
			continue
		}
		if title != "" {
			content = append(content, line)
		}
	}
	flush()
	return out
}

func isHeading(line string) bool {
	if numberedHeadingRe.MatchString(line) || markdownHeadingRe.MatchString(line) {
		return true
	}
	if len(line) >= maxKeywordHeadingLength || strings.HasSuffix(line, ":") {
		return false
	}
	lower := strings.ToLower(line)
	for _, kw := range headingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func headingTitle(line string) string {
	line = markdownHeadingRe.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, ":", "")
	return strings.TrimSpace(line)
}
