package frontmatter

import (
	"strings"
)

// Body section headers written for fetched entities.
const (
	SummaryHeader     = "## Summary"
	DescriptionHeader = "## Description"
)

// BuildBody renders the two-section body used for fetched entities.
func BuildBody(summary, description string) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	b.WriteString("\n\n")
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString(DescriptionHeader)
	b.WriteString("\n\n")
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString(d)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseBody splits a body into its summary and description text.
//
// The summary is the text under the Summary header up to the next "## "
// header. The description is everything after the Description header, or,
// when there is none, every other section of the body with its headers.
func ParseBody(body string) (summary, description string) {
	var sum, rest strings.Builder
	inSummary := false
	offset := 0
	for offset < len(body) {
		line, _, _ := strings.Cut(body[offset:], "\n")
		offset += len(line) + 1
		trimmed := strings.TrimRight(line, " \t\r")

		switch {
		case trimmed == SummaryHeader:
			inSummary = true
			continue
		case trimmed == DescriptionHeader:
			if offset > len(body) {
				offset = len(body)
			}
			return strings.TrimSpace(sum.String()), strings.TrimSpace(body[offset:])
		case strings.HasPrefix(trimmed, "## "):
			inSummary = false
		}

		if inSummary {
			sum.WriteString(line + "\n")
		} else {
			rest.WriteString(line + "\n")
		}
	}
	return strings.TrimSpace(sum.String()), strings.TrimSpace(rest.String())
}
