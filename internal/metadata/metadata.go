// Package metadata supplies schema enforcement and summary-generation
// helpers that sit between the parser and the repository: filling in
// fields the parser left blank and checking a parsed document against a
// caller-supplied set of required frontmatter keys.
package metadata

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/L3DigitalNet/markdownkeeper/internal/parser"
)

// EnforceSchema returns the sorted list of required frontmatter keys
// missing from parsed. "title" is considered present whenever parsed has
// any non-"Untitled" title, even without an explicit frontmatter title
// key.
func EnforceSchema(parsed parser.ParsedDocument, required []string) []string {
	var missing []string
	for _, key := range required {
		if key == "title" {
			if parsed.Title != "" && parsed.Title != "Untitled" {
				continue
			}
			missing = append(missing, key)
			continue
		}
		if _, ok := parsed.Frontmatter[key]; ok {
			continue
		}
		missing = append(missing, key)
	}
	sort.Strings(missing)
	return missing
}

// AutoFill returns the token count, title, and category that a document
// at filePath should carry: the parser's values where present, falling
// back to the enclosing directory name for category.
func AutoFill(parsed parser.ParsedDocument, filePath string) (tokenCount int, title string, category string) {
	tokenCount = parsed.TokenEstimate
	if tokenCount < 1 {
		tokenCount = 1
	}

	title = parsed.Title
	if title == "" {
		title = "Untitled"
	}

	category = parsed.Category
	if category == "" {
		category = filepath.Base(filepath.Dir(filePath))
	}
	return tokenCount, title, category
}

// DefaultSummaryMaxTokens is the word budget GenerateSummary truncates to
// when the caller doesn't specify one.
const DefaultSummaryMaxTokens = 150

// GenerateSummary returns parsed's frontmatter summary verbatim if
// present. Otherwise it assembles a titled sentence, a "Covers: " line of
// comma-separated level-2 heading texts, and the first non-heading
// paragraph of the body, then truncates the result to maxTokens words.
// maxTokens <= 0 uses DefaultSummaryMaxTokens.
func GenerateSummary(parsed parser.ParsedDocument, maxTokens int) string {
	if parsed.Summary != "" {
		return parsed.Summary
	}
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}

	var parts []string

	title := parsed.Title
	if title == "" {
		title = "Untitled"
	}
	parts = append(parts, title+".")

	var level2 []string
	for _, h := range parsed.Headings {
		if h.Level == 2 {
			level2 = append(level2, h.Text)
		}
	}
	if len(level2) > 0 {
		parts = append(parts, "Covers: "+strings.Join(level2, ", ")+".")
	}

	if para := firstNonHeadingParagraph(parsed.Body); para != "" {
		parts = append(parts, para)
	}

	joined := strings.Join(parts, " ")
	words := strings.Fields(joined)
	if len(words) > maxTokens {
		words = words[:maxTokens]
	}
	return strings.Join(words, " ")
}

func firstNonHeadingParagraph(body string) string {
	var current []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(current) > 0 {
				return strings.Join(current, " ")
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		current = append(current, trimmed)
	}
	return strings.Join(current, " ")
}
