// Package parser turns a markup blob into an immutable ParsedDocument:
// frontmatter, headings, links, tags, concepts, chunks, and a content hash.
// The parser never fails — degenerate input yields a sparse but valid
// ParsedDocument.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// Heading is a single `#`-prefixed line in the document body.
type Heading struct {
	Level    int
	Text     string
	Anchor   string
	Position int
}

// Link is a single `[label](target)` reference in the document body.
type Link struct {
	Target     string
	IsExternal bool
}

// Chunk is a bounded-size slice of the document body used for fine-grained
// vector comparison.
type Chunk struct {
	Index       int
	HeadingPath string
	Content     string
	TokenCount  int
}

// ParsedDocument is the immutable output of Parse.
type ParsedDocument struct {
	Title         string
	Summary       string
	Category      string
	Tags          []string
	Concepts      []string
	Body          string
	TokenEstimate int
	ContentHash   string
	Headings      []Heading
	Links         []Link
	Chunks        []Chunk
	Frontmatter   map[string]string
}

var (
	headingRE = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*$`)
	linkRE    = regexp.MustCompile(`\[[^\]]+\]\(([^)]+)\)`)
	slugNonAN = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpace = regexp.MustCompile(`\s+`)
	conceptRE = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]{2,}`)
)

// conceptStopWords excludes common, non-topical terms from concept
// extraction.
var conceptStopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "this": {}, "that": {},
	"from": {}, "into": {}, "your": {}, "guide": {}, "docs": {}, "markdown": {},
	"are": {}, "was": {}, "were": {}, "been": {}, "being": {}, "have": {},
	"has": {}, "had": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "can": {}, "shall": {},
	"not": {}, "but": {}, "also": {}, "than": {}, "then": {}, "when": {},
	"where": {}, "how": {}, "what": {}, "which": {}, "who": {}, "whom": {},
	"why": {}, "all": {}, "each": {}, "every": {}, "both": {}, "few": {},
	"more": {}, "most": {}, "other": {}, "some": {}, "such": {}, "only": {},
	"own": {}, "same": {}, "too": {}, "very": {}, "just": {}, "use": {},
	"using": {}, "used": {},
}

const chunkWindowWords = 120

// Slugify lowercases value, strips non `[a-z0-9\s-]` characters, collapses
// whitespace runs to `-`, and trims leading/trailing `-`.
func Slugify(value string) string {
	lowered := strings.ToLower(value)
	stripped := slugNonAN.ReplaceAllString(lowered, "")
	collapsed := slugSpace.ReplaceAllString(stripped, "-")
	return strings.Trim(collapsed, "-")
}

// Parse parses raw markup bytes into a ParsedDocument. It never returns an
// error: degenerate input produces a sparse result.
func Parse(text string) ParsedDocument {
	frontmatter, body := parseFrontmatter(text)

	headings := parseHeadings(body)
	links := parseLinks(body)

	title := frontmatter["title"]
	if title == "" {
		if len(headings) > 0 {
			title = headings[0].Text
		} else {
			title = "Untitled"
		}
	}

	summary := frontmatter["summary"]
	if summary == "" {
		summary = firstTwoLinesSummary(body)
	}

	category := frontmatter["category"]

	var tags []string
	if raw, ok := frontmatter["tags"]; ok {
		tags = splitCommaTrimmed(raw)
	}

	var concepts []string
	if raw, ok := frontmatter["concepts"]; ok {
		concepts = splitCommaTrimmed(raw)
	} else {
		concepts = extractConcepts(body, headings)
	}

	chunks := chunkBody(body, headings)

	hash := sha256.Sum256([]byte(text))

	return ParsedDocument{
		Title:         title,
		Summary:       summary,
		Category:      category,
		Tags:          tags,
		Concepts:      concepts,
		Body:          body,
		TokenEstimate: max1(len(strings.Fields(body))),
		ContentHash:   hex.EncodeToString(hash[:]),
		Headings:      headings,
		Links:         links,
		Chunks:        chunks,
		Frontmatter:   frontmatter,
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// parseFrontmatter recognizes frontmatter only when text begins exactly
// with "---\n" and a matching "\n---\n" closing fence is found afterward.
func parseFrontmatter(text string) (map[string]string, string) {
	fm := map[string]string{}
	if !strings.HasPrefix(text, "---\n") {
		return fm, text
	}

	end := strings.Index(text[4:], "\n---\n")
	if end == -1 {
		return fm, text
	}
	end += 4

	raw := text[4:end]
	body := text[end+5:]

	for _, line := range strings.Split(raw, "\n") {
		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		value = strings.Trim(value, `"`)
		fm[key] = value
	}
	return fm, body
}

func parseHeadings(body string) []Heading {
	matches := headingRE.FindAllStringSubmatch(body, -1)
	headings := make([]Heading, 0, len(matches))
	for i, m := range matches {
		text := strings.TrimSpace(m[2])
		headings = append(headings, Heading{
			Level:    len(m[1]),
			Text:     text,
			Anchor:   Slugify(text),
			Position: i + 1,
		})
	}
	return headings
}

func parseLinks(body string) []Link {
	matches := linkRE.FindAllStringSubmatch(body, -1)
	links := make([]Link, 0, len(matches))
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		links = append(links, Link{
			Target:     target,
			IsExternal: strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://"),
		})
	}
	return links
}

func firstTwoLinesSummary(body string) string {
	var lines []string
	for _, ln := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(ln)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
		if len(lines) == 2 {
			break
		}
	}
	joined := strings.Join(lines, " ")
	if len(joined) > 280 {
		joined = joined[:280]
	}
	return joined
}

func splitCommaTrimmed(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// extractConcepts ranks terms by frequency over body and headings
// (heading words count double), excluding stop words, and returns the
// top 10 ordered by (-frequency, alpha).
func extractConcepts(body string, headings []Heading) []string {
	counts := map[string]int{}
	countWords := func(text string, weight int) {
		for _, w := range conceptRE.FindAllString(text, -1) {
			w = strings.ToLower(w)
			if _, stop := conceptStopWords[w]; stop {
				continue
			}
			counts[w] += weight
		}
	}

	countWords(body, 1)
	for _, h := range headings {
		countWords(h.Text, 2)
	}

	if len(counts) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	limit := 10
	if len(ranked) < limit {
		limit = len(ranked)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].word
	}
	return out
}

// chunkBody splits the body on blank lines into paragraphs, then windows
// each paragraph into chunks of at most chunkWindowWords words.
func chunkBody(body string, headings []Heading) []Chunk {
	headingPath := ""
	if len(headings) > 0 {
		headingPath = headings[0].Text
	}

	var chunks []Chunk
	for _, para := range splitParagraphs(body) {
		words := strings.Fields(para)
		for start := 0; start < len(words); start += chunkWindowWords {
			end := start + chunkWindowWords
			if end > len(words) {
				end = len(words)
			}
			window := words[start:end]
			chunks = append(chunks, Chunk{
				HeadingPath: headingPath,
				Content:     strings.Join(window, " "),
				TokenCount:  len(window),
			})
		}
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// splitParagraphs splits text on runs of one or more blank lines.
func splitParagraphs(text string) []string {
	lines := strings.Split(text, "\n")
	var paragraphs []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		if joined != "" {
			paragraphs = append(paragraphs, joined)
		}
		current = current[:0]
	}
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			flush()
			continue
		}
		current = append(current, ln)
	}
	flush()
	return paragraphs
}
