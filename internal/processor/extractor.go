package processor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/adriejeon/featureDetective/pkg/types"
)

// Thresholds for the main-content heuristic: a priority selector qualifies
// at minSelectorText runes of cleaned text, a density-scan candidate at
// minBlockText. Below both, extraction falls back to the whole body.
const (
	minSelectorText = 100
	minBlockText    = 200
)

// Removed from every document before extraction, in addition to any
// configured selectors.
var defaultExcludeSelectors = []string{
	"nav", "footer", "header", "aside",
	"script", "style", "noscript", "iframe", "form",
	".advertisement", ".ads", ".banner", ".popup",
	".cookie-notice", ".newsletter", ".social-share", ".sidebar",
}

// Checked first, in order, when locating the main content block.
var contentSelectors = []string{
	"main", "article",
	".content", ".main-content", ".post-content", ".entry-content",
	".page-content", ".help-content", ".documentation", ".article-content",
}

// Result carries the extraction output for one page.
type Result struct {
	Title    string
	Content  string
	Method   types.ExtractionMethod
	Headings []string
	Links    []string
}

// Extractor converts raw HTML into cleaned text plus metadata. It performs
// no I/O and is deterministic for a given input.
type Extractor struct {
	exclude []string
}

// New builds an extractor. Configured selectors are validated up front so a
// bad selector is a construction-time error rather than a per-page one.
func New(extraSelectors []string) (*Extractor, error) {
	exclude := make([]string, 0, len(defaultExcludeSelectors)+len(extraSelectors))
	exclude = append(exclude, defaultExcludeSelectors...)
	for _, sel := range extraSelectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, err := cascadia.Parse(sel); err != nil {
			return nil, fmt.Errorf("invalid css exclude selector %q: %w", sel, err)
		}
		exclude = append(exclude, sel)
	}
	return &Extractor{exclude: exclude}, nil
}

// Extract parses rawHTML, strips excluded elements, locates the main
// content block, and collects title, headings, and outbound links resolved
// against base.
func (e *Extractor) Extract(rawHTML []byte, base *url.URL) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range e.exclude {
		doc.Find(sel).Remove()
	}

	res := &Result{
		Title:    extractTitle(doc),
		Headings: extractHeadings(doc),
		Links:    extractLinks(doc, base),
	}

	if block, ok := findMainContent(doc); ok {
		res.Content = block
		res.Method = types.ExtractionMainContent
		return res, nil
	}

	body := doc.Find("body")
	if body.Length() > 0 {
		res.Content = cleanText(blockText(body.Nodes))
	} else {
		res.Content = cleanText(blockText(doc.Selection.Nodes))
	}
	res.Method = types.ExtractionFallbackBody
	return res, nil
}

func findMainContent(doc *goquery.Document) (string, bool) {
	for _, sel := range contentSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		text := cleanText(blockText(s.Nodes))
		if len([]rune(text)) >= minSelectorText {
			return text, true
		}
	}

	// Highest-density block wins; document order breaks ties.
	var best string
	bestLen := 0
	doc.Find("div,section,article,main").Each(func(_ int, s *goquery.Selection) {
		text := cleanText(blockText(s.Nodes))
		if n := len([]rune(text)); n >= minBlockText && n > bestLen {
			best = text
			bestLen = n
		}
	})
	if bestLen > 0 {
		return best, true
	}
	return "", false
}

func extractTitle(doc *goquery.Document) string {
	if title := normalizeWhitespace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return normalizeWhitespace(doc.Find("h1").First().Text())
}

func extractHeadings(doc *goquery.Document) []string {
	var headings []string
	doc.Find("h1,h2,h3").Each(func(_ int, s *goquery.Selection) {
		if text := normalizeWhitespace(s.Text()); text != "" {
			headings = append(headings, text)
		}
	})
	return headings
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	if base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		key := resolved.String()
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, key)
	})
	return links
}

var blockLevelTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "ul": {}, "ol": {}, "table": {}, "tr": {},
	"figure": {}, "figcaption": {}, "blockquote": {}, "pre": {},
}

// blockText walks the parsed nodes accumulating text, inserting newlines at
// block boundaries and spaces between inline runs.
func blockText(nodes []*html.Node) string {
	acc := &textAccumulator{}
	for _, n := range nodes {
		accumulateText(n, acc)
	}
	return acc.String()
}

type textAccumulator struct {
	builder  strings.Builder
	lastRune rune
	hasLast  bool
}

func (t *textAccumulator) String() string {
	return t.builder.String()
}

func (t *textAccumulator) append(value string) {
	if value == "" {
		return
	}
	t.builder.WriteString(value)
	for _, r := range value {
		t.lastRune = r
		t.hasLast = true
	}
}

func (t *textAccumulator) ensureSpace() {
	if !t.hasLast || t.lastRune == ' ' || t.lastRune == '\n' {
		return
	}
	t.append(" ")
}

func (t *textAccumulator) ensureNewline() {
	if !t.hasLast || t.lastRune == '\n' {
		return
	}
	t.append("\n")
}

func accumulateText(node *html.Node, acc *textAccumulator) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		text := normalizeWhitespace(node.Data)
		if text == "" {
			return
		}
		acc.ensureSpace()
		acc.append(text)
	case html.ElementNode, html.DocumentNode:
		tag := strings.ToLower(node.Data)
		if tag == "br" {
			acc.ensureNewline()
			return
		}
		_, block := blockLevelTags[tag]
		if block {
			acc.ensureNewline()
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			accumulateText(child, acc)
		}
		switch tag {
		case "td", "th":
			acc.ensureSpace()
		default:
			if block {
				acc.ensureNewline()
			}
		}
	}
}

// cleanText trims every line, collapses runs of inner whitespace, and drops
// blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = normalizeWhitespace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
