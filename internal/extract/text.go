package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Minimum extracted length for a content container to be accepted.
const (
	ReferenceMinLength = 200
	DiscoveryMinLength = 100
	paragraphMinLength = 50
)

// removeSelector matches page chrome and non-content elements. Class
// selectors match whole tokens so wrapper classes like "has-sidebar" survive.
const removeSelector = "script, style, noscript, iframe, nav, header, footer, aside, form, " +
	".ad, .ads, .advertisement, .sidebar, .widget-area, " +
	".cookie-banner, .cookie-notice, .cookie-consent, [id^=ad-], [id^=ads-], " +
	".social-share, .related-posts, .comments"

// mainSelector matches structural content containers. Chrome that wraps one
// of them is kept.
const mainSelector = "article, [role=main], main"

// contentSelectors are tried in order; the first long enough match wins.
var contentSelectors = []string{
	"article",
	"[role=main]",
	"main",
	".post-content",
	".entry-content",
	".article-content",
	".article-body",
	".content",
	"#content",
	".post",
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "blockquote": true, "pre": true,
	"table": true, "tr": true, "br": true, "hr": true, "figure": true, "figcaption": true,
}

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\r\x{00a0}]+`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// Text returns the main body text of doc. Chrome elements are removed from
// doc in place. The first content container whose normalized text is longer
// than minLength wins; otherwise paragraphs longer than 50 characters are
// joined by blank lines. An empty string means nothing qualified.
func Text(doc *goquery.Document, minLength int) string {
	doc.Find(removeSelector).Not("html, body").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(mainSelector).Length() == 0
	}).Remove()

	for _, sel := range contentSelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := Normalize(blockText(s))
			if utf8.RuneCountInString(text) > minLength {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := Normalize(blockText(s))
		if utf8.RuneCountInString(text) > paragraphMinLength {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n")
}

// Normalize collapses runs of spaces and tabs, trims every line and reduces
// consecutive blank lines to one.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// blockText renders the text of s with newlines around block elements, so
// adjacent paragraphs do not run together.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			// source line breaks are plain whitespace in HTML
			b.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
			return
		case html.ElementNode:
			if blockElements[n.Data] {
				b.WriteString("\n\n")
				defer b.WriteString("\n\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}
