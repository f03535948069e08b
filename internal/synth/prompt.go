package synth

import (
	"fmt"
	"strings"

	"github.com/FranksOps/quill/internal/extract"
)

// Prompt size bounds, in characters.
const (
	BodyLimit        = 2000
	ReferenceLimit   = 800
	MinimalBodyLimit = 1500
)

// Truncate returns the first n characters of s followed by "..." when s is
// longer than n. Shorter input is returned unchanged.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// BuildPrompt asks the model to rewrite the article in the style of refs.
func BuildPrompt(title, body string, refs []extract.Reference) string {
	var b strings.Builder

	b.WriteString("You are an experienced editor. Rewrite the article below so that it matches the structure, ")
	b.WriteString("depth and formatting of the top-ranking reference articles that follow it. ")
	b.WriteString("Keep the original topic and facts, use markdown headings and short paragraphs, ")
	b.WriteString("and do not copy sentences from the references.\n\n")

	fmt.Fprintf(&b, "Title: %s\n\n", title)
	b.WriteString("Original article:\n")
	b.WriteString(Truncate(body, BodyLimit))
	b.WriteString("\n\n")

	b.WriteString("Reference articles:\n")
	for i, ref := range refs {
		fmt.Fprintf(&b, "\nReference %d: %s\n", i+1, ref.Title)
		b.WriteString(Truncate(ref.Content, ReferenceLimit))
		b.WriteString("\n")
	}

	b.WriteString("\nRewritten article:\n")
	return b.String()
}

// BuildMinimalPrompt is the short fallback prompt without references.
func BuildMinimalPrompt(title, body string) string {
	var b strings.Builder
	b.WriteString("Improve the following article. Use clear markdown headings and short paragraphs.\n\n")
	fmt.Fprintf(&b, "Title: %s\n\n", title)
	b.WriteString(Truncate(body, MinimalBodyLimit))
	b.WriteString("\n\nImproved article:\n")
	return b.String()
}
