package analyzer

import (
	"strings"
	"unicode"
)

// WordsPerMinute is the reading speed used for ReadingMinutes.
const WordsPerMinute = 200

// TermMatch represents occurrences of a term within an article.
type TermMatch struct {
	Term      string   `json:"term"`
	Count     int      `json:"count"`
	Sentences []string `json:"sentences,omitempty"`
}

// Stats summarizes an article body.
type Stats struct {
	Words          int         `json:"words"`
	Sentences      int         `json:"sentences"`
	Headings       int         `json:"headings"`
	ReadingMinutes int         `json:"readingMinutes"`
	Terms          []TermMatch `json:"terms,omitempty"`
}

// Coverage is the fraction of terms that occur at least once.
func (s Stats) Coverage(terms int) float64 {
	if terms == 0 {
		return 0
	}
	return float64(len(s.Terms)) / float64(terms)
}

// Analyze computes Stats for text and counts each term case-insensitively.
func Analyze(text string, terms []string) Stats {
	sentences := splitIntoSentences(text)
	words := WordCount(text)
	return Stats{
		Words:          words,
		Sentences:      len(sentences),
		Headings:       countHeadings(text),
		ReadingMinutes: ReadingMinutes(words),
		Terms:          findTermMatches(text, sentences, terms),
	}
}

// WordCount counts whitespace separated tokens that contain a letter or digit.
func WordCount(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if strings.IndexFunc(f, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
			n++
		}
	}
	return n
}

// ReadingMinutes rounds up, with a minimum of one minute for non-empty text.
func ReadingMinutes(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + WordsPerMinute - 1) / WordsPerMinute
}

// TitleTerms returns the distinct lowercase words of a title longer than three
// characters, in order of first appearance.
func TitleTerms(title string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) <= 3 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func countHeadings(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") && strings.TrimLeft(line, "#") != "" && strings.HasPrefix(strings.TrimLeft(line, "#"), " ") {
			n++
		}
	}
	return n
}

type sentence struct {
	original string
	lower    string
}

func findTermMatches(text string, sentences []sentence, terms []string) []TermMatch {
	if len(text) == 0 || len(terms) == 0 {
		return nil
	}

	lowerText := strings.ToLower(text)
	results := make([]TermMatch, 0, len(terms))
	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		if lowerTerm == "" {
			continue
		}
		count := strings.Count(lowerText, lowerTerm)
		if count == 0 {
			continue
		}

		var matched []string
		for _, s := range sentences {
			if strings.Contains(s.lower, lowerTerm) {
				matched = append(matched, s.original)
			}
		}
		results = append(results, TermMatch{Term: term, Count: count, Sentences: matched})
	}
	return results
}

// splitIntoSentences splits on '.', '!', '?' and blank lines, keeping the
// delimiter at the end of each sentence.
func splitIntoSentences(text string) []sentence {
	if len(text) == 0 {
		return nil
	}

	estimated := len(text) / 50
	if estimated < 1 {
		estimated = 1
	}
	out := make([]sentence, 0, estimated)

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		out = append(out, sentence{original: s, lower: strings.ToLower(s)})
	}

	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '.' || c == '!' || c == '?':
			end := i + 1
			for end < len(text) && unicode.IsSpace(rune(text[end])) {
				end++
			}
			add(text[start:end])
			start = end
			i = end - 1
		case c == '\n' && i+1 < len(text) && text[i+1] == '\n':
			add(text[start:i])
			start = i + 2
			i++
		}
	}
	if start < len(text) {
		add(text[start:])
	}
	return out
}
