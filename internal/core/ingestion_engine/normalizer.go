package ingestion_engine

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// pageLabelLine matches explicit page labels ("- 12 -", "Page 3", "Page 3 of 10").
	pageLabelLine = regexp.MustCompile(`(?i)^(?:-\s*\d+\s*-|page\s+\d+(?:\s+of\s+\d+)?)$`)

	// bareNumberLine matches a line that is only a short number. It is treated as a page
	// number only at the top or bottom of a page.
	bareNumberLine = regexp.MustCompile(`^\d{1,4}$`)
)

// compoundHeads are words that keep their hyphen when a compound is broken across lines.
var compoundHeads = map[string]bool{
	"well": true, "self": true, "non": true, "cross": true, "long": true, "short": true,
	"high": true, "low": true, "full": true, "half": true, "ill": true, "all": true,
	"semi": true, "multi": true, "anti": true, "pseudo": true, "quasi": true,
}

// Normalize cleans extracted text before chunking.
//
// Control characters are removed, whitespace runs are collapsed, page labels are dropped
// and lines wrapped inside a paragraph are joined. Form feeds separate pages; a lone number
// heading or footing a page is dropped as its page number. Paragraphs stay separated by a
// blank line because the chunker prefers to split there.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	pages := strings.Split(text, "\f")
	var paragraphs []string
	for _, page := range pages {
		paragraphs = appendParagraphs(paragraphs, pageLines(cleanRunes(page), len(pages) > 1))
	}
	return strings.Join(paragraphs, "\n\n")
}

func cleanRunes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == unicode.ReplacementChar:
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pageLines collapses whitespace in every line of one page and drops its page-number lines.
// Blank lines are kept as paragraph separators.
func pageLines(page string, paged bool) []string {
	lines := strings.Split(page, "\n")
	first, last := -1, -1
	for i := range lines {
		lines[i] = strings.Join(strings.Fields(lines[i]), " ")
		if lines[i] != "" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	out := lines[:0]
	for i, line := range lines {
		if pageLabelLine.MatchString(line) {
			continue
		}
		if paged && (i == first || i == last) && bareNumberLine.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func appendParagraphs(paragraphs, lines []string) []string {
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		if p := joinWrapped(current); !pageLabelLine.MatchString(p) {
			paragraphs = append(paragraphs, p)
		}
		current = current[:0]
	}
	for _, line := range lines {
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paragraphs
}

// joinWrapped joins the lines of one paragraph, re-joining words hyphenated across a line break.
// Compounds ("well-known", "state-of-the-art") keep their hyphen.
func joinWrapped(lines []string) string {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			prev := lines[i-1]
			switch {
			case !hyphenatedBreak(prev, line):
				b.WriteByte(' ')
			case keepsHyphen(prev):
			default:
				// drop the trailing hyphen already written
				s := b.String()
				b.Reset()
				b.WriteString(s[:len(s)-1])
			}
		}
		b.WriteString(line)
	}
	return b.String()
}

// keepsHyphen reports whether the word ending prev is the head of a compound.
func keepsHyphen(prev string) bool {
	word := strings.TrimSuffix(prev, "-")
	if i := strings.LastIndexByte(word, ' '); i >= 0 {
		word = word[i+1:]
	}
	if strings.Contains(word, "-") {
		return true
	}
	return compoundHeads[strings.ToLower(word)]
}

func hyphenatedBreak(prev, next string) bool {
	if len(prev) < 2 || !strings.HasSuffix(prev, "-") {
		return false
	}
	before := []rune(prev)
	if !unicode.IsLetter(before[len(before)-2]) {
		return false
	}
	first := []rune(next)[0]
	return unicode.IsLower(first)
}
