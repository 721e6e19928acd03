package ingestion_engine

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize         = 1000
	DefaultChunkOverlap      = 150
	DefaultBoundaryTolerance = 0.2
)

// PassageDraft is a chunk candidate that has no embedding yet.
// Start and End are rune offsets into the normalized text; Text is exactly that slice.
type PassageDraft struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker splits normalized text into ordered, overlapping passages using a sliding window
// that prefers to end on paragraph or sentence boundaries.
type Chunker struct {
	size      int
	overlap   int
	tolerance float64
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the number of characters shared by adjacent chunks.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithBoundaryTolerance sets the tail fraction of a window searched for a boundary.
func WithBoundaryTolerance(f float64) ChunkerOption {
	return func(c *Chunker) {
		if f >= 0 && f < 1 {
			c.tolerance = f
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		size:      DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		tolerance: DefaultBoundaryTolerance,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Chunk returns the passages of text in order. Whitespace-only text yields no passages.
// The result depends only on text and the chunker settings.
func (c *Chunker) Chunk(text string) []PassageDraft {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var drafts []PassageDraft
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			drafts = append(drafts, c.draft(runes, len(drafts), start, n))
			break
		}

		cut := c.boundary(runes, start, end)
		drafts = append(drafts, c.draft(runes, len(drafts), start, cut))

		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return drafts
}

func (c *Chunker) draft(runes []rune, index, start, end int) PassageDraft {
	return PassageDraft{
		Index: index,
		Text:  string(runes[start:end]),
		Start: start,
		End:   end,
	}
}

// boundary picks where the window [start, end) should end. It looks for the latest
// paragraph break, then the latest sentence end, inside the tolerance tail of the window.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	lo := end - int(float64(c.size)*c.tolerance)
	if lo < start+2 {
		lo = start + 2
	}
	if lo > end {
		return end
	}

	for p := end; p >= lo; p-- {
		if runes[p-1] == '\n' && runes[p-2] == '\n' {
			return p
		}
	}
	for p := end; p >= lo; p-- {
		if unicode.IsSpace(runes[p-1]) && isSentenceEnd(runes[p-2]) {
			return p
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
