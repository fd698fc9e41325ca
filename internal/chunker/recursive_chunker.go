package chunker

import (
	"strconv"
	"strings"

	"policyrag/internal/domain"
)

const (
	DefaultChunkSize = 800
	DefaultOverlap   = 80
)

// DefaultSeparators lists cut boundaries from coarsest to finest:
// paragraphs, lines, sentences, words. A hard character cut is the last resort.
var DefaultSeparators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "? ", "! ", "; "},
	{" "},
}

// RecursiveChunker splits each page into chunks of at most chunkSize
// characters. Consecutive chunks of a page share exactly overlap characters.
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators [][]rune
	levels     []int
}

var _ domain.Chunker = (*RecursiveChunker)(nil)

func NewRecursiveChunker(chunkSize, overlap int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	c := &RecursiveChunker{chunkSize: chunkSize, overlap: overlap}
	for level, group := range DefaultSeparators {
		for _, sep := range group {
			c.separators = append(c.separators, []rune(sep))
			c.levels = append(c.levels, level)
		}
	}
	return c
}

func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	idx := 0
	for _, page := range document.Pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		runes := []rune(page.Text)
		spans := c.split(runes)
		for i, s := range spans {
			overlap := c.overlap
			if i == len(spans)-1 {
				overlap = 0
			}
			chunks = append(chunks, domain.Chunk{
				DocumentID: document.ID,
				ChunkID:    document.ID + ":" + strconv.Itoa(idx),
				Text:       string(runes[s.start:s.end]),
				Index:      idx,
				Page:       page.Number,
				Source:     page.Source,
				Overlap:    overlap,
			})
			idx++
		}
	}
	return chunks, nil
}

type span struct{ start, end int }

func (c *RecursiveChunker) split(runes []rune) []span {
	n := len(runes)
	var spans []span
	start := 0
	for n-start > c.chunkSize {
		end := c.cut(runes, start)
		spans = append(spans, span{start, end})
		start = end - c.overlap
	}
	return append(spans, span{start, n})
}

// cut picks the end of the chunk starting at start. Boundaries of a coarser
// level win over finer ones; within a level the latest boundary wins.
// A boundary is only accepted if the chunk stays at least half full.
func (c *RecursiveChunker) cut(runes []rune, start int) int {
	limit := start + c.chunkSize
	minEnd := start + max(c.overlap+1, c.chunkSize/2)

	best, bestLevel := -1, -1
	for i, sep := range c.separators {
		level := c.levels[i]
		if best >= 0 && level > bestLevel {
			break
		}
		if end := lastBoundary(runes, sep, minEnd, limit); end > best {
			best, bestLevel = end, level
		}
	}
	if best < 0 {
		return limit
	}
	return best
}

// lastBoundary returns the largest end in [lo, hi] such that runes[end-len(sep):end]
// equals sep, or -1.
func lastBoundary(runes, sep []rune, lo, hi int) int {
	for end := hi; end >= lo; end-- {
		from := end - len(sep)
		if from < 0 {
			return -1
		}
		if hasPrefixAt(runes, sep, from) {
			return end
		}
	}
	return -1
}

func hasPrefixAt(runes, sep []rune, at int) bool {
	if at+len(sep) > len(runes) {
		return false
	}
	for i, r := range sep {
		if runes[at+i] != r {
			return false
		}
	}
	return true
}

// Reassemble rebuilds page text from chunks by dropping each shared
// overlap region once. Pages are joined by blank lines.
func Reassemble(chunks []domain.Chunk) string {
	var (
		pages []string
		sb    strings.Builder
		drop  int
	)
	for i, ch := range chunks {
		if i > 0 && (ch.Page != chunks[i-1].Page || ch.Source != chunks[i-1].Source) {
			pages = append(pages, sb.String())
			sb.Reset()
			drop = 0
		}
		runes := []rune(ch.Text)
		sb.WriteString(string(runes[min(drop, len(runes)):]))
		drop = ch.Overlap
	}
	if len(chunks) > 0 {
		pages = append(pages, sb.String())
	}
	return strings.Join(pages, "\n\n")
}
