package chunker

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/domain"
)

func docOf(pages ...string) domain.Document {
	doc := domain.Document{ID: "doc", Path: "policy.pdf"}
	for i, p := range pages {
		doc.Pages = append(doc.Pages, domain.Page{Source: "policy.pdf", Number: i + 1, Text: p})
	}
	return doc
}

func policyText() string {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "Section %d. Applicants must provide proof of income for the last %d months. ", i, i+3)
		fmt.Fprintf(&sb, "Loans above %d000 EUR require a guarantor; exceptions need approval by the risk committee.", i+5)
		if i%3 == 2 {
			sb.WriteString("\n\n")
		} else {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func TestNewRecursiveChunker_Clamps(t *testing.T) {
	tests := []struct {
		name            string
		size, overlap   int
		wantSize, wantO int
	}{
		{"defaults", 0, -1, DefaultChunkSize, 0},
		{"overlap too large", 100, 150, 100, 25},
		{"valid", 300, 30, 300, 30},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewRecursiveChunker(tc.size, tc.overlap)
			assert.Equal(t, tc.wantSize, c.chunkSize)
			assert.Equal(t, tc.wantO, c.overlap)
		})
	}
}

func TestChunk_ShortPageYieldsSingleChunk(t *testing.T) {
	c := NewRecursiveChunker(100, 20)
	chunks, err := c.Chunk(docOf("Maximum loan term is 30 years."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Maximum loan term is 30 years.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Equal(t, "doc:0", chunks[0].ChunkID)
	assert.Equal(t, 1, chunks[0].Page)
}

func TestChunk_EmptyAndBlankPages(t *testing.T) {
	c := NewRecursiveChunker(100, 20)
	chunks, err := c.Chunk(docOf("", "   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunk_Invariants(t *testing.T) {
	texts := map[string]string{
		"policy":      policyText(),
		"no spaces":   strings.Repeat("x", 1234),
		"unicode":     strings.Repeat("Préstamo máximo: 30 años — política ñ. ", 60),
		"paragraphs":  strings.Repeat("Short paragraph.\n\n", 80),
		"exact size":  strings.Repeat("a", 200),
		"size plus 1": strings.Repeat("a", 201),
	}
	configs := []struct{ size, overlap int }{{200, 20}, {120, 0}, {64, 63}, {500, 80}}

	for name, text := range texts {
		for _, cfg := range configs {
			t.Run(fmt.Sprintf("%s/%d-%d", name, cfg.size, cfg.overlap), func(t *testing.T) {
				c := NewRecursiveChunker(cfg.size, cfg.overlap)
				chunks, err := c.Chunk(docOf(text))
				require.NoError(t, err)
				require.NotEmpty(t, chunks)

				assert.Equal(t, text, Reassemble(chunks), "round trip modulo overlap")

				for i, ch := range chunks {
					assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), cfg.size)
					assert.Equal(t, i, ch.Index)
					if i == len(chunks)-1 {
						assert.Equal(t, 0, ch.Overlap)
						continue
					}
					assert.Equal(t, c.overlap, ch.Overlap)
					cur := []rune(ch.Text)
					next := []rune(chunks[i+1].Text)
					assert.Equal(t, string(cur[len(cur)-c.overlap:]), string(next[:c.overlap]),
						"consecutive chunks share exactly the overlap")
				}
			})
		}
	}
}

func TestChunk_PrefersParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // 150 chars
	text := para + "\n\n" + para + "\n\n" + para
	c := NewRecursiveChunker(200, 10)

	chunks, err := c.Chunk(docOf(text))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"), "first cut lands after the paragraph break")
}

func TestChunk_FallsBackToSentenceThenWord(t *testing.T) {
	sentence := "The applicant signs the contract. "
	text := strings.Repeat(sentence, 10)
	c := NewRecursiveChunker(100, 0)

	chunks, err := c.Chunk(docOf(text))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(chunks[0].Text, ". "))

	words := strings.Repeat("lorem ", 50)
	chunks, err = c.Chunk(docOf(words))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(chunks[0].Text, " "))
}

func TestChunk_Deterministic(t *testing.T) {
	c := NewRecursiveChunker(150, 15)
	first, err := c.Chunk(docOf(policyText(), policyText()))
	require.NoError(t, err)
	second, err := c.Chunk(docOf(policyText(), policyText()))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestChunk_MultiplePagesKeepProvenance(t *testing.T) {
	c := NewRecursiveChunker(100, 10)
	doc := docOf(strings.Repeat("page one text. ", 20), "page two")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 2, last.Page)
	assert.Equal(t, "page two", last.Text)
	for _, ch := range chunks[:len(chunks)-1] {
		assert.Equal(t, 1, ch.Page)
	}
	assert.Equal(t, 0, chunks[len(chunks)-2].Overlap, "last chunk of a page has no overlap")
	assert.Equal(t, doc.Content(), Reassemble(chunks))
}
