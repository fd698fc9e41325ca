package domain

import (
	"context"
	"strings"
)

// Page is the raw text of one page of a source document.
type Page struct {
	Source string
	Number int
	Text   string
}

// Document represents a single source file loaded into the system.
type Document struct {
	ID    string
	Path  string
	Pages []Page
}

// Content returns the text of all pages separated by blank lines.
func (d Document) Content() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Chunk is a contiguous span of a page used for indexing.
// Overlap is the number of trailing characters shared with the next chunk
// of the same page; it is zero for the last chunk of a page.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
	Page       int
	Source     string
	Overlap    int
}

// Candidate is a stored chunk returned by a vector store together with its vector.
type Candidate struct {
	Chunk  Chunk
	Vector []float64
	Score  float64
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of a conversation history.
type Turn struct {
	Role    Role
	Content string
}

// Loader converts a source file into an ordered sequence of pages.
type Loader interface {
	Load(ctx context.Context, path string) (Document, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore persists vectors and returns nearest-neighbour candidates.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, limit int) ([]Candidate, error)
	Clear(ctx context.Context) error
	Count() int
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Tool is a capability the answering model may invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ChatModel is a hosted language model with tool calling.
type ChatModel interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Assistant answers one user query given the prior conversation.
type Assistant interface {
	Answer(ctx context.Context, query string, history []Turn) (string, error)
}

type ChatRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}
