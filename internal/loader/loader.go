// Package loader turns source files into ordered pages of raw text.
package loader

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/logging"
)

// FileLoader reads PDF, plain text and Markdown files.
type FileLoader struct {
	logger *zap.Logger
	md     goldmark.Markdown
}

var _ domain.Loader = (*FileLoader)(nil)

// New creates a loader for the supported file types.
func New(logger *zap.Logger) *FileLoader {
	return &FileLoader{logger: logging.OrNop(logger), md: goldmark.New()}
}

// Load reads a single file. Unreadable, corrupt or unsupported files yield ErrIngestion.
func (l *FileLoader) Load(ctx context.Context, path string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{ID: hashString(path), Path: path}
	var (
		pages []domain.Page
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err = l.loadPDF(path)
	case ".txt":
		pages, err = l.loadText(path)
	case ".md", ".markdown":
		pages, err = l.loadMarkdown(path)
	default:
		return doc, fmt.Errorf("%w: unsupported file type: %s", domain.ErrIngestion, path)
	}
	if err != nil {
		return doc, fmt.Errorf("%w: load %s: %w", domain.ErrIngestion, path, err)
	}
	doc.Pages = pages
	l.logger.Info("document loaded", zap.String("path", path), zap.Int("pages", len(pages)))
	return doc, nil
}

// LoadAll expands the given paths or ** patterns and loads every match in order.
func (l *FileLoader) LoadAll(ctx context.Context, patterns []string) ([]domain.Document, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %w", domain.ErrIngestion, p, err)
		}
		if len(matches) == 0 {
			matches = []string{p}
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			paths = append(paths, m)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no documents configured", domain.ErrIngestion)
	}
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := l.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (l *FileLoader) loadPDF(path string) (pages []domain.Page, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("corrupt pdf: %v", r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if strings.TrimSpace(content) == "" {
			l.logger.Debug("skipping blank page", zap.String("path", path), zap.Int("page", i))
			continue
		}
		pages = append(pages, domain.Page{Source: path, Number: i, Text: content})
	}
	return pages, nil
}

func (l *FileLoader) loadText(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []domain.Page{{Source: path, Number: 1, Text: string(data)}}, nil
}

func (l *FileLoader) loadMarkdown(path string) ([]domain.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	reader := text.NewReader(data)
	root := l.md.Parser().Parse(reader)

	var blocks []string
	for node := root.FirstChild(); node != nil; node = node.NextSibling() {
		if txt := blockText(node, data); txt != "" {
			blocks = append(blocks, txt)
		}
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	return []domain.Page{{Source: path, Number: 1, Text: strings.Join(blocks, "\n\n")}}, nil
}

// blockText flattens a top-level markdown block to plain text.
func blockText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if node.Kind() == ast.KindListItem || node.Kind() == ast.KindParagraph {
				sb.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteString(" ")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
