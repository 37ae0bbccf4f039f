package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dgallion1/charmem/internal/book"
)

// Parser converts raw document bytes into a paginated Book.
type Parser interface {
	Parse(r io.Reader, filename string) (*book.Book, error)
}

// Options tunes format-specific behaviour.
type Options struct {
	// FallbackPdftotext shells out to pdftotext when the Go PDF reader fails.
	FallbackPdftotext bool
	// PageChars bounds synthetic pages for formats without physical pages.
	PageChars int
}

// DefaultPageChars approximates one printed page of prose.
const DefaultPageChars = 3000

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string, opts Options) (Parser, error) {
	if opts.PageChars <= 0 {
		opts.PageChars = DefaultPageChars
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{PageChars: opts.PageChars}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: opts.FallbackPdftotext}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func titleFromFilename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func newBook(filename, title string, texts []string) *book.Book {
	return &book.Book{
		Title:    title,
		Filename: filename,
		Pages:    book.NewPages(texts),
	}
}

// sectionPager turns a heading-structured document into pages: every
// heading at or above breakLevel starts a new page.
type sectionPager struct {
	breakLevel int
	pages      []string
	cur        strings.Builder
}

func (p *sectionPager) heading(level int, title string) {
	if level > 0 && level <= p.breakLevel {
		p.flush()
	}
	p.text(title)
}

func (p *sectionPager) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if p.cur.Len() > 0 {
		p.cur.WriteString("\n\n")
	}
	p.cur.WriteString(t)
}

func (p *sectionPager) flush() {
	if t := strings.TrimSpace(p.cur.String()); t != "" {
		p.pages = append(p.pages, t)
	}
	p.cur.Reset()
}

func (p *sectionPager) done() []string {
	p.flush()
	return p.pages
}
