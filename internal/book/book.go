package book

import "strings"

// Book is a parsed, paginated document.
type Book struct {
	ID       string // Content hash prefix of the original upload
	Title    string // From metadata or filename
	Filename string
	Pages    []Page // In reading order, one per physical page
}

// Page is one page of extracted text. Index is 0-based.
type Page struct {
	Index      int
	Text       string
	TotalPages int
}

// Chunk is a page-attributed window of text, the unit of semantic indexing.
type Chunk struct {
	ID          string // "<doc>-<seq>"
	DocumentID  string
	Content     string
	SourcePage  int // 0-based page the text was cut from
	StartOffset int // Rune offset within the source page
	Seq         int // Position in chunker output
}

// Label is the 1-based page number shown to readers.
func (c Chunk) Label() int {
	return c.SourcePage + 1
}

// Progress is the reader's position. CurrentPage is the 1-based page
// currently open; TotalPages is informational.
type Progress struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// TotalPages returns the page count.
func (b *Book) TotalPages() int {
	if b == nil {
		return 0
	}
	return len(b.Pages)
}

// Page returns the page with the given 1-based label.
func (b *Book) Page(label int) (Page, bool) {
	if b == nil || label < 1 || label > len(b.Pages) {
		return Page{}, false
	}
	return b.Pages[label-1], true
}

// NonBlank returns the pages carrying text. Page indices are untouched so
// blank pages still count toward numbering.
func (b *Book) NonBlank() []Page {
	if b == nil {
		return nil
	}
	out := make([]Page, 0, len(b.Pages))
	for _, p := range b.Pages {
		if strings.TrimSpace(p.Text) != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewPages builds a page slice from raw texts, stamping index and total.
func NewPages(texts []string) []Page {
	pages := make([]Page, len(texts))
	for i, t := range texts {
		pages[i] = Page{Index: i, Text: t, TotalPages: len(texts)}
	}
	return pages
}
