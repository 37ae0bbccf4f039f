package parser

import (
	"fmt"
	"strings"
	"testing"
)

func TestTextParser_FormFeedPages(t *testing.T) {
	input := "Page one text.\fPage two text.\n\f\fPage four.\f"
	p := &TextParser{}
	b, err := p.Parse(strings.NewReader(input), "novel.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Title != "novel" {
		t.Errorf("expected title %q, got %q", "novel", b.Title)
	}
	if b.TotalPages() != 4 {
		t.Fatalf("expected 4 pages, got %d", b.TotalPages())
	}

	want := []string{"Page one text.", "Page two text.", "", "Page four."}
	for i, w := range want {
		if b.Pages[i].Text != w {
			t.Errorf("page[%d]: expected %q, got %q", i, w, b.Pages[i].Text)
		}
		if b.Pages[i].Index != i {
			t.Errorf("page[%d]: expected index %d, got %d", i, i, b.Pages[i].Index)
		}
		if b.Pages[i].TotalPages != 4 {
			t.Errorf("page[%d]: expected total 4, got %d", i, b.Pages[i].TotalPages)
		}
	}
}

func TestTextParser_ParagraphPacking(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{PageChars: 60}
	b, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", b.TotalPages())
	}
	if b.Pages[0].Text != "First paragraph line one.\nFirst paragraph line two." {
		t.Errorf("unexpected page 0: %q", b.Pages[0].Text)
	}
	if b.Pages[1].Text != "Second paragraph.\n\nThird paragraph." {
		t.Errorf("unexpected page 1: %q", b.Pages[1].Text)
	}
}

func TestTextParser_DefaultPageSizeKeepsShortTextOnOnePage(t *testing.T) {
	p := &TextParser{}
	b, err := p.Parse(strings.NewReader("One.\n\nTwo.\n\nThree."), "short.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalPages() != 1 {
		t.Fatalf("expected 1 page, got %d", b.TotalPages())
	}
	if b.Pages[0].Text != "One.\n\nTwo.\n\nThree." {
		t.Errorf("unexpected page text: %q", b.Pages[0].Text)
	}
}

func TestTextParser_OversizedParagraphGetsOwnPage(t *testing.T) {
	long := strings.Repeat("x", 50)
	input := "short\n\n" + long + "\n\nend"
	p := &TextParser{PageChars: 20}
	b, err := p.Parse(strings.NewReader(input), "long.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.TotalPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", b.TotalPages())
	}
	if b.Pages[1].Text != long {
		t.Errorf("expected oversized paragraph alone on page 1, got %q", b.Pages[1].Text)
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	b, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", b.Title)
	}
	if b.TotalPages() != 0 {
		t.Errorf("expected 0 pages for empty input, got %d", b.TotalPages())
	}
}

func TestForFile(t *testing.T) {
	cases := map[string]string{
		"a.txt":      "*parser.TextParser",
		"a.MD":       "*parser.MarkdownParser",
		"a.markdown": "*parser.MarkdownParser",
		"a.htm":      "*parser.HTMLParser",
		"a.pdf":      "*parser.PDFParser",
		"a.docx":     "*parser.DOCXParser",
	}
	for name, want := range cases {
		p, err := ForFile(name, Options{})
		if err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
			continue
		}
		if got := fmt.Sprintf("%T", p); got != want {
			t.Errorf("%s: expected %s, got %s", name, want, got)
		}
	}

	if _, err := ForFile("a.csv", Options{}); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if IsSupportedExtension("a.csv") {
		t.Error("expected .csv to be unsupported")
	}
	if !IsSupportedExtension("Book.PDF") {
		t.Error("expected .PDF to be supported")
	}
}

func TestForFile_TextPageCharsDefault(t *testing.T) {
	p, err := ForFile("a.txt", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tp, ok := p.(*TextParser)
	if !ok {
		t.Fatalf("expected *TextParser, got %T", p)
	}
	if tp.PageChars != DefaultPageChars {
		t.Errorf("expected page chars %d, got %d", DefaultPageChars, tp.PageChars)
	}
}
