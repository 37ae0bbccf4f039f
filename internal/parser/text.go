package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/charmem/internal/book"
)

// TextParser handles plain text. Form feeds mark page breaks; without
// them, paragraphs are packed into pages of at most PageChars runes.
type TextParser struct {
	PageChars int
}

func (p *TextParser) Parse(r io.Reader, filename string) (*book.Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := string(data)
	title := titleFromFilename(filename)

	if strings.Contains(text, "\f") {
		pages := strings.Split(text, "\f")
		if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
			pages = pages[:n-1]
		}
		for i := range pages {
			pages[i] = strings.TrimSpace(pages[i])
		}
		return newBook(filename, title, pages), nil
	}

	paragraphs, err := splitParagraphs(text)
	if err != nil {
		return nil, err
	}
	return newBook(filename, title, packPages(paragraphs, p.pageChars())), nil
}

func (p *TextParser) pageChars() int {
	if p.PageChars <= 0 {
		return DefaultPageChars
	}
	return p.PageChars
}

func splitParagraphs(text string) ([]string, error) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}
	return paragraphs, scanner.Err()
}

// packPages fills pages with whole paragraphs. A paragraph longer than
// limit gets a page of its own.
func packPages(paragraphs []string, limit int) []string {
	var pages []string
	var cur strings.Builder
	curLen := 0
	for _, para := range paragraphs {
		n := len([]rune(para))
		if curLen > 0 && curLen+2+n > limit {
			pages = append(pages, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += n
	}
	if curLen > 0 {
		pages = append(pages, cur.String())
	}
	return pages
}
