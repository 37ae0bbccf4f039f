package chunker

import (
	"fmt"
	"sort"

	"github.com/dgallion1/charmem/internal/book"
)

// Config controls chunking behavior. Sizes are in characters (runes).
type Config struct {
	ChunkSize    int // Window length.
	ChunkOverlap int // Characters shared by consecutive windows on a page.
}

// DefaultConfig returns the defaults used for book ingestion.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1000,
		ChunkOverlap: 500,
	}
}

// ConfigError reports chunking parameters or input that would make the
// window stall or misattribute text.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunker config: %s: %s", e.Field, e.Reason)
}

// Validate checks that the window always advances.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return &ConfigError{Field: "chunk_size", Reason: fmt.Sprintf("must be positive, got %d", c.ChunkSize)}
	}
	if c.ChunkOverlap < 0 {
		return &ConfigError{Field: "chunk_overlap", Reason: fmt.Sprintf("must not be negative, got %d", c.ChunkOverlap)}
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return &ConfigError{Field: "chunk_overlap", Reason: fmt.Sprintf("%d must be smaller than chunk_size %d", c.ChunkOverlap, c.ChunkSize)}
	}
	return nil
}

// Chunk slides a ChunkSize window over each page, advancing by
// ChunkSize-ChunkOverlap. Output is ordered by page, then start offset.
// Callers drop blank pages first; an empty page here is an error.
func Chunk(docID string, pages []book.Page, cfg Config) ([]book.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ordered := make([]book.Page, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	for _, p := range ordered {
		if p.Text == "" {
			return nil, &ConfigError{Field: "pages", Reason: fmt.Sprintf("page %d has no text", p.Index)}
		}
		if p.Index < 0 || (p.TotalPages > 0 && p.Index >= p.TotalPages) {
			return nil, &ConfigError{Field: "pages", Reason: fmt.Sprintf("page index %d outside [0, %d)", p.Index, p.TotalPages)}
		}
	}

	step := cfg.ChunkSize - cfg.ChunkOverlap
	var chunks []book.Chunk
	for _, p := range ordered {
		for _, w := range windows([]rune(p.Text), cfg.ChunkSize, step) {
			seq := len(chunks)
			chunks = append(chunks, book.Chunk{
				ID:          fmt.Sprintf("%s-%d", docID, seq),
				DocumentID:  docID,
				Content:     w.text,
				SourcePage:  p.Index,
				StartOffset: w.start,
				Seq:         seq,
			})
		}
	}
	return chunks, nil
}

type window struct {
	start int
	text  string
}

func windows(text []rune, size, step int) []window {
	var out []window
	for start := 0; start < len(text); start += step {
		end := min(start+size, len(text))
		out = append(out, window{start: start, text: string(text[start:end])})
		if end == len(text) {
			break
		}
	}
	return out
}
