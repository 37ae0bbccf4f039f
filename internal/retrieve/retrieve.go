// Package retrieve runs similarity search limited to what a reader has
// already seen and formats the surviving passages as prompt context.
package retrieve

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/embed"
	"github.com/dgallion1/charmem/internal/index"
)

// Separator joins passages in the formatted context.
const Separator = "\n\n---\n\n"

// Request describes one retrieval. A nil Progress or FullBook disables the
// page ceiling.
type Request struct {
	Query    string
	K        int
	Progress *book.Progress
	FullBook bool
}

// Passage is a ranked chunk that survived filtering.
type Passage struct {
	Page    int     `json:"page"` // 1-based label
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// Context is the retrieval result. Empty means no evidence in scope.
type Context struct {
	Passages []Passage
	Text     string
}

// Empty reports whether nothing survived filtering.
func (c Context) Empty() bool { return len(c.Passages) == 0 }

// Retriever wraps an index query with the reading-progress filter.
type Retriever struct {
	Embedder embed.Embedder
	// MinScore drops hits scoring below it. Zero disables the floor.
	MinScore float64
}

func New(e embed.Embedder, minScore float64) *Retriever {
	return &Retriever{Embedder: e, MinScore: minScore}
}

// Ceiling returns the exclusive 0-based page limit for req, or -1 when the
// whole book is in scope. A reader on 1-based page p has seen source pages
// 0..p-1, so the ceiling is p.
func Ceiling(req Request) int {
	if req.FullBook || req.Progress == nil {
		return -1
	}
	return max(req.Progress.CurrentPage, 0)
}

// Retrieve ranks every chunk against req.Query, drops chunks at or beyond
// the page ceiling, and keeps the first K survivors. Ranking order is
// preserved. K <= 0 keeps all survivors.
func (r *Retriever) Retrieve(ctx context.Context, idx *index.Index, req Request) (Context, error) {
	if idx == nil {
		return Context{}, index.ErrNotInitialized
	}
	hits, err := idx.Query(ctx, req.Query, r.Embedder, 0)
	if err != nil {
		return Context{}, err
	}

	ceiling := Ceiling(req)
	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		if req.K > 0 && len(passages) == req.K {
			break
		}
		if ceiling >= 0 && h.Chunk.SourcePage >= ceiling {
			continue
		}
		if r.MinScore > 0 && h.Score < r.MinScore {
			continue
		}
		passages = append(passages, Passage{Page: h.Chunk.Label(), Score: h.Score, Content: h.Chunk.Content})
	}
	return Context{Passages: passages, Text: Format(passages)}, nil
}

// Format renders passages as "[Page N]\n<content>" blocks.
func Format(passages []Passage) string {
	blocks := make([]string, len(passages))
	for i, p := range passages {
		blocks[i] = fmt.Sprintf("[Page %d]\n%s", p.Page, p.Content)
	}
	return strings.Join(blocks, Separator)
}
