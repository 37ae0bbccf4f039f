// Package index holds one document's chunk vectors in memory and answers
// nearest-neighbour queries by scanning every entry with cosine similarity.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/embed"
)

// ErrNotInitialized is returned when no document has been indexed yet.
var ErrNotInitialized = errors.New("no document has been indexed")

// EmbeddingError wraps an embedding port failure or a malformed vector.
type EmbeddingError struct {
	Op    string // "build" or "query"
	Cause error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed during %s: %v", e.Op, e.Cause)
}

func (e *EmbeddingError) Unwrap() error { return e.Cause }

type entry struct {
	chunk book.Chunk
	vec   []float32
	mag   float64
}

// Index is immutable once built and safe for concurrent queries.
type Index struct {
	docID   string
	dim     int
	entries []entry
}

// Hit is one query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	Chunk book.Chunk
	Score float64
}

// Build embeds every chunk and returns a complete index. On any failure no
// index is returned. batchSize bounds each EmbedMany call; 0 sends all.
func Build(ctx context.Context, docID string, chunks []book.Chunk, e embed.Embedder, batchSize int) (*Index, error) {
	idx := &Index{docID: docID}
	if len(chunks) == 0 {
		return idx, nil
	}
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	entries := make([]entry, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			if c.DocumentID != "" && c.DocumentID != docID {
				return nil, fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, docID)
			}
			texts = append(texts, c.Content)
		}

		vecs, err := e.EmbedMany(ctx, texts)
		if err != nil {
			return nil, &EmbeddingError{Op: "build", Cause: err}
		}
		if len(vecs) != len(texts) {
			return nil, &EmbeddingError{Op: "build", Cause: fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))}
		}
		for j, v := range vecs {
			if len(v) == 0 {
				return nil, &EmbeddingError{Op: "build", Cause: fmt.Errorf("empty vector for chunk %d", start+j)}
			}
			if idx.dim == 0 {
				idx.dim = len(v)
			}
			if len(v) != idx.dim {
				return nil, &EmbeddingError{Op: "build", Cause: fmt.Errorf("vector dimension %d, expected %d", len(v), idx.dim)}
			}
			entries = append(entries, entry{chunk: chunks[start+j], vec: v, mag: magnitude(v)})
		}
	}
	idx.entries = entries
	return idx, nil
}

// DocumentID names the document every entry came from.
func (i *Index) DocumentID() string { return i.docID }

// Len returns the number of entries.
func (i *Index) Len() int { return len(i.entries) }

// Dim returns the vector dimension, 0 when empty.
func (i *Index) Dim() int { return i.dim }

// Query embeds text and returns the k most similar entries, best first.
// Equal scores keep insertion order. k <= 0 or k > Len returns all.
func (i *Index) Query(ctx context.Context, text string, e embed.Embedder, k int) ([]Hit, error) {
	if len(i.entries) == 0 {
		return nil, nil
	}
	q, err := e.EmbedOne(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Op: "query", Cause: err}
	}
	if len(q) != i.dim {
		return nil, &EmbeddingError{Op: "query", Cause: fmt.Errorf("query dimension %d, index dimension %d", len(q), i.dim)}
	}
	return i.Search(q, k), nil
}

// Search ranks entries against an already-embedded query vector.
func (i *Index) Search(q []float32, k int) []Hit {
	qm := magnitude(q)
	hits := make([]Hit, len(i.entries))
	for j, en := range i.entries {
		hits[j] = Hit{Chunk: en.chunk, Score: cosine(q, qm, en.vec, en.mag)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func cosine(a []float32, am float64, b []float32, bm float64) float64 {
	if am == 0 || bm == 0 {
		return 0
	}
	s := dot(a, b) / (am * bm)
	if math.IsNaN(s) {
		return 0
	}
	// Clamp float error so the score stays within [-1, 1].
	return math.Max(-1, math.Min(1, s))
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
