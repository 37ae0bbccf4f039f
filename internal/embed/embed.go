package embed

import (
	"context"
	"errors"
	"fmt"
)

// Embedder maps text to fixed-length vectors. Identical text must yield
// identical vectors within a session.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Named is implemented by embedders that can identify their model, used to
// key caches so vectors from different models never mix.
type Named interface {
	ModelName() string
}

// ErrEmptyInput is returned when asked to embed nothing meaningful.
var ErrEmptyInput = errors.New("embed: empty input")

func one(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

func modelName(e Embedder) string {
	if n, ok := e.(Named); ok {
		return n.ModelName()
	}
	return fmt.Sprintf("%T", e)
}
