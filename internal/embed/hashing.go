package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Hashing is an offline embedder using signed feature hashing over word
// tokens. Vectors are L2-normalized and fully deterministic, so it needs no
// corpus preparation and no network.
type Hashing struct {
	dim       int
	token     *regexp.Regexp
	stopwords map[string]struct{}
}

func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = 512
	}
	return &Hashing{
		dim:       dim,
		token:     regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords: defaultStopwords(),
	}
}

func (h *Hashing) ModelName() string { return fmt.Sprintf("hashing-%d", h.dim) }

// Dimension returns the vector length.
func (h *Hashing) Dimension() int { return h.dim }

func (h *Hashing) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *Hashing) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, tok := range h.token.FindAllString(strings.ToLower(text), -1) {
		if _, stop := h.stopwords[tok]; stop {
			continue
		}
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		acc[sum%uint64(h.dim)] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, h.dim)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "from",
		"had", "has", "have", "he", "her", "his", "i", "in", "is", "it", "its",
		"me", "my", "of", "on", "or", "she", "that", "the", "their", "them",
		"they", "this", "to", "was", "we", "were", "what", "when", "where",
		"which", "who", "will", "with", "you", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
