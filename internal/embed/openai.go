package embed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/dgallion1/charmem/internal/retry"
)

// OpenAI embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	batchSize int
	attempts  int
	sleep     func(int) time.Duration
}

func NewOpenAI(baseURL, apiKey, model string, batchSize int) *OpenAI {
	if batchSize <= 0 {
		batchSize = 32
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     model,
		batchSize: batchSize,
		attempts:  retry.MaxRetries,
		sleep:     retry.Backoff,
	}
}

func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return one(ctx, o, text)
}

// EmbedMany sends texts in batches and returns vectors in input order.
func (o *OpenAI) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		var batch [][]float32
		err := retry.Do(ctx, o.attempts, o.sleep, func(ctx context.Context) error {
			var err error
			batch, err = o.embedBatch(ctx, texts[start:end])
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (o *OpenAI) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && retry.RetryableStatus(apiErr.StatusCode) {
			return nil, &retry.RetryableError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", i)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		vecs[i] = v
	}
	return vecs, nil
}
