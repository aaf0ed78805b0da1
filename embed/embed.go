// Package embed turns chunk and query text into fixed-dimension vectors
// via the OpenAI embeddings API.
package embed

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// Client embeds batches of text with a configured model and dimensionality.
type Client struct {
	api        openai.Client
	model      string
	dimensions int
}

// New builds a Client. Extra request options are appended after the API
// key, letting tests point the client at a stub server.
func New(apiKey, model string, dimensions int, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		api:        openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

// EmbedBatch embeds |texts| in a single request, preserving input order.
// An empty input embeds to nothing without a provider round-trip.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp, err = c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("generating embeddings: got %d vectors for %d inputs",
			len(resp.Data), len(texts))
	}

	var out = make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		var vec = make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	var vecs, err = c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Healthy lists models as a cheap authenticated probe of the provider.
func (c *Client) Healthy(ctx context.Context) error {
	var _, err = c.api.Models.List(ctx)
	return err
}
