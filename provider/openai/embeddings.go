package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/toolmesh/mesherror"
	"github.com/hupe1980/toolmesh/provider"
)

// EmbeddingsOptions configures the Embeddings client.
type EmbeddingsOptions struct {
	Model  openai.EmbeddingModel
	APIKey string
}

// Embeddings implements provider.Embedder over the OpenAI Embeddings API.
type Embeddings struct {
	client *openai.Client
	opts   EmbeddingsOptions
}

var _ provider.Embedder = (*Embeddings)(nil)

// NewEmbeddings creates a new embeddings client using the official SDK.
func NewEmbeddings(optFns ...func(o *EmbeddingsOptions)) *Embeddings {
	opts := EmbeddingsOptions{
		Model: openai.EmbeddingModelTextEmbedding3Small,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return &Embeddings{client: &client, opts: opts}
}

// NewEmbeddingsFromClient creates a new embeddings client from an existing
// SDK client.
func NewEmbeddingsFromClient(client *openai.Client, optFns ...func(o *EmbeddingsOptions)) *Embeddings {
	opts := EmbeddingsOptions{
		Model: openai.EmbeddingModelTextEmbedding3Small,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Embeddings{client: client, opts: opts}
}

// Embed returns the embedding vector for text.
func (e *Embeddings) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: e.opts.Model,
	})
	if err != nil {
		return nil, mesherror.Wrap(err, mesherror.KindEmbedding, "embedding request failed")
	}
	if len(resp.Data) == 0 {
		return nil, mesherror.New(mesherror.KindEmbedding, "embedding response contained no data")
	}

	return resp.Data[0].Embedding, nil
}
