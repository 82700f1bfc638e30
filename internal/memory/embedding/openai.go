package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder is the subset of the OpenAI client used for embeddings.
type OpenAIEmbedder interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIBackend embeds through an OpenAI-compatible embeddings endpoint.
type OpenAIBackend struct {
	client OpenAIEmbedder
	model  string
	dims   int
}

// NewOpenAIBackend builds a client from an API key and optional base URL.
func NewOpenAIBackend(apiKey, baseURL, model string, dims int) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewOpenAIBackendWithClient(openai.NewClientWithConfig(cfg), model, dims)
}

// NewOpenAIBackendWithClient wraps an existing client. Useful for tests.
func NewOpenAIBackendWithClient(client OpenAIEmbedder, model string, dims int) *OpenAIBackend {
	return &OpenAIBackend{client: client, model: model, dims: dims}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Encode(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(b.model),
		Dimensions: b.dims,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings for model %s", b.model)
	}
	return resp.Data[0].Embedding, nil
}
