package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// OllamaEmbedder is the subset of the Ollama client used for embeddings.
type OllamaEmbedder interface {
	Embed(ctx context.Context, req *api.EmbedRequest) (*api.EmbedResponse, error)
}

// OllamaBackend embeds through a local or remote Ollama server.
type OllamaBackend struct {
	client OllamaEmbedder
	model  string
}

// NewOllamaBackend connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaBackend(host, model string) (*OllamaBackend, error) {
	client, err := NewOllamaClient(host)
	if err != nil {
		return nil, err
	}
	return NewOllamaBackendWithClient(client, model), nil
}

// NewOllamaBackendWithClient wraps an existing client. Useful for tests.
func NewOllamaBackendWithClient(client OllamaEmbedder, model string) *OllamaBackend {
	return &OllamaBackend{client: client, model: model}
}

// NewOllamaClient builds an API client for host, falling back to the environment.
func NewOllamaClient(host string) (*api.Client, error) {
	if host == "" {
		return api.ClientFromEnvironment()
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return api.NewClient(u, http.DefaultClient), nil
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Encode(ctx context.Context, text string) ([]float32, error) {
	resp, err := b.client.Embed(ctx, &api.EmbedRequest{Model: b.model, Input: text})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings for model %s", b.model)
	}
	return resp.Embeddings[0], nil
}
