package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/llm"
	"github.com/blueberrycongee/recall/internal/memory/embedding"
)

// OllamaGenerator is the subset of the Ollama client used for generation.
type OllamaGenerator interface {
	Generate(ctx context.Context, req *api.GenerateRequest, fn api.GenerateResponseFunc) error
}

// OllamaBackend runs a local model through Ollama.
type OllamaBackend struct {
	client OllamaGenerator
	model  string
}

// NewOllamaBackend wraps client.
func NewOllamaBackend(client OllamaGenerator, model string) *OllamaBackend {
	return &OllamaBackend{client: client, model: model}
}

func (b *OllamaBackend) Name() string { return "ollama" }

func (b *OllamaBackend) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var out strings.Builder
	err := b.client.Generate(ctx, &api.GenerateRequest{
		Model:  b.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// LLMBackend summarises with the hosted chat model.
type LLMBackend struct {
	client llm.Client
	model  string
}

// NewLLMBackend wraps a chat client. An empty model means the provider default.
func NewLLMBackend(client llm.Client, model string) *LLMBackend {
	return &LLMBackend{client: client, model: model}
}

func (b *LLMBackend) Name() string { return "llm" }

func (b *LLMBackend) Generate(ctx context.Context, prompt string) (string, error) {
	return b.client.Complete(ctx, llm.Request{
		Model:    b.model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
}

// Open builds the configured summarizer. chat is used by the "llm" backend
// and may be nil otherwise.
func Open(cfg config.SummarizationConfig, chat llm.Client, defaultChatModel string, logger *slog.Logger) (*Service, error) {
	var backend Backend
	switch cfg.Backend {
	case "ollama", "":
		client, err := embedding.NewOllamaClient(cfg.OllamaHost)
		if err != nil {
			return nil, err
		}
		backend = NewOllamaBackend(client, cfg.Model)
	case "llm":
		if chat == nil {
			return nil, fmt.Errorf("summarization backend llm needs a chat provider")
		}
		model := cfg.Model
		if model == "" {
			model = defaultChatModel
		}
		backend = NewLLMBackend(chat, model)
	default:
		return nil, fmt.Errorf("unknown summarization backend %q", cfg.Backend)
	}

	return New(backend, Options{
		ChunkSize:      cfg.ChunkSize,
		MaxDepth:       cfg.MaxDepth,
		MaxOutputChars: cfg.MaxOutputChars,
		Timeout:        cfg.Timeout,
	}, logger), nil
}
